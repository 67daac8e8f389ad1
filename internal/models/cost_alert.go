package models

import "time"

// Cost alert types, one row per user, type and calendar month.
const (
	// AlertWarning50 fires at 50% of the monthly cost limit.
	AlertWarning50 = "warning_50"
	// AlertWarning75 fires at 75% of the monthly cost limit.
	AlertWarning75 = "warning_75"
	// AlertWarning90 fires at 90% of the monthly cost limit.
	AlertWarning90 = "warning_90"
	// AlertThrottled records a throttle transition.
	AlertThrottled = "throttled"
)

// CostAlert records a crossed spend threshold. The composite unique
// index makes threshold alerts at-most-once per user and month even
// under concurrent RecordCost calls.
type CostAlert struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_cost_alerts_user_type_month"`                 // Owning user ID.
	AlertType string `gorm:"type:varchar(32);not null;uniqueIndex:idx_cost_alerts_user_type_month"` // One of the Alert constants.
	Month     string `gorm:"type:varchar(7);not null;uniqueIndex:idx_cost_alerts_user_type_month"`  // Calendar month, YYYY-MM.

	PercentUsed float64 `gorm:"type:decimal(20,10);not null;default:0"` // Percentage at alert time.
	CostLimit   float64 `gorm:"type:decimal(20,10);not null;default:0"` // Limit in effect at alert time.
	Reason      string  `gorm:"type:text"`                              // Detail for throttle alerts.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
