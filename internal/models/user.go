package models

import "time"

// User stores a registry account and its embedded cost-governance state.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:varchar(255);not null;uniqueIndex"` // Login name.
	Email    string `gorm:"type:varchar(255);index"`                // Contact email.
	Password string `gorm:"type:text;not null"`                     // bcrypt hash.

	IsAdmin  bool `gorm:"not null;default:false"` // Administrator flag.
	Disabled bool `gorm:"not null;default:false"` // Whether login is blocked.

	// Cost governance state. Tier is derived from subscription and
	// organization membership at read time and never stored.
	CurrentMonthAPICost float64    `gorm:"type:decimal(20,10);not null;default:0"` // USD spent this month.
	LifetimeAPICost     float64    `gorm:"type:decimal(20,10);not null;default:0"` // USD spent all time.
	IsThrottled         bool       `gorm:"not null;default:false"`                 // Hard block on paid usage.
	ThrottledAuto       bool       `gorm:"not null;default:false"`                 // Set when the monthly cap tripped the throttle.
	ThrottledReason     string     `gorm:"type:text"`                              // User-facing throttle reason.
	ThrottledAt         *time.Time // Throttle transition time, if throttled.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
