package models

import "time"

// Subscription statuses.
const (
	// SubscriptionStatusActive marks a paid subscription in good standing.
	SubscriptionStatusActive = "active"
	// SubscriptionStatusCanceled marks a canceled subscription.
	SubscriptionStatusCanceled = "canceled"
	// SubscriptionStatusPastDue marks a subscription with failed payment.
	SubscriptionStatusPastDue = "past_due"
)

// Subscription mirrors the billing provider's subscription state for a
// user. Only status matters for tier resolution; the rest is audit.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Owning user record.

	Status string `gorm:"type:varchar(32);not null;index"` // One of the SubscriptionStatus constants.
	Plan   string `gorm:"type:varchar(64);not null"`       // Provider plan identifier.

	ExternalID string `gorm:"type:text;index"` // Billing provider subscription ID.

	PeriodStart *time.Time // Current period start, if known.
	PeriodEnd   *time.Time // Current period end, if known.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
