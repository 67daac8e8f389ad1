package models

import "time"

// CreditAccount tracks a user's prepaid credit buckets.
//
// balance is always equal to
// (monthly_credits - monthly_credits_used) + rollover_credits + purchased_credits;
// every mutation recomputes it from the buckets inside a row-locked
// transaction.
type CreditAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`    // Owning user record.

	Balance int64 `gorm:"not null;default:0"` // Spendable total across all buckets.

	MonthlyCredits     int64      `gorm:"not null;default:0"` // Current-period allocation.
	MonthlyCreditsUsed int64      `gorm:"not null;default:0"` // Consumed from the allocation.
	MonthlyResetAt     *time.Time `gorm:"index"`              // Next scheduled reset; nil means no allocation.

	RolloverCredits   int64      `gorm:"not null;default:0"` // Unused credits carried from the prior period.
	RolloverExpiresAt *time.Time `gorm:"index"`              // Rollover expiry, if any.

	PurchasedCredits int64 `gorm:"not null;default:0"` // Credits bought or granted outright.

	LifetimeEarned    int64 `gorm:"not null;default:0"` // Audit-only, monotonic.
	LifetimeSpent     int64 `gorm:"not null;default:0"` // Audit-only, monotonic.
	LifetimePurchased int64 `gorm:"not null;default:0"` // Audit-only, monotonic.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BucketSum returns the balance implied by the three buckets.
func (a *CreditAccount) BucketSum() int64 {
	return (a.MonthlyCredits - a.MonthlyCreditsUsed) + a.RolloverCredits + a.PurchasedCredits
}
