package models

import (
	"time"

	"gorm.io/datatypes"
)

// Credit transaction types.
const (
	// TxnTypeSignup is the one-time account creation grant.
	TxnTypeSignup = "signup"
	// TxnTypeSpend is a playground execution charge.
	TxnTypeSpend = "spend"
	// TxnTypePurchase is a paid credit purchase.
	TxnTypePurchase = "purchase"
	// TxnTypeMonthly is a monthly allocation grant or reset.
	TxnTypeMonthly = "monthly"
	// TxnTypeBonus is a promotional grant.
	TxnTypeBonus = "bonus"
	// TxnTypeAdmin is a manual adjustment by an administrator.
	TxnTypeAdmin = "admin"
	// TxnTypeExpire is a rollover expiry deduction.
	TxnTypeExpire = "expire"
)

// CreditTransaction is one append-only ledger entry. Rows are never
// updated or deleted; the per-user sum of Amount reconciles to the
// account's current balance.
type CreditTransaction struct {
	ID  uint64 `gorm:"primaryKey;autoIncrement"`       // Primary key.
	Ref string `gorm:"type:text;not null;uniqueIndex"` // UUID reference for external correlation.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	Amount       int64          `gorm:"not null"`                        // Signed credit delta.
	BalanceAfter int64          `gorm:"not null"`                        // Account balance immediately after this entry.
	Type         string         `gorm:"type:varchar(32);not null;index"` // One of the TxnType constants.
	Description  string         `gorm:"type:text"`                       // Human-readable summary.
	Metadata     datatypes.JSON `gorm:"type:jsonb"`                      // Caller-supplied context.

	SessionID  string  `gorm:"type:text;index"` // Playground session, when spend-originated.
	PurchaseID string  `gorm:"type:text;index"` // Payment reference, when purchase-originated.
	OrgID      *uint64 `gorm:"index"`           // Organization scope, when org-granted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
