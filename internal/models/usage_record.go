package models

import "time"

// UsageRecord is the metering row behind cost analytics. One row per
// reported playground execution, written by RecordCost alongside the
// user's running cost counters.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Related user ID.

	Provider string `gorm:"type:text;index"`          // Provider name.
	Model    string `gorm:"type:text;not null;index"` // Model name.

	SessionID string `gorm:"type:text;index"` // Playground session ID.

	InputTokens  int64 `gorm:"not null;default:0"` // Provider-reported input tokens.
	OutputTokens int64 `gorm:"not null;default:0"` // Provider-reported output tokens.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total token count.

	CostMicros int64 `gorm:"not null;default:0"` // Actual USD cost in micros.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
