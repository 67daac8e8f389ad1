package models

import "time"

// Organization is a verified-publisher workspace. Verified membership
// upgrades a subscriber's cost tier.
type Organization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name       string `gorm:"type:varchar(255);not null;uniqueIndex"` // Organization name.
	IsVerified bool   `gorm:"not null;default:false"`                 // Verification status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// OrganizationMember links a user to an organization.
type OrganizationMember struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID  uint64        `gorm:"not null;index:idx_org_members_org_user,unique"` // Organization ID.
	UserID uint64        `gorm:"not null;index:idx_org_members_org_user,unique"` // Member user ID.
	Org    *Organization `gorm:"foreignKey:OrgID"`                               // Organization record.

	Role string `gorm:"type:varchar(32);not null;default:'member'"` // Membership role.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
