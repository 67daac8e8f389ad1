package db

import (
	"fmt"

	"github.com/promptstack/promptstack-billing/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for every billing-core table.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.Subscription{},
		&models.CreditAccount{},
		&models.CreditTransaction{},
		&models.CostAlert{},
		&models.UsageRecord{},
		&models.Setting{},
	)
}
