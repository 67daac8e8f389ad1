package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrateSQLiteCreatesLedgerTables(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{"users", "credit_accounts", "credit_transactions", "cost_alerts", "usage_records", "subscriptions", "organizations", "organization_members", "settings"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
}

func TestMigrateSQLiteCostAlertUniqueIndex(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if !conn.Migrator().HasIndex("cost_alerts", "idx_cost_alerts_user_type_month") {
		t.Fatalf("cost_alerts missing unique index idx_cost_alerts_user_type_month")
	}
}

func TestMigrateSQLiteCreditAccountColumns(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, column := range []string{"balance", "monthly_credits", "monthly_credits_used", "monthly_reset_at", "rollover_credits", "rollover_expires_at", "purchased_credits", "lifetime_earned", "lifetime_spent", "lifetime_purchased"} {
		if !conn.Migrator().HasColumn("credit_accounts", column) {
			t.Fatalf("credit_accounts missing column %s", column)
		}
	}
}
