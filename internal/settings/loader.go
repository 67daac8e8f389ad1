package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/promptstack/promptstack-billing/internal/models"
	"gorm.io/gorm"
)

// RefreshDBConfigSnapshot replaces the in-memory snapshot with the
// current settings rows. Both binaries call it once during startup so
// overridden grant sizes, cost caps, and retention windows apply before
// the first ledger or governance operation; skipping it leaves the
// compiled-in defaults in effect.
func RefreshDBConfigSnapshot(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := conn.WithContext(ctx).
		Select("key", "value", "updated_at").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	overrides := make(map[string]json.RawMessage, len(rows))
	var newest time.Time
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		overrides[key] = row.Value
		if updated := row.UpdatedAt.UTC(); updated.After(newest) {
			newest = updated
		}
	}

	StoreDBConfig(newest, overrides)
	return nil
}
