package costgov

import (
	"context"
	"time"

	"github.com/promptstack/promptstack-billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	retentionDeleteBatchSize = 5000
	maxDeleteBatchesPerRun   = 2000
)

// UsageRetentionCleaner periodically deletes usage records older than
// the configured retention window. Aggregated cost counters on the
// user rows are unaffected.
type UsageRetentionCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
}

// NewUsageRetentionCleaner constructs a cleaner. Returns nil when db
// is nil.
func NewUsageRetentionCleaner(db *gorm.DB) *UsageRetentionCleaner {
	if db == nil {
		return nil
	}
	return &UsageRetentionCleaner{
		db:        db,
		interval:  defaultRetentionInterval,
		batchSize: retentionDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *UsageRetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	log.Infof("usage retention cleaner started (interval=%s)", c.interval)
}

func (c *UsageRetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce runs a single retention pass.
func (c *UsageRetentionCleaner) CleanupOnce(ctx context.Context) {
	retentionDays := settings.UsageRetentionDays()
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -int(retentionDays))

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return
		}
		n, errDelete := c.deleteBatch(ctx, cutoff)
		if errDelete != nil {
			log.WithError(errDelete).Warn("usage retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.Infof("usage retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
}

func (c *UsageRetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	// A limited subquery keeps each delete short and avoids long table
	// locks on large deployments.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM usage_records
		WHERE id IN (
			SELECT id FROM usage_records
			WHERE requested_at < ?
			ORDER BY requested_at ASC
			LIMIT ?
		)
	`, cutoff, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
