package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/promptstack/promptstack-billing/internal/metrics"
	"github.com/promptstack/promptstack-billing/internal/models"
	"github.com/promptstack/promptstack-billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lifecycle jobs. The scheduler owns cadence and retries; these
// methods take no schedule information and are safe to re-run: the
// due-date filters make an already-processed account a no-op.

// ProcessMonthlyReset resets every account whose monthly_reset_at has
// passed: unused monthly credits roll over (capped), the allocation
// refreshes, and the prior rollover is replaced. Each account is
// processed in its own transaction; one failure does not abort the
// batch.
func (s *Service) ProcessMonthlyReset(ctx context.Context) (BatchResult, error) {
	now := time.Now().UTC()

	var userIDs []uint64
	if errFind := s.db.WithContext(ctx).Model(&models.CreditAccount{}).
		Where("monthly_reset_at IS NOT NULL AND monthly_reset_at <= ?", now).
		Order("id ASC").
		Pluck("user_id", &userIDs).Error; errFind != nil {
		metrics.LifecycleRunsTotal.WithLabelValues("monthly_reset", "error").Inc()
		return BatchResult{}, errFind
	}

	result := BatchResult{}
	for _, userID := range userIDs {
		if errReset := s.resetOneAccount(ctx, userID, now); errReset != nil {
			log.WithError(errReset).Warnf("ledger: monthly reset failed for user %d", userID)
			metrics.LifecycleAccountsProcessed.WithLabelValues("monthly_reset", "failed").Inc()
			result.Failed++
			continue
		}
		metrics.LifecycleAccountsProcessed.WithLabelValues("monthly_reset", "processed").Inc()
		result.Processed++
		s.invalidate(ctx, userID)
	}

	metrics.LifecycleRunsTotal.WithLabelValues("monthly_reset", "ok").Inc()
	if result.Processed > 0 || result.Failed > 0 {
		log.Infof("ledger: monthly reset processed=%d failed=%d", result.Processed, result.Failed)
	}
	return result, nil
}

func (s *Service) resetOneAccount(ctx context.Context, userID uint64, now time.Time) error {
	allocation := settings.MonthlyAllocationCredits()
	rolloverCap := settings.RolloverCapCredits()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			return errFind
		}
		// Re-check under the lock; a concurrent run may have reset it.
		if account.MonthlyResetAt == nil || account.MonthlyResetAt.After(now) {
			return nil
		}

		unused := account.MonthlyCredits - account.MonthlyCreditsUsed
		if unused < 0 {
			unused = 0
		}
		newRollover := minInt64(unused, rolloverCap)

		oldBalance := account.Balance
		resetAt := now.AddDate(0, 1, 0)
		rolloverExpiresAt := now.AddDate(0, 1, 0)
		account.MonthlyCredits = allocation
		account.MonthlyCreditsUsed = 0
		account.MonthlyResetAt = &resetAt
		account.RolloverCredits = newRollover
		account.RolloverExpiresAt = &rolloverExpiresAt
		account.Balance = account.BucketSum()
		account.LifetimeEarned += allocation

		if errUpdate := tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"monthly_credits":      account.MonthlyCredits,
				"monthly_credits_used": account.MonthlyCreditsUsed,
				"monthly_reset_at":     account.MonthlyResetAt,
				"rollover_credits":     account.RolloverCredits,
				"rollover_expires_at":  account.RolloverExpiresAt,
				"balance":              account.Balance,
				"lifetime_earned":      account.LifetimeEarned,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		delta := account.Balance - oldBalance
		if delta == 0 {
			return nil
		}
		row := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       delta,
			BalanceAfter: account.Balance,
			Type:         models.TxnTypeMonthly,
			Description:  "monthly reset",
		}
		return tx.Create(&row).Error
	})
}

// ExpireRolloverCredits removes expired rollover credits and logs an
// expire entry for each affected account.
func (s *Service) ExpireRolloverCredits(ctx context.Context) (BatchResult, error) {
	now := time.Now().UTC()

	var userIDs []uint64
	if errFind := s.db.WithContext(ctx).Model(&models.CreditAccount{}).
		Where("rollover_expires_at IS NOT NULL AND rollover_expires_at <= ? AND rollover_credits > 0", now).
		Order("id ASC").
		Pluck("user_id", &userIDs).Error; errFind != nil {
		metrics.LifecycleRunsTotal.WithLabelValues("rollover_expiry", "error").Inc()
		return BatchResult{}, errFind
	}

	result := BatchResult{}
	for _, userID := range userIDs {
		if errExpire := s.expireOneAccount(ctx, userID, now); errExpire != nil {
			log.WithError(errExpire).Warnf("ledger: rollover expiry failed for user %d", userID)
			metrics.LifecycleAccountsProcessed.WithLabelValues("rollover_expiry", "failed").Inc()
			result.Failed++
			continue
		}
		metrics.LifecycleAccountsProcessed.WithLabelValues("rollover_expiry", "processed").Inc()
		result.Processed++
		s.invalidate(ctx, userID)
	}

	metrics.LifecycleRunsTotal.WithLabelValues("rollover_expiry", "ok").Inc()
	if result.Processed > 0 || result.Failed > 0 {
		log.Infof("ledger: rollover expiry processed=%d failed=%d", result.Processed, result.Failed)
	}
	return result, nil
}

func (s *Service) expireOneAccount(ctx context.Context, userID uint64, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			return errFind
		}
		if account.RolloverCredits <= 0 || account.RolloverExpiresAt == nil || account.RolloverExpiresAt.After(now) {
			return nil
		}

		expired := account.RolloverCredits
		account.RolloverCredits = 0
		account.RolloverExpiresAt = nil
		account.Balance = account.BucketSum()

		if errUpdate := tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"rollover_credits":    0,
				"rollover_expires_at": nil,
				"balance":             account.Balance,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		row := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       -expired,
			BalanceAfter: account.Balance,
			Type:         models.TxnTypeExpire,
			Description:  "rollover credits expired",
		}
		return tx.Create(&row).Error
	})
}
