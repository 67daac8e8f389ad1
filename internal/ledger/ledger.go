// Package ledger implements the prepaid credit accounting engine:
// per-user credit buckets, an append-only transaction log, and the
// monthly lifecycle jobs that maintain them.
//
// Credits are an optimistic, user-facing currency charged per
// playground run from a pre-call estimate. Every mutating operation
// runs inside one row-locked database transaction; CanAfford and
// GetBalance are advisory non-locking reads and the balance re-check
// inside Spend is the only authoritative admission decision.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/promptstack/promptstack-billing/internal/metrics"
	"github.com/promptstack/promptstack-billing/internal/models"
	"github.com/promptstack/promptstack-billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MonthlyBreakdown describes the monthly allocation bucket.
type MonthlyBreakdown struct {
	Allocated int64      `json:"allocated"`
	Used      int64      `json:"used"`
	Remaining int64      `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at"`
}

// RolloverBreakdown describes the rollover bucket.
type RolloverBreakdown struct {
	Amount    int64      `json:"amount"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Balance is a point-in-time view of an account's spendable credits.
type Balance struct {
	Total     int64             `json:"total"`
	Monthly   MonthlyBreakdown  `json:"monthly"`
	Rollover  RolloverBreakdown `json:"rollover"`
	Purchased int64             `json:"purchased"`
}

// HistoryOptions filters and paginates transaction history reads.
type HistoryOptions struct {
	Limit  int
	Offset int
	Type   string
}

// BatchResult reports the outcome of a lifecycle job run.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Ledger is the credit accounting contract consumed by playground
// execution and billing webhooks.
type Ledger interface {
	InitializeAccount(ctx context.Context, userID uint64) error
	GetBalance(ctx context.Context, userID uint64) (Balance, error)
	CanAfford(ctx context.Context, userID uint64, amount int64) (bool, error)
	Spend(ctx context.Context, userID uint64, amount int64, sessionID, description string, metadata map[string]any) (*models.CreditTransaction, error)
	Add(ctx context.Context, userID uint64, amount int64, txnType, description string, metadata map[string]any) (*models.CreditTransaction, error)
	GrantMonthlyCredits(ctx context.Context, userID uint64, orgID *uint64) error
	RemoveMonthlyCredits(ctx context.Context, userID uint64) error
	TransactionHistory(ctx context.Context, userID uint64, opts HistoryOptions) ([]models.CreditTransaction, int64, error)
	ProcessMonthlyReset(ctx context.Context) (BatchResult, error)
	ExpireRolloverCredits(ctx context.Context) (BatchResult, error)
}

// Service implements Ledger against a transactional store with an
// optional read cache for balances.
type Service struct {
	db    *gorm.DB
	cache *BalanceCache
}

// NewService constructs a ledger Service. cache may be nil.
func NewService(db *gorm.DB, cache *BalanceCache) *Service {
	return &Service{db: db, cache: cache}
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// InitializeAccount creates the credit account with the one-time signup
// grant. It is idempotent: repeated calls for the same user leave
// exactly one account and one signup transaction.
func (s *Service) InitializeAccount(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return fmt.Errorf("ledger: empty user id")
	}

	var existing models.CreditAccount
	errFind := s.db.WithContext(ctx).Select("id").Where("user_id = ?", userID).Take(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return errFind
	}

	bonus := settings.SignupBonusCredits()
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := models.CreditAccount{
			UserID:            userID,
			Balance:           bonus,
			PurchasedCredits:  bonus,
			LifetimeEarned:    bonus,
			LifetimePurchased: bonus,
		}
		if errCreate := tx.Create(&account).Error; errCreate != nil {
			return errCreate
		}
		entry := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       bonus,
			BalanceAfter: account.Balance,
			Type:         models.TxnTypeSignup,
			Description:  "signup bonus",
		}
		return tx.Create(&entry).Error
	})
	if errTx != nil {
		// A concurrent initializer may have won the unique-index race;
		// treat an account that exists now as success.
		var check models.CreditAccount
		if errCheck := s.db.WithContext(ctx).Select("id").Where("user_id = ?", userID).Take(&check).Error; errCheck == nil {
			return nil
		}
		return errTx
	}
	return nil
}

// GetBalance returns the spendable balance and its bucket breakdown,
// lazily creating the account on first access. The read is non-locking
// and may be stale relative to a concurrent spend.
func (s *Service) GetBalance(ctx context.Context, userID uint64) (Balance, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID); ok {
			return cached, nil
		}
	}

	account, err := s.loadOrInitAccount(ctx, userID)
	if err != nil {
		return Balance{}, err
	}

	balance := balanceFromAccount(account)
	if s.cache != nil {
		s.cache.Set(ctx, userID, balance)
	}
	return balance, nil
}

// CanAfford reports whether the balance covers amount. This is an
// optimistic hint: only the re-check inside Spend is authoritative.
func (s *Service) CanAfford(ctx context.Context, userID uint64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.Total >= amount, nil
}

// Spend deducts amount across buckets in priority order
// monthly -> rollover -> purchased inside one row-locked transaction
// and appends the spend entry to the transaction log.
func (s *Service) Spend(ctx context.Context, userID uint64, amount int64, sessionID, description string, metadata map[string]any) (*models.CreditTransaction, error) {
	if amount <= 0 {
		metrics.SpendTotal.WithLabelValues("error").Inc()
		return nil, ErrInvalidAmount
	}

	started := time.Now()
	var entry *models.CreditTransaction
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return errFind
		}

		if account.Balance < amount {
			return ErrInsufficientCredits
		}

		remaining := amount
		take := minInt64(remaining, account.MonthlyCredits-account.MonthlyCreditsUsed)
		account.MonthlyCreditsUsed += take
		remaining -= take

		take = minInt64(remaining, account.RolloverCredits)
		account.RolloverCredits -= take
		remaining -= take

		take = minInt64(remaining, account.PurchasedCredits)
		account.PurchasedCredits -= take
		remaining -= take

		if remaining != 0 {
			return fmt.Errorf("ledger: buckets short %d credits for user %d", remaining, userID)
		}

		account.Balance = account.BucketSum()
		account.LifetimeSpent += amount

		if errUpdate := tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"balance":              account.Balance,
				"monthly_credits_used": account.MonthlyCreditsUsed,
				"rollover_credits":     account.RolloverCredits,
				"purchased_credits":    account.PurchasedCredits,
				"lifetime_spent":       account.LifetimeSpent,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		row := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       -amount,
			BalanceAfter: account.Balance,
			Type:         models.TxnTypeSpend,
			Description:  description,
			Metadata:     marshalMetadata(metadata),
			SessionID:    sessionID,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		entry = &row
		return nil
	})
	metrics.SpendDuration.Observe(time.Since(started).Seconds())

	if errTx != nil {
		if errors.Is(errTx, ErrInsufficientCredits) {
			metrics.SpendTotal.WithLabelValues("insufficient").Inc()
		} else {
			metrics.SpendTotal.WithLabelValues("error").Inc()
		}
		return nil, errTx
	}

	metrics.SpendTotal.WithLabelValues("ok").Inc()
	metrics.SpendAmount.Add(float64(amount))
	s.invalidate(ctx, userID)
	return entry, nil
}

// Add credits an account. purchase and bonus additions land in the
// purchased bucket and count toward lifetime_purchased; monthly and
// admin additions land in the purchased bucket without the purchase
// audit counter. The account is created lazily so billing webhooks can
// arrive before first playground use.
func (s *Service) Add(ctx context.Context, userID uint64, amount int64, txnType, description string, metadata map[string]any) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch txnType {
	case models.TxnTypePurchase, models.TxnTypeBonus, models.TxnTypeMonthly, models.TxnTypeAdmin:
	default:
		return nil, ErrInvalidType
	}

	if _, err := s.loadOrInitAccount(ctx, userID); err != nil {
		return nil, err
	}

	var entry *models.CreditTransaction
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			return errFind
		}

		account.PurchasedCredits += amount
		account.LifetimeEarned += amount
		updates := map[string]any{
			"purchased_credits": account.PurchasedCredits,
			"lifetime_earned":   account.LifetimeEarned,
		}
		if txnType == models.TxnTypePurchase || txnType == models.TxnTypeBonus {
			account.LifetimePurchased += amount
			updates["lifetime_purchased"] = account.LifetimePurchased
		}
		account.Balance = account.BucketSum()
		updates["balance"] = account.Balance

		if errUpdate := tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}

		row := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       amount,
			BalanceAfter: account.Balance,
			Type:         txnType,
			Description:  description,
			Metadata:     marshalMetadata(metadata),
			PurchaseID:   stringFromMetadata(metadata, "purchase_id"),
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		entry = &row
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	metrics.AddTotal.WithLabelValues(txnType).Inc()
	s.invalidate(ctx, userID)
	return entry, nil
}

// GrantMonthlyCredits installs the paid-tier monthly allocation when a
// subscription activates. The balance delta is derived from the bucket
// change so the balance invariant cannot drift.
func (s *Service) GrantMonthlyCredits(ctx context.Context, userID uint64, orgID *uint64) error {
	if _, err := s.loadOrInitAccount(ctx, userID); err != nil {
		return err
	}

	allocation := settings.MonthlyAllocationCredits()
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			return errFind
		}

		oldBalance := account.Balance
		now := time.Now().UTC()
		resetAt := now.AddDate(0, 1, 0)
		account.MonthlyCredits = allocation
		account.MonthlyCreditsUsed = 0
		account.MonthlyResetAt = &resetAt
		account.Balance = account.BucketSum()

		delta := account.Balance - oldBalance
		if delta > 0 {
			account.LifetimeEarned += delta
		}

		if errUpdate := tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"monthly_credits":      account.MonthlyCredits,
				"monthly_credits_used": account.MonthlyCreditsUsed,
				"monthly_reset_at":     account.MonthlyResetAt,
				"balance":              account.Balance,
				"lifetime_earned":      account.LifetimeEarned,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		if delta == 0 {
			return nil
		}
		row := models.CreditTransaction{
			Ref:          uuid.NewString(),
			UserID:       userID,
			Amount:       delta,
			BalanceAfter: account.Balance,
			Type:         models.TxnTypeMonthly,
			Description:  "monthly credits granted",
			OrgID:        orgID,
		}
		return tx.Create(&row).Error
	})
	if errTx != nil {
		return errTx
	}

	metrics.AddTotal.WithLabelValues(models.TxnTypeMonthly).Inc()
	s.invalidate(ctx, userID)
	return nil
}

// RemoveMonthlyCredits clears the monthly allocation on subscription
// cancellation. The unused remainder moves into the rollover bucket so
// the balance is untouched; it keeps the existing rollover expiry or
// adopts the old reset date, whichever is already set.
func (s *Service) RemoveMonthlyCredits(ctx context.Context, userID uint64) error {
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.CreditAccount
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&account).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return errFind
		}

		remainder := account.MonthlyCredits - account.MonthlyCreditsUsed
		if remainder < 0 {
			remainder = 0
		}

		rolloverExpiresAt := account.RolloverExpiresAt
		if remainder > 0 && rolloverExpiresAt == nil {
			rolloverExpiresAt = account.MonthlyResetAt
		}
		account.RolloverCredits += remainder
		account.RolloverExpiresAt = rolloverExpiresAt
		account.MonthlyCredits = 0
		account.MonthlyCreditsUsed = 0
		account.MonthlyResetAt = nil
		account.Balance = account.BucketSum()

		return tx.Model(&models.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"monthly_credits":      0,
				"monthly_credits_used": 0,
				"monthly_reset_at":     nil,
				"rollover_credits":     account.RolloverCredits,
				"rollover_expires_at":  account.RolloverExpiresAt,
				"balance":              account.Balance,
			}).Error
	})
	if errTx != nil {
		return errTx
	}

	s.invalidate(ctx, userID)
	return nil
}

// TransactionHistory returns ledger entries newest first, with the
// total row count for pagination.
func (s *Service) TransactionHistory(ctx context.Context, userID uint64, opts HistoryOptions) ([]models.CreditTransaction, int64, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", userID)
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}

	var rows []models.CreditTransaction
	if errFind := q.Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, 0, errFind
	}
	return rows, total, nil
}

// loadOrInitAccount fetches the account, creating it if missing.
func (s *Service) loadOrInitAccount(ctx context.Context, userID uint64) (*models.CreditAccount, error) {
	var account models.CreditAccount
	errFind := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errFind == nil {
		return &account, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, errFind
	}
	if errInit := s.InitializeAccount(ctx, userID); errInit != nil {
		return nil, errInit
	}
	if errRetry := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error; errRetry != nil {
		return nil, errRetry
	}
	return &account, nil
}

func (s *Service) invalidate(ctx context.Context, userID uint64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}

func balanceFromAccount(account *models.CreditAccount) Balance {
	return Balance{
		Total: account.Balance,
		Monthly: MonthlyBreakdown{
			Allocated: account.MonthlyCredits,
			Used:      account.MonthlyCreditsUsed,
			Remaining: account.MonthlyCredits - account.MonthlyCreditsUsed,
			ResetAt:   account.MonthlyResetAt,
		},
		Rollover: RolloverBreakdown{
			Amount:    account.RolloverCredits,
			ExpiresAt: account.RolloverExpiresAt,
		},
		Purchased: account.PurchasedCredits,
	}
}

func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	payload, errMarshal := json.Marshal(metadata)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("ledger: failed to marshal transaction metadata")
		return nil
	}
	return datatypes.JSON(payload)
}

func stringFromMetadata(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Ensure Service implements Ledger.
var _ Ledger = (*Service)(nil)
