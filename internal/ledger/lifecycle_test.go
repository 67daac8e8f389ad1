package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/promptstack/promptstack-billing/internal/models"
	"gorm.io/gorm"
)

func seedAccount(t *testing.T, db *gorm.DB, account models.CreditAccount) {
	t.Helper()
	if errCreate := db.Create(&account).Error; errCreate != nil {
		t.Fatalf("seed account for user %d: %v", account.UserID, errCreate)
	}
}

func TestProcessMonthlyReset(t *testing.T) {
	db := setupLedgerDB(t)
	svc := NewService(db, nil)
	ctx := context.Background()

	due := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	// Due account: 60 unused monthly, 10 stale rollover, balance 70.
	seedAccount(t, db, models.CreditAccount{
		UserID:             1,
		Balance:            70,
		MonthlyCredits:     100,
		MonthlyCreditsUsed: 40,
		RolloverCredits:    10,
		MonthlyResetAt:     &due,
		RolloverExpiresAt:  &due,
	})
	// Not due yet; must be left alone.
	seedAccount(t, db, models.CreditAccount{
		UserID:             2,
		Balance:            80,
		MonthlyCredits:     100,
		MonthlyCreditsUsed: 20,
		MonthlyResetAt:     &future,
	})
	// No subscription, no reset date.
	seedAccount(t, db, models.CreditAccount{
		UserID:           3,
		Balance:          5,
		PurchasedCredits: 5,
	})

	result, errRun := svc.ProcessMonthlyReset(ctx)
	if errRun != nil {
		t.Fatalf("monthly reset: %v", errRun)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want processed 1 failed 0", result)
	}

	account := mustAccount(t, db, 1)
	if account.MonthlyCredits != 100 || account.MonthlyCreditsUsed != 0 {
		t.Fatalf("monthly = %d/%d, want 100/0", account.MonthlyCredits, account.MonthlyCreditsUsed)
	}
	// The unused 60 replaces the stale rollover.
	if account.RolloverCredits != 60 {
		t.Fatalf("rollover = %d, want 60", account.RolloverCredits)
	}
	if account.Balance != 160 {
		t.Fatalf("balance = %d, want 160", account.Balance)
	}
	// The audit counter records the full allocation, not the smaller
	// balance delta left after the rollover replacement.
	if account.LifetimeEarned != 100 {
		t.Fatalf("lifetime earned = %d, want 100", account.LifetimeEarned)
	}
	if account.MonthlyResetAt == nil || !account.MonthlyResetAt.After(time.Now().UTC()) {
		t.Fatalf("reset date not advanced: %v", account.MonthlyResetAt)
	}
	if account.RolloverExpiresAt == nil || !account.RolloverExpiresAt.After(time.Now().UTC()) {
		t.Fatalf("rollover expiry not advanced: %v", account.RolloverExpiresAt)
	}
	checkInvariant(t, account)

	var txn models.CreditTransaction
	if errFind := db.Where("user_id = ? AND type = ?", 1, models.TxnTypeMonthly).First(&txn).Error; errFind != nil {
		t.Fatalf("load reset transaction: %v", errFind)
	}
	if txn.Amount != 90 || txn.BalanceAfter != 160 {
		t.Fatalf("reset transaction = amount %d balance_after %d, want 90/160", txn.Amount, txn.BalanceAfter)
	}

	untouched := mustAccount(t, db, 2)
	if untouched.Balance != 80 || untouched.MonthlyCreditsUsed != 20 {
		t.Fatalf("future account mutated: %+v", untouched)
	}

	// A second run finds nothing due.
	result, errRun = svc.ProcessMonthlyReset(ctx)
	if errRun != nil {
		t.Fatalf("second monthly reset: %v", errRun)
	}
	if result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("second run result = %+v, want 0/0", result)
	}
}

func TestProcessMonthlyResetCapsRollover(t *testing.T) {
	db := setupLedgerDB(t)
	svc := NewService(db, nil)

	due := time.Now().UTC().Add(-time.Minute)
	seedAccount(t, db, models.CreditAccount{
		UserID:             10,
		Balance:            450,
		MonthlyCredits:     500,
		MonthlyCreditsUsed: 50,
		MonthlyResetAt:     &due,
	})

	if _, errRun := svc.ProcessMonthlyReset(context.Background()); errRun != nil {
		t.Fatalf("monthly reset: %v", errRun)
	}

	account := mustAccount(t, db, 10)
	// 450 unused, capped at 200.
	if account.RolloverCredits != 200 {
		t.Fatalf("rollover = %d, want cap 200", account.RolloverCredits)
	}
	if account.Balance != 300 {
		t.Fatalf("balance = %d, want 300", account.Balance)
	}
	checkInvariant(t, account)
}

func TestExpireRolloverCredits(t *testing.T) {
	db := setupLedgerDB(t)
	svc := NewService(db, nil)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	seedAccount(t, db, models.CreditAccount{
		UserID:            1,
		Balance:           120,
		RolloverCredits:   50,
		PurchasedCredits:  70,
		RolloverExpiresAt: &expired,
	})
	seedAccount(t, db, models.CreditAccount{
		UserID:            2,
		Balance:           30,
		RolloverCredits:   30,
		RolloverExpiresAt: &future,
	})

	result, errRun := svc.ExpireRolloverCredits(ctx)
	if errRun != nil {
		t.Fatalf("rollover expiry: %v", errRun)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want processed 1 failed 0", result)
	}

	account := mustAccount(t, db, 1)
	if account.RolloverCredits != 0 || account.RolloverExpiresAt != nil {
		t.Fatalf("rollover not cleared: %+v", account)
	}
	if account.Balance != 70 {
		t.Fatalf("balance = %d, want 70", account.Balance)
	}
	checkInvariant(t, account)

	var txn models.CreditTransaction
	if errFind := db.Where("user_id = ? AND type = ?", 1, models.TxnTypeExpire).First(&txn).Error; errFind != nil {
		t.Fatalf("load expire transaction: %v", errFind)
	}
	if txn.Amount != -50 || txn.BalanceAfter != 70 {
		t.Fatalf("expire transaction = amount %d balance_after %d, want -50/70", txn.Amount, txn.BalanceAfter)
	}

	untouched := mustAccount(t, db, 2)
	if untouched.RolloverCredits != 30 || untouched.Balance != 30 {
		t.Fatalf("future expiry mutated: %+v", untouched)
	}

	// Re-running expires nothing further.
	result, errRun = svc.ExpireRolloverCredits(ctx)
	if errRun != nil {
		t.Fatalf("second rollover expiry: %v", errRun)
	}
	if result.Processed != 0 {
		t.Fatalf("second run processed = %d, want 0", result.Processed)
	}
}
