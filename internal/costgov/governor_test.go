package costgov

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/promptstack/promptstack-billing/internal/models"
	"gorm.io/gorm"
)

func setupCostDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:costgov_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.CostAlert{},
		&models.UsageRecord{},
	); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, user models.User) uint64 {
	t.Helper()
	if user.Username == "" {
		user.Username = fmt.Sprintf("user-%d", time.Now().UnixNano())
	}
	if user.Password == "" {
		user.Password = "x"
	}
	if errCreate := db.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
	return user.ID
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func mustUser(t *testing.T, db *gorm.DB, userID uint64) models.User {
	t.Helper()
	var user models.User
	if errFind := db.First(&user, userID).Error; errFind != nil {
		t.Fatalf("load user %d: %v", userID, errFind)
	}
	return user
}

func activateSubscription(t *testing.T, db *gorm.DB, userID uint64) {
	t.Helper()
	sub := models.Subscription{UserID: userID, Status: models.SubscriptionStatusActive, Plan: "plus"}
	if errCreate := db.Create(&sub).Error; errCreate != nil {
		t.Fatalf("seed subscription: %v", errCreate)
	}
}

func joinOrg(t *testing.T, db *gorm.DB, userID uint64, verified bool) {
	t.Helper()
	org := models.Organization{Name: fmt.Sprintf("org-%d-%d", userID, time.Now().UnixNano()), IsVerified: verified}
	if errCreate := db.Create(&org).Error; errCreate != nil {
		t.Fatalf("seed organization: %v", errCreate)
	}
	member := models.OrganizationMember{OrgID: org.ID, UserID: userID}
	if errCreate := db.Create(&member).Error; errCreate != nil {
		t.Fatalf("seed membership: %v", errCreate)
	}
}

func TestResolveTier(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	free := seedUser(t, db, models.User{})
	individual := seedUser(t, db, models.User{})
	activateSubscription(t, db, individual)
	orgMember := seedUser(t, db, models.User{})
	activateSubscription(t, db, orgMember)
	joinOrg(t, db, orgMember, true)
	unverified := seedUser(t, db, models.User{})
	activateSubscription(t, db, unverified)
	joinOrg(t, db, unverified, false)
	canceled := seedUser(t, db, models.User{})
	sub := models.Subscription{UserID: canceled, Status: models.SubscriptionStatusCanceled, Plan: "plus"}
	if errCreate := db.Create(&sub).Error; errCreate != nil {
		t.Fatalf("seed canceled subscription: %v", errCreate)
	}
	joinOrg(t, db, canceled, true)

	cases := []struct {
		name   string
		userID uint64
		tier   string
		limit  float64
	}{
		{"no subscription", free, TierFree, 0.50},
		{"active subscription", individual, TierPlusIndividual, 20.00},
		{"verified org member", orgMember, TierPlusOrg, 100.00},
		{"unverified org member", unverified, TierPlusIndividual, 20.00},
		{"canceled subscription in verified org", canceled, TierFree, 0.50},
	}
	for _, tc := range cases {
		status, errStatus := svc.UserCostStatus(ctx, tc.userID)
		if errStatus != nil {
			t.Fatalf("%s: status: %v", tc.name, errStatus)
		}
		if status.Tier != tc.tier {
			t.Fatalf("%s: tier = %s, want %s", tc.name, status.Tier, tc.tier)
		}
		if status.CostLimit != tc.limit {
			t.Fatalf("%s: limit = %.2f, want %.2f", tc.name, status.CostLimit, tc.limit)
		}
	}

	if _, errStatus := svc.UserCostStatus(ctx, 9999); !errors.Is(errStatus, ErrUserNotFound) {
		t.Fatalf("missing user error = %v, want ErrUserNotFound", errStatus)
	}
}

func TestCanAffordRequestThrottlesAtLimit(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	// Free tier, $0.45 of the $0.50 cap already spent.
	userID := seedUser(t, db, models.User{CurrentMonthAPICost: 0.45})

	decision, errCheck := svc.CanAffordRequest(ctx, userID, 0.10)
	if errCheck != nil {
		t.Fatalf("can afford: %v", errCheck)
	}
	if decision.Allowed {
		t.Fatalf("projected overage was allowed")
	}
	if decision.Reason != "monthly cost limit of $0.50 reached for free tier" {
		t.Fatalf("reason = %q", decision.Reason)
	}

	user := mustUser(t, db, userID)
	if !user.IsThrottled || !user.ThrottledAuto {
		t.Fatalf("user not auto-throttled: throttled=%v auto=%v", user.IsThrottled, user.ThrottledAuto)
	}
	if user.ThrottledAt == nil {
		t.Fatalf("throttled_at not set")
	}

	var alerts int64
	if errCount := db.Model(&models.CostAlert{}).
		Where("user_id = ? AND alert_type = ?", userID, models.AlertThrottled).
		Count(&alerts).Error; errCount != nil {
		t.Fatalf("count throttle alerts: %v", errCount)
	}
	if alerts != 1 {
		t.Fatalf("throttle alerts = %d, want 1", alerts)
	}

	// Subsequent checks short-circuit on the stored reason.
	decision, errCheck = svc.CanAffordRequest(ctx, userID, 0.01)
	if errCheck != nil {
		t.Fatalf("second check: %v", errCheck)
	}
	if decision.Allowed || decision.Reason != user.ThrottledReason {
		t.Fatalf("throttled decision = %+v, want stored reason %q", decision, user.ThrottledReason)
	}
}

func TestCanAffordRequestWithinLimit(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	userID := seedUser(t, db, models.User{CurrentMonthAPICost: 0.20})

	decision, errCheck := svc.CanAffordRequest(ctx, userID, 0.10)
	if errCheck != nil {
		t.Fatalf("can afford: %v", errCheck)
	}
	if !decision.Allowed || decision.Reason != "" {
		t.Fatalf("decision = %+v, want allowed", decision)
	}

	user := mustUser(t, db, userID)
	if user.IsThrottled {
		t.Fatalf("allowed check throttled the user")
	}
}

func TestRecordCostCountersAndUsage(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	userID := seedUser(t, db, models.User{LifetimeAPICost: 1.00})

	meta := UsageMeta{
		Provider:     "anthropic",
		Model:        "claude-sonnet-4",
		SessionID:    "sess-9",
		InputTokens:  1200,
		OutputTokens: 300,
	}
	if errRecord := svc.RecordCost(ctx, userID, 0.0123, meta); errRecord != nil {
		t.Fatalf("record cost: %v", errRecord)
	}

	user := mustUser(t, db, userID)
	if !closeTo(user.CurrentMonthAPICost, 0.0123) {
		t.Fatalf("current month cost = %f, want 0.0123", user.CurrentMonthAPICost)
	}
	if !closeTo(user.LifetimeAPICost, 1.0123) {
		t.Fatalf("lifetime cost = %f, want 1.0123", user.LifetimeAPICost)
	}

	var record models.UsageRecord
	if errFind := db.Where("user_id = ?", userID).First(&record).Error; errFind != nil {
		t.Fatalf("load usage record: %v", errFind)
	}
	if record.Model != "claude-sonnet-4" || record.SessionID != "sess-9" {
		t.Fatalf("usage record = %+v", record)
	}
	if record.TotalTokens != 1500 {
		t.Fatalf("total tokens = %d, want 1500", record.TotalTokens)
	}
	if record.CostMicros != 12300 {
		t.Fatalf("cost micros = %d, want 12300", record.CostMicros)
	}
	if record.RequestedAt.IsZero() {
		t.Fatalf("requested_at not defaulted")
	}

	if errRecord := svc.RecordCost(ctx, userID, -0.01, meta); errRecord == nil {
		t.Fatalf("negative cost accepted")
	}
	if errRecord := svc.RecordCost(ctx, 9999, 0.01, meta); !errors.Is(errRecord, ErrUserNotFound) {
		t.Fatalf("missing user error = %v, want ErrUserNotFound", errRecord)
	}
}

func TestRecordCostThresholdAlerts(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	// Free tier: $0.50 cap.
	userID := seedUser(t, db, models.User{})

	countAlerts := func() map[string]int64 {
		var rows []models.CostAlert
		if errFind := db.Where("user_id = ?", userID).Find(&rows).Error; errFind != nil {
			t.Fatalf("load alerts: %v", errFind)
		}
		counts := make(map[string]int64)
		for _, row := range rows {
			counts[row.AlertType]++
		}
		return counts
	}

	// 60% of the cap crosses only the 50% threshold.
	if errRecord := svc.RecordCost(ctx, userID, 0.30, UsageMeta{Model: "m"}); errRecord != nil {
		t.Fatalf("record cost: %v", errRecord)
	}
	counts := countAlerts()
	if counts[models.AlertWarning50] != 1 || counts[models.AlertWarning75] != 0 || counts[models.AlertWarning90] != 0 {
		t.Fatalf("alerts after 60%% = %v", counts)
	}

	// 96% crosses 75 and 90 as well.
	if errRecord := svc.RecordCost(ctx, userID, 0.18, UsageMeta{Model: "m"}); errRecord != nil {
		t.Fatalf("record cost: %v", errRecord)
	}
	counts = countAlerts()
	for _, alertType := range []string{models.AlertWarning50, models.AlertWarning75, models.AlertWarning90} {
		if counts[alertType] != 1 {
			t.Fatalf("alerts after 96%% = %v", counts)
		}
	}

	// Crossing again in the same month never duplicates.
	if errRecord := svc.RecordCost(ctx, userID, 0.01, UsageMeta{Model: "m"}); errRecord != nil {
		t.Fatalf("record cost: %v", errRecord)
	}
	counts = countAlerts()
	for _, alertType := range []string{models.AlertWarning50, models.AlertWarning75, models.AlertWarning90} {
		if counts[alertType] != 1 {
			t.Fatalf("alerts duplicated: %v", counts)
		}
	}
}

func TestThrottleAndUnthrottle(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	userID := seedUser(t, db, models.User{})

	if errThrottle := svc.ThrottleUser(ctx, userID, "abuse investigation"); errThrottle != nil {
		t.Fatalf("throttle: %v", errThrottle)
	}
	user := mustUser(t, db, userID)
	if !user.IsThrottled || user.ThrottledAuto {
		t.Fatalf("manual throttle state = throttled %v auto %v, want true/false", user.IsThrottled, user.ThrottledAuto)
	}
	if user.ThrottledReason != "abuse investigation" {
		t.Fatalf("reason = %q", user.ThrottledReason)
	}

	if errUnthrottle := svc.UnthrottleUser(ctx, userID); errUnthrottle != nil {
		t.Fatalf("unthrottle: %v", errUnthrottle)
	}
	user = mustUser(t, db, userID)
	if user.IsThrottled || user.ThrottledReason != "" || user.ThrottledAt != nil {
		t.Fatalf("throttle state not cleared: %+v", user)
	}

	if errThrottle := svc.ThrottleUser(ctx, 9999, "x"); !errors.Is(errThrottle, ErrUserNotFound) {
		t.Fatalf("throttle missing user error = %v, want ErrUserNotFound", errThrottle)
	}
	if errUnthrottle := svc.UnthrottleUser(ctx, 9999); !errors.Is(errUnthrottle, ErrUserNotFound) {
		t.Fatalf("unthrottle missing user error = %v, want ErrUserNotFound", errUnthrottle)
	}
}

func TestRepeatedThrottleKeepsFirstAlertReason(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	userID := seedUser(t, db, models.User{})

	if errThrottle := svc.throttle(ctx, userID, "cap reached", true); errThrottle != nil {
		t.Fatalf("auto throttle: %v", errThrottle)
	}
	if errThrottle := svc.ThrottleUser(ctx, userID, "abuse investigation"); errThrottle != nil {
		t.Fatalf("manual throttle: %v", errThrottle)
	}

	// The user row reflects the latest throttle.
	user := mustUser(t, db, userID)
	if !user.IsThrottled || user.ThrottledAuto {
		t.Fatalf("throttle state = throttled %v auto %v, want true/false", user.IsThrottled, user.ThrottledAuto)
	}
	if user.ThrottledReason != "abuse investigation" {
		t.Fatalf("user reason = %q, want the latest throttle reason", user.ThrottledReason)
	}

	// The monthly alert row keeps the first throttle's reason.
	var alerts []models.CostAlert
	if errFind := db.Where("user_id = ? AND alert_type = ?", userID, models.AlertThrottled).Find(&alerts).Error; errFind != nil {
		t.Fatalf("load throttled alerts: %v", errFind)
	}
	if len(alerts) != 1 {
		t.Fatalf("throttled alerts = %d, want exactly one per month", len(alerts))
	}
	if alerts[0].Reason != "cap reached" {
		t.Fatalf("alert reason = %q, want the first throttle reason", alerts[0].Reason)
	}
}

func TestResetMonthlyCosts(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	// Auto-throttled by the cap.
	autoThrottled := seedUser(t, db, models.User{CurrentMonthAPICost: 0.55})
	if _, errCheck := svc.CanAffordRequest(ctx, autoThrottled, 0.01); errCheck != nil {
		t.Fatalf("trip auto throttle: %v", errCheck)
	}
	// Manually throttled by an admin.
	manual := seedUser(t, db, models.User{CurrentMonthAPICost: 0.10})
	if errThrottle := svc.ThrottleUser(ctx, manual, "abuse investigation"); errThrottle != nil {
		t.Fatalf("manual throttle: %v", errThrottle)
	}
	// Never spent anything this month.
	idle := seedUser(t, db, models.User{})

	reset, errReset := svc.ResetMonthlyCosts(ctx)
	if errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}
	if reset != 2 {
		t.Fatalf("reset count = %d, want 2", reset)
	}

	for _, userID := range []uint64{autoThrottled, manual, idle} {
		if cost := mustUser(t, db, userID).CurrentMonthAPICost; cost != 0 {
			t.Fatalf("user %d cost = %f after reset", userID, cost)
		}
	}

	if user := mustUser(t, db, autoThrottled); user.IsThrottled {
		t.Fatalf("auto throttle survived the reset")
	}
	user := mustUser(t, db, manual)
	if !user.IsThrottled || user.ThrottledReason != "abuse investigation" {
		t.Fatalf("manual throttle did not survive the reset: %+v", user)
	}
}
