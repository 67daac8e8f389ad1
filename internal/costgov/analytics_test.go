package costgov

import (
	"context"
	"testing"
	"time"

	"github.com/promptstack/promptstack-billing/internal/models"
	"gorm.io/gorm"
)

func seedUsage(t *testing.T, db *gorm.DB, userID uint64, model string, tokens, costMicros int64, at time.Time) {
	t.Helper()
	row := models.UsageRecord{
		UserID:      userID,
		Provider:    "anthropic",
		Model:       model,
		TotalTokens: tokens,
		CostMicros:  costMicros,
		RequestedAt: at,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed usage: %v", errCreate)
	}
}

func TestCostAnalyticsGroupsByModel(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	now := time.Now().UTC()
	seedUsage(t, db, 1, "claude-sonnet-4", 1000, 9_000, now)
	seedUsage(t, db, 1, "claude-sonnet-4", 2000, 18_000, now)
	seedUsage(t, db, 2, "claude-opus-4", 500, 45_000, now)
	seedUsage(t, db, 2, "gpt-4o-mini", 3000, 1_000, now)

	rows, errQuery := svc.CostAnalytics(ctx, AnalyticsFilter{})
	if errQuery != nil {
		t.Fatalf("analytics: %v", errQuery)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Model != "claude-opus-4" {
		t.Fatalf("most expensive model = %s, want claude-opus-4", rows[0].Model)
	}
	if rows[1].Model != "claude-sonnet-4" || rows[1].Requests != 2 || rows[1].TotalTokens != 3000 {
		t.Fatalf("sonnet row = %+v", rows[1])
	}
	if !closeTo(rows[1].TotalCostUSD, 0.027) {
		t.Fatalf("sonnet cost = %f, want 0.027", rows[1].TotalCostUSD)
	}

	userID := uint64(2)
	rows, errQuery = svc.CostAnalytics(ctx, AnalyticsFilter{UserID: &userID})
	if errQuery != nil {
		t.Fatalf("filtered analytics: %v", errQuery)
	}
	if len(rows) != 2 {
		t.Fatalf("user rows = %d, want 2", len(rows))
	}

	rows, errQuery = svc.CostAnalytics(ctx, AnalyticsFilter{Model: "SONNET"})
	if errQuery != nil {
		t.Fatalf("model filter: %v", errQuery)
	}
	if len(rows) != 1 || rows[0].Model != "claude-sonnet-4" {
		t.Fatalf("model filter rows = %+v", rows)
	}

	from := now.Add(time.Hour)
	rows, errQuery = svc.CostAnalytics(ctx, AnalyticsFilter{From: &from})
	if errQuery != nil {
		t.Fatalf("window filter: %v", errQuery)
	}
	if len(rows) != 0 {
		t.Fatalf("future window returned %d rows", len(rows))
	}
}

func TestAggregateCostMetrics(t *testing.T) {
	db := setupCostDB(t)
	svc := NewService(db)
	ctx := context.Background()

	seedUser(t, db, models.User{CurrentMonthAPICost: 0.30, LifetimeAPICost: 2.00})
	seedUser(t, db, models.User{CurrentMonthAPICost: 0.10, LifetimeAPICost: 0.10, IsThrottled: true})
	seedUser(t, db, models.User{})

	now := time.Now().UTC()
	seedUsage(t, db, 1, "claude-sonnet-4", 1000, 9_000, now)
	seedUsage(t, db, 2, "claude-opus-4", 500, 45_000, now)

	out, errQuery := svc.AggregateCostMetrics(ctx)
	if errQuery != nil {
		t.Fatalf("aggregate: %v", errQuery)
	}
	if out.ActiveSpenders != 2 {
		t.Fatalf("active spenders = %d, want 2", out.ActiveSpenders)
	}
	if !closeTo(out.CurrentMonthUSD, 0.40) {
		t.Fatalf("current month usd = %f, want 0.40", out.CurrentMonthUSD)
	}
	if !closeTo(out.LifetimeUSD, 2.10) {
		t.Fatalf("lifetime usd = %f, want 2.10", out.LifetimeUSD)
	}
	if out.ThrottledUsers != 1 {
		t.Fatalf("throttled users = %d, want 1", out.ThrottledUsers)
	}
	if out.RecordedRequests != 2 || out.RecordedTotalTokens != 1500 {
		t.Fatalf("recorded usage = %d/%d, want 2/1500", out.RecordedRequests, out.RecordedTotalTokens)
	}
}
