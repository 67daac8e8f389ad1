package costgov

import (
	"context"
	"strings"
	"time"

	dbutil "github.com/promptstack/promptstack-billing/internal/db"
	"github.com/promptstack/promptstack-billing/internal/models"
)

// modelFilter builds a case-insensitive LIKE over the model column.
// Postgres has ILIKE; SQLite compares lowercased text.
func (s *Service) modelFilter(pattern string) (string, string) {
	if s.db.Dialector != nil && s.db.Dialector.Name() == dbutil.DialectSQLite {
		return "LOWER(model) LIKE ?", strings.ToLower(pattern)
	}
	return "model ILIKE ?", pattern
}

// AnalyticsFilter narrows cost analytics queries.
type AnalyticsFilter struct {
	UserID *uint64
	Model  string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// ModelCostRow aggregates recorded usage for one model.
type ModelCostRow struct {
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// AggregateMetrics summarizes platform-wide cost state.
type AggregateMetrics struct {
	ActiveSpenders      int64   `json:"active_spenders"`
	CurrentMonthUSD     float64 `json:"current_month_usd"`
	LifetimeUSD         float64 `json:"lifetime_usd"`
	ThrottledUsers      int64   `json:"throttled_users"`
	RecordedRequests    int64   `json:"recorded_requests"`
	RecordedTotalTokens int64   `json:"recorded_total_tokens"`
}

const (
	defaultAnalyticsLimit = 20
	maxAnalyticsLimit     = 100
)

// CostAnalytics aggregates usage records by model, most expensive
// first. Read-only; never part of the ledger write path.
func (s *Service) CostAnalytics(ctx context.Context, filter AnalyticsFilter) ([]ModelCostRow, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAnalyticsLimit
	}
	if limit > maxAnalyticsLimit {
		limit = maxAnalyticsLimit
	}

	q := s.db.WithContext(ctx).Model(&models.UsageRecord{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Model != "" {
		expr, pattern := s.modelFilter("%" + filter.Model + "%")
		q = q.Where(expr, pattern)
	}
	if filter.From != nil {
		q = q.Where("requested_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("requested_at < ?", filter.To.UTC())
	}

	// scanRow carries the micros sum before USD conversion.
	type scanRow struct {
		Model       string
		Requests    int64
		TotalTokens int64
		CostMicros  int64
	}
	var scanned []scanRow
	if errScan := q.
		Select("model, COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS total_tokens, COALESCE(SUM(cost_micros), 0) AS cost_micros").
		Group("model").
		Order("cost_micros DESC").
		Limit(limit).
		Scan(&scanned).Error; errScan != nil {
		return nil, errScan
	}

	rows := make([]ModelCostRow, 0, len(scanned))
	for _, row := range scanned {
		rows = append(rows, ModelCostRow{
			Model:        row.Model,
			Requests:     row.Requests,
			TotalTokens:  row.TotalTokens,
			TotalCostUSD: float64(row.CostMicros) / 1_000_000,
		})
	}
	return rows, nil
}

// AggregateCostMetrics returns platform-wide totals for dashboards.
func (s *Service) AggregateCostMetrics(ctx context.Context) (AggregateMetrics, error) {
	var out AggregateMetrics

	// userTotals scans the summed user cost columns.
	type userTotals struct {
		ActiveSpenders  int64
		CurrentMonthUSD float64
		LifetimeUSD     float64
	}
	var totals userTotals
	if errScan := s.db.WithContext(ctx).Model(&models.User{}).
		Select("COUNT(CASE WHEN current_month_api_cost > 0 THEN 1 END) AS active_spenders, COALESCE(SUM(current_month_api_cost), 0) AS current_month_usd, COALESCE(SUM(lifetime_api_cost), 0) AS lifetime_usd").
		Scan(&totals).Error; errScan != nil {
		return out, errScan
	}
	out.ActiveSpenders = totals.ActiveSpenders
	out.CurrentMonthUSD = totals.CurrentMonthUSD
	out.LifetimeUSD = totals.LifetimeUSD

	if errCount := s.db.WithContext(ctx).Model(&models.User{}).
		Where("is_throttled = ?", true).
		Count(&out.ThrottledUsers).Error; errCount != nil {
		return out, errCount
	}

	// usageTotals scans the summed usage record columns.
	type usageTotals struct {
		Requests    int64
		TotalTokens int64
	}
	var usage usageTotals
	if errScan := s.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("COUNT(*) AS requests, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Scan(&usage).Error; errScan != nil {
		return out, errScan
	}
	out.RecordedRequests = usage.Requests
	out.RecordedTotalTokens = usage.TotalTokens

	return out, nil
}
