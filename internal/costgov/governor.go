// Package costgov implements the real-money cost governance layer:
// per-user USD spend tracking against tier-based monthly caps,
// automatic throttling, and threshold alerting.
//
// Credits (package ledger) are the responsive prepaid UX currency;
// this package is the precise financial control. Spend is charged from
// a pre-call estimate, cost is recorded from actual provider-reported
// tokens, and the two may differ by the estimate/actual delta.
package costgov

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/promptstack/promptstack-billing/internal/metrics"
	"github.com/promptstack/promptstack-billing/internal/models"
	"github.com/promptstack/promptstack-billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cost tiers resolved from subscription and organization state.
const (
	// TierFree is the default tier.
	TierFree = "free"
	// TierPlusIndividual is an active paid subscriber.
	TierPlusIndividual = "plus_individual"
	// TierPlusOrg is an active subscriber in a verified organization.
	TierPlusOrg = "plus_org"
)

// ErrUserNotFound indicates a cost operation on an unknown user.
var ErrUserNotFound = errors.New("costgov: user not found")

// CostStatus summarizes a user's position against their monthly cap.
type CostStatus struct {
	CurrentMonthCost float64 `json:"current_month_cost"`
	CostLimit        float64 `json:"cost_limit"`
	PercentUsed      float64 `json:"percent_used"`
	IsThrottled      bool    `json:"is_throttled"`
	ThrottledReason  string  `json:"throttled_reason,omitempty"`
	Tier             string  `json:"tier"`
}

// Decision is the outcome of an affordability check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// UsageMeta carries the metering context reported after execution.
type UsageMeta struct {
	Provider     string
	Model        string
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	RequestedAt  time.Time
}

// Governor is the cost governance contract consumed by playground
// execution and admin tooling.
type Governor interface {
	UserCostStatus(ctx context.Context, userID uint64) (CostStatus, error)
	CanAffordRequest(ctx context.Context, userID uint64, estimatedCost float64) (Decision, error)
	RecordCost(ctx context.Context, userID uint64, cost float64, meta UsageMeta) error
	ThrottleUser(ctx context.Context, userID uint64, reason string) error
	UnthrottleUser(ctx context.Context, userID uint64) error
	ResetMonthlyCosts(ctx context.Context) (int64, error)
	CostAnalytics(ctx context.Context, filter AnalyticsFilter) ([]ModelCostRow, error)
	AggregateCostMetrics(ctx context.Context) (AggregateMetrics, error)
}

// Service implements Governor against the shared transactional store.
type Service struct {
	db *gorm.DB
}

// NewService constructs a cost governance Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// alert thresholds evaluated on every RecordCost, in ascending order.
var thresholds = []struct {
	percent   float64
	alertType string
}{
	{50, models.AlertWarning50},
	{75, models.AlertWarning75},
	{90, models.AlertWarning90},
}

// UserCostStatus resolves the user's tier and cap and returns their
// current position. Tier is derived on every read, never stored.
func (s *Service) UserCostStatus(ctx context.Context, userID uint64) (CostStatus, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return CostStatus{}, ErrUserNotFound
		}
		return CostStatus{}, errFind
	}

	tier, errTier := s.resolveTier(ctx, userID)
	if errTier != nil {
		return CostStatus{}, errTier
	}
	limit := limitForTier(tier)

	return CostStatus{
		CurrentMonthCost: user.CurrentMonthAPICost,
		CostLimit:        limit,
		PercentUsed:      percentOf(user.CurrentMonthAPICost, limit),
		IsThrottled:      user.IsThrottled,
		ThrottledReason:  user.ThrottledReason,
		Tier:             tier,
	}, nil
}

// CanAffordRequest is the USD admission gate. It is the sole path that
// sets the throttle automatically: a projected overage throttles the
// user before denying the request.
func (s *Service) CanAffordRequest(ctx context.Context, userID uint64, estimatedCost float64) (Decision, error) {
	status, err := s.UserCostStatus(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	if status.IsThrottled {
		metrics.CostCheckTotal.WithLabelValues("throttled").Inc()
		reason := status.ThrottledReason
		if reason == "" {
			reason = "account is throttled"
		}
		return Decision{Allowed: false, Reason: reason}, nil
	}

	if estimatedCost < 0 {
		estimatedCost = 0
	}
	if status.CurrentMonthCost+estimatedCost > status.CostLimit {
		reason := fmt.Sprintf("monthly cost limit of $%.2f reached for %s tier", status.CostLimit, status.Tier)
		if errThrottle := s.throttle(ctx, userID, reason, true); errThrottle != nil {
			return Decision{}, errThrottle
		}
		metrics.CostCheckTotal.WithLabelValues("denied").Inc()
		return Decision{Allowed: false, Reason: reason}, nil
	}

	metrics.CostCheckTotal.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true}, nil
}

// RecordCost settles the actual USD cost of an executed request. The
// cost counters are the primary mutation; the usage row and threshold
// alerts are best-effort side effects that never abort it.
func (s *Service) RecordCost(ctx context.Context, userID uint64, cost float64, meta UsageMeta) error {
	if cost < 0 {
		return fmt.Errorf("costgov: negative cost %f", cost)
	}

	tier, errTier := s.resolveTier(ctx, userID)
	if errTier != nil {
		return errTier
	}
	limit := limitForTier(tier)

	var newCost float64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return errFind
		}

		newCost = user.CurrentMonthAPICost + cost
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"current_month_api_cost": newCost,
				"lifetime_api_cost":      user.LifetimeAPICost + cost,
			}).Error
	})
	if errTx != nil {
		return errTx
	}

	metrics.CostRecordedUSD.Add(cost)

	row := usageRowFromMeta(userID, cost, meta)
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warnf("costgov: failed to persist usage record for user %d", userID)
	}
	s.createThresholdAlerts(ctx, userID, newCost, limit)
	return nil
}

// createThresholdAlerts inserts one alert per newly crossed threshold
// for the current calendar month. The unique index makes concurrent
// inserts at-most-once; failures are logged and swallowed.
func (s *Service) createThresholdAlerts(ctx context.Context, userID uint64, newCost, limit float64) {
	percent := percentOf(newCost, limit)
	month := time.Now().UTC().Format("2006-01")

	for _, threshold := range thresholds {
		if percent < threshold.percent {
			break
		}
		row := models.CostAlert{
			UserID:      userID,
			AlertType:   threshold.alertType,
			Month:       month,
			PercentUsed: percent,
			CostLimit:   limit,
		}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			log.WithError(res.Error).Warnf("costgov: failed to create %s alert for user %d", threshold.alertType, userID)
			continue
		}
		if res.RowsAffected > 0 {
			metrics.CostAlertsTotal.WithLabelValues(threshold.alertType).Inc()
		}
	}
}

// ThrottleUser blocks further paid usage manually. Manual throttles
// survive the monthly cost reset.
func (s *Service) ThrottleUser(ctx context.Context, userID uint64, reason string) error {
	return s.throttle(ctx, userID, reason, false)
}

func (s *Service) throttle(ctx context.Context, userID uint64, reason string, auto bool) error {
	now := time.Now().UTC()
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"is_throttled":     true,
				"throttled_auto":   auto,
				"throttled_reason": reason,
				"throttled_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if errTx != nil {
		return errTx
	}

	metrics.ThrottleTransitions.WithLabelValues("throttled").Inc()

	// At most one throttled alert per user per month; the reason on the
	// alert row is first-writer-wins. A later throttle in the same month
	// still updates the reason on the user row above.
	alert := models.CostAlert{
		UserID:    userID,
		AlertType: models.AlertThrottled,
		Month:     now.Format("2006-01"),
		Reason:    reason,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&alert)
	if res.Error != nil {
		log.WithError(res.Error).Warnf("costgov: failed to create throttled alert for user %d", userID)
	} else if res.RowsAffected > 0 {
		metrics.CostAlertsTotal.WithLabelValues(models.AlertThrottled).Inc()
	}
	return nil
}

// UnthrottleUser restores paid usage. This is the only transition out
// of the throttled state besides the monthly reset of auto throttles.
func (s *Service) UnthrottleUser(ctx context.Context, userID uint64) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_throttled":     false,
			"throttled_auto":   false,
			"throttled_reason": "",
			"throttled_at":     nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	metrics.ThrottleTransitions.WithLabelValues("unthrottled").Inc()
	return nil
}

// ResetMonthlyCosts zeroes the running monthly cost for every user and
// clears throttles that the cap set automatically. Admin throttles
// persist until an explicit UnthrottleUser.
func (s *Service) ResetMonthlyCosts(ctx context.Context) (int64, error) {
	var reset int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("current_month_api_cost > 0").
			Update("current_month_api_cost", 0)
		if res.Error != nil {
			return res.Error
		}
		reset = res.RowsAffected

		return tx.Model(&models.User{}).
			Where("is_throttled = ? AND throttled_auto = ?", true, true).
			Updates(map[string]any{
				"is_throttled":     false,
				"throttled_auto":   false,
				"throttled_reason": "",
				"throttled_at":     nil,
			}).Error
	})
	if errTx != nil {
		metrics.LifecycleRunsTotal.WithLabelValues("cost_reset", "error").Inc()
		return 0, errTx
	}

	metrics.LifecycleRunsTotal.WithLabelValues("cost_reset", "ok").Inc()
	log.Infof("costgov: monthly cost reset for %d users", reset)
	return reset, nil
}

// resolveTier derives the cost tier: an active subscription plus
// verified-organization membership is plus_org, an active subscription
// alone is plus_individual, everything else is free.
func (s *Service) resolveTier(ctx context.Context, userID uint64) (string, error) {
	var activeSubs int64
	if errCount := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Count(&activeSubs).Error; errCount != nil {
		return "", errCount
	}
	if activeSubs == 0 {
		return TierFree, nil
	}

	var verifiedOrgs int64
	if errCount := s.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Joins("JOIN organizations ON organizations.id = organization_members.org_id").
		Where("organization_members.user_id = ? AND organizations.is_verified = ?", userID, true).
		Count(&verifiedOrgs).Error; errCount != nil {
		return "", errCount
	}
	if verifiedOrgs > 0 {
		return TierPlusOrg, nil
	}
	return TierPlusIndividual, nil
}

func limitForTier(tier string) float64 {
	switch tier {
	case TierPlusOrg:
		return settings.CostLimitPlusOrg()
	case TierPlusIndividual:
		return settings.CostLimitPlusIndividual()
	default:
		return settings.CostLimitFree()
	}
}

func percentOf(cost, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return cost / limit * 100
}

func usageRowFromMeta(userID uint64, cost float64, meta UsageMeta) models.UsageRecord {
	requestedAt := meta.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	return models.UsageRecord{
		UserID:       userID,
		Provider:     meta.Provider,
		Model:        meta.Model,
		SessionID:    meta.SessionID,
		InputTokens:  meta.InputTokens,
		OutputTokens: meta.OutputTokens,
		TotalTokens:  meta.InputTokens + meta.OutputTokens,
		CostMicros:   int64(cost * 1_000_000),
		RequestedAt:  requestedAt.UTC(),
	}
}

// Ensure Service implements Governor.
var _ Governor = (*Service)(nil)
