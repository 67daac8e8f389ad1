package settings

// DB config keys and defaults for the billing core.
const (
	// SignupBonusCreditsKey overrides the one-time signup credit grant.
	SignupBonusCreditsKey = "SIGNUP_BONUS_CREDITS"
	// MonthlyAllocationCreditsKey overrides the paid-tier monthly allocation.
	MonthlyAllocationCreditsKey = "MONTHLY_ALLOCATION_CREDITS"
	// RolloverCapCreditsKey overrides the rollover carry cap.
	RolloverCapCreditsKey = "ROLLOVER_CAP_CREDITS"
	// CostLimitFreeKey overrides the free tier monthly USD cap.
	CostLimitFreeKey = "COST_LIMIT_FREE_USD"
	// CostLimitPlusIndividualKey overrides the individual subscriber USD cap.
	CostLimitPlusIndividualKey = "COST_LIMIT_PLUS_INDIVIDUAL_USD"
	// CostLimitPlusOrgKey overrides the verified-org subscriber USD cap.
	CostLimitPlusOrgKey = "COST_LIMIT_PLUS_ORG_USD"
	// UsageRetentionDaysKey overrides how long usage records are kept.
	// Zero disables the retention sweep.
	UsageRetentionDaysKey = "USAGE_RETENTION_DAYS"

	// DefaultSignupBonusCredits is the fallback signup grant.
	DefaultSignupBonusCredits = 5
	// DefaultMonthlyAllocationCredits is the fallback monthly allocation.
	DefaultMonthlyAllocationCredits = 100
	// DefaultRolloverCapCredits is the fallback rollover carry cap.
	DefaultRolloverCapCredits = 200
	// DefaultCostLimitFree is the fallback free tier USD cap.
	DefaultCostLimitFree = 0.50
	// DefaultCostLimitPlusIndividual is the fallback individual subscriber USD cap.
	DefaultCostLimitPlusIndividual = 20.00
	// DefaultCostLimitPlusOrg is the fallback verified-org subscriber USD cap.
	DefaultCostLimitPlusOrg = 100.00
	// DefaultUsageRetentionDays is the fallback usage record retention.
	DefaultUsageRetentionDays = 180
)

// SignupBonusCredits returns the configured signup grant.
func SignupBonusCredits() int64 {
	return int64Value(SignupBonusCreditsKey, DefaultSignupBonusCredits)
}

// MonthlyAllocationCredits returns the configured monthly allocation.
func MonthlyAllocationCredits() int64 {
	return int64Value(MonthlyAllocationCreditsKey, DefaultMonthlyAllocationCredits)
}

// RolloverCapCredits returns the configured rollover cap.
func RolloverCapCredits() int64 {
	return int64Value(RolloverCapCreditsKey, DefaultRolloverCapCredits)
}

// CostLimitFree returns the free tier monthly USD cap.
func CostLimitFree() float64 {
	return floatValue(CostLimitFreeKey, DefaultCostLimitFree)
}

// CostLimitPlusIndividual returns the individual subscriber monthly USD cap.
func CostLimitPlusIndividual() float64 {
	return floatValue(CostLimitPlusIndividualKey, DefaultCostLimitPlusIndividual)
}

// CostLimitPlusOrg returns the verified-org subscriber monthly USD cap.
func CostLimitPlusOrg() float64 {
	return floatValue(CostLimitPlusOrgKey, DefaultCostLimitPlusOrg)
}

// UsageRetentionDays returns how many days of usage records to keep.
func UsageRetentionDays() int64 {
	return int64Value(UsageRetentionDaysKey, DefaultUsageRetentionDays)
}

func int64Value(key string, fallback int64) int64 {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	parsed, okParse := parseConfigInt64(raw)
	if !okParse || parsed < 0 {
		return fallback
	}
	return parsed
}

func floatValue(key string, fallback float64) float64 {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	parsed, okParse := parseConfigFloat(raw)
	if !okParse || parsed < 0 {
		return fallback
	}
	return parsed
}
