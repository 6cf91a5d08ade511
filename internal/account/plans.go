package account

// PlanConfig defines limits for a pricing tier.
type PlanConfig struct {
	Plan         Plan `json:"plan"`
	MaxWallets   int  `json:"maxWallets"` // 0 = unlimited
	RateLimitRPM int  `json:"rateLimitRpm"`
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanFree: {
		Plan:         PlanFree,
		MaxWallets:   2,
		RateLimitRPM: 60,
	},
	PlanPro: {
		Plan:         PlanPro,
		MaxWallets:   10,
		RateLimitRPM: 300,
	},
	PlanEnterprise: {
		Plan:         PlanEnterprise,
		MaxWallets:   0,
		RateLimitRPM: 1000,
	},
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}

// ConfigFor returns the plan's limits, falling back to free.
func ConfigFor(p Plan) PlanConfig {
	if cfg, ok := Plans[p]; ok {
		return cfg
	}
	return Plans[PlanFree]
}

// CheckWalletLimit returns ErrWalletLimit when a user on plan p already has
// current wallets and may not add another.
func CheckWalletLimit(p Plan, current int) error {
	limit := ConfigFor(p).MaxWallets
	if limit > 0 && current >= limit {
		return ErrWalletLimit
	}
	return nil
}
