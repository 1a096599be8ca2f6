// Package usage tracks generation counters against per-tier allowances.
// The store is the single authority on remaining quota: callers never derive
// a remaining count locally, they read back what the store returns.
package usage

import (
	"context"

	"github.com/covergen/go-session-service/subscription"
)

// Limits is the authoritative answer to "can this user generate right now".
// The zero value fails closed: CanGenerate is false and every counter is 0.
type Limits struct {
	CanGenerate    bool `json:"canGenerate"`
	RemainingDaily int  `json:"remainingDaily"`
	DailyLimit     int  `json:"dailyLimit"`
	MonthlyUsage   int  `json:"monthlyUsage"`
	MonthlyLimit   int  `json:"monthlyLimit"`
	TrialUsage     int  `json:"trialUsage,omitempty"`
	TrialLimit     int  `json:"trialLimit,omitempty"`
}

// Store defines the interface for generation-limit accounting.
type Store interface {
	// CheckGenerationLimit reports current counters without mutating them.
	CheckGenerationLimit(ctx context.Context, userID string, tier subscription.Tier) (*Limits, error)

	// Increment records one generation and returns the resulting counters.
	// The returned Limits reflect the post-increment state.
	Increment(ctx context.Context, userID string, tier subscription.Tier) (*Limits, error)
}

// Allowance is the per-tier generation budget.
type Allowance struct {
	Daily   int
	Monthly int
	Trial   int
}

var tierAllowances = map[subscription.Tier]Allowance{
	subscription.TierFree:    {Daily: 3, Monthly: 10, Trial: 5},
	subscription.TierPro:     {Daily: 50, Monthly: 500, Trial: 5},
	subscription.TierProPlus: {Daily: 200, Monthly: 2000, Trial: 5},
}

// AllowanceFor returns the budget for a tier. Unknown tiers get the free
// budget so a corrupt tier value never grants unlimited generations.
func AllowanceFor(tier subscription.Tier) Allowance {
	if a, ok := tierAllowances[tier]; ok {
		return a
	}
	return tierAllowances[subscription.TierFree]
}
