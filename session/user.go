package session

import (
	"time"

	"github.com/covergen/go-session-service/subscription"
	"github.com/covergen/go-session-service/usage"
)

// Usage is the rolling-counter view carried on the unified user. Remaining
// always mirrors the store's returned value, never a local decrement.
type Usage struct {
	MonthlyUsed  int `json:"monthlyUsed"`
	MonthlyLimit int `json:"monthlyLimit"`
	DailyUsed    int `json:"dailyUsed"`
	DailyLimit   int `json:"dailyLimit"`
	TrialUsed    int `json:"trialUsed,omitempty"`
	TrialLimit   int `json:"trialLimit,omitempty"`
	Remaining    int `json:"remaining"`
}

func usageFromLimits(limits *usage.Limits) Usage {
	if limits == nil {
		return Usage{}
	}
	return Usage{
		MonthlyUsed:  limits.MonthlyUsage,
		MonthlyLimit: limits.MonthlyLimit,
		DailyUsed:    limits.DailyLimit - limits.RemainingDaily,
		DailyLimit:   limits.DailyLimit,
		TrialUsed:    limits.TrialUsage,
		TrialLimit:   limits.TrialLimit,
		Remaining:    limits.RemainingDaily,
	}
}

// UnifiedUser is the single subscription-aware user model the rest of the
// application consumes: identity, billing state, usage, and credentials in
// one aggregate. It is rebuilt fresh on every auth transition; the only
// in-place mutations are the documented optimistic updates, each followed
// by a reconciling refetch.
type UnifiedUser struct {
	ID           string              `json:"id"`
	Email        string              `json:"email"`
	Name         string              `json:"name,omitempty"`
	AvatarURL    string              `json:"avatarUrl,omitempty"`
	AuthProvider string              `json:"authProvider,omitempty"`
	Subscription subscription.Record `json:"subscription"`
	Usage        Usage               `json:"usage"`
	Session      Session             `json:"session"`
}

// HasValidSubscription reports whether the user is on a usable paid plan.
func (u *UnifiedUser) HasValidSubscription() bool {
	return u != nil && u.Subscription.Tier.Paid() && u.Subscription.Usable()
}

// Trialing reports whether the user is inside an unexpired trial.
func (u *UnifiedUser) Trialing(now time.Time) bool {
	return u != nil && u.Subscription.Trialing(now)
}

func (u *UnifiedUser) clone() *UnifiedUser {
	if u == nil {
		return nil
	}
	copied := *u
	if u.Subscription.CurrentPeriodEnd != nil {
		t := *u.Subscription.CurrentPeriodEnd
		copied.Subscription.CurrentPeriodEnd = &t
	}
	if u.Subscription.TrialEndsAt != nil {
		t := *u.Subscription.TrialEndsAt
		copied.Subscription.TrialEndsAt = &t
	}
	return &copied
}
