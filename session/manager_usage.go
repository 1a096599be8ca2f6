package session

import (
	"context"

	"github.com/covergen/go-session-service/usage"
)

// CheckUsageLimit asks the authoritative store whether the current user can
// generate right now. Fails closed: an unauthenticated manager or a store
// failure reports zero remaining, never an optimistic "assume allowed".
func (m *Manager) CheckUsageLimit(ctx context.Context) (usage.Limits, error) {
	m.mu.Lock()
	user := m.user.clone()
	m.mu.Unlock()

	if user == nil {
		return usage.Limits{}, NewError(CodeAuthRequired, "sign in to generate").WithAuthRequired()
	}

	limits, err := m.deps.Usage.CheckGenerationLimit(ctx, user.ID, user.Subscription.Tier)
	if err != nil {
		return usage.Limits{}, WrapError(err, CodeUnknownError, "usage limit check failed")
	}
	return *limits, nil
}

// IncrementUsage records one generation and reconciles the in-memory
// counters against the store's returned values. The remaining count is
// always the store's answer, never a local decrement.
func (m *Manager) IncrementUsage(ctx context.Context) (usage.Limits, error) {
	m.mu.Lock()
	user := m.user.clone()
	m.mu.Unlock()

	if user == nil {
		return usage.Limits{}, NewError(CodeAuthRequired, "sign in to generate").WithAuthRequired()
	}

	limits, err := m.deps.Usage.Increment(ctx, user.ID, user.Subscription.Tier)
	if err != nil {
		return usage.Limits{}, WrapError(err, CodeUnknownError, "usage increment failed")
	}

	m.mu.Lock()
	var listeners []Listener
	var current *UnifiedUser
	if m.user != nil && m.user.ID == user.ID {
		m.user.Usage = usageFromLimits(limits)
		listeners = m.snapshotListenersLocked()
		current = m.user.clone()
	}
	m.mu.Unlock()

	if listeners != nil {
		m.notify(listeners, current)
	}
	return *limits, nil
}
