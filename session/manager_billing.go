package session

import (
	"context"
	"fmt"
	"net"

	"github.com/covergen/go-session-service/authprovider"
	"github.com/covergen/go-session-service/billing"
	"github.com/covergen/go-session-service/subscription"
	"github.com/pkg/errors"
)

// CreateCheckoutSession starts a payment redirect for a plan upgrade. The
// session must clear the stricter checkout buffer: starting a payment flow
// with a token that expires mid-redirect is worse than refusing upfront.
func (m *Manager) CreateCheckoutSession(ctx context.Context, planID subscription.Tier) (*billing.CheckoutSession, error) {
	m.mu.Lock()
	user := m.user.clone()
	m.mu.Unlock()

	if user == nil {
		return nil, NewError(CodeAuthRequired, "sign in to upgrade your plan").WithAuthRequired()
	}
	if !planID.Valid() {
		return nil, NewError(CodeCheckoutError, fmt.Sprintf("unknown plan %q", planID))
	}
	if planID.Rank() <= user.Subscription.Tier.Rank() {
		return nil, NewError(CodeAlreadySubscribed,
			fmt.Sprintf("current plan %q already covers %q", user.Subscription.Tier, planID))
	}

	if err := m.refreshIfExpiring(ctx, m.checkoutBuffer); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, NewError(CodeAuthRequired, "signed out during checkout").WithAuthRequired()
	}
	accessToken := m.user.Session.AccessToken
	userID := m.user.ID
	m.mu.Unlock()

	params := billing.CheckoutParams{
		PlanID:      planID,
		UserID:      userID,
		AccessToken: accessToken,
		SuccessURL:  fmt.Sprintf("%s/payment/success?plan_id=%s&user_id=%s", m.frontendBase, planID, userID),
		CancelURL:   fmt.Sprintf("%s/payment/cancel?plan_id=%s", m.frontendBase, planID),
	}

	session, err := m.deps.Billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, m.mapBillingError(err, CodeCheckoutFailed, "checkout session creation failed")
	}
	return session, nil
}

// CreatePortalSession opens the billing provider's customer portal. A free
// user with no billing customer has nothing to manage.
func (m *Manager) CreatePortalSession(ctx context.Context) (*billing.PortalSession, error) {
	m.mu.Lock()
	user := m.user.clone()
	m.mu.Unlock()

	if user == nil {
		return nil, NewError(CodeAuthRequired, "sign in to manage billing").WithAuthRequired()
	}
	if user.Subscription.CustomerID == "" && !user.Subscription.Tier.Paid() {
		return nil, NewError(CodeNoSubscription, "no subscription to manage")
	}

	if err := m.refreshIfExpiring(ctx, m.checkoutBuffer); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, NewError(CodeAuthRequired, "signed out during portal access").WithAuthRequired()
	}
	accessToken := m.user.Session.AccessToken
	userID := m.user.ID
	customerID := m.user.Subscription.CustomerID
	m.mu.Unlock()

	params := billing.PortalParams{
		CustomerID:  customerID,
		UserID:      userID,
		AccessToken: accessToken,
		ReturnURL:   m.frontendBase + "/account",
	}

	session, err := m.deps.Billing.CreatePortalSession(ctx, params)
	if err != nil {
		return nil, m.mapBillingError(err, CodePaymentError, "portal session creation failed")
	}
	return session, nil
}

// HandleSubscriptionUpdate applies an inbound webhook-style billing event.
// The change is persisted to the subscription store first; the in-memory
// user is then rebuilt wholesale from a fresh session fetch, never patched
// from the event payload, so derived fields (like the trial flag) can never
// diverge from the store. Events for other users update the store only.
func (m *Manager) HandleSubscriptionUpdate(ctx context.Context, update billing.SubscriptionUpdate) error {
	if update.UserID == "" || !update.Kind.Valid() {
		return NewError(CodeUnknownError, "malformed subscription update")
	}

	rec, err := m.deps.Subscriptions.Get(ctx, update.UserID)
	if errors.Is(err, subscription.ErrNotFound) {
		rec = subscription.DefaultRecord(update.UserID)
	} else if err != nil {
		return WrapError(err, CodeUnknownError, "failed to load subscription for update")
	}
	update.ApplyTo(rec)
	if err := m.deps.Subscriptions.Upsert(ctx, rec); err != nil {
		return WrapError(err, CodeUnknownError, "failed to persist subscription update")
	}

	m.mu.Lock()
	match := m.user != nil && m.user.ID == update.UserID
	m.mu.Unlock()
	if !match {
		return nil
	}

	ts, err := m.deps.Auth.Session(ctx)
	if errors.Is(err, authprovider.ErrNoSession) {
		m.clearUser()
		return nil
	}
	if err != nil {
		return WrapError(err, CodeAuthError, "failed to refetch session after update")
	}

	user, err := m.composeUser(ctx, ts)
	if err != nil {
		return WrapError(err, CodeUnknownError, "failed to rebuild user after update")
	}
	m.installUser(user)
	return nil
}

// CancelSubscription flags the current subscription to end at period close.
// Optimistic two-phase update: the provisional patch is emitted
// immediately, then replaced wholesale by the authoritative refetch, so
// consumers may briefly observe the provisional state.
func (m *Manager) CancelSubscription(ctx context.Context) error {
	return m.setCancelAtPeriodEnd(ctx, true)
}

// ResumeSubscription clears a pending cancellation. Same two-phase pattern
// as CancelSubscription.
func (m *Manager) ResumeSubscription(ctx context.Context) error {
	return m.setCancelAtPeriodEnd(ctx, false)
}

func (m *Manager) setCancelAtPeriodEnd(ctx context.Context, cancel bool) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return NewError(CodeAuthRequired, "sign in to change your subscription").WithAuthRequired()
	}
	if m.user.Subscription.SubscriptionID == "" {
		m.mu.Unlock()
		return NewError(CodeNoSubscription, "no subscription to change")
	}

	// Phase 1: provisional patch, visible immediately.
	m.user.Subscription.CancelAtPeriodEnd = cancel
	provisional := m.user.Subscription
	listeners := m.snapshotListenersLocked()
	current := m.user.clone()
	ts := tokenSessionFromUser(m.user)
	m.mu.Unlock()
	m.notify(listeners, current)

	if err := m.deps.Subscriptions.Upsert(ctx, &provisional); err != nil {
		return WrapError(err, CodePaymentError, "failed to persist subscription change")
	}

	// Phase 2: replace wholesale with the authoritative state.
	user, err := m.composeUser(ctx, ts)
	if err != nil {
		return WrapError(err, CodeUnknownError, "failed to reconcile subscription change")
	}
	m.installUser(user)
	return nil
}

// mapBillingError folds transport failures into the closed error taxonomy.
// Anything implying the token is untrustworthy demands re-auth; everything
// else stays retryable.
func (m *Manager) mapBillingError(err error, fallback Code, message string) *Error {
	switch {
	case errors.Is(err, billing.ErrUnauthorized):
		return WrapError(err, CodeInvalidToken, "billing provider rejected the session token").WithAuthRequired()
	case errors.Is(err, billing.ErrService):
		return WrapError(err, CodePaymentServiceError, "billing provider unavailable")
	case isNetworkError(err):
		return WrapError(err, CodeNetworkError, "billing provider unreachable")
	default:
		return WrapError(err, fallback, message)
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func tokenSessionFromUser(user *UnifiedUser) *authprovider.TokenSession {
	return &authprovider.TokenSession{
		AccessToken:  user.Session.AccessToken,
		RefreshToken: user.Session.RefreshToken,
		ExpiresAt:    user.Session.ExpiresAt,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		AvatarURL:    user.AvatarURL,
		Provider:     user.AuthProvider,
	}
}
