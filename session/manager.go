// Package session owns the canonical in-memory user: one subscription-aware
// aggregate reconciled against the auth provider, the billing stores, and
// the usage counters. There is exactly one live UnifiedUser per Manager and
// one Manager per process, held by the application's composition root.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/covergen/go-session-service/authprovider"
	"github.com/covergen/go-session-service/billing"
	"github.com/covergen/go-session-service/subscription"
	"github.com/covergen/go-session-service/usage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Deps holds all collaborator dependencies for the Manager.
type Deps struct {
	Auth          authprovider.Provider
	Billing       billing.Client
	Subscriptions subscription.Repo
	Usage         usage.Store
}

// Listener receives the current user (nil when signed out) on every
// transition.
type Listener func(*UnifiedUser)

// Manager is the unified session manager: the single source of truth for
// who the current user is, what they own, and what they can do right now.
// All public methods are safe to call concurrently.
type Manager struct {
	deps    Deps
	logger  zerolog.Logger
	nowTime func() time.Time

	frontendBase    string
	freshnessBuffer time.Duration
	checkoutBuffer  time.Duration
	refreshTick     time.Duration

	mu            sync.Mutex
	initialized   bool
	user          *UnifiedUser
	generation    uint64
	refreshing    bool
	listeners     map[int]Listener
	nextListener  int
	timerStop     chan struct{}
	cancelAuthSub func()
}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithFreshnessBuffer overrides the default expiry buffer for ordinary
// privileged calls.
func WithFreshnessBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		m.freshnessBuffer = buffer
	}
}

// WithCheckoutBuffer overrides the stricter expiry buffer used before
// payment redirects.
func WithCheckoutBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		m.checkoutBuffer = buffer
	}
}

// WithRefreshTick overrides the background refresh period (primarily for
// testing). The period is never allowed below one minute in production
// wiring; the freshness check itself stays lazy.
func WithRefreshTick(tick time.Duration) Option {
	return func(m *Manager) {
		m.refreshTick = tick
	}
}

// NewManager initializes a Manager with required dependencies. frontendBase
// is the same-origin base URL that success/cancel/portal-return redirects
// are built from.
func NewManager(deps Deps, frontendBase string, options ...Option) (*Manager, error) {
	if deps.Auth == nil {
		return nil, errors.New("[NewManager] Auth provider is required")
	}
	if deps.Billing == nil {
		return nil, errors.New("[NewManager] Billing client is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("[NewManager] Subscriptions repo is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("[NewManager] Usage store is required")
	}

	m := &Manager{
		deps:            deps,
		logger:          zerolog.Nop(),
		nowTime:         time.Now,
		frontendBase:    strings.TrimRight(frontendBase, "/"),
		freshnessBuffer: DefaultFreshnessBuffer,
		checkoutBuffer:  CheckoutFreshnessBuffer,
		refreshTick:     refreshTickInterval,
		listeners:       make(map[int]Listener),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Initialize fetches the current auth session, builds the unified user when
// one exists, and registers the standing auth-state listener. It is
// idempotent: a second call is a no-op. A failure leaves the manager
// uninitialized, which callers must treat as "signed out".
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ts, err := m.deps.Auth.Session(ctx)
	if err != nil && !errors.Is(err, authprovider.ErrNoSession) {
		return WrapError(err, CodeAuthError, "failed to fetch initial session")
	}

	var user *UnifiedUser
	if err == nil && ts != nil {
		user, err = m.composeUser(ctx, ts)
		if err != nil {
			return WrapError(err, CodeAuthError, "failed to build unified user")
		}
	}

	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	cancel := m.deps.Auth.OnAuthStateChange(m.handleAuthStateChange)
	m.mu.Lock()
	m.cancelAuthSub = cancel
	m.mu.Unlock()

	if user != nil {
		m.installUser(user)
	}
	return nil
}

// Close tears down the background refresh task and the auth-state
// subscription. The in-memory user is left untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopRefreshTimerLocked()
	cancel := m.cancelAuthSub
	m.cancelAuthSub = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// GetCurrentUser returns a copy of the current unified user, or nil when
// signed out.
func (m *Manager) GetCurrentUser() *UnifiedUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.clone()
}

// IsAuthenticated reports whether a user is currently loaded.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}

// HasValidSubscription reports whether the current user is on a usable paid
// plan.
func (m *Manager) HasValidSubscription() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.HasValidSubscription()
}

// IsTrialing reports whether the current user is inside an unexpired trial.
func (m *Manager) IsTrialing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.Trialing(m.nowTime())
}

// SessionFreshness reports the freshness state of the current session
// against the default buffer.
func (m *Manager) SessionFreshness() Freshness {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return FreshnessExpired
	}
	if m.refreshing {
		return FreshnessRefreshing
	}
	return m.user.Session.Freshness(m.nowTime(), m.freshnessBuffer)
}

// Subscribe registers a listener. The listener is invoked immediately with
// the current user (or nil) and again on every subsequent transition. The
// returned function removes the registration.
func (m *Manager) Subscribe(listener Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = listener
	current := m.user.clone()
	m.mu.Unlock()

	m.invoke(listener, current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SignInWithGoogle starts the redirect-based OAuth flow and returns the
// provider URL to send the user to. redirectPath is the same-origin path
// the user should land back on. Success means the redirect was initiated;
// the user itself is built asynchronously by the auth-state listener.
func (m *Manager) SignInWithGoogle(redirectPath string) (string, error) {
	url, err := m.deps.Auth.AuthorizeURL(redirectPath)
	if err != nil {
		return "", WrapError(err, CodeOAuthSignInFailed, "provider rejected the sign-in request")
	}
	return url, nil
}

// CompleteOAuthSignIn finishes the redirect flow with the callback code and
// state, installs the resulting user, and returns it together with the
// path the user started from.
func (m *Manager) CompleteOAuthSignIn(ctx context.Context, code, state string) (*UnifiedUser, string, error) {
	ts, redirectTo, err := m.deps.Auth.Exchange(ctx, code, state)
	if err != nil {
		return nil, "", WrapError(err, CodeOAuthSignInError, "OAuth code exchange failed")
	}

	user, err := m.composeUser(ctx, ts)
	if err != nil {
		return nil, "", WrapError(err, CodeAuthError, "failed to build unified user")
	}
	m.installIfChanged(user)
	return m.GetCurrentUser(), redirectTo, nil
}

// SignOut clears the in-memory user and notifies listeners before the
// provider round trip, favoring UI responsiveness over strict consistency:
// if the provider call fails the error is reported, but local state stays
// cleared and is never resurrected. Deliberate trade-off, not a bug.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	var token string
	if m.user != nil {
		token = m.user.Session.AccessToken
	}
	m.mu.Unlock()

	m.clearUser()

	if err := m.deps.Auth.SignOut(ctx, token); err != nil {
		return WrapError(err, CodeSignOutFailed, "provider sign-out failed")
	}
	return nil
}

// handleAuthStateChange is the standing listener registered at Initialize.
// It rebuilds or tears down the unified user on provider transitions.
func (m *Manager) handleAuthStateChange(change authprovider.StateChange) {
	switch change.Event {
	case authprovider.EventSignedOut:
		m.clearUser()
	case authprovider.EventSignedIn, authprovider.EventTokenRefreshed:
		if change.Session == nil {
			return
		}
		user, err := m.composeUser(context.Background(), change.Session)
		if err != nil {
			m.logger.Error().Err(err).Str("event", string(change.Event)).
				Msg("failed to rebuild user on auth transition")
			return
		}
		m.installIfChanged(user)
	}
}

// composeUser builds a fresh UnifiedUser by composing the subscription and
// usage queries around the token session. A missing billing row means the
// free tier; a usage store failure degrades to zeroed (fail-closed)
// counters rather than blocking sign-in.
func (m *Manager) composeUser(ctx context.Context, ts *authprovider.TokenSession) (*UnifiedUser, error) {
	rec, err := m.deps.Subscriptions.Get(ctx, ts.UserID)
	if errors.Is(err, subscription.ErrNotFound) {
		rec = subscription.DefaultRecord(ts.UserID)
	} else if err != nil {
		return nil, errors.Wrap(err, "[Manager.composeUser] load subscription")
	}

	limits, err := m.deps.Usage.CheckGenerationLimit(ctx, ts.UserID, rec.Tier)
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", ts.UserID).
			Msg("usage lookup failed, loading user with zero remaining")
		limits = &usage.Limits{}
	}

	return &UnifiedUser{
		ID:           ts.UserID,
		Email:        ts.Email,
		Name:         ts.Name,
		AvatarURL:    ts.AvatarURL,
		AuthProvider: ts.Provider,
		Subscription: *rec,
		Usage:        usageFromLimits(limits),
		Session:      sessionFromToken(ts),
	}, nil
}

// installUser replaces the in-memory user wholesale and notifies listeners.
func (m *Manager) installUser(user *UnifiedUser) {
	m.mu.Lock()
	m.user = user
	m.generation++
	m.startRefreshTimerLocked()
	listeners := m.snapshotListenersLocked()
	current := m.user.clone()
	m.mu.Unlock()

	m.notify(listeners, current)
}

// installIfChanged installs the user unless the same access token is
// already loaded. Provider implementations fire auth-state events for their
// own operations, so a direct call and its event would otherwise install
// the same session twice.
func (m *Manager) installIfChanged(user *UnifiedUser) {
	m.mu.Lock()
	if m.user != nil && m.user.Session.AccessToken == user.Session.AccessToken {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.installUser(user)
}

// clearUser tears down the in-memory user, stops the refresh task, and
// notifies listeners. Calling it while already signed out is a no-op.
func (m *Manager) clearUser() {
	m.mu.Lock()
	if m.user == nil {
		m.stopRefreshTimerLocked()
		m.mu.Unlock()
		return
	}
	m.user = nil
	m.generation++
	m.stopRefreshTimerLocked()
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.notify(listeners, nil)
}

func (m *Manager) snapshotListenersLocked() []Listener {
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (m *Manager) notify(listeners []Listener, user *UnifiedUser) {
	for _, fn := range listeners {
		m.invoke(fn, user)
	}
}

// invoke runs one listener, containing panics so a bad observer can never
// break notification of the others or corrupt manager state.
func (m *Manager) invoke(fn Listener, user *UnifiedUser) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("session listener panicked")
		}
	}()
	fn(user)
}

// startRefreshTimerLocked starts the background refresh task if it is not
// already running. Restarting sign-in never accumulates duplicate timers.
func (m *Manager) startRefreshTimerLocked() {
	if m.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	m.timerStop = stop
	go m.refreshLoop(stop)
}

// stopRefreshTimerLocked is idempotent.
func (m *Manager) stopRefreshTimerLocked() {
	if m.timerStop == nil {
		return
	}
	close(m.timerStop)
	m.timerStop = nil
}

func (m *Manager) refreshTimerRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timerStop != nil
}

func (m *Manager) refreshLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.refreshTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.refreshIfExpiring(context.Background(), m.freshnessBuffer); err != nil {
				m.logger.Warn().Err(err).Msg("background session refresh failed")
			}
		}
	}
}

// refreshIfExpiring performs at most one refresh attempt when the session
// is inside the buffer. A refresh failure downgrades to a full sign-out:
// there is no partial or degraded authenticated state. A completion whose
// generation no longer matches (the user signed out, or an auth-state
// event already installed the result) is discarded.
func (m *Manager) refreshIfExpiring(ctx context.Context, buffer time.Duration) *Error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return NewError(CodeAuthRequired, "no user loaded").WithAuthRequired()
	}
	if m.user.Session.Freshness(m.nowTime(), buffer) == FreshnessFresh {
		m.mu.Unlock()
		return nil
	}
	if m.refreshing {
		m.mu.Unlock()
		return nil
	}
	m.refreshing = true
	gen := m.generation
	refreshToken := m.user.Session.RefreshToken
	m.mu.Unlock()

	ts, err := m.deps.Auth.Refresh(ctx, refreshToken)

	m.mu.Lock()
	m.refreshing = false
	if m.generation != gen {
		m.mu.Unlock()
		return nil
	}
	if err != nil || ts == nil {
		m.mu.Unlock()
		m.clearUser()
		return WrapError(err, CodeSessionRefreshRequired, "session refresh failed").WithAuthRequired()
	}
	m.user.Session = sessionFromToken(ts)
	listeners := m.snapshotListenersLocked()
	current := m.user.clone()
	m.mu.Unlock()

	m.notify(listeners, current)
	return nil
}
