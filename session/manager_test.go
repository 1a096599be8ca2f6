package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/covergen/go-session-service/authprovider"
	"github.com/covergen/go-session-service/authprovider/providerfake"
	"github.com/covergen/go-session-service/billing"
	"github.com/covergen/go-session-service/billing/billingfake"
	"github.com/covergen/go-session-service/subscription"
	"github.com/covergen/go-session-service/subscription/repofake"
	"github.com/covergen/go-session-service/usage"
	"github.com/covergen/go-session-service/usage/storefake"
	"github.com/stretchr/testify/require"
)

const (
	testUserID      = "user-1"
	testUserEmail   = "jane.doe@example.com"
	testAccessToken = "access-token-1"
	testFrontend    = "https://covergen.example.com"
)

// fakeClock is an adjustable time source shared by a fixture.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	auth       *providerfake.FakeAuthProvider
	billing    *billingfake.FakeBillingClient
	subs       *repofake.FakeSubscriptionRepo
	usageStore *storefake.FakeUsageStore
	clock      *fakeClock
	manager    *Manager
}

// setupTestFixture creates a new test fixture with all dependencies
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		auth:       providerfake.NewFakeAuthProvider(),
		billing:    billingfake.NewFakeBillingClient(),
		subs:       repofake.NewFakeSubscriptionRepo(),
		usageStore: storefake.NewFakeUsageStore(),
		clock:      &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.usageStore.CheckResult = &usage.Limits{
		CanGenerate:    true,
		RemainingDaily: 3,
		DailyLimit:     3,
		MonthlyLimit:   10,
	}

	manager, err := NewManager(Deps{
		Auth:          f.auth,
		Billing:       f.billing,
		Subscriptions: f.subs,
		Usage:         f.usageStore,
	}, testFrontend, WithNowTime(f.clock.Now))
	require.NoError(t, err)
	f.manager = manager
	t.Cleanup(manager.Close)
	return f
}

// tokenSession builds a provider session expiring ttl from the fixture's
// current time.
func (f *testFixture) tokenSession(ttl time.Duration) *authprovider.TokenSession {
	return &authprovider.TokenSession{
		AccessToken:  testAccessToken,
		RefreshToken: "refresh-token-1",
		ExpiresAt:    f.clock.Now().Add(ttl),
		UserID:       testUserID,
		Email:        testUserEmail,
		Name:         "Jane Doe",
		Provider:     "google",
	}
}

// signIn initializes the manager with an active provider session.
func (f *testFixture) signIn(t *testing.T, ttl time.Duration) {
	t.Helper()
	f.auth.CurrentSession = f.tokenSession(ttl)
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.True(t, f.manager.IsAuthenticated())
}

func TestInitializeBuildsUserFromExistingSession(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	user := f.manager.GetCurrentUser()
	require.NotNil(t, user)
	require.Equal(t, testUserID, user.ID)
	require.Equal(t, testUserEmail, user.Email)
	require.Equal(t, subscription.TierFree, user.Subscription.Tier)
	require.Equal(t, subscription.StatusActive, user.Subscription.Status)
	require.Equal(t, 3, user.Usage.Remaining)
	require.True(t, f.manager.refreshTimerRunning())
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.Equal(t, 1, f.auth.SessionCalls)
	require.Equal(t, 1, f.auth.ListenerCount())
}

func TestInitializeWithoutSessionMeansSignedOut(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.False(t, f.manager.IsAuthenticated())
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
}

func TestInitializeFailureLeavesManagerUninitialized(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.SessionErr = errFake("auth backend down")

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeAuthError, CodeOf(err))
	require.False(t, f.manager.IsAuthenticated())

	// A later call may succeed once the provider recovers.
	f.auth.SessionErr = nil
	f.auth.CurrentSession = f.tokenSession(time.Hour)
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.True(t, f.manager.IsAuthenticated())
}

func TestSignOutEndsWithNilUserAndStoppedTimer(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	require.NoError(t, f.manager.SignOut(context.Background()))
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
	require.Equal(t, []string{testAccessToken}, f.auth.SignOutTokens)
}

func TestSignOutIsOptimisticDespiteProviderFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	f.auth.SignOutErr = errFake("provider unreachable")

	err := f.manager.SignOut(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeSignOutFailed, CodeOf(err))
	// Local state cleared before the provider call, and it stays cleared.
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
}

func TestSignInWithGoogleReturnsRedirectURL(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.AuthorizeResult = "https://accounts.google.com/o/oauth2/auth?state=abc"

	url, err := f.manager.SignInWithGoogle("/pricing")
	require.NoError(t, err)
	require.Equal(t, f.auth.AuthorizeResult, url)
	require.Equal(t, []string{"/pricing"}, f.auth.AuthorizeCalls)
}

func TestSignInWithGoogleProviderRejection(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.AuthorizeErr = errFake("oauth misconfigured")

	_, err := f.manager.SignInWithGoogle("/")
	require.Error(t, err)
	require.Equal(t, CodeOAuthSignInFailed, CodeOf(err))
	require.False(t, RequiresAuth(err))
}

func TestCompleteOAuthSignInInstallsUser(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	f.auth.ExchangeResult = f.tokenSession(time.Hour)
	f.auth.ExchangeRedirectTo = "/pricing"

	user, redirectTo, err := f.manager.CompleteOAuthSignIn(context.Background(), "code-1", "state-1")
	require.NoError(t, err)
	require.Equal(t, "/pricing", redirectTo)
	require.Equal(t, testUserID, user.ID)
	require.True(t, f.manager.IsAuthenticated())
}

func TestAuthStateListenerRebuildsAndTearsDown(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.False(t, f.manager.IsAuthenticated())

	f.auth.FireStateChange(authprovider.StateChange{
		Event:   authprovider.EventSignedIn,
		Session: f.tokenSession(time.Hour),
	})
	require.True(t, f.manager.IsAuthenticated())
	require.True(t, f.manager.refreshTimerRunning())

	f.auth.FireStateChange(authprovider.StateChange{Event: authprovider.EventSignedOut})
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
}

func TestCheckUsageLimitUnauthenticatedFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	limits, err := f.manager.CheckUsageLimit(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeAuthRequired, CodeOf(err))
	require.True(t, RequiresAuth(err))
	require.False(t, limits.CanGenerate)
	require.Zero(t, limits.RemainingDaily)
	require.Zero(t, limits.DailyLimit)
}

func TestCheckUsageLimitExhaustedFreeTier(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	f.usageStore.CheckResult = &usage.Limits{
		CanGenerate:    false,
		RemainingDaily: 0,
		DailyLimit:     3,
		MonthlyUsage:   3,
		MonthlyLimit:   10,
	}

	limits, err := f.manager.CheckUsageLimit(context.Background())
	require.NoError(t, err)
	require.False(t, limits.CanGenerate)
	require.Zero(t, limits.RemainingDaily)
	require.Equal(t, 3, limits.DailyLimit)
}

func TestCheckUsageLimitStoreFailureFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	f.usageStore.CheckErr = errFake("store down")

	limits, err := f.manager.CheckUsageLimit(context.Background())
	require.Error(t, err)
	require.False(t, limits.CanGenerate)
	require.Zero(t, limits.RemainingDaily)
}

func TestIncrementUsageReconcilesFromStore(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	f.usageStore.IncrementResult = &usage.Limits{
		CanGenerate:    true,
		RemainingDaily: 1,
		DailyLimit:     3,
		MonthlyUsage:   2,
		MonthlyLimit:   10,
	}

	limits, err := f.manager.IncrementUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, limits.RemainingDaily)

	// The in-memory view mirrors the store's answer, not a local guess.
	user := f.manager.GetCurrentUser()
	require.Equal(t, 1, user.Usage.Remaining)
	require.Equal(t, 2, user.Usage.DailyUsed)
	require.Equal(t, 2, user.Usage.MonthlyUsed)
}

func TestCheckoutRejectsUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.Error(t, err)
	require.Equal(t, CodeAuthRequired, CodeOf(err))
	require.True(t, RequiresAuth(err))
	require.Empty(t, f.billing.CheckoutCalls)
}

func TestCheckoutRejectsDowngradeWithoutProviderCall(t *testing.T) {
	f := setupTestFixture(t)
	f.subs.Seed(&subscription.Record{
		UserID: testUserID,
		Tier:   subscription.TierProPlus,
		Status: subscription.StatusActive,
	})
	f.signIn(t, time.Hour)

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.Error(t, err)
	require.Equal(t, CodeAlreadySubscribed, CodeOf(err))
	require.Empty(t, f.billing.CheckoutCalls)
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.Tier("enterprise"))
	require.Error(t, err)
	require.Equal(t, CodeCheckoutError, CodeOf(err))
	require.Empty(t, f.billing.CheckoutCalls)
}

func TestCheckoutRefreshesExpiringSession(t *testing.T) {
	f := setupTestFixture(t)
	// Inside the 10-minute checkout buffer but not the 5-minute default.
	f.signIn(t, 7*time.Minute)
	refreshed := f.tokenSession(time.Hour)
	refreshed.AccessToken = "access-token-2"
	f.auth.RefreshResult = refreshed

	session, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, 1, f.auth.RefreshCallCount())
	require.Len(t, f.billing.CheckoutCalls, 1)
	require.Equal(t, "access-token-2", f.billing.CheckoutCalls[0].AccessToken)
}

func TestCheckoutRefreshFailureNeverReachesProvider(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, 7*time.Minute)
	f.auth.RefreshErr = errFake("refresh rejected")

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.Error(t, err)
	require.Equal(t, CodeSessionRefreshRequired, CodeOf(err))
	require.True(t, RequiresAuth(err))
	require.Equal(t, 1, f.auth.RefreshCallCount())
	require.Empty(t, f.billing.CheckoutCalls)
	// Refresh failure downgrades to a full sign-out.
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
}

func TestCheckoutFreshSessionSkipsRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.NoError(t, err)
	require.Zero(t, f.auth.RefreshCallCount())
}

func TestCheckoutURLsCarryCorrelation(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
	require.NoError(t, err)
	require.Len(t, f.billing.CheckoutCalls, 1)
	params := f.billing.CheckoutCalls[0]
	require.Equal(t, subscription.TierPro, params.PlanID)
	require.Equal(t, testUserID, params.UserID)
	require.Contains(t, params.SuccessURL, "plan_id=pro")
	require.Contains(t, params.SuccessURL, "user_id="+testUserID)
	require.Contains(t, params.CancelURL, testFrontend+"/payment/cancel")
}

func TestCheckoutErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		billingErr   error
		wantCode     Code
		requiresAuth bool
	}{
		{"rejected token", billing.ErrUnauthorized, CodeInvalidToken, true},
		{"provider down", billing.ErrService, CodePaymentServiceError, false},
		{"other failure", errFake("boom"), CodeCheckoutFailed, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.signIn(t, time.Hour)
			f.billing.CheckoutErr = tc.billingErr

			_, err := f.manager.CreateCheckoutSession(context.Background(), subscription.TierPro)
			require.Error(t, err)
			require.Equal(t, tc.wantCode, CodeOf(err))
			require.Equal(t, tc.requiresAuth, RequiresAuth(err))
		})
	}
}

func TestPortalRejectsFreeUserWithoutCustomer(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)

	_, err := f.manager.CreatePortalSession(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeNoSubscription, CodeOf(err))
	require.Empty(t, f.billing.PortalCalls)
}

func TestPortalForPayingCustomer(t *testing.T) {
	f := setupTestFixture(t)
	f.subs.Seed(&subscription.Record{
		UserID:         testUserID,
		Tier:           subscription.TierPro,
		Status:         subscription.StatusActive,
		CustomerID:     "cus-1",
		SubscriptionID: "sub-1",
	})
	f.signIn(t, time.Hour)

	session, err := f.manager.CreatePortalSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, f.billing.PortalCalls, 1)
	require.Equal(t, "cus-1", f.billing.PortalCalls[0].CustomerID)
	require.Equal(t, testFrontend+"/account", f.billing.PortalCalls[0].ReturnURL)
}

func TestWebhookForOtherUserPersistsWithoutTouchingMemory(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	before := f.manager.GetCurrentUser()

	err := f.manager.HandleSubscriptionUpdate(context.Background(), billing.SubscriptionUpdate{
		UserID:     "someone-else",
		Kind:       billing.UpdateCreated,
		Tier:       subscription.TierPro,
		Status:     subscription.StatusActive,
		OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)

	after := f.manager.GetCurrentUser()
	require.Equal(t, before.Subscription, after.Subscription)
	// The store still learned about the other user.
	rec, err := f.subs.Get(context.Background(), "someone-else")
	require.NoError(t, err)
	require.Equal(t, subscription.TierPro, rec.Tier)
}

func TestWebhookForCurrentUserRebuildsFromStore(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, time.Hour)
	sessionFetches := f.auth.SessionCalls

	err := f.manager.HandleSubscriptionUpdate(context.Background(), billing.SubscriptionUpdate{
		UserID:         testUserID,
		Kind:           billing.UpdateCreated,
		Tier:           subscription.TierPro,
		Status:         subscription.StatusActive,
		CustomerID:     "cus-1",
		SubscriptionID: "sub-1",
		OccurredAt:     f.clock.Now(),
	})
	require.NoError(t, err)

	user := f.manager.GetCurrentUser()
	require.Equal(t, subscription.TierPro, user.Subscription.Tier)
	require.Equal(t, "cus-1", user.Subscription.CustomerID)
	// The rebuild went through a fresh session fetch, not the payload.
	require.Greater(t, f.auth.SessionCalls, sessionFetches)
	require.True(t, f.manager.HasValidSubscription())
}

func TestWebhookCancellationDegradesToFree(t *testing.T) {
	f := setupTestFixture(t)
	f.subs.Seed(&subscription.Record{
		UserID:         testUserID,
		Tier:           subscription.TierPro,
		Status:         subscription.StatusActive,
		CustomerID:     "cus-1",
		SubscriptionID: "sub-1",
	})
	f.signIn(t, time.Hour)

	err := f.manager.HandleSubscriptionUpdate(context.Background(), billing.SubscriptionUpdate{
		UserID:     testUserID,
		Kind:       billing.UpdateCanceled,
		OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)

	user := f.manager.GetCurrentUser()
	require.Equal(t, subscription.TierFree, user.Subscription.Tier)
	require.Equal(t, subscription.StatusActive, user.Subscription.Status)
	// The customer id survives for future checkouts.
	require.Equal(t, "cus-1", user.Subscription.CustomerID)
	require.False(t, f.manager.HasValidSubscription())
}

func TestSubscribeImmediateInvocationAndTransitions(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	var mu sync.Mutex
	var calls []*UnifiedUser
	unsubscribe := f.manager.Subscribe(func(u *UnifiedUser) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, u)
	})

	mu.Lock()
	require.Len(t, calls, 1)
	require.Nil(t, calls[0])
	mu.Unlock()

	f.auth.FireStateChange(authprovider.StateChange{
		Event:   authprovider.EventSignedIn,
		Session: f.tokenSession(time.Hour),
	})
	mu.Lock()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[1])
	mu.Unlock()

	unsubscribe()
	f.auth.FireStateChange(authprovider.StateChange{Event: authprovider.EventSignedOut})
	mu.Lock()
	require.Len(t, calls, 2)
	mu.Unlock()
}

func TestListenerPanicDoesNotBreakOthers(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	f.manager.Subscribe(func(*UnifiedUser) {
		panic("bad observer")
	})
	var mu sync.Mutex
	calls := 0
	f.manager.Subscribe(func(*UnifiedUser) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	f.auth.FireStateChange(authprovider.StateChange{
		Event:   authprovider.EventSignedIn,
		Session: f.tokenSession(time.Hour),
	})

	mu.Lock()
	require.Equal(t, 2, calls) // immediate + transition
	mu.Unlock()
	require.True(t, f.manager.IsAuthenticated())
}

func TestStaleRefreshResultIsDiscardedAfterSignOut(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t, 2*time.Minute)
	barrier := make(chan struct{})
	f.auth.RefreshBarrier = barrier
	f.auth.RefreshResult = f.tokenSession(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.manager.refreshIfExpiring(context.Background(), f.manager.freshnessBuffer)
	}()

	require.Eventually(t, func() bool {
		return f.auth.RefreshCallCount() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, f.manager.SignOut(context.Background()))
	close(barrier)
	<-done

	// The in-flight refresh completed after sign-out; it must not
	// resurrect the user.
	require.Nil(t, f.manager.GetCurrentUser())
	require.False(t, f.manager.refreshTimerRunning())
}

func TestCancelSubscriptionTwoPhase(t *testing.T) {
	f := setupTestFixture(t)
	f.subs.Seed(&subscription.Record{
		UserID:         testUserID,
		Tier:           subscription.TierPro,
		Status:         subscription.StatusActive,
		CustomerID:     "cus-1",
		SubscriptionID: "sub-1",
	})
	f.signIn(t, time.Hour)

	var mu sync.Mutex
	var seen []bool
	f.manager.Subscribe(func(u *UnifiedUser) {
		mu.Lock()
		defer mu.Unlock()
		if u != nil {
			seen = append(seen, u.Subscription.CancelAtPeriodEnd)
		}
	})

	require.NoError(t, f.manager.CancelSubscription(context.Background()))

	user := f.manager.GetCurrentUser()
	require.True(t, user.Subscription.CancelAtPeriodEnd)
	rec, err := f.subs.Get(context.Background(), testUserID)
	require.NoError(t, err)
	require.True(t, rec.CancelAtPeriodEnd)

	mu.Lock()
	// immediate(false) -> provisional(true) -> reconciled(true)
	require.Equal(t, []bool{false, true, true}, seen)
	mu.Unlock()

	require.NoError(t, f.manager.ResumeSubscription(context.Background()))
	require.False(t, f.manager.GetCurrentUser().Subscription.CancelAtPeriodEnd)
}

func TestIsTrialingDerivedFromTrialEnd(t *testing.T) {
	f := setupTestFixture(t)
	trialEnd := f.clock.Now().Add(48 * time.Hour)
	f.subs.Seed(&subscription.Record{
		UserID:      testUserID,
		Tier:        subscription.TierPro,
		Status:      subscription.StatusTrialing,
		TrialEndsAt: &trialEnd,
	})
	f.signIn(t, 100*time.Hour)

	require.True(t, f.manager.IsTrialing())
	require.True(t, f.manager.HasValidSubscription())

	f.clock.Advance(72 * time.Hour)
	require.False(t, f.manager.IsTrialing())
}

type errFake string

func (e errFake) Error() string { return string(e) }
