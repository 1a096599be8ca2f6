package providerfake

import (
	"context"
	"sync"

	"github.com/covergen/go-session-service/authprovider"
)

var _ authprovider.Provider = (*FakeAuthProvider)(nil)

// FakeAuthProvider is a scriptable authprovider.Provider for tests.
// Responses are configured up front; auth-state events are fired manually
// with FireStateChange.
type FakeAuthProvider struct {
	lock sync.Mutex

	CurrentSession *authprovider.TokenSession
	SessionErr     error

	RefreshResult *authprovider.TokenSession
	RefreshErr    error
	// RefreshBarrier, when set, blocks Refresh until the channel is
	// closed, simulating an in-flight network round trip.
	RefreshBarrier chan struct{}

	SignOutErr error

	AuthorizeResult string
	AuthorizeErr    error

	ExchangeResult     *authprovider.TokenSession
	ExchangeRedirectTo string
	ExchangeErr        error

	SessionCalls   int
	RefreshCalls   int
	SignOutCalls   int
	SignOutTokens  []string
	AuthorizeCalls []string

	listeners    map[int]func(authprovider.StateChange)
	nextListener int
}

func NewFakeAuthProvider() *FakeAuthProvider {
	return &FakeAuthProvider{
		AuthorizeResult: "https://accounts.google.com/o/oauth2/auth?state=fake",
		listeners:       make(map[int]func(authprovider.StateChange)),
	}
}

func (p *FakeAuthProvider) Session(_ context.Context) (*authprovider.TokenSession, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.SessionCalls++
	if p.SessionErr != nil {
		return nil, p.SessionErr
	}
	if p.CurrentSession == nil {
		return nil, authprovider.ErrNoSession
	}
	copied := *p.CurrentSession
	return &copied, nil
}

func (p *FakeAuthProvider) Refresh(_ context.Context, _ string) (*authprovider.TokenSession, error) {
	p.lock.Lock()
	p.RefreshCalls++
	barrier := p.RefreshBarrier
	refreshErr := p.RefreshErr
	var result *authprovider.TokenSession
	if p.RefreshResult != nil {
		copied := *p.RefreshResult
		result = &copied
	}
	p.lock.Unlock()

	if barrier != nil {
		<-barrier
	}
	if refreshErr != nil {
		return nil, refreshErr
	}
	if result == nil {
		return nil, authprovider.ErrNoSession
	}

	p.lock.Lock()
	copied := *result
	p.CurrentSession = &copied
	p.lock.Unlock()
	return result, nil
}

func (p *FakeAuthProvider) SignOut(_ context.Context, accessToken string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.SignOutCalls++
	p.SignOutTokens = append(p.SignOutTokens, accessToken)
	p.CurrentSession = nil
	return p.SignOutErr
}

func (p *FakeAuthProvider) AuthorizeURL(redirectTo string) (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.AuthorizeCalls = append(p.AuthorizeCalls, redirectTo)
	if p.AuthorizeErr != nil {
		return "", p.AuthorizeErr
	}
	return p.AuthorizeResult, nil
}

func (p *FakeAuthProvider) Exchange(_ context.Context, _, _ string) (*authprovider.TokenSession, string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.ExchangeErr != nil {
		return nil, "", p.ExchangeErr
	}
	if p.ExchangeResult == nil {
		return nil, "", authprovider.ErrNoSession
	}
	copied := *p.ExchangeResult
	p.CurrentSession = &copied
	result := copied
	return &result, p.ExchangeRedirectTo, nil
}

func (p *FakeAuthProvider) OnAuthStateChange(fn func(authprovider.StateChange)) func() {
	p.lock.Lock()
	defer p.lock.Unlock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	return func() {
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.listeners, id)
	}
}

// FireStateChange delivers an auth-state event to all registered listeners,
// the way the real provider does after sign-in, refresh, or sign-out.
func (p *FakeAuthProvider) FireStateChange(change authprovider.StateChange) {
	p.lock.Lock()
	listeners := make([]func(authprovider.StateChange), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.lock.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// RefreshCallCount reports how many times Refresh has been invoked.
func (p *FakeAuthProvider) RefreshCallCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.RefreshCalls
}

// ListenerCount reports how many auth-state listeners are registered.
func (p *FakeAuthProvider) ListenerCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.listeners)
}
