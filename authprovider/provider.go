// Package authprovider defines the boundary to the authentication provider:
// session fetch and refresh, OAuth redirect flows, sign-out, and a
// subscription to auth-state transitions.
package authprovider

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned by Session when the provider has no active
// session. Callers treat it as "signed out", not as a failure.
var ErrNoSession = errors.New("no active session")

// TokenSession is the credential material and identity the provider hands
// back for an authenticated user. It is replaced wholesale on every sign-in
// and refresh, never patched.
type TokenSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	UserID    string
	Email     string
	Name      string
	AvatarURL string
	Provider  string
}

// Valid reports whether the session's expiry is still in the future.
func (s *TokenSession) Valid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// Event is the kind of an auth-state transition.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// StateChange is delivered to auth-state listeners. Session is nil for
// EventSignedOut.
type StateChange struct {
	Event   Event
	Session *TokenSession
}

// Provider defines the interface to the authentication backend.
type Provider interface {
	// Session returns the current session, or ErrNoSession when signed out.
	Session(ctx context.Context) (*TokenSession, error)

	// Refresh exchanges a refresh token for a new session. A nil session
	// with nil error never occurs: failure to refresh is an error.
	Refresh(ctx context.Context, refreshToken string) (*TokenSession, error)

	// SignOut revokes the session behind the access token and purges any
	// locally cached credential material.
	SignOut(ctx context.Context, accessToken string) error

	// AuthorizeURL builds the OAuth redirect URL. redirectTo is the
	// same-origin path the user should land on after the round trip.
	AuthorizeURL(redirectTo string) (string, error)

	// Exchange completes the OAuth flow: it validates the state parameter,
	// trades the authorization code for provider tokens, verifies the
	// identity, and installs the resulting session. The second return is
	// the same-origin path the user started from, restored from state.
	Exchange(ctx context.Context, code, state string) (*TokenSession, string, error)

	// OnAuthStateChange registers a listener for sign-in, sign-out, and
	// refresh transitions. The returned function cancels the registration.
	OnAuthStateChange(fn func(StateChange)) (cancel func())
}
