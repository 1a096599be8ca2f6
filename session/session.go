package session

import (
	"time"

	"github.com/covergen/go-session-service/authprovider"
)

// Freshness buffers. Ordinary reads refresh eagerly inside the default
// buffer; checkout uses the wider buffer because a token expiring mid
// payment redirect is worse than refusing upfront.
const (
	DefaultFreshnessBuffer  = 5 * time.Minute
	CheckoutFreshnessBuffer = 10 * time.Minute

	refreshTickInterval = time.Minute
)

// Freshness is the session-expiry state machine's state.
type Freshness int

const (
	// FreshnessFresh: more than the buffer away from expiry.
	FreshnessFresh Freshness = iota
	// FreshnessExpiringSoon: inside the buffer but not yet expired.
	FreshnessExpiringSoon
	// FreshnessRefreshing: a refresh round trip is in flight.
	FreshnessRefreshing
	// FreshnessExpired: past expiry with no successful refresh.
	FreshnessExpired
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessExpiringSoon:
		return "expiring_soon"
	case FreshnessRefreshing:
		return "refreshing"
	case FreshnessExpired:
		return "expired"
	}
	return "unknown"
}

// Session is the ephemeral credential material owned by the manager. It is
// replaced wholesale on sign-in, refresh, and sign-out, never patched.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether the session's expiry is still in the future.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// Freshness classifies the session against a buffer window. Staleness is
// always checked lazily at call time, never by a tight poll.
func (s Session) Freshness(now time.Time, buffer time.Duration) Freshness {
	if !s.Valid(now) {
		return FreshnessExpired
	}
	if now.Add(buffer).After(s.ExpiresAt) {
		return FreshnessExpiringSoon
	}
	return FreshnessFresh
}

func sessionFromToken(ts *authprovider.TokenSession) Session {
	return Session{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    ts.ExpiresAt,
	}
}
