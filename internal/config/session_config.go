package config

import "time"

type SessionConfig interface {
	GetFreshnessBuffer() time.Duration
	GetCheckoutBuffer() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetFreshnessBuffer is the expiry buffer for ordinary privileged calls.
func (Session) GetFreshnessBuffer() time.Duration {
	return 5 * time.Minute
}

// GetCheckoutBuffer is the stricter buffer applied before payment
// redirects.
func (Session) GetCheckoutBuffer() time.Duration {
	return 10 * time.Minute
}
