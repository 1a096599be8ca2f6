// Package billing defines the boundary to the payment provider. All calls
// go through a same-origin backend proxy that attaches the user's bearer
// token; this package never holds provider API keys.
package billing

import (
	"context"
	"errors"

	"github.com/covergen/go-session-service/subscription"
)

// Sentinel failure classes every Client implementation maps its transport
// errors onto, so callers can branch without knowing the transport.
var (
	// ErrUnauthorized: the provider rejected the bearer token.
	ErrUnauthorized = errors.New("billing provider rejected the access token")
	// ErrService: the provider or proxy is unavailable.
	ErrService = errors.New("billing provider unavailable")
)

// CheckoutParams describes a checkout-session request. PlanID and UserID are
// echoed back on the success URL so the webhook and the redirect landing can
// be correlated.
type CheckoutParams struct {
	PlanID      subscription.Tier
	UserID      string
	AccessToken string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the provider's redirect target for a payment flow.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId,omitempty"`
}

// PortalParams describes a customer-portal request.
type PortalParams struct {
	CustomerID  string
	UserID      string
	AccessToken string
	ReturnURL   string
}

// PortalSession is the provider's redirect target for subscription
// self-management.
type PortalSession struct {
	URL string `json:"url"`
}

// Client defines the interface for payment-provider operations.
type Client interface {
	// CreateCheckoutSession starts a payment flow for a plan upgrade.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CreatePortalSession opens the provider's customer portal for an
	// existing billing customer.
	CreatePortalSession(ctx context.Context, params PortalParams) (*PortalSession, error)
}
