package billingfake

import (
	"context"
	"sync"

	"github.com/covergen/go-session-service/billing"
)

var _ billing.Client = (*FakeBillingClient)(nil)

// FakeBillingClient is a scriptable billing.Client for tests.
type FakeBillingClient struct {
	lock sync.Mutex

	CheckoutResult *billing.CheckoutSession
	CheckoutErr    error

	PortalResult *billing.PortalSession
	PortalErr    error

	CheckoutCalls []billing.CheckoutParams
	PortalCalls   []billing.PortalParams
}

func NewFakeBillingClient() *FakeBillingClient {
	return &FakeBillingClient{
		CheckoutResult: &billing.CheckoutSession{URL: "https://pay.example.com/checkout/fake"},
		PortalResult:   &billing.PortalSession{URL: "https://pay.example.com/portal/fake"},
	}
}

func (c *FakeBillingClient) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.CheckoutCalls = append(c.CheckoutCalls, params)
	if c.CheckoutErr != nil {
		return nil, c.CheckoutErr
	}
	copied := *c.CheckoutResult
	return &copied, nil
}

func (c *FakeBillingClient) CreatePortalSession(_ context.Context, params billing.PortalParams) (*billing.PortalSession, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.PortalCalls = append(c.PortalCalls, params)
	if c.PortalErr != nil {
		return nil, c.PortalErr
	}
	copied := *c.PortalResult
	return &copied, nil
}
