package config

type BillingConfig interface {
	GetPaymentProxyURL() string
	GetWebhookSecret() string
}

type Billing struct{}

var _ BillingConfig = Billing{}

// GetPaymentProxyURL returns the base URL of the same-origin payment proxy.
func (Billing) GetPaymentProxyURL() string {
	return GetEnv("PAYMENT_PROXY_URL", "http://localhost:8081")
}

// GetWebhookSecret returns the shared secret for billing webhook
// signatures. Empty disables the webhook route.
func (Billing) GetWebhookSecret() string {
	return GetEnv("BILLING_WEBHOOK_SECRET", "")
}
