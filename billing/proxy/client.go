// Package proxy implements billing.Client against the same-origin payment
// proxy endpoints. The proxy holds the provider credentials; this client
// only forwards the user's bearer token for identification.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/covergen/go-session-service/billing"
	"github.com/pkg/errors"
)

var _ billing.Client = (*Client)(nil)

const (
	checkoutPath = "/api/payments/checkout"
	portalPath   = "/api/payments/portal"

	defaultTimeout = 15 * time.Second
)

// Client calls the payment proxy over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (primarily for testing)
func WithHTTPClient(c *http.Client) Option {
	return func(pc *Client) {
		pc.httpClient = c
	}
}

// New returns a Client for the given proxy base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[proxy.New] baseURL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type checkoutRequest struct {
	PlanID     string `json:"planId"`
	UserID     string `json:"userId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type portalRequest struct {
	CustomerID string `json:"customerId"`
	UserID     string `json:"userId"`
	ReturnURL  string `json:"returnUrl"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	body := checkoutRequest{
		PlanID:     string(params.PlanID),
		UserID:     params.UserID,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	}
	var session billing.CheckoutSession
	if err := c.post(ctx, checkoutPath, params.AccessToken, body, &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, errors.New("[Client.CreateCheckoutSession] proxy returned no checkout URL")
	}
	return &session, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, params billing.PortalParams) (*billing.PortalSession, error) {
	body := portalRequest{
		CustomerID: params.CustomerID,
		UserID:     params.UserID,
		ReturnURL:  params.ReturnURL,
	}
	var session billing.PortalSession
	if err := c.post(ctx, portalPath, params.AccessToken, body, &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, errors.New("[Client.CreatePortalSession] proxy returned no portal URL")
	}
	return &session, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "[Client.post] marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "[Client.post] build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Client.post] proxy request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "[Client.post] decode response")
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrap(billing.ErrUnauthorized, readErrorBody(resp.Body))
	case resp.StatusCode >= http.StatusInternalServerError:
		return errors.Wrap(billing.ErrService, readErrorBody(resp.Body))
	default:
		return errors.Errorf("[Client.post] proxy returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("%.256s", string(raw))
}
