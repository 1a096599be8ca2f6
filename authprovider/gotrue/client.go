// Package gotrue implements authprovider.Provider against a GoTrue-style
// auth backend for session lifecycle, with the Google leg of the OAuth flow
// driven directly through OIDC.
package gotrue

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/covergen/go-session-service/authprovider"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var _ authprovider.Provider = (*Client)(nil)

const (
	googleIssuer = "https://accounts.google.com"

	stateTimeout   = 15 * time.Minute
	defaultTimeout = 15 * time.Second
)

// Config carries the endpoints and OAuth credentials for the client.
type Config struct {
	// AuthURL is the base URL of the GoTrue-compatible auth backend.
	AuthURL string
	// APIKey is the public (anon) API key sent on every backend call.
	APIKey string

	GoogleClientID     string
	GoogleClientSecret string
	// OAuthRedirectURL is the registered callback URL for the Google flow.
	OAuthRedirectURL string
}

type pendingState struct {
	redirectTo string
	issued     time.Time
}

// Client is an HTTP authprovider.Provider. The current session is cached in
// memory and mirrored to a CredStore so it survives restarts.
type Client struct {
	cfg        Config
	httpClient *http.Client
	creds      CredStore
	logger     zerolog.Logger
	nowTime    func() time.Time
	oauthCfg   *oauth2.Config

	lock          sync.Mutex
	current       *authprovider.TokenSession
	listeners     map[int]func(authprovider.StateChange)
	nextListener  int
	pendingStates map[string]pendingState

	oidcOnce         sync.Once
	oidcVerifier     *oidc.IDTokenVerifier
	oidcErr          error
	verifierOverride *oidc.IDTokenVerifier
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithCredStore sets the credential persistence backend.
func WithCredStore(store CredStore) Option {
	return func(c *Client) {
		c.creds = store
	}
}

// WithHTTPClient overrides the underlying HTTP client (primarily for testing)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// WithIDTokenVerifier overrides OIDC discovery with a prebuilt verifier
// (primarily for testing).
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) Option {
	return func(c *Client) {
		c.verifierOverride = v
	}
}

// New initializes a Client. OIDC discovery is deferred until the first
// Exchange so construction never touches the network.
func New(cfg Config, options ...Option) (*Client, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("[gotrue.New] AuthURL is required")
	}
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		creds:      NewMemCredStore(),
		logger:     zerolog.Nop(),
		nowTime:    time.Now,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		listeners:     make(map[int]func(authprovider.StateChange)),
		pendingStates: make(map[string]pendingState),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Session returns the cached session, falling back to the credential store.
func (c *Client) Session(_ context.Context) (*authprovider.TokenSession, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.current != nil {
		copied := *c.current
		return &copied, nil
	}

	creds, err := c.creds.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Session] load cached credentials")
	}
	if creds == nil || creds.AccessToken == "" {
		return nil, authprovider.ErrNoSession
	}

	session := &authprovider.TokenSession{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt,
		UserID:       creds.UserID,
		Email:        creds.Email,
		Name:         creds.Name,
		AvatarURL:    creds.AvatarURL,
		Provider:     creds.Provider,
	}
	if session.ExpiresAt.IsZero() {
		if exp, ok := accessTokenExpiry(creds.AccessToken); ok {
			session.ExpiresAt = exp
		}
	}
	c.current = session
	copied := *session
	return &copied, nil
}

// Refresh trades a refresh token for a new session and installs it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authprovider.TokenSession, error) {
	if refreshToken == "" {
		return nil, errors.New("[Client.Refresh] refresh token is empty")
	}

	var tr tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &tr)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] refresh rejected")
	}

	session := c.sessionFromTokenResponse(&tr)
	c.install(session)
	c.fire(authprovider.StateChange{Event: authprovider.EventTokenRefreshed, Session: session})

	copied := *session
	return &copied, nil
}

// SignOut clears local credential material first, then revokes the session
// with the backend. A backend failure is returned but the local state is
// already gone.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	c.lock.Lock()
	c.current = nil
	c.lock.Unlock()

	if err := c.creds.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to purge cached credentials")
	}
	c.fire(authprovider.StateChange{Event: authprovider.EventSignedOut})

	if accessToken == "" {
		return nil
	}
	if err := c.post(ctx, "/logout", accessToken, nil, nil); err != nil {
		return errors.Wrap(err, "[Client.SignOut] backend sign-out failed")
	}
	return nil
}

// AuthorizeURL builds the Google authorize URL. The caller's current path
// travels in the state parameter and is restored by Exchange.
func (c *Client) AuthorizeURL(redirectTo string) (string, error) {
	if c.cfg.GoogleClientID == "" || c.cfg.OAuthRedirectURL == "" {
		return "", errors.New("[Client.AuthorizeURL] Google OAuth is not configured")
	}

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", errors.Wrap(err, "[Client.AuthorizeURL] generate state")
	}
	state := hex.EncodeToString(stateBytes)

	c.lock.Lock()
	c.prunePendingStatesLocked()
	c.pendingStates[state] = pendingState{redirectTo: redirectTo, issued: c.nowTime()}
	c.lock.Unlock()

	return c.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange completes the Google flow and converts the verified identity
// into a backend session.
func (c *Client) Exchange(ctx context.Context, code, state string) (*authprovider.TokenSession, string, error) {
	redirectTo, ok := c.consumeState(state)
	if !ok {
		return nil, "", errors.New("[Client.Exchange] unknown or expired state")
	}

	oauthToken, err := c.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Client.Exchange] code exchange failed")
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, "", errors.New("[Client.Exchange] no ID token in response")
	}

	verifier, err := c.verifier(ctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Client.Exchange] OIDC discovery failed")
	}
	if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
		return nil, "", errors.Wrap(err, "[Client.Exchange] ID token verification failed")
	}

	var tr tokenResponse
	err = c.post(ctx, "/token?grant_type=id_token", "", map[string]string{
		"provider": "google",
		"id_token": rawIDToken,
	}, &tr)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Client.Exchange] backend token grant failed")
	}

	session := c.sessionFromTokenResponse(&tr)
	c.install(session)
	c.fire(authprovider.StateChange{Event: authprovider.EventSignedIn, Session: session})

	copied := *session
	return &copied, redirectTo, nil
}

// OnAuthStateChange registers a listener for session transitions.
func (c *Client) OnAuthStateChange(fn func(authprovider.StateChange)) func() {
	c.lock.Lock()
	defer c.lock.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) verifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	c.oidcOnce.Do(func() {
		if c.verifierOverride != nil {
			c.oidcVerifier = c.verifierOverride
			return
		}
		provider, err := oidc.NewProvider(ctx, googleIssuer)
		if err != nil {
			c.oidcErr = err
			return
		}
		c.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: c.cfg.GoogleClientID})
	})
	return c.oidcVerifier, c.oidcErr
}

func (c *Client) consumeState(state string) (string, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	pending, ok := c.pendingStates[state]
	if !ok {
		return "", false
	}
	delete(c.pendingStates, state)
	if c.nowTime().Sub(pending.issued) > stateTimeout {
		return "", false
	}
	return pending.redirectTo, true
}

func (c *Client) prunePendingStatesLocked() {
	cutoff := c.nowTime().Add(-stateTimeout)
	for state, pending := range c.pendingStates {
		if pending.issued.Before(cutoff) {
			delete(c.pendingStates, state)
		}
	}
}

func (c *Client) install(session *authprovider.TokenSession) {
	c.lock.Lock()
	copied := *session
	c.current = &copied
	c.lock.Unlock()

	err := c.creds.Save(&storedCredentials{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
		UserID:       session.UserID,
		Email:        session.Email,
		Name:         session.Name,
		AvatarURL:    session.AvatarURL,
		Provider:     session.Provider,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache credentials")
	}
}

func (c *Client) fire(change authprovider.StateChange) {
	c.lock.Lock()
	listeners := make([]func(authprovider.StateChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.lock.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			FullName  string `json:"full_name"`
			AvatarURL string `json:"avatar_url"`
		} `json:"user_metadata"`
		AppMetadata struct {
			Provider string `json:"provider"`
		} `json:"app_metadata"`
	} `json:"user"`
}

func (c *Client) sessionFromTokenResponse(tr *tokenResponse) *authprovider.TokenSession {
	session := &authprovider.TokenSession{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		Name:         tr.User.UserMetadata.FullName,
		AvatarURL:    tr.User.UserMetadata.AvatarURL,
		Provider:     tr.User.AppMetadata.Provider,
	}
	if tr.ExpiresIn > 0 {
		session.ExpiresAt = c.nowTime().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else if exp, ok := accessTokenExpiry(tr.AccessToken); ok {
		session.ExpiresAt = exp
	}
	if session.UserID == "" || session.Email == "" {
		// Backend omitted the user object: recover identity from the JWT.
		if sub, email, ok := accessTokenIdentity(tr.AccessToken); ok {
			if session.UserID == "" {
				session.UserID = sub
			}
			if session.Email == "" {
				session.Email = email
			}
		}
	}
	return session
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[Client.post] marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "[Client.post] build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Client.post] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("[Client.post] auth backend returned %d: %.256s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "[Client.post] decode response")
}

// accessTokenExpiry reads the exp claim from an unverified JWT. The token
// was just issued by the backend we trust; we only need its timestamp.
func accessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func accessTokenIdentity(token string) (sub, email string, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", "", false
	}
	if v, found := claims["sub"].(string); found {
		sub = v
	}
	if v, found := claims["email"].(string); found {
		email = v
	}
	return sub, email, sub != "" || email != ""
}
