// Package server exposes the session manager to same-origin frontends as a
// small JSON API. It owns no state of its own: every handler delegates to
// the manager and translates its error codes to HTTP statuses.
package server

import (
	"net/http"
	"strings"

	"github.com/covergen/go-session-service/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server is the HTTP facade over a session.Manager.
type Server struct {
	manager       *session.Manager
	router        chi.Router
	logger        zerolog.Logger
	frontendBase  string
	webhookSecret string
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithWebhookSecret sets the shared secret for billing webhook signatures.
// Without a secret the webhook route rejects everything.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) {
		s.webhookSecret = secret
	}
}

// New builds the facade. frontendBase is where the OAuth callback redirects
// land after sign-in completes.
func New(manager *session.Manager, frontendBase string, options ...Option) *Server {
	s := &Server{
		manager:      manager,
		logger:       zerolog.Nop(),
		frontendBase: strings.TrimRight(frontendBase, "/"),
	}
	for _, opt := range options {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Post("/auth/signin", s.handleSignIn)
		r.Get("/auth/callback", s.handleCallback)
		r.Post("/auth/signout", s.handleSignOut)
		r.Post("/billing/checkout", s.handleCheckout)
		r.Post("/billing/portal", s.handlePortal)
		r.Post("/billing/cancel", s.handleCancel)
		r.Post("/billing/resume", s.handleResume)
		r.Get("/usage/limit", s.handleUsageLimit)
		r.Post("/usage/increment", s.handleUsageIncrement)
		r.Post("/webhooks/billing", s.handleBillingWebhook)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
