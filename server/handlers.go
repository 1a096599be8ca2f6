package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/covergen/go-session-service/session"
	"github.com/covergen/go-session-service/subscription"
)

type sessionResponse struct {
	User      *session.UnifiedUser `json:"user"`
	Freshness string               `json:"freshness"`
}

// handleSession reports the current unified user, or user:null when signed
// out. Always 200: "not signed in" is a state, not a failure.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, sessionResponse{
		User:      s.manager.GetCurrentUser(),
		Freshness: s.manager.SessionFreshness().String(),
	})
}

type signInRequest struct {
	RedirectTo string `json:"redirectTo"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if req.RedirectTo == "" || !strings.HasPrefix(req.RedirectTo, "/") {
		// Only same-origin paths may ride through the OAuth state.
		req.RedirectTo = "/"
	}

	url, err := s.manager.SignInWithGoogle(req.RedirectTo)
	if err != nil {
		s.logger.Error().Err(err).Msg("sign-in initiation failed")
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing code or state"})
		return
	}

	_, redirectTo, err := s.manager.CompleteOAuthSignIn(r.Context(), code, state)
	if err != nil {
		s.logger.Error().Err(err).Msg("OAuth callback failed")
		s.writeError(w, err)
		return
	}
	if !strings.HasPrefix(redirectTo, "/") {
		redirectTo = "/"
	}
	http.Redirect(w, r, s.frontendBase+redirectTo, http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.SignOut(r.Context()); err != nil {
		// Local state is already cleared; report the provider failure but
		// tell the client it is signed out either way.
		s.logger.Warn().Err(err).Msg("provider sign-out failed")
		s.writeJSON(w, http.StatusOK, map[string]any{"signedOut": true, "providerError": true})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"signedOut": true})
}

type checkoutRequest struct {
	PlanID string `json:"planId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	checkout, err := s.manager.CreateCheckoutSession(r.Context(), subscription.Tier(req.PlanID))
	if err != nil {
		s.logger.Warn().Err(err).Str("plan_id", req.PlanID).Msg("checkout failed")
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkout)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	portal, err := s.manager.CreatePortalSession(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("portal session failed")
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, portal)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CancelSubscription(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelAtPeriodEnd": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ResumeSubscription(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelAtPeriodEnd": false})
}

func (s *Server) handleUsageLimit(w http.ResponseWriter, r *http.Request) {
	limits, err := s.manager.CheckUsageLimit(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handleUsageIncrement(w http.ResponseWriter, r *http.Request) {
	limits, err := s.manager.IncrementUsage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, limits)
}
