package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/covergen/go-session-service/billing"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Billing-Signature"

	// maxWebhookBytes bounds the request body read; provider events are
	// small and anything larger is hostile.
	maxWebhookBytes = 64 * 1024
)

// handleBillingWebhook verifies the provider's HMAC-SHA256 signature over
// the raw body, then hands the event to the manager. Verification happens
// before any parsing: an unsigned payload never reaches the decoder.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret == "" {
		s.logger.Error().Msg("billing webhook received but no secret is configured")
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "webhooks not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("billing webhook signature rejected")
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "signature verification failed"})
		return
	}

	var update billing.SubscriptionUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed event payload"})
		return
	}
	if update.EventID == "" {
		// Providers that omit event ids still need one for log correlation.
		update.EventID = uuid.NewString()
	}

	if err := s.manager.HandleSubscriptionUpdate(r.Context(), update); err != nil {
		s.logger.Error().Err(err).Str("event_id", update.EventID).Str("user_id", update.UserID).
			Msg("failed to apply subscription update")
		s.writeError(w, err)
		return
	}

	s.logger.Info().Str("event_id", update.EventID).Str("kind", string(update.Kind)).
		Msg("subscription update applied")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
