package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/covergen/go-session-service/session"
)

type errorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := session.CodeOf(err)
	requiresAuth := session.RequiresAuth(err)

	s.writeJSON(w, statusForCode(code, requiresAuth), errorResponse{
		Error:        messageOf(err),
		Code:         string(code),
		RequiresAuth: requiresAuth,
	})
}

// statusForCode maps the manager's closed error taxonomy onto HTTP statuses.
// Anything demanding re-auth is 401 regardless of its code.
func statusForCode(code session.Code, requiresAuth bool) int {
	if requiresAuth {
		return http.StatusUnauthorized
	}
	switch code {
	case session.CodeAuthRequired, session.CodeInvalidToken,
		session.CodeSessionExpired, session.CodeSessionRefreshRequired:
		return http.StatusUnauthorized
	case session.CodeAlreadySubscribed:
		return http.StatusConflict
	case session.CodeNoSubscription, session.CodeCheckoutError:
		return http.StatusBadRequest
	case session.CodePaymentServiceError, session.CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "internal error"
}
