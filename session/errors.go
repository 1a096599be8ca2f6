package session

import (
	stderrors "errors"
	"fmt"
)

// Code is the closed set of failure categories the manager reports across
// its public boundary. UIs branch on the code, never on message text.
type Code string

const (
	CodeAuthRequired           Code = "AUTH_REQUIRED"
	CodeOAuthSignInFailed      Code = "OAUTH_SIGNIN_FAILED"
	CodeOAuthSignInError       Code = "OAUTH_SIGNIN_ERROR"
	CodeSignOutFailed          Code = "SIGNOUT_FAILED"
	CodeSignOutError           Code = "SIGNOUT_ERROR"
	CodeAlreadySubscribed      Code = "ALREADY_SUBSCRIBED"
	CodeNoSubscription         Code = "NO_SUBSCRIPTION"
	CodeSessionExpired         Code = "SESSION_EXPIRED"
	CodeSessionRefreshRequired Code = "SESSION_REFRESH_REQUIRED"
	CodeInvalidToken           Code = "INVALID_TOKEN"
	CodeCheckoutFailed         Code = "CHECKOUT_FAILED"
	CodePaymentServiceError    Code = "PAYMENT_SERVICE_ERROR"
	CodeCheckoutError          Code = "CHECKOUT_ERROR"
	CodeAuthError              Code = "AUTH_ERROR"
	CodeNetworkError           Code = "NETWORK_ERROR"
	CodePaymentError           Code = "PAYMENT_ERROR"
	CodeUnknownError           Code = "UNKNOWN_ERROR"
)

// Error is the structured failure every public manager method returns.
// RequiresAuth tells the UI whether to send the user back to sign-in
// instead of offering a retry.
type Error struct {
	Code         Code
	Message      string
	RequiresAuth bool
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds an Error with no underlying cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds an Error around an underlying cause.
func WrapError(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithAuthRequired marks the error as one the UI must resolve by
// re-authenticating.
func (e *Error) WithAuthRequired() *Error {
	e.RequiresAuth = true
	return e
}

// CodeOf extracts the failure code from an error chain. Errors that did not
// originate in this package report CodeUnknownError.
func CodeOf(err error) Code {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeUnknownError
}

// RequiresAuth reports whether the error chain demands re-authentication.
func RequiresAuth(err error) bool {
	var se *Error
	if stderrors.As(err, &se) {
		return se.RequiresAuth
	}
	return false
}
