package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/internal/logger"
	"github.com/modforge/authcore/oauth"
)

// apiError is the client-facing form of an engine error.
type apiError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

var errorTable = []struct {
	target error
	apiError
}{
	{authcore.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil}},
	{authcore.ErrInvalidOrExpiredToken, apiError{http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN", "token is invalid or has expired", nil}},
	{authcore.ErrAccountCollision, apiError{http.StatusConflict, "ACCOUNT_COLLISION", "this identity is linked to another account", nil}},
	{authcore.ErrTokenExpired, apiError{http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired", nil}},
	{authcore.ErrTokenInvalid, apiError{http.StatusUnauthorized, "TOKEN_INVALID", "token is invalid", nil}},
	{authcore.ErrUnauthorized, apiError{http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil}},
	{authcore.ErrLoginFailure, apiError{http.StatusBadGateway, "LOGIN_FAILURE", "sign-in with the provider failed", nil}},
	{authcore.ErrInvalidOTP, apiError{http.StatusBadRequest, "INVALID_OTP", "invalid one-time code", nil}},
	{authcore.ErrMFAAlreadyEnabled, apiError{http.StatusBadRequest, "MFA_ALREADY_ENABLED", "two-factor authentication is already enabled", nil}},
	{authcore.ErrMFANotPending, apiError{http.StatusBadRequest, "MFA_NOT_PENDING", "no two-factor enrollment in progress", nil}},
	{authcore.ErrMFANotEnabled, apiError{http.StatusBadRequest, "MFA_NOT_ENABLED", "two-factor authentication is not enabled", nil}},
	{authcore.ErrNotFound, apiError{http.StatusNotFound, "NOT_FOUND", "resource not found", nil}},
	{oauth.ErrUnknownProvider, apiError{http.StatusNotFound, "NOT_FOUND", "unknown provider", nil}},
	{authcore.ErrConflict, apiError{http.StatusConflict, "CONFLICT", "resource already exists", nil}},
	{authcore.ErrRateLimited, apiError{http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", nil}},
}

// classify maps err onto a status and stable code. Anything unknown is an
// INTERNAL_ERROR and never echoes err.
func classify(err error) apiError {
	var verr *authcore.ValidationError
	if errors.As(err, &verr) {
		return apiError{http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", verr.Fields}
	}
	if errors.Is(err, authcore.ErrValidation) {
		return apiError{http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil}
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			return entry.apiError
		}
	}
	return apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	writeClassified(w, r, err, classify(err))
}

// writeClassified writes ae, logging err when it is a server-side failure.
func writeClassified(w http.ResponseWriter, r *http.Request, err error, ae apiError) {
	if ae.Status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ae.Status),
		)
	}
	writeJSON(w, ae.Status, response{Error: &errorResponse{
		Code:      ae.Code,
		Message:   ae.Message,
		Fields:    ae.Fields,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}})
}
