package authcore

import (
	"errors"
	"sort"
	"strings"

	"github.com/modforge/authcore/jwt"
)

var (
	// ErrValidation marks bad input. Details travel in *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials covers unknown user, deleted user and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredToken is returned for single-use verification, reset and pre-auth tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrAccountCollision means an upstream identity is bound to a different account.
	ErrAccountCollision = errors.New("identity already linked to another account")
	// ErrTokenExpired means a well-formed, correctly signed token has passed its expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenInvalid means a token failed signature, format or type checks.
	ErrTokenInvalid = jwt.ErrTokenInvalid
	// ErrUnauthorized is returned when no acceptable credential backs the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrLoginFailure wraps unexpected failures during federated login.
	ErrLoginFailure = errors.New("federated login failed")
	// ErrInvalidOTP is returned for a wrong one-time code.
	ErrInvalidOTP = errors.New("invalid one-time code")
	// ErrMFAAlreadyEnabled is returned by SetupMFA on an account with MFA on.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotPending is returned by ConfirmMFA without a pending secret.
	ErrMFANotPending = errors.New("no pending mfa enrollment")
	// ErrMFANotEnabled is returned by DisableMFA when MFA is off.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrNotFound is returned by stores, and by RevokeKey for keys the caller does not own.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores on uniqueness violations.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited is returned when a request throttle is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady is returned when a required collaborator was not configured.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
