package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/modforge/authcore/internal/limiters"
	"github.com/modforge/authcore/internal/stores"
	"github.com/modforge/authcore/jwt"
	"github.com/modforge/authcore/oauth"
	"github.com/modforge/authcore/password"
)

// Engine owns every authentication operation. Build one with New().
type Engine struct {
	config   Config
	accounts AccountStore
	apiKeys  APIKeyStore
	notifier Notifier

	tokens    *jwt.Manager
	hasher    *password.Hasher
	totp      *totpManager
	validate  *validator.Validate
	providers *oauth.Registry

	verificationStore *stores.TokenStore
	resetStore        *stores.TokenStore
	oauthStateStore   *stores.TokenStore

	loginLimiter    *limiters.FixedWindow
	registerLimiter *limiters.FixedWindow
	resetLimiter    *limiters.FixedWindow
	resendLimiter   *limiters.FixedWindow

	// placeholderHash stands in for accounts that have no usable hash.
	placeholderHash string
	onPasswordCheck func(placeholder bool)

	audit   *auditDispatcher
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events dropped because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) Providers() *oauth.Registry {
	if e == nil {
		return nil
	}
	return e.providers
}

// Authenticate checks a username (or email) and password. Unknown,
// soft-deleted, federated-only and mismatched accounts all yield
// ErrInvalidCredentials.
func (e *Engine) Authenticate(ctx context.Context, identifier, pass string) (*Account, error) {
	if e == nil || e.accounts == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pass == "" {
		return nil, ErrInvalidCredentials
	}

	if err := e.loginLimiter.Allow(ctx, limitKey("ip", ClientIPFromContext(ctx)), limitKey("id", strings.ToLower(identifier))); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login")
			return nil, ErrRateLimited
		}
		return nil, err
	}

	account, err := e.lookupByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}

	var accountID, stored, reason string
	switch {
	case account == nil || err != nil:
		reason = "unknown_identifier"
	case account.IsDeleted():
		accountID, reason = account.ID, "deleted"
	case !account.HasPassword():
		accountID, reason = account.ID, "no_password"
	default:
		accountID, stored = account.ID, account.PasswordHash
	}

	ok, err := e.checkPassword(pass, stored)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.ErrorContext(ctx, "password verification failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
	if reason != "" {
		e.failLogin(ctx, accountID, reason)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		e.failLogin(ctx, accountID, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsRehash(account.PasswordHash) {
		e.rehash(ctx, account, pass)
	}

	return account, nil
}

// checkPassword verifies pass against encoded. An empty encoded hash is
// checked against the engine's placeholder hash and never matches, so every
// failed sign-in pays for one argon2id derivation.
func (e *Engine) checkPassword(pass, encoded string) (bool, error) {
	placeholder := encoded == ""
	if placeholder {
		encoded = e.placeholderHash
	}
	ok, err := e.hasher.Verify(pass, encoded)
	if e.onPasswordCheck != nil {
		e.onPasswordCheck(placeholder)
	}
	return ok && !placeholder, err
}

func (e *Engine) failLogin(ctx context.Context, accountID, reason string) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// rehash upgrades a legacy or weaker hash after a successful check. Failure
// leaves the old hash in place.
func (e *Engine) rehash(ctx context.Context, account *Account, pass string) {
	upgraded, err := e.hasher.Hash(pass)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}
	previous := account.PasswordHash
	account.PasswordHash = upgraded
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		account.PasswordHash = previous
		e.logger.WarnContext(ctx, "password rehash not persisted", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}
	e.metricInc(MetricPasswordRehash)
}

// ChangePassword replaces the hash after verifying the current password.
// The stored hash is untouched on any failure.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if e == nil || e.accounts == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.HasPassword() {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(current, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "invalid_current"}
		})
		return ErrInvalidCredentials
	}

	newHash, err := e.hashPassword(next)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, err, nil)
		return err
	}

	account.PasswordHash = newHash
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, account.ID, nil, nil)
	return nil
}

// GetAccount returns an active account or ErrUnauthorized.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	return e.activeAccount(ctx, accountID)
}

func (e *Engine) activeAccount(ctx context.Context, accountID string) (*Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrUnauthorized
	}
	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.IsDeleted() {
		return nil, ErrUnauthorized
	}
	return account, nil
}

func (e *Engine) lookupByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	if strings.Contains(identifier, "@") {
		account, err := e.accounts.GetAccountByEmail(ctx, normalizeEmail(identifier))
		if err == nil || !errors.Is(err, ErrNotFound) {
			return account, err
		}
	}
	return e.accounts.GetAccountByUsername(ctx, identifier)
}

// hashPassword maps hasher policy errors onto ValidationError.
func (e *Engine) hashPassword(pass string) (string, error) {
	hash, err := e.hasher.Hash(pass)
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "", newValidationError("password", "must be at least 10 characters")
	case errors.Is(err, password.ErrPasswordTooLong):
		return "", newValidationError("password", "is too long")
	case err != nil:
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// limitKey scopes a limiter key. Empty values produce no key.
func limitKey(scope, value string) string {
	if value == "" {
		return ""
	}
	return scope + ":" + value
}
