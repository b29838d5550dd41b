package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modforge/authcore/internal"
	"github.com/modforge/authcore/internal/limiters"
	"github.com/modforge/authcore/internal/stores"
)

// InitiatePasswordReset sends a reset token when email belongs to an
// active account. The result is nil whether or not it does; only context
// errors surface.
func (e *Engine) InitiatePasswordReset(ctx context.Context, email string) error {
	if e == nil || e.accounts == nil || e.resetStore == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	if err := e.resetLimiter.Allow(ctx, limitKey("ip", ClientIPFromContext(ctx)), limitKey("email", email)); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			e.emitRateLimit(ctx, "password_reset_request")
		} else {
			e.logger.WarnContext(ctx, "password reset limiter unavailable", slog.Any("error", err))
		}
		return nil
	}

	e.metricInc(MetricPasswordResetRequest)

	account, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, ErrNotFound) {
			e.logger.ErrorContext(ctx, "password reset lookup failed", slog.Any("error", err))
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrNotFound, nil)
		return nil
	}
	if account.IsDeleted() {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, account.ID, ErrUnauthorized, nil)
		return nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		e.logger.ErrorContext(ctx, "password reset token generation failed", slog.Any("error", err))
		return nil
	}
	record := &stores.TokenRecord{UserID: account.ID, SecretHash: token.Hash}
	if err := e.resetStore.Save(ctx, token.ID, record, e.config.PasswordReset.TTL); err != nil {
		e.logger.ErrorContext(ctx, "password reset token not stored", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.ID, nil, nil)

	if e.notifier != nil {
		if err := e.notifier.SendPasswordReset(ctx, account, token.Raw); err != nil {
			e.metricInc(MetricNotificationFailure)
			e.logger.ErrorContext(ctx, "password reset notification failed", slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}
	return nil
}

// CompletePasswordReset consumes a reset token and sets a new password.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.accounts == nil || e.resetStore == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	id, hash, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		return e.failReset(ctx, "", "parse_failed", ErrInvalidOrExpiredToken)
	}

	// Check policy first; a rejected password leaves the token usable.
	newHash, err := e.hashPassword(newPassword)
	if err != nil {
		return e.failReset(ctx, "", "password_policy", err)
	}

	record, err := e.resetStore.Consume(ctx, id, hash)
	if err != nil {
		if errors.Is(err, stores.ErrTokenRedisUnavailable) {
			return err
		}
		return e.failReset(ctx, "", "consume_failed", ErrInvalidOrExpiredToken)
	}

	account, err := e.accounts.GetAccountByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return e.failReset(ctx, record.UserID, "account_missing", ErrInvalidOrExpiredToken)
		}
		return fmt.Errorf("load account: %w", err)
	}
	if account.IsDeleted() {
		return e.failReset(ctx, account.ID, "deleted", ErrInvalidOrExpiredToken)
	}

	account.PasswordHash = newHash
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, account.ID, nil, nil)
	return nil
}

func (e *Engine) failReset(ctx context.Context, accountID, reason string, err error) error {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}
