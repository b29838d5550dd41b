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

// issueVerification stores a single-use token bound to the account's
// current email and hands the raw token to the notifier.
func (e *Engine) issueVerification(ctx context.Context, account *Account) error {
	if e.verificationStore == nil {
		return ErrEngineNotReady
	}
	if account.Email == "" {
		return nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}
	record := &stores.TokenRecord{
		UserID:     account.ID,
		Data:       account.Email,
		SecretHash: token.Hash,
	}
	if err := e.verificationStore.Save(ctx, token.ID, record, e.config.EmailVerification.TTL); err != nil {
		return err
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, account.ID, nil, nil)

	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.SendEmailVerification(ctx, account, token.Raw); err != nil {
		e.metricInc(MetricNotificationFailure)
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the email verified.
// Unknown, expired, reused and stale tokens all fail with
// ErrInvalidOrExpiredToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.accounts == nil || e.verificationStore == nil {
		return ErrEngineNotReady
	}

	id, hash, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		return e.failVerification(ctx, "", "parse_failed")
	}

	record, err := e.verificationStore.Consume(ctx, id, hash)
	if err != nil {
		if errors.Is(err, stores.ErrTokenRedisUnavailable) {
			return err
		}
		return e.failVerification(ctx, "", "consume_failed")
	}

	account, err := e.accounts.GetAccountByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return e.failVerification(ctx, record.UserID, "account_missing")
		}
		return fmt.Errorf("load account: %w", err)
	}
	if account.IsDeleted() || account.Email != record.Data {
		return e.failVerification(ctx, account.ID, "stale")
	}

	if !account.EmailVerified {
		account.EmailVerified = true
		account.UpdatedAt = e.now()
		if err := e.accounts.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, account.ID, nil, nil)
	return nil
}

func (e *Engine) failVerification(ctx context.Context, accountID, reason string) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, accountID, ErrInvalidOrExpiredToken, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidOrExpiredToken
}

// ResendVerification issues a fresh token for an unverified email. Earlier
// tokens stay valid until they expire.
func (e *Engine) ResendVerification(ctx context.Context, accountID string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Email == "" {
		return newValidationError("email", "no email address on account")
	}
	if account.EmailVerified {
		return newValidationError("email", "is already verified")
	}

	if err := e.resendLimiter.Allow(ctx, limitKey("acct", account.ID)); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			e.emitRateLimit(ctx, "resend_verification")
			return ErrRateLimited
		}
		return err
	}

	if err := e.issueVerification(ctx, account); err != nil {
		e.logger.ErrorContext(ctx, "resend verification failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return err
	}
	return nil
}
