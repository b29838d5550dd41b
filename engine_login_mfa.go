package authcore

import (
	"context"
	"errors"
	"fmt"
)

// SignIn runs the password step of the login state machine. Accounts
// with MFA enabled get only a pre-auth token; everything else gets an
// access and refresh token pair.
func (e *Engine) SignIn(ctx context.Context, identifier, pass string) (*LoginResult, error) {
	account, err := e.Authenticate(ctx, identifier, pass)
	if err != nil {
		return nil, err
	}

	if account.MFA == MFAEnabled {
		preAuth, err := e.GeneratePreAuthToken(account.ID)
		if err != nil {
			return nil, fmt.Errorf("issue pre-auth token: %w", err)
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, account.ID, nil, nil)
		return &LoginResult{MFARequired: true, PreAuthToken: preAuth}, nil
	}

	result, err := e.issueLogin(account)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return result, nil
}

// CompleteMFALogin exchanges a pre-auth token and a valid code for
// tokens. A wrong code leaves the pre-auth token usable until it expires.
func (e *Engine) CompleteMFALogin(ctx context.Context, preAuthToken, code string) (*LoginResult, error) {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(preAuthToken, TokenPreAuth)
	if err != nil {
		e.failMFA(ctx, "", "pre_auth_"+tokenFailureReason(err))
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := e.activeAccount(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.failMFA(ctx, claims.UserID(), "account_unavailable")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if account.MFA != MFAEnabled || account.MFASecret == "" {
		e.failMFA(ctx, account.ID, "mfa_not_enabled")
		return nil, ErrInvalidOrExpiredToken
	}

	if !e.totp.IsOTPValid(account.MFASecret, code) {
		e.failMFA(ctx, account.ID, "invalid_code")
		return nil, ErrInvalidOTP
	}

	result, err := e.issueLogin(account)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, nil, nil)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"method": "password+totp"}
	})
	return result, nil
}

func (e *Engine) failMFA(ctx context.Context, accountID, reason string) {
	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, accountID, ErrInvalidOTP, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func tokenFailureReason(err error) string {
	if errors.Is(err, ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}

// Refresh mints a new access token from a refresh token. Access and
// pre-auth tokens are rejected with ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.ValidateToken(refreshToken, TokenRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", err, nil)
		return nil, err
	}

	account, err := e.activeAccount(ctx, claims.UserID())
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UserID(), err, nil)
		return nil, err
	}

	access, err := e.GenerateAccessToken(account)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.ID, nil, nil)
	return &RefreshResult{Account: account, AccessToken: access}, nil
}

func (e *Engine) issueLogin(account *Account) (*LoginResult, error) {
	access, err := e.GenerateAccessToken(account)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.GenerateRefreshToken(account)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &LoginResult{Account: account, AccessToken: access, RefreshToken: refresh}, nil
}
