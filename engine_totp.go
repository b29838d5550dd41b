package authcore

import (
	"context"
	"fmt"
)

// GenerateNewSecret returns a random base32 TOTP secret.
func (e *Engine) GenerateNewSecret() (string, error) {
	if e == nil || e.totp == nil {
		return "", ErrEngineNotReady
	}
	return e.totp.GenerateNewSecret()
}

// GenerateQRCodeImageURI renders an enrollment QR code for secret as a
// data:image/png;base64 URI. It has no side effects.
func (e *Engine) GenerateQRCodeImageURI(secret, accountLabel string) (string, error) {
	if e == nil || e.totp == nil {
		return "", ErrEngineNotReady
	}
	return e.totp.GenerateQRCodeImageURI(secret, accountLabel)
}

// IsOTPValid reports whether code is valid for secret at the current time.
func (e *Engine) IsOTPValid(secret, code string) bool {
	if e == nil || e.totp == nil {
		return false
	}
	return e.totp.IsOTPValid(secret, code)
}

// SetupMFA stores a new pending secret. Calling it again before ConfirmMFA
// replaces the pending secret.
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	if e == nil || e.accounts == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFA == MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateNewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := e.totp.GenerateQRCodeImageURI(secret, account.Username)
	if err != nil {
		return nil, err
	}

	account.MFA = MFAPending
	account.MFASecret = secret
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("store pending totp secret: %w", err)
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, account.ID, nil, nil)
	return &MFASetup{
		Secret:     secret,
		QRCode:     qr,
		OTPAuthURI: e.totp.ProvisionURI(secret, account.Username),
	}, nil
}

// ConfirmMFA enables MFA once code verifies against the pending secret.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFA == MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if account.MFA != MFAPending || account.MFASecret == "" {
		return ErrMFANotPending
	}
	if !e.totp.IsOTPValid(account.MFASecret, code) {
		e.emitAudit(ctx, auditEventTOTPFailure, false, account.ID, ErrInvalidOTP, func() map[string]string {
			return map[string]string{"stage": "enroll"}
		})
		return ErrInvalidOTP
	}

	account.MFA = MFAEnabled
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, account.ID, nil, nil)
	return nil
}

// DisableMFA turns MFA off after checking a current code.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFA != MFAEnabled {
		return ErrMFANotEnabled
	}
	if !e.totp.IsOTPValid(account.MFASecret, code) {
		e.emitAudit(ctx, auditEventTOTPFailure, false, account.ID, ErrInvalidOTP, func() map[string]string {
			return map[string]string{"stage": "disable"}
		})
		return ErrInvalidOTP
	}

	account.MFA = MFADisabled
	account.MFASecret = ""
	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("disable totp: %w", err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, account.ID, nil, nil)
	return nil
}
