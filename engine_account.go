package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/modforge/authcore/internal/limiters"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Register creates a password account and sends an email verification
// token. Any input problem, including a taken username in any case, is a
// *ValidationError.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	if e == nil || e.accounts == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.registerLimiter.Allow(ctx, limitKey("ip", ClientIPFromContext(ctx))); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			e.emitRateLimit(ctx, "register")
			return nil, ErrRateLimited
		}
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	verr := &ValidationError{Fields: map[string]string{}}
	if msg := e.checkUsername(username); msg != "" {
		verr.Fields["username"] = msg
	}
	if msg := e.checkEmail(email); msg != "" {
		verr.Fields["email"] = msg
	}
	if in.Password == "" {
		verr.Fields["password"] = "is required"
	}
	if len(verr.Fields) > 0 {
		return nil, e.rejectRegistration(ctx, verr)
	}

	if taken, err := e.usernameTaken(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, e.rejectRegistration(ctx, newValidationError("username", "is already taken"))
	}
	if taken, err := e.emailTaken(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, e.rejectRegistration(ctx, newValidationError("email", "is already registered"))
	}

	hash, err := e.hashPassword(in.Password)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, e.rejectRegistration(ctx, err)
		}
		return nil, err
	}

	now := e.now()
	account := &Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Tier:         e.config.Account.DefaultTier,
		Roles:        append([]string(nil), e.config.Account.DefaultRoles...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, e.rejectRegistration(ctx, newValidationError("username", "is already taken"))
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.ID, nil, nil)

	if err := e.issueVerification(ctx, account); err != nil {
		e.logger.ErrorContext(ctx, "issue verification token", slog.String("account_id", account.ID), slog.Any("error", err))
	}
	if e.notifier != nil {
		if err := e.notifier.AccountRegistered(ctx, account); err != nil {
			e.metricInc(MetricNotificationFailure)
			e.logger.WarnContext(ctx, "account registered notification failed", slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}

	return account, nil
}

func (e *Engine) rejectRegistration(ctx context.Context, err error) error {
	e.metricInc(MetricRegisterRejected)
	e.emitAudit(ctx, auditEventRegisterRejected, false, "", err, func() map[string]string {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return nil
		}
		fields := make([]string, 0, len(verr.Fields))
		for k := range verr.Fields {
			fields = append(fields, k)
		}
		return map[string]string{"fields": strings.Join(fields, ",")}
	})
	return err
}

// SetCredentials adds an email and/or password to an account created by
// federated login. Replacing an existing password goes through ChangePassword.
func (e *Engine) SetCredentials(ctx context.Context, accountID, email, pass string) error {
	if e == nil || e.accounts == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" && pass == "" {
		return newValidationError("credentials", "email or password is required")
	}

	emailChanged := false
	if email != "" && email != account.Email {
		if msg := e.checkEmail(email); msg != "" {
			return newValidationError("email", msg)
		}
		taken, err := e.emailTaken(ctx, email)
		if err != nil {
			return err
		}
		if taken {
			return newValidationError("email", "is already registered")
		}
		account.Email = email
		account.EmailVerified = false
		emailChanged = true
	}

	if pass != "" {
		if account.HasPassword() {
			return newValidationError("password", "is already set")
		}
		hash, err := e.hashPassword(pass)
		if err != nil {
			return err
		}
		account.PasswordHash = hash
	}

	account.UpdatedAt = e.now()
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return newValidationError("email", "is already registered")
		}
		return fmt.Errorf("update credentials: %w", err)
	}

	e.emitAudit(ctx, auditEventCredentialsSet, true, account.ID, nil, func() map[string]string {
		return map[string]string{
			"email_changed": fmt.Sprint(emailChanged),
			"password_set":  fmt.Sprint(pass != ""),
		}
	})

	if emailChanged {
		if err := e.issueVerification(ctx, account); err != nil {
			e.logger.ErrorContext(ctx, "issue verification token", slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) checkUsername(username string) string {
	switch {
	case username == "":
		return "is required"
	case len(username) < e.config.Account.UsernameMinLength:
		return fmt.Sprintf("must be at least %d characters", e.config.Account.UsernameMinLength)
	case len(username) > e.config.Account.UsernameMaxLength:
		return fmt.Sprintf("must be at most %d characters", e.config.Account.UsernameMaxLength)
	case !usernamePattern.MatchString(username):
		return "may only contain letters, digits, '.', '_' and '-'"
	}
	return ""
}

func (e *Engine) checkEmail(email string) string {
	if email == "" {
		return "is required"
	}
	if err := e.validate.Var(email, "required,email,max=254"); err != nil {
		return "must be a valid email address"
	}
	domain := email[strings.LastIndexByte(email, '@')+1:]
	for _, blocked := range e.config.EmailVerification.BlockedDomains {
		blocked = strings.ToLower(strings.TrimSpace(blocked))
		if blocked != "" && (domain == blocked || strings.HasSuffix(domain, "."+blocked)) {
			return "domain is not allowed"
		}
	}
	return ""
}

func (e *Engine) usernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := e.accounts.GetAccountByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup username: %w", err)
	}
}

func (e *Engine) emailTaken(ctx context.Context, email string) (bool, error) {
	_, err := e.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup email: %w", err)
	}
}
