package authcore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/modforge/authcore/internal"
	"github.com/modforge/authcore/internal/stores"
	"github.com/modforge/authcore/oauth"
)

const maxUsernameSuffix = 50

var usernameStrip = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// HandleFederatedLogin applies an upstream profile. With a non-anonymous
// current identity the profile is linked to that account; otherwise the
// bound account is logged in, or a new one is created. ErrAccountCollision
// and ErrUnauthorized are returned as-is; anything else unexpected wraps
// ErrLoginFailure.
func (e *Engine) HandleFederatedLogin(ctx context.Context, current *Identity, provider string, profile oauth.Profile) (*FederatedResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || strings.TrimSpace(profile.ExternalID) == "" {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailure, oauth.ErrProfileIncomplete)
	}

	var (
		result *FederatedResult
		err    error
	)
	if !current.Anonymous() {
		result, err = e.linkIdentity(ctx, current.AccountID, provider, profile)
	} else {
		result, err = e.federatedSignIn(ctx, provider, profile)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountCollision):
			e.metricInc(MetricFederatedCollision)
			e.emitAudit(ctx, auditEventFederatedCollision, false, current.accountID(), err, func() map[string]string {
				return map[string]string{"provider": provider}
			})
			return nil, err
		case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrLoginFailure):
		default:
			err = fmt.Errorf("%w: %w", ErrLoginFailure, err)
		}
		e.emitAudit(ctx, auditEventFederatedLogin, false, current.accountID(), err, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return nil, err
	}

	switch result.Outcome {
	case OutcomeLinked:
		e.metricInc(MetricFederatedLinked)
	case OutcomeLogin:
		e.metricInc(MetricFederatedLogin)
	case OutcomeCreated:
		e.metricInc(MetricFederatedCreated)
	}
	e.emitAudit(ctx, auditEventFederatedLogin, true, result.Account.ID, nil, func() map[string]string {
		return map[string]string{"provider": provider, "outcome": string(result.Outcome)}
	})
	return result, nil
}

func (i *Identity) accountID() string {
	if i == nil {
		return ""
	}
	return i.AccountID
}

func (e *Engine) linkIdentity(ctx context.Context, accountID, provider string, profile oauth.Profile) (*FederatedResult, error) {
	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	bound, err := e.accounts.FindByLinkedIdentity(ctx, provider, profile.ExternalID)
	switch {
	case err == nil && bound.ID != account.ID:
		return nil, ErrAccountCollision
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	identity := e.linkedIdentity(provider, profile)
	if err := e.accounts.UpsertLinkedIdentity(ctx, account.ID, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrAccountCollision
		}
		return nil, err
	}
	account.LinkedIdentities = upsertIdentity(account.LinkedIdentities, identity)

	return &FederatedResult{Account: account, Outcome: OutcomeLinked}, nil
}

func (e *Engine) federatedSignIn(ctx context.Context, provider string, profile oauth.Profile) (*FederatedResult, error) {
	account, err := e.accounts.FindByLinkedIdentity(ctx, provider, profile.ExternalID)
	outcome := OutcomeLogin
	switch {
	case err == nil:
		if account.IsDeleted() {
			return nil, ErrUnauthorized
		}
		identity := e.linkedIdentity(provider, profile)
		if err := e.accounts.UpsertLinkedIdentity(ctx, account.ID, identity); err != nil {
			return nil, err
		}
		account.LinkedIdentities = upsertIdentity(account.LinkedIdentities, identity)
	case errors.Is(err, ErrNotFound):
		var created bool
		account, created, err = e.createFederatedAccount(ctx, provider, profile)
		if err != nil {
			return nil, err
		}
		if created {
			outcome = OutcomeCreated
		}
	default:
		return nil, err
	}

	tokens, err := e.issueLogin(account)
	if err != nil {
		return nil, err
	}
	return &FederatedResult{
		Account:      account,
		Outcome:      outcome,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

func (e *Engine) createFederatedAccount(ctx context.Context, provider string, profile oauth.Profile) (*Account, bool, error) {
	username, err := e.availableUsername(ctx, provider, profile)
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	account := &Account{
		ID:               uuid.NewString(),
		Username:         username,
		Tier:             e.config.Account.DefaultTier,
		Roles:            append([]string(nil), e.config.Account.DefaultRoles...),
		LinkedIdentities: []LinkedIdentity{e.linkedIdentity(provider, profile)},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if email := normalizeEmail(profile.Email); email != "" && e.checkEmail(email) == "" {
		taken, err := e.emailTaken(ctx, email)
		if err != nil {
			return nil, false, err
		}
		if !taken {
			account.Email = email
			account.EmailVerified = profile.EmailVerified
		}
	}

	if err := e.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent first login for the same identity.
			if existing, findErr := e.accounts.FindByLinkedIdentity(ctx, provider, profile.ExternalID); findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return account, true, nil
}

// availableUsername derives a username from the profile and appends a
// numeric suffix until it is free.
func (e *Engine) availableUsername(ctx context.Context, provider string, profile oauth.Profile) (string, error) {
	base := usernameStrip.ReplaceAllString(strings.TrimSpace(profile.Username), "")
	base = strings.TrimLeft(base, "_.-")
	if len(base) < e.config.Account.UsernameMinLength {
		base = provider + "_" + usernameStrip.ReplaceAllString(profile.ExternalID, "")
	}
	maxLen := e.config.Account.UsernameMaxLength
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	for i := 0; i <= maxUsernameSuffix; i++ {
		candidate := base
		if i > 0 {
			suffix := strconv.Itoa(i)
			if len(candidate)+len(suffix) > maxLen {
				candidate = candidate[:maxLen-len(suffix)]
			}
			candidate += suffix
		}
		taken, err := e.usernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free username derived from %q", base)
}

func (e *Engine) linkedIdentity(provider string, profile oauth.Profile) LinkedIdentity {
	return LinkedIdentity{
		Provider:    provider,
		ExternalID:  profile.ExternalID,
		Username:    profile.Username,
		AccessToken: profile.AccessToken,
		LinkedAt:    e.now(),
	}
}

func upsertIdentity(list []LinkedIdentity, identity LinkedIdentity) []LinkedIdentity {
	for i := range list {
		if list[i].Provider == identity.Provider {
			list[i] = identity
			return list
		}
	}
	return append(list, identity)
}

// BeginOAuth returns the provider authorization URL carrying a fresh
// single-use state. A non-anonymous current identity turns the callback
// into a link request for that account.
func (e *Engine) BeginOAuth(ctx context.Context, providerName string, current *Identity) (string, error) {
	if e == nil || e.oauthStateStore == nil {
		return "", ErrEngineNotReady
	}
	provider, err := e.providers.Get(providerName)
	if err != nil {
		return "", err
	}

	state, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	record := &stores.TokenRecord{
		UserID:     current.accountID(),
		Data:       strings.ToLower(provider.Name()),
		SecretHash: state.Hash,
	}
	if err := e.oauthStateStore.Save(ctx, state.ID, record, e.config.OAuth.StateTTL); err != nil {
		return "", err
	}
	return provider.AuthCodeURL(state.Raw), nil
}

// CompleteOAuth consumes state, exchanges code with the provider and runs
// HandleFederatedLogin. An invalid or replayed state is
// ErrInvalidOrExpiredToken.
func (e *Engine) CompleteOAuth(ctx context.Context, providerName, state, code string) (*FederatedResult, error) {
	if e == nil || e.oauthStateStore == nil {
		return nil, ErrEngineNotReady
	}
	provider, err := e.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	id, hash, err := internal.DecodeOpaqueToken(state)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	record, err := e.oauthStateStore.Consume(ctx, id, hash)
	if err != nil {
		if errors.Is(err, stores.ErrTokenRedisUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailure, err)
		}
		return nil, ErrInvalidOrExpiredToken
	}
	if record.Data != strings.ToLower(provider.Name()) {
		return nil, ErrInvalidOrExpiredToken
	}

	profile, err := provider.ExchangeAndNormalize(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}

	var current *Identity
	if record.UserID != "" {
		current = &Identity{AccountID: record.UserID, Source: SourceToken}
	}
	return e.HandleFederatedLogin(ctx, current, provider.Name(), profile)
}
