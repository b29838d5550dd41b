package authcore

import (
	"context"
	"strings"
	"time"
)

// MFAState is the two-factor lifecycle of an account. A secret moves from
// pending to enabled only after a code generated from it has been verified.
type MFAState uint8

const (
	MFADisabled MFAState = iota
	MFAPending
	MFAEnabled
)

func (s MFAState) String() string {
	switch s {
	case MFAPending:
		return "pending"
	case MFAEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// ParseMFAState is the inverse of String. Unknown values map to MFADisabled.
func ParseMFAState(s string) MFAState {
	switch strings.ToLower(s) {
	case "pending":
		return MFAPending
	case "enabled":
		return MFAEnabled
	default:
		return MFADisabled
	}
}

// Account is a platform user as seen by the auth core.
type Account struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	MFA              MFAState
	MFASecret        string
	Tier             string
	Roles            []string
	LinkedIdentities []LinkedIdentity
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (a *Account) IsDeleted() bool {
	return a == nil || a.DeletedAt != nil
}

// HasPassword is false for federated-only accounts.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

// Identity returns the linked identity for provider, if any.
func (a *Account) Identity(provider string) (LinkedIdentity, bool) {
	if a == nil {
		return LinkedIdentity{}, false
	}
	for _, li := range a.LinkedIdentities {
		if li.Provider == provider {
			return li, true
		}
	}
	return LinkedIdentity{}, false
}

// LinkedIdentity binds an account to an upstream (provider, external id) pair.
type LinkedIdentity struct {
	Provider    string
	ExternalID  string
	Username    string
	AccessToken string
	LinkedAt    time.Time
}

// APIKey is the stored half of an API key. The raw secret is never kept.
type APIKey struct {
	ID         string
	OwnerID    string
	Name       string
	Prefix     string
	Hash       string
	Tier       string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// CreatedAPIKey is returned once, at creation; Secret cannot be recovered later.
type CreatedAPIKey struct {
	Key    APIKey
	Secret string
}

// IdentitySource records which credential established an Identity.
type IdentitySource string

const (
	SourceAnonymous IdentitySource = ""
	SourceToken     IdentitySource = "token"
	SourceAPIKey    IdentitySource = "api_key"
)

// Identity is the authenticated principal attached to a request context.
type Identity struct {
	AccountID string
	Tier      string
	Roles     []string
	Source    IdentitySource
	APIKeyID  string
}

// Anonymous reports whether no credential was presented or accepted.
func (i *Identity) Anonymous() bool {
	return i == nil || i.AccountID == ""
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccountStore is the credential store. Username and email lookups are
// case-insensitive. Lookups return ErrNotFound when nothing matches;
// writes return ErrConflict on a uniqueness violation.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindByLinkedIdentity(ctx context.Context, provider, externalID string) (*Account, error)
	UpdateAccount(ctx context.Context, account *Account) error
	UpsertLinkedIdentity(ctx context.Context, accountID string, identity LinkedIdentity) error
}

// APIKeyStore persists API key metadata. DeleteAPIKey only removes a key
// owned by ownerID and reports whether anything was deleted.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	FindAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	DeleteAPIKey(ctx context.Context, id, ownerID string) (bool, error)
	ListAPIKeys(ctx context.Context, ownerID string) ([]APIKey, error)
}

// Notifier hands user-facing messages to the delivery collaborator.
type Notifier interface {
	SendEmailVerification(ctx context.Context, account *Account, token string) error
	SendPasswordReset(ctx context.Context, account *Account, token string) error
	AccountRegistered(ctx context.Context, account *Account) error
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is the outcome of SignIn or CompleteMFALogin. When MFARequired
// is set only PreAuthToken is populated.
type LoginResult struct {
	Account      *Account
	AccessToken  string
	RefreshToken string
	MFARequired  bool
	PreAuthToken string
}

// RefreshResult is the outcome of Refresh.
type RefreshResult struct {
	Account     *Account
	AccessToken string
}

// MFASetup is returned by SetupMFA for enrollment.
type MFASetup struct {
	Secret     string
	QRCode     string
	OTPAuthURI string
}

// FederatedOutcome tells the caller what HandleFederatedLogin did.
type FederatedOutcome string

const (
	OutcomeLinked  FederatedOutcome = "linked"
	OutcomeLogin   FederatedOutcome = "login"
	OutcomeCreated FederatedOutcome = "created"
)

// FederatedResult is the outcome of HandleFederatedLogin. Tokens are only
// minted for login and created outcomes.
type FederatedResult struct {
	Account      *Account
	Outcome      FederatedOutcome
	AccessToken  string
	RefreshToken string
}
