package httpapi

import (
	"time"

	"github.com/modforge/authcore"
)

// --- Requests ---

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// signInRequest accepts a username or an email in Username.
type signInRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type setCredentialsRequest struct {
	Email    string `json:"email" validate:"required_without=Password,omitempty,email"`
	Password string `json:"password" validate:"required_without=Email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type otpRequest struct {
	Code string `json:"code" validate:"required,numeric,min=6,max=8"`
}

type validateLoginRequest struct {
	PreAuthToken string `json:"pre_auth_token" validate:"required"`
	Code         string `json:"code" validate:"required,numeric,min=6,max=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createKeyRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// --- Responses ---

type accountResponse struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email,omitempty"`
	EmailVerified   bool      `json:"email_verified"`
	MFAEnabled      bool      `json:"mfa_enabled"`
	HasPassword     bool      `json:"has_password"`
	Tier            string    `json:"tier"`
	Roles           []string  `json:"roles"`
	LinkedProviders []string  `json:"linked_providers"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAccountResponse(a *authcore.Account) accountResponse {
	providers := make([]string, 0, len(a.LinkedIdentities))
	for _, li := range a.LinkedIdentities {
		providers = append(providers, li.Provider)
	}
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return accountResponse{
		ID:              a.ID,
		Username:        a.Username,
		Email:           a.Email,
		EmailVerified:   a.EmailVerified,
		MFAEnabled:      a.MFA == authcore.MFAEnabled,
		HasPassword:     a.HasPassword(),
		Tier:            a.Tier,
		Roles:           roles,
		LinkedProviders: providers,
		CreatedAt:       a.CreatedAt,
	}
}

type loginResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	User         accountResponse `json:"user"`
}

type mfaChallengeResponse struct {
	MFARequired  bool   `json:"mfa_required"`
	PreAuthToken string `json:"pre_auth_token"`
}

type refreshResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	User        accountResponse `json:"user"`
}

type mfaSetupResponse struct {
	Secret     string `json:"secret"`
	QRCode     string `json:"qrCode"`
	OTPAuthURI string `json:"otpauth_uri"`
}

type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Tier       string     `json:"tier"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// createdKeyResponse is the only response that carries the raw key.
type createdKeyResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

func toAPIKeyResponse(k authcore.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Tier:       k.Tier,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

type oauthLinkResponse struct {
	URL string `json:"url"`
}
