package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NormalizeFunc turns a raw upstream profile document into a Profile.
type NormalizeFunc func(raw []byte, accessToken string) (Profile, error)

var normalizers = map[string]NormalizeFunc{
	"github":  normalizeGitHub,
	"discord": normalizeDiscord,
}

// Normalize dispatches to the normalizer registered for provider.
func Normalize(provider string, raw []byte, accessToken string) (Profile, error) {
	fn, ok := normalizers[provider]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return fn(raw, accessToken)
}

type gitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func normalizeGitHub(raw []byte, accessToken string) (Profile, error) {
	var u gitHubUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return Profile{}, fmt.Errorf("decode github profile: %w", err)
	}
	if u.ID == 0 {
		return Profile{}, ErrProfileIncomplete
	}
	return Profile{
		Provider:    "github",
		ExternalID:  strconv.FormatInt(u.ID, 10),
		Username:    u.Login,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		AccessToken: accessToken,
	}, nil
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Avatar   string `json:"avatar"`
}

func normalizeDiscord(raw []byte, accessToken string) (Profile, error) {
	var u discordUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return Profile{}, fmt.Errorf("decode discord profile: %w", err)
	}
	if u.ID == "" {
		return Profile{}, ErrProfileIncomplete
	}
	p := Profile{
		Provider:      "discord",
		ExternalID:    u.ID,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.Verified && u.Email != "",
		AccessToken:   accessToken,
	}
	if u.Avatar != "" {
		p.AvatarURL = "https://cdn.discordapp.com/avatars/" + u.ID + "/" + u.Avatar + ".png"
	}
	return p, nil
}

type oidcClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Nickname          string `json:"nickname"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Picture           string `json:"picture"`
}

func normalizeOIDC(provider string, claims oidcClaims, accessToken string) (Profile, error) {
	if claims.Subject == "" {
		return Profile{}, ErrProfileIncomplete
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Nickname
	}
	return Profile{
		Provider:      provider,
		ExternalID:    claims.Subject,
		Username:      username,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AvatarURL:     claims.Picture,
		AccessToken:   accessToken,
	}, nil
}
