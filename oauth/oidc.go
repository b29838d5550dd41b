package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider authenticates against any OpenID Connect issuer and reads the
// profile from the verified ID token.
type OIDCProvider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewOIDC discovers issuerURL and returns a provider registered as name.
func NewOIDC(ctx context.Context, name, issuerURL string, creds Credentials) (*OIDCProvider, error) {
	if err := creds.validate(); err != nil {
		return nil, fmt.Errorf("oidc %s: %w", name, err)
	}
	if name == "" || issuerURL == "" {
		return nil, errors.New("oidc provider requires name and issuer url")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCProvider{
		name:     strings.ToLower(name),
		verifier: provider.Verifier(&oidc.Config{ClientID: creds.ClientID}),
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  creds.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *OIDCProvider) ExchangeAndNormalize(ctx context.Context, code string) (Profile, error) {
	if code == "" {
		return Profile{}, ErrMissingCode
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Profile{}, errors.New("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, fmt.Errorf("verify id token: %w", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, fmt.Errorf("parse id token claims: %w", err)
	}

	return normalizeOIDC(p.name, claims, token.AccessToken)
}
