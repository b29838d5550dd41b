package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Credentials are the client registration values for one upstream.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func (c Credentials) validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.RedirectURL == "" {
		return errors.New("redirect_url is required")
	}
	return nil
}

// OAuth2Provider is a plain authorization-code provider whose profile comes
// from a JSON user-info endpoint.
type OAuth2Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	normalize   NormalizeFunc
	fetcher     *profileFetcher
	httpClient  *http.Client
}

// OAuth2Options wires a provider to its endpoints.
type OAuth2Options struct {
	Name        string
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	Normalize   NormalizeFunc
	Breaker     BreakerConfig
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewOAuth2Provider(creds Credentials, opts OAuth2Options) (*OAuth2Provider, error) {
	if err := creds.validate(); err != nil {
		return nil, fmt.Errorf("oauth %s: %w", opts.Name, err)
	}
	if opts.Name == "" || opts.UserInfoURL == "" || opts.Normalize == nil {
		return nil, errors.New("oauth provider requires name, user info url and normalizer")
	}
	if opts.Breaker == (BreakerConfig{}) {
		opts.Breaker = DefaultBreakerConfig()
	}
	return &OAuth2Provider{
		name: strings.ToLower(opts.Name),
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     opts.Endpoint,
			RedirectURL:  creds.RedirectURL,
			Scopes:       creds.Scopes,
		},
		userInfoURL: opts.UserInfoURL,
		normalize:   opts.Normalize,
		fetcher:     newProfileFetcher(opts.Name, opts.Breaker, opts.Logger),
		httpClient:  opts.HTTPClient,
	}, nil
}

// NewGitHub configures the GitHub OAuth app flow.
func NewGitHub(creds Credentials, logger *slog.Logger) (*OAuth2Provider, error) {
	if len(creds.Scopes) == 0 {
		creds.Scopes = []string{"read:user", "user:email"}
	}
	return NewOAuth2Provider(creds, OAuth2Options{
		Name:        "github",
		Endpoint:    github.Endpoint,
		UserInfoURL: "https://api.github.com/user",
		Normalize:   normalizeGitHub,
		Logger:      logger,
	})
}

// DiscordEndpoint is Discord's authorization server.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// NewDiscord configures the Discord OAuth2 flow.
func NewDiscord(creds Credentials, logger *slog.Logger) (*OAuth2Provider, error) {
	if len(creds.Scopes) == 0 {
		creds.Scopes = []string{"identify", "email"}
	}
	return NewOAuth2Provider(creds, OAuth2Options{
		Name:        "discord",
		Endpoint:    DiscordEndpoint,
		UserInfoURL: "https://discord.com/api/users/@me",
		Normalize:   normalizeDiscord,
		Logger:      logger,
	})
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeAndNormalize trades code for an upstream token, fetches the
// profile and normalizes it.
func (p *OAuth2Provider) ExchangeAndNormalize(ctx context.Context, code string) (Profile, error) {
	if code == "" {
		return Profile{}, ErrMissingCode
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}

	raw, err := p.fetcher.fetch(ctx, p.config.Client(ctx, token), p.userInfoURL)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch %s profile: %w", p.name, err)
	}

	profile, err := p.normalize(raw, token.AccessToken)
	if err != nil {
		return Profile{}, err
	}
	profile.Provider = p.name
	return profile, nil
}
