package main

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/modforge/authcore"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for authd.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"AUTH_HTTP_PORT" envDefault:"8010"`
	FrontendURL        string   `env:"AUTH_FRONTEND_URL" envDefault:"http://localhost:3000"`
	TrustProxy         bool     `env:"AUTH_TRUST_PROXY" envDefault:"false"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// JWT
	JWTSecret        string        `env:"AUTH_JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry  time.Duration `env:"AUTH_JWT_ACCESS_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"AUTH_JWT_REFRESH_EXPIRY" envDefault:"720h"`
	JWTPreAuthExpiry time.Duration `env:"AUTH_JWT_PRE_AUTH_EXPIRY" envDefault:"5m"`
	TOTPIssuer       string        `env:"AUTH_TOTP_ISSUER" envDefault:"modforge"`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"authd"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"authd_secret"`
	PostgresDB            string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Empty brokers log notifications instead of publishing them.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OAuth providers. A provider is enabled when its client id is set.
	GitHubClientID      string `env:"OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret  string `env:"OAUTH_GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL   string `env:"OAUTH_GITHUB_REDIRECT_URL"`
	DiscordClientID     string `env:"OAUTH_DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"OAUTH_DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL  string `env:"OAUTH_DISCORD_REDIRECT_URL"`
	OIDCName            string `env:"OAUTH_OIDC_NAME" envDefault:"oidc"`
	OIDCIssuerURL       string `env:"OAUTH_OIDC_ISSUER_URL"`
	OIDCClientID        string `env:"OAUTH_OIDC_CLIENT_ID"`
	OIDCClientSecret    string `env:"OAUTH_OIDC_CLIENT_SECRET"`
	OIDCRedirectURL     string `env:"OAUTH_OIDC_REDIRECT_URL"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load authd config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("AUTH_JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid AUTH_FRONTEND_URL %q", c.FrontendURL)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return errors.New("OTEL_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}

// jwtSecret pads the development default to the engine's minimum key size.
func (c *Config) jwtSecret() []byte {
	if c.Environment == "development" && len(c.JWTSecret) < 32 {
		return []byte(fmt.Sprintf("%-32s", c.JWTSecret))
	}
	return []byte(c.JWTSecret)
}

// EngineConfig maps the environment onto authcore.Config.
func (c *Config) EngineConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = c.jwtSecret()
	cfg.JWT.AccessTTL = c.JWTAccessExpiry
	cfg.JWT.RefreshTTL = c.JWTRefreshExpiry
	cfg.JWT.PreAuthTTL = c.JWTPreAuthExpiry
	cfg.TOTP.Issuer = c.TOTPIssuer
	cfg.Cookie.FrontendURL = c.FrontendURL
	return cfg
}
