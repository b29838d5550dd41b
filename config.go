package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the full Engine configuration. Start from DefaultConfig and
// override what the deployment needs.
type Config struct {
	JWT               JWTConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	TOTP              TOTPConfig
	Account           AccountConfig
	Cookie            CookieConfig
	OAuth             OAuthConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	RedisPrefix       string
}

type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	PreAuthTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// MaxFutureIAT rejects tokens issued further ahead than this. Zero
	// means ten minutes.
	MaxFutureIAT  time.Duration
	// VerifyKeys maps kid to verification key for rotation. When set,
	// every token needs a kid listed here and KeyID must be one of them.
	VerifyKeys    map[string][]byte
}

type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

type PasswordResetConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type EmailVerificationConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	BlockedDomains []string
}

// TOTPConfig drives code generation. Digits and Period are fixed by most
// authenticator apps; change them only with care.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
	QRSize    int
}

type AccountConfig struct {
	DefaultTier       string
	DefaultRoles      []string
	UsernameMinLength int
	UsernameMaxLength int
}

// CookieConfig controls the refresh token cookie. The cookie domain is the
// registrable domain of FrontendURL.
type CookieConfig struct {
	Name        string
	FrontendURL string
	Path        string
}

type OAuthConfig struct {
	StateTTL time.Duration
}

// LimitConfig is a fixed window throttle. Zero Max disables it.
type LimitConfig struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Login              LimitConfig
	Register           LimitConfig
	PasswordReset      LimitConfig
	ResendVerification LimitConfig
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns production defaults. JWT keys and the frontend URL
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			PreAuthTTL:    5 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "modforge",
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		PasswordReset: PasswordResetConfig{
			TTL:         time.Hour,
			MaxAttempts: 5,
		},
		EmailVerification: EmailVerificationConfig{
			TTL:         24 * time.Hour,
			MaxAttempts: 5,
		},
		TOTP: TOTPConfig{
			Issuer:    "modforge",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
			QRSize:    256,
		},
		Account: AccountConfig{
			DefaultTier:       "free",
			DefaultRoles:      []string{"user"},
			UsernameMinLength: 3,
			UsernameMaxLength: 32,
		},
		Cookie: CookieConfig{
			Name: "refresh_token",
			Path: "/",
		},
		OAuth: OAuthConfig{
			StateTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Login:              LimitConfig{Max: 10, Window: 15 * time.Minute},
			Register:           LimitConfig{Max: 5, Window: time.Hour},
			PasswordReset:      LimitConfig{Max: 5, Window: time.Hour},
			ResendVerification: LimitConfig{Max: 3, Window: time.Hour},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "authcore",
		},
		RedisPrefix: "ac",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.VerifyKeys = cloneKeys(cfg.JWT.VerifyKeys)
	out.EmailVerification.BlockedDomains = append([]string(nil), cfg.EmailVerification.BlockedDomains...)
	out.Account.DefaultRoles = append([]string(nil), cfg.Account.DefaultRoles...)
	return out
}

func cloneKeys(keys map[string][]byte) map[string][]byte {
	if keys == nil {
		return nil
	}
	out := make(map[string][]byte, len(keys))
	for kid, key := range keys {
		out[kid] = cloneBytes(key)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.PreAuthTTL <= 0 {
		return errors.New("jwt ttls must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("jwt refresh ttl must be >= access ttl")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 secret must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || (len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0) {
			return errors.New("ed25519 requires a private key and a public or verify key")
		}
	default:
		return fmt.Errorf("unsupported jwt signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.KeyID != "" && len(c.JWT.VerifyKeys) > 0 {
		if _, ok := c.JWT.VerifyKeys[c.JWT.KeyID]; !ok {
			return fmt.Errorf("jwt key id %q is not in verify keys", c.JWT.KeyID)
		}
	}
	if c.JWT.MaxFutureIAT < 0 {
		return errors.New("jwt max future iat must be >= 0")
	}

	if c.PasswordReset.TTL <= 0 || c.PasswordReset.MaxAttempts <= 0 {
		return errors.New("password reset ttl and max attempts must be > 0")
	}
	if c.EmailVerification.TTL <= 0 || c.EmailVerification.MaxAttempts <= 0 {
		return errors.New("email verification ttl and max attempts must be > 0")
	}

	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 || c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("invalid totp period or skew")
	}
	if _, ok := totpHashes[strings.ToUpper(c.TOTP.Algorithm)]; !ok {
		return fmt.Errorf("unsupported totp algorithm %q", c.TOTP.Algorithm)
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("totp issuer is required")
	}

	if c.Account.DefaultTier == "" {
		return errors.New("account default tier is required")
	}
	if c.Account.UsernameMinLength <= 0 || c.Account.UsernameMaxLength < c.Account.UsernameMinLength {
		return errors.New("invalid username length bounds")
	}

	if c.Cookie.Name == "" {
		return errors.New("cookie name is required")
	}
	if c.Cookie.FrontendURL != "" {
		u, err := url.Parse(c.Cookie.FrontendURL)
		if err != nil || u.Hostname() == "" {
			return fmt.Errorf("invalid frontend url %q", c.Cookie.FrontendURL)
		}
	}
	if c.OAuth.StateTTL <= 0 {
		return errors.New("oauth state ttl must be > 0")
	}

	for name, l := range map[string]LimitConfig{
		"login":               c.RateLimit.Login,
		"register":            c.RateLimit.Register,
		"password_reset":      c.RateLimit.PasswordReset,
		"resend_verification": c.RateLimit.ResendVerification,
	} {
		if l.Max < 0 || (l.Max > 0 && l.Window <= 0) {
			return fmt.Errorf("invalid %s rate limit", name)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0")
	}
	if strings.TrimSpace(c.RedisPrefix) == "" {
		return errors.New("redis prefix is required")
	}

	return nil
}
