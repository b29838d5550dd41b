package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/modforge/authcore/internal"
	"github.com/modforge/authcore/internal/limiters"
	"github.com/modforge/authcore/internal/stores"
	"github.com/modforge/authcore/jwt"
	"github.com/modforge/authcore/oauth"
	"github.com/modforge/authcore/password"
)

// Builder assembles an Engine. Each Builder builds at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountStore
	apiKeys   APIKeyStore
	notifier  Notifier
	providers []oauth.Provider

	auditSink AuditSink
	logger    *slog.Logger
	registry  prometheus.Registerer
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing single-use tokens, OAuth state and
// rate limits. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

func (b *Builder) WithAPIKeyStore(store APIKeyStore) *Builder {
	b.apiKeys = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithOAuthProviders(providers ...oauth.Provider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer registers engine counters with reg. Without it
// counters are kept but not exported.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithClock overrides time.Now for tokens, TOTP and timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.apiKeys == nil {
		return nil, errors.New("api key store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	metrics, err := NewMetrics(cfg.Metrics, b.registry)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	placeholder, err := newPlaceholderHash(hasher)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		PreAuthTTL:    cfg.JWT.PreAuthTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cloneKeys(cfg.JWT.VerifyKeys),
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}

	totp := newTOTPManager(cfg.TOTP)
	totp.now = clock

	prefix := cfg.RedisPrefix
	engine := &Engine{
		config:    cfg,
		accounts:  b.accounts,
		apiKeys:   b.apiKeys,
		notifier:  b.notifier,
		tokens:    tokens,
		hasher:    hasher,

		placeholderHash: placeholder,
		totp:      totp,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		providers: oauth.NewRegistry(b.providers...),

		verificationStore: stores.NewTokenStore(b.redis, prefix+":aev", cfg.EmailVerification.MaxAttempts),
		resetStore:        stores.NewTokenStore(b.redis, prefix+":apr", cfg.PasswordReset.MaxAttempts),
		oauthStateStore:   stores.NewTokenStore(b.redis, prefix+":aos", 1),

		loginLimiter:    newLimiter(b.redis, prefix+":rl:login", cfg.RateLimit.Login),
		registerLimiter: newLimiter(b.redis, prefix+":rl:register", cfg.RateLimit.Register),
		resetLimiter:    newLimiter(b.redis, prefix+":rl:reset", cfg.RateLimit.PasswordReset),
		resendLimiter:   newLimiter(b.redis, prefix+":rl:resend", cfg.RateLimit.ResendVerification),

		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "authcore")),
		clock:   clock,
	}
	engine.verificationStore.SetClock(clock)
	engine.resetStore.SetClock(clock)
	engine.oauthStateStore.SetClock(clock)

	b.built = true
	return engine, nil
}

// newPlaceholderHash hashes a random password with the live parameters.
func newPlaceholderHash(hasher *password.Hasher) (string, error) {
	secret, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	hash, err := hasher.Hash(secret.Raw)
	if err != nil {
		return "", fmt.Errorf("build placeholder hash: %w", err)
	}
	return hash, nil
}

func newLimiter(client redis.UniversalClient, prefix string, cfg LimitConfig) *limiters.FixedWindow {
	if cfg.Max <= 0 {
		return nil
	}
	return limiters.NewFixedWindow(client, prefix, limiters.WindowConfig{Max: cfg.Max, Window: cfg.Window})
}
