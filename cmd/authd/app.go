package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/httpapi"
	"github.com/modforge/authcore/internal/tracing"
	"github.com/modforge/authcore/metrics"
	"github.com/modforge/authcore/notify"
	"github.com/modforge/authcore/oauth"
	"github.com/modforge/authcore/store/postgres"
)

const serviceName = "authd"

// App wires together all dependencies and runs authd.
type App struct {
	cfg            *Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	db             *sql.DB
	redis          *redis.Client
	kafka          *notify.KafkaNotifier
	engine         *authcore.Engine
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app := &App{cfg: cfg, logger: logger}
	if err := app.init(ctx); err != nil {
		app.closeResources()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	tracerShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	a.pool, err = postgres.Connect(ctx, postgres.PoolConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	a.db = stdlib.OpenDBFromPool(a.pool)
	if err := postgres.Migrate(ctx, a.db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	var notifier authcore.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			Source:      serviceName,
			FrontendURL: cfg.FrontendURL,
		}, logger)
		notifier = a.kafka
		logger.Info("kafka notifier initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		notifier = notify.NewLogNotifier(logger, cfg.FrontendURL)
		logger.Warn("KAFKA_BROKERS not set, notifications are only logged")
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineCfg := cfg.EngineConfig()
	store := postgres.New(a.pool)
	a.engine, err = authcore.New().
		WithConfig(engineCfg).
		WithRedis(a.redis).
		WithAccountStore(store).
		WithAPIKeyStore(store).
		WithNotifier(notifier).
		WithOAuthProviders(providers...).
		WithAuditSink(authcore.NewSlogSink(logger)).
		WithLogger(logger).
		WithMetricsRegisterer(registry).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	registry.MustRegister(metrics.NewCollector(engineCfg.Metrics.Namespace, a.engine))

	health := httpapi.NewHealth()
	health.Register("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	health.Register("redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	if a.kafka != nil {
		health.Register("kafka", a.kafka.Ping)
	}

	router := httpapi.NewRouter(httpapi.Config{
		Engine:   a.engine,
		Health:   health,
		Logger:   logger,
		Registry: registry,
		CORS: httpapi.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		FrontendURL: cfg.FrontendURL,
		ServiceName: serviceName,
		TrustProxy:  cfg.TrustProxy,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// buildProviders returns the OAuth providers whose client id is configured.
func buildProviders(ctx context.Context, cfg *Config, logger *slog.Logger) ([]oauth.Provider, error) {
	var providers []oauth.Provider

	if cfg.GitHubClientID != "" {
		p, err := oauth.NewGitHub(oauth.Credentials{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.DiscordClientID != "" {
		p, err := oauth.NewDiscord(oauth.Credentials{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.OIDCClientID != "" {
		p, err := oauth.NewOIDC(ctx, cfg.OIDCName, cfg.OIDCIssuerURL, oauth.Credentials{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	for _, p := range providers {
		logger.Info("oauth provider enabled", slog.String("provider", p.Name()))
	}
	return providers, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown stops components in dependency order: HTTP drain, span flush,
// audit flush, notifier, then the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything init may have opened. Nil fields are
// skipped so it also cleans up after a partial init.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.engine.Close()

	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("kafka notifier close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
