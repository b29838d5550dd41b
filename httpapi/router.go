// Package httpapi exposes authcore.Engine over HTTP with chi.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/middleware"
)

// Config wires the router. Engine is required; nil Health, Logger and
// Registry get working defaults.
type Config struct {
	Engine      *authcore.Engine
	Health      *Health
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	CORS        CORSConfig
	FrontendURL string
	ServiceName string
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
}

// NewRouter returns the authd HTTP handler.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	health := cfg.Health
	if health == nil {
		health = NewHealth()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "authd"
	}
	metrics := newHTTPMetrics(registry)

	r := chi.NewRouter()

	r.Use(Recovery(log))
	r.Use(RequestLogging(log))
	r.Use(Tracing(service))
	r.Use(metrics.middleware)
	r.Use(CORS(cfg.CORS))

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	auth := &authHandler{engine: cfg.Engine}
	keys := &apiKeyHandler{engine: cfg.Engine}
	federated := &oauthHandler{engine: cfg.Engine, frontendURL: cfg.FrontendURL}
	requireIdentity := middleware.RequireIdentity(unauthorized)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ClientIP(cfg.TrustProxy))
		r.Use(middleware.Gate(cfg.Engine, middleware.GateConfig{Logger: log, Unauthorized: unauthorized}))
		r.Use(RequestLogger(log))

		r.Route("/auth", func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/register", auth.Register)
			r.Post("/verify", auth.Verify)
			r.Post("/forgot-password", auth.ForgotPassword)
			r.Post("/reset-password", auth.ResetPassword)
			r.Post("/signin", auth.SignIn)
			r.Post("/mfa/validate-login", auth.ValidateLogin)
			r.Post("/refresh", auth.Refresh)
			r.Post("/signout", auth.SignOut)

			r.Get("/oauth/{provider}", federated.Begin)
			r.Get("/oauth/{provider}/callback", federated.Callback)

			r.Group(func(r chi.Router) {
				r.Use(requireIdentity)

				r.Get("/me", auth.Me)
				r.Delete("/me", auth.DeleteMe)
				r.Post("/resend-verification", auth.ResendVerification)
				r.Put("/credentials", auth.SetCredentials)
				r.Post("/change-password", auth.ChangePassword)
				r.Get("/mfa/setup", auth.SetupMFA)
				r.Post("/mfa/verify", auth.VerifyMFA)
				r.Post("/mfa/disable", auth.DisableMFA)
				r.Post("/oauth/{provider}/link", federated.Link)
			})
		})

		r.Route("/api/v1/keys", func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Use(requireIdentity)

			r.Get("/", keys.List)
			r.Post("/", keys.Create)
			r.Delete("/{id}", keys.Revoke)
		})
	})

	return r
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	writeAppError(w, r, authcore.ErrUnauthorized)
}
