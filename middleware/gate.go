package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/internal/logger"
)

const (
	DefaultAPIPrefix = "/api/"
	DefaultKeyHeader = "X-API-Key"
)

// Authenticator is the slice of *authcore.Engine the gate depends on.
type Authenticator interface {
	ResolveKey(ctx context.Context, raw string) (*authcore.APIKey, error)
	GetUserFromKey(ctx context.Context, key *authcore.APIKey) (*authcore.Account, error)
	ValidateToken(token string, expected authcore.TokenType) (*authcore.Claims, error)
}

// GateConfig configures Gate. Zero values pick the defaults above.
type GateConfig struct {
	APIPrefix string
	KeyHeader string
	Logger    *slog.Logger
	// Unauthorized writes the rejection for a bad API key. Defaults to a
	// JSON 401.
	Unauthorized http.HandlerFunc
}

// Gate resolves the request identity. Under the API prefix a present
// API key must resolve or the request is rejected with 401. Otherwise a
// bearer access token is tried; a bad or expired bearer leaves the request
// anonymous. Whether a route needs an identity is left to RequireIdentity.
//
// Bearer tokens are checked without touching the account store, so an
// account soft-deleted after its access token was issued keeps bearer
// access until that token expires (JWT.AccessTTL, 15 minutes by default).
// API keys load their owner on every request and stop working immediately.
func Gate(auth Authenticator, cfg GateConfig) func(http.Handler) http.Handler {
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	header := cfg.KeyHeader
	if header == "" {
		header = DefaultKeyHeader
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reject := cfg.Unauthorized
	if reject == nil {
		reject = writeUnauthorized
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := strings.TrimSpace(r.Header.Get(header)); raw != "" && strings.HasPrefix(r.URL.Path, prefix) {
				id, err := identityFromKey(ctx, auth, raw)
				if err != nil {
					if !errors.Is(err, authcore.ErrUnauthorized) {
						log.ErrorContext(ctx, "api key resolution failed", slog.String("error", err.Error()))
					}
					reject(w, r)
					return
				}
				next.ServeHTTP(w, r.WithContext(withIdentity(ctx, id)))
				return
			}

			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				claims, err := auth.ValidateToken(token, authcore.TokenAccess)
				if err != nil {
					log.DebugContext(ctx, "bearer token ignored", slog.String("reason", err.Error()))
				} else {
					id := &authcore.Identity{
						AccountID: claims.UserID(),
						Tier:      claims.Tier,
						Roles:     claims.Roles,
						Source:    authcore.SourceToken,
					}
					ctx = withIdentity(ctx, id)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromKey(ctx context.Context, auth Authenticator, raw string) (*authcore.Identity, error) {
	key, err := auth.ResolveKey(ctx, raw)
	if err != nil {
		return nil, err
	}
	owner, err := auth.GetUserFromKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &authcore.Identity{
		AccountID: owner.ID,
		Tier:      key.Tier,
		Roles:     owner.Roles,
		Source:    authcore.SourceAPIKey,
		APIKeyID:  key.ID,
	}, nil
}

func withIdentity(ctx context.Context, id *authcore.Identity) context.Context {
	ctx = authcore.WithIdentity(ctx, id)
	return logger.WithAccountID(ctx, id.AccountID)
}

// RequireIdentity rejects anonymous requests. A nil unauthorized handler
// writes the default JSON 401.
func RequireIdentity(unauthorized http.HandlerFunc) func(http.Handler) http.Handler {
	if unauthorized == nil {
		unauthorized = writeUnauthorized
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := authcore.IdentityFromContext(r.Context()); !ok {
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP records the caller address for the engine's throttles and
// audit events. With trustProxy the first X-Forwarded-For hop wins.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r.RemoteAddr)
			if trustProxy {
				if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
					first, _, _ := strings.Cut(fwd, ",")
					if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
						ip = parsed.String()
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(authcore.WithClientIP(r.Context(), ip)))
		})
	}
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) <= len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"authentication required"}}`))
}
