package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/internal/logger"
	"github.com/modforge/authcore/oauth"
)

// oauthCompletePath is the frontend page that receives the outcome of a
// provider callback.
const oauthCompletePath = "/oauth/complete"

type oauthHandler struct {
	engine      *authcore.Engine
	frontendURL string
}

// Begin handles GET /auth/oauth/{provider}. Browsers reach it by top-level
// navigation, which carries no bearer token, so this is the login flow
// unless the request happens to be authenticated.
func (h *oauthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	current, _ := authcore.IdentityFromContext(r.Context())
	target, err := h.engine.BeginOAuth(r.Context(), chi.URLParam(r, "provider"), current)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Link handles POST /auth/oauth/{provider}/link. The state is bound to the
// signed-in account and the provider URL is returned as JSON for the
// frontend to navigate to.
func (h *oauthHandler) Link(w http.ResponseWriter, r *http.Request) {
	current, ok := authcore.IdentityFromContext(r.Context())
	if !ok {
		writeAppError(w, r, authcore.ErrUnauthorized)
		return
	}
	target, err := h.engine.BeginOAuth(r.Context(), chi.URLParam(r, "provider"), current)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, oauthLinkResponse{URL: target})
}

// Callback handles GET /auth/oauth/{provider}/callback and redirects the
// browser back to the frontend with the access token in the URL fragment.
func (h *oauthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		h.redirect(w, r, url.Values{"error": {"access_denied"}}, nil)
		return
	}

	result, err := h.engine.CompleteOAuth(ctx, provider, q.Get("state"), q.Get("code"))
	if err != nil {
		reason := "login_failure"
		switch {
		case errors.Is(err, authcore.ErrAccountCollision):
			reason = "account_collision"
		case errors.Is(err, authcore.ErrInvalidOrExpiredToken):
			reason = "invalid_state"
		case errors.Is(err, oauth.ErrUnknownProvider):
			writeAppError(w, r, err)
			return
		default:
			logger.FromContext(ctx).ErrorContext(ctx, "oauth callback failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		h.redirect(w, r, url.Values{"error": {reason}, "provider": {provider}}, nil)
		return
	}

	query := url.Values{"outcome": {string(result.Outcome)}, "provider": {provider}}
	if result.AccessToken == "" {
		h.redirect(w, r, query, nil)
		return
	}
	h.engine.SetTokenCookie(w, r, result.RefreshToken)
	h.redirect(w, r, query, url.Values{"access_token": {result.AccessToken}})
}

func (h *oauthHandler) redirect(w http.ResponseWriter, r *http.Request, query, fragment url.Values) {
	if h.frontendURL == "" {
		status := http.StatusOK
		if query.Get("error") != "" {
			status = http.StatusBadRequest
		}
		data := map[string]string{}
		for k := range query {
			data[k] = query.Get(k)
		}
		for k := range fragment {
			data[k] = fragment.Get(k)
		}
		writeData(w, status, data)
		return
	}

	target := strings.TrimSuffix(h.frontendURL, "/") + oauthCompletePath + "?" + query.Encode()
	if len(fragment) > 0 {
		target += "#" + fragment.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
