package authcore

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/modforge/authcore/jwt"
)

// TokenType mirrors jwt.TokenType so callers need not import the jwt package.
type TokenType = jwt.TokenType

const (
	TokenAccess  = jwt.TypeAccess
	TokenRefresh = jwt.TypeRefresh
	TokenPreAuth = jwt.TypePreAuth
)

// Claims is the parsed payload of any token the engine issues.
type Claims = jwt.Claims

// GenerateAccessToken mints a short-lived access token carrying the
// account's tier and roles.
func (e *Engine) GenerateAccessToken(account *Account) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	if account == nil || account.ID == "" {
		return "", ErrUnauthorized
	}
	return e.tokens.CreateAccess(account.ID, account.Tier, account.Roles)
}

// GenerateRefreshToken mints a refresh token. Refresh tokens stay valid
// until expiry; there is no revocation list.
func (e *Engine) GenerateRefreshToken(account *Account) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	if account == nil || account.ID == "" {
		return "", ErrUnauthorized
	}
	return e.tokens.CreateRefresh(account.ID)
}

// GeneratePreAuthToken mints the token that proves a completed password
// step while the second factor is outstanding.
func (e *Engine) GeneratePreAuthToken(accountID string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	return e.tokens.CreatePreAuth(accountID)
}

// ValidateToken parses token and checks its type. An empty expected type
// accepts any type the engine issues. Errors are ErrTokenExpired or
// ErrTokenInvalid.
func (e *Engine) ValidateToken(token string, expected TokenType) (*Claims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid
	}
	return e.tokens.Parse(token, expected)
}

// IsRefreshToken checks the signed type claim only. Expiry is ignored.
func (e *Engine) IsRefreshToken(token string) bool {
	if e == nil || e.tokens == nil {
		return false
	}
	typ, ok := e.tokens.PeekType(token)
	return ok && typ == TokenRefresh
}

// GetUserIDFromToken returns the subject of a valid access token. Refresh
// and pre-auth tokens are rejected with ErrTokenInvalid.
func (e *Engine) GetUserIDFromToken(token string) (string, error) {
	claims, err := e.ValidateToken(token, TokenAccess)
	if err != nil {
		return "", err
	}
	return claims.UserID(), nil
}

// ValidatePreAuthToken resolves a pre-auth token to its active account.
func (e *Engine) ValidatePreAuthToken(ctx context.Context, token string) (*Account, bool) {
	claims, err := e.ValidateToken(token, TokenPreAuth)
	if err != nil {
		return nil, false
	}
	account, err := e.activeAccount(ctx, claims.UserID())
	if err != nil {
		return nil, false
	}
	return account, true
}

// SetTokenCookie writes the refresh token cookie. Its domain is the
// registrable domain of the frontend URL so sibling subdomains share it;
// without a usable frontend URL the request host is used instead.
func (e *Engine) SetTokenCookie(w http.ResponseWriter, r *http.Request, refreshToken string) {
	http.SetCookie(w, e.refreshCookie(r, refreshToken, int(e.config.JWT.RefreshTTL.Seconds())))
}

// ClearTokenCookie expires the refresh token cookie.
func (e *Engine) ClearTokenCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, e.refreshCookie(r, "", -1))
}

// RefreshTokenFromRequest returns the refresh cookie value, if any.
func (e *Engine) RefreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(e.config.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (e *Engine) refreshCookie(r *http.Request, value string, maxAge int) *http.Cookie {
	path := e.config.Cookie.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     e.config.Cookie.Name,
		Value:    value,
		Path:     path,
		Domain:   e.CookieDomain(r),
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}

// CookieDomain returns the Domain attribute for the refresh cookie, or ""
// for a host-only cookie.
func (e *Engine) CookieDomain(r *http.Request) string {
	if e.config.Cookie.FrontendURL != "" {
		if u, err := url.Parse(e.config.Cookie.FrontendURL); err == nil && u.Hostname() != "" {
			return rootDomain(u.Hostname())
		}
	}
	if r == nil {
		return ""
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return rootDomain(host)
}

// rootDomain keeps the last two labels: app.example.com -> example.com.
// IP addresses and single-label hosts yield "".
func rootDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
