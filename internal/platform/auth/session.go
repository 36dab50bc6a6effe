package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

// Role distinguishes the two account kinds.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// ParseRole normalizes user input into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID uuid.UUID
	Role      Role
}

type contextKey string

const identityKey contextKey = "identity"

// CookieName is the session cookie.
const CookieName = "auth_token"

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller, if the request carried a valid
// session.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// SessionMiddleware resolves the session cookie, or a bearer token, into an
// Identity on the request context. Missing, malformed and expired tokens all
// leave the request anonymous; it never rejects a request itself.
func SessionMiddleware(tokens *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := sessionToken(c)
			if tokenStr == "" {
				return next(c)
			}

			sess, ok := tokens.VerifySession(tokenStr)
			if !ok {
				return next(c)
			}
			accountID, err := uuid.Parse(sess.AccountID)
			if err != nil {
				return next(c)
			}

			ctx := WithIdentity(c.Request().Context(), Identity{AccountID: accountID, Role: sess.Role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func sessionToken(c echo.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := IdentityFromContext(c.Request().Context()); !ok {
				return apperr.New(apperr.KindAuthRequired, "Authentication required")
			}
			return next(c)
		}
	}
}

// RequireRole rejects anonymous requests with 401 and callers holding none of
// roles with 403.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.New(apperr.KindAuthRequired, "Authentication required")
			}
			for _, r := range roles {
				if id.Role == r {
					return next(c)
				}
			}
			return apperr.New(apperr.KindForbidden, "Insufficient permissions")
		}
	}
}

// CookiePolicy decides the attributes of the session cookie.
type CookiePolicy struct {
	Secure   bool
	SameSite http.SameSite
	// RememberFor is the cookie lifetime when the caller asked to be
	// remembered. Without it the cookie lasts for the browser session.
	RememberFor time.Duration
}

// NewCookiePolicy relaxes SameSite outside production and requires Secure in
// production.
func NewCookiePolicy(production bool, rememberFor time.Duration) CookiePolicy {
	p := CookiePolicy{
		Secure:      false,
		SameSite:    http.SameSiteLaxMode,
		RememberFor: rememberFor,
	}
	if production {
		p.Secure = true
		p.SameSite = http.SameSiteStrictMode
	}
	return p
}

// SessionCookie builds the cookie carrying s.
func (p CookiePolicy) SessionCookie(s *IssuedSession) *http.Cookie {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	}
	if s.Persistent && p.RememberFor > 0 {
		cookie.MaxAge = int(p.RememberFor.Seconds())
		cookie.Expires = time.Now().Add(p.RememberFor)
	}
	return cookie
}

// ClearCookie expires the session cookie on the client.
func (p CookiePolicy) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

// CallerIdentity returns the request's Identity or an AuthRequired error.
func CallerIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, apperr.New(apperr.KindAuthRequired, "Authentication required")
	}
	return id, nil
}
