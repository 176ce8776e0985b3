package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/qanda/internal/model"
)

// CookieName is the HttpOnly cookie holding the session token.
const CookieName = "token"

// contextKey is unexported so only this package can set or read principals
// in a request context.
type contextKey string

const (
	principalKey contextKey = "principal"
	tokenKey     contextKey = "token"
)

// Resolver turns a raw session token into the signed-in principal.
// The identity provider implements it; returning an error means "anonymous".
type Resolver interface {
	Authenticate(ctx context.Context, token string) (*model.Principal, error)
}

// ErrNoToken means the request carried neither the cookie nor a Bearer header.
var ErrNoToken = errors.New("auth: no session token")

// RequireAuth rejects requests without a valid session with 401 and otherwise
// stores the principal in the request context.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, resolver)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the principal when the session is valid and lets the
// request through either way. Services then decide what an anonymous caller
// may do, so "please log in" messages come from the domain, not the router.
func OptionalAuth(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, err := authenticate(r, resolver); err == nil {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the signed-in principal, or nil when the
// request is anonymous.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey).(*model.Principal)
	return p
}

// TokenFromContext returns the raw session token the principal was resolved
// from. Logout needs it to revoke the session.
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// WithPrincipal returns ctx carrying p. Tests use it to fake a signed-in user
// without minting a token.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// TokenFromRequest reads the session token from the cookie, falling back to
// an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return token, nil
		}
	}
	// EventSource can't set headers, so the stream may pass it as a query param.
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

func authenticate(r *http.Request, resolver Resolver) (context.Context, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	p, err := resolver.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(r.Context(), principalKey, p)
	return context.WithValue(ctx, tokenKey, token), nil
}
