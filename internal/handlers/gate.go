package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/types"
)

// Outcome is the result of a gate.
type Outcome int

const (
	// Proceed lets the request through with verified claims attached.
	Proceed Outcome = iota
	// LoginRequired means no session token was presented.
	LoginRequired
	// SessionExpired means the token was genuine but past its expiry.
	SessionExpired
	// InvalidToken means the token was malformed or its signature did not verify.
	InvalidToken
	// Forbidden means the caller is authenticated but lacks the role.
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case LoginRequired:
		return "login_required"
	case SessionExpired:
		return "session_expired"
	case InvalidToken:
		return "invalid_token"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision is what a gate returns: either Proceed with Claims, or an outcome
// that short-circuits the request.
type Decision struct {
	Outcome Outcome
	Claims  auth.Claims
	// Err classifies a rejection: an auth.ErrToken error for expired or
	// invalid tokens, auth.ErrForbidden for a failed role gate.
	Err error
}

// TokenVerifier checks session tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// RoleGate inspects claims produced by the authentication gate. It takes
// verified claims as its argument, so it can only run after authentication.
type RoleGate func(claims auth.Claims) Decision

// RequireRole allows only claims carrying role.
func RequireRole(role types.Role) RoleGate {
	return func(claims auth.Claims) Decision {
		if claims.Role != role {
			return Decision{Outcome: Forbidden, Err: auth.ErrForbidden}
		}
		return Decision{Outcome: Proceed, Claims: claims}
	}
}

// Gates builds the authentication gate and composes it with role gates.
type Gates struct {
	verifier   TokenVerifier
	cookieName string
	loginPath  string
}

func NewGates(verifier TokenVerifier, cookieName, loginPath string) *Gates {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &Gates{verifier: verifier, cookieName: cookieName, loginPath: loginPath}
}

// Authenticate verifies the session token carried by r. The cookie is
// preferred; an Authorization bearer token is accepted as a fallback.
func (g *Gates) Authenticate(r *http.Request) Decision {
	token := g.tokenFromRequest(r)
	if token == "" {
		return Decision{Outcome: LoginRequired}
	}

	claims, err := g.verifier.Verify(token)
	switch {
	case err == nil:
		return Decision{Outcome: Proceed, Claims: claims}
	case errors.Is(err, auth.ErrTokenExpired):
		return Decision{Outcome: SessionExpired, Err: err}
	default:
		return Decision{Outcome: InvalidToken, Err: err}
	}
}

// Evaluate runs the authentication gate and then each role gate in order,
// stopping at the first one that does not proceed.
func (g *Gates) Evaluate(r *http.Request, roles ...RoleGate) Decision {
	decision := g.Authenticate(r)
	if decision.Outcome != Proceed {
		return decision
	}
	for _, gate := range roles {
		next := gate(decision.Claims)
		if next.Outcome != Proceed {
			return next
		}
	}
	return decision
}

// Protect returns middleware that applies Evaluate and attaches the
// verified claims to the request context.
func (g *Gates) Protect(roles ...RoleGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.Evaluate(r, roles...)
			if decision.Outcome != Proceed {
				g.reject(w, decision)
				return
			}
			ctx := context.WithValue(r.Context(), contextClaimsKey, decision.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims attached by Protect.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(auth.Claims)
	return claims, ok
}

func (g *Gates) reject(w http.ResponseWriter, decision Decision) {
	switch decision.Outcome {
	case Forbidden:
		writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
	case SessionExpired:
		clearSessionCookie(w, g.cookieName)
		w.Header().Set("Location", g.loginPath)
		writeError(w, http.StatusUnauthorized, "session expired, please log in again")
	case InvalidToken:
		clearSessionCookie(w, g.cookieName)
		w.Header().Set("Location", g.loginPath)
		writeError(w, http.StatusUnauthorized, "invalid token, please log in again")
	default:
		w.Header().Set("Location", g.loginPath)
		writeError(w, http.StatusUnauthorized, "login required")
	}
}

func (g *Gates) tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(g.cookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	token, err := bearerToken(r)
	if err != nil {
		return ""
	}
	return token
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
