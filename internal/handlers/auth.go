package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/internal/store"
	"github.com/authgate/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	DefaultCookieName = "token"
	DefaultLoginPath  = "/auth/login"
)

// CookieConfig controls the session cookie. Secure is left to deployment.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler provides registration, login and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	challenges  *auth.ChallengeGenerator
	sealer      *auth.ChallengeSealer
	cookie      CookieConfig
	log         logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	authService *services.AuthService,
	userService *services.UserService,
	challenges *auth.ChallengeGenerator,
	sealer *auth.ChallengeSealer,
	cookie CookieConfig,
	log logging.Logger,
) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &AuthHandler{
		authService: authService,
		userService: userService,
		challenges:  challenges,
		sealer:      sealer,
		cookie:      cookie,
		log:         log,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, gates *Gates) {
	r.Get("/challenge", handler.Challenge)
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(gates.Protect()).Get("/me", handler.Me)
}

// Challenge issues a fresh prompt and the sealed token that must be sent
// back with the answer.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	challenge := h.challenges.Generate()
	token, err := h.sealer.Seal(challenge)
	if err != nil {
		h.log.Error(r.Context(), "seal challenge", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create challenge")
		return
	}
	writeJSON(w, http.StatusOK, ChallengeResponse{Prompt: challenge.Prompt, ChallengeToken: token})
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	submitted, expected, err := h.sealer.Redeem(r.Context(), req.ChallengeToken, req.Captcha)
	if err != nil {
		h.log.Error(r.Context(), "redeem challenge", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	account, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username:          req.Username,
		Email:             req.Email,
		Password:          req.Password,
		ChallengeAnswer:   submitted,
		ChallengeExpected: expected,
	})
	if err != nil {
		h.writeAuthError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{User: account})
}

// Login verifies credentials and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	submitted, expected, err := h.sealer.Redeem(r.Context(), req.ChallengeToken, req.Captcha)
	if err != nil {
		h.log.Error(r.Context(), "redeem challenge", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	result, err := h.authService.Login(r.Context(), services.LoginInput{
		Email:             req.Email,
		Password:          req.Password,
		ChallengeAnswer:   submitted,
		ChallengeExpected: expected,
	})
	if err != nil {
		h.writeAuthError(r.Context(), w, err)
		return
	}

	expiresAt := result.Token.Claims.ExpiresAtInstant()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    result.Token.Value,
		Path:     "/",
		Expires:  expiresAt.Time(),
		MaxAge:   int(expiresAt.Sub(result.Token.Claims.IssuedAtInstant()).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, LoginResponse{User: result.Account, ExpiresAt: expiresAt})
}

// Logout clears the session cookie. The token itself stays valid until it
// expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, h.cookie.Name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	account, err := h.userService.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		h.log.Error(r.Context(), "load current user", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		User:      account,
		IssuedAt:  claims.IssuedAtInstant(),
		ExpiresAt: claims.ExpiresAtInstant(),
	})
}

func (h *AuthHandler) writeAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, auth.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	default:
		h.log.Error(ctx, "auth request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

type ChallengeResponse struct {
	Prompt         string `json:"prompt"`
	ChallengeToken string `json:"challenge_token"`
}

type RegisterRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Captcha        string `json:"captcha"`
	ChallengeToken string `json:"challenge_token"`
}

type LoginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Captcha        string `json:"captcha"`
	ChallengeToken string `json:"challenge_token"`
}

type AccountResponse struct {
	User types.Account `json:"user"`
}

type LoginResponse struct {
	User      types.Account `json:"user"`
	ExpiresAt types.Instant `json:"expires_at"`
}

type MeResponse struct {
	User      types.Account `json:"user"`
	IssuedAt  types.Instant `json:"issued_at"`
	ExpiresAt types.Instant `json:"expires_at"`
}
