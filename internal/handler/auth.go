package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/service"
)

// Identity is what the auth endpoints need from the identity provider.
type Identity interface {
	CreateAccount(ctx context.Context, name, email, password string) (*service.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*service.AuthResult, error)
	SignOut(ctx context.Context, token string) error
	GoogleAuthURL(state string) (string, error)
	SignInFederated(ctx context.Context, code string) (*service.AuthResult, error)
	VerifyEmail(ctx context.Context, token string) (*model.Principal, error)
}

const stateCookieName = "oauth_state"

// AuthHandler serves registration, login, logout, Google sign-in and the
// email verification link.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin → check credentials, set the session cookie
//   - HandleLogout                 → revoke the session, clear the cookie
//   - HandleGoogleLogin            → redirect to Google's consent screen
//   - HandleGoogleCallback         → verify state, sign in, set the cookie
//   - HandleVerify                 → consume an emailed verification link
type AuthHandler struct {
	identity     Identity
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. cookieSecure should be true
// whenever the service is reached over HTTPS.
func NewAuthHandler(identity Identity, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		identity:     identity,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned on every successful sign-in. The token is
// also set as an HttpOnly cookie; API clients can send it as a Bearer header.
type SessionResponse struct {
	User      *model.Principal `json:"user"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// HandleRegister creates an email + password account.
//
// HTTP: POST /auth/register  {"name":"...","email":"...","password":"..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.identity.CreateAccount(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res)
	writeJSON(w, http.StatusCreated, sessionResponse(res))
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /auth/login  {"email":"...","password":"..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res)
	writeJSON(w, http.StatusOK, sessionResponse(res))
}

// HandleLogout revokes the session and deletes the cookie.
//
// HTTP: POST /auth/logout
//
// WHY REVOKE?
// Deleting the cookie only affects this browser. Revoking the token's ID
// also stops any copy of the token, until it would have expired anyway.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token, err := auth.TokenFromRequest(r); err == nil {
		if err := h.identity.SignOut(r.Context(), token); err != nil {
			h.logger.Error("logout: revoking session failed", slog.String("error", err.Error()))
			writeError(w, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleGoogleLogin redirects the browser to Google.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived cookie and sent to Google;
// the callback only proceeds if both come back equal.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	target, err := h.identity.GoogleAuthURL(state)
	if err != nil {
		if errors.Is(err, service.ErrGoogleDisabled) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "google sign-in is not enabled",
			})
			return
		}
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes Google sign-in.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: state mismatch")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid OAuth state"})
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "missing OAuth code"})
		return
	}

	res, err := h.identity.SignInFederated(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: sign-in failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "authentication failed"})
		return
	}

	h.setSessionCookie(w, res)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleVerify consumes the link from a verification email.
//
// HTTP: GET /auth/verify?token=...
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "missing verification token"})
		return
	}

	p, err := h.identity.VerifyEmail(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "email verified", "user": p})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, res *service.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		MaxAge:   int(time.Until(res.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionResponse(res *service.AuthResult) SessionResponse {
	return SessionResponse{User: res.Principal, Token: res.Token, ExpiresAt: res.ExpiresAt}
}
