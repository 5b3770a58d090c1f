package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumonote/service-auth-go/internal/session"
)

// SessionCookieName carries the opaque session identifier.
const SessionCookieName = "session_id"

// Handler exposes the HTTP endpoints for the credential lifecycle:
// register, login, logout, auth check, forgot password, reset password.
type Handler struct {
	svc      *AuthService
	sessions *session.Store
	logger   *zap.SugaredLogger

	// cookieTTL mirrors the session store's sliding TTL so the cookie
	// and the server-side entry expire together.
	cookieTTL time.Duration
}

func NewHandler(db *sqlx.DB, sessions *session.Store, cookieTTL time.Duration, logger *zap.SugaredLogger) *Handler {
	if cookieTTL <= 0 {
		cookieTTL = session.DefaultTTL
	}
	svc := NewAuthService(db, nil, nil)
	return &Handler{svc: svc, sessions: sessions, logger: logger, cookieTTL: cookieTTL}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest login payload; same shape as registration.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotRequest payload for forgot-password.
type ForgotRequest struct {
	Email string `json:"email"`
}

// ResetRequest payload for reset-password.
type ResetRequest struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request payload."})
		return
	}
	id, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Email already registered."})
		case errors.Is(err, ErrValidation):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Email and a password of 8 to 72 characters are required."})
		default:
			h.logger.Errorw("register failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration successful.",
		"userId":  id,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request payload."})
		return
	}
	userID, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownEmail):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "No account found for that email."})
		case errors.Is(err, ErrInvalidPassword):
			h.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Incorrect password."})
		case errors.Is(err, ErrCorruptCredential):
			h.logger.Errorw("corrupt credential on login", "email", req.Email)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		default:
			h.logger.Errorw("login failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		}
		return
	}

	// the session is bound only after verification succeeded
	sid, err := h.sessions.Create(userID)
	if err != nil {
		h.logger.Errorw("create session", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		return
	}
	h.setSessionCookie(w, r, sid)
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "Login successful."})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "No active session."})
		return
	}
	// destroying an already-gone session is fine; logout is idempotent
	h.sessions.Destroy(cookie.Value)
	h.clearSessionCookie(w, r)
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully."})
}

func (h *Handler) AuthCheck(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}
	userID, ok := h.sessions.Get(cookie.Value)
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"loggedIn": true, "userId": userID})
}

func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid forgot payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request payload."})
		return
	}
	token, err := h.svc.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownEmail):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "No account found for that email."})
		default:
			h.logger.Errorw("forgot password failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		}
		return
	}
	// prototype shortcut: the token is surfaced to the requester
	// instead of delivered out-of-band
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Password reset token generated.",
		"resetToken": token,
	})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid reset payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request payload."})
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrExpiredToken):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid or expired reset token."})
		case errors.Is(err, ErrValidation):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Password must be 8 to 72 characters."})
		case errors.Is(err, ErrUpdateFailed):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid or expired reset token."})
		default:
			h.logger.Errorw("reset password failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error."})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "Password has been reset successfully."})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, r *http.Request, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(h.cookieTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
