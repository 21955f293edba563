package storefront

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/httpx"
)

// Accounts signs users in against the backend.
type Accounts interface {
	Login(ctx context.Context, creds backend.Credentials) (backend.Session, error)
	Register(ctx context.Context, reg backend.Registration) (backend.Session, error)
}

// AccountHandlers serve login state for the session.
type AccountHandlers struct {
	sessions *SessionServices
	accounts Accounts
}

// NewAccountHandlers constructs the /session handlers.
func NewAccountHandlers(sessions *SessionServices, accounts Accounts) *AccountHandlers {
	return &AccountHandlers{sessions: sessions, accounts: accounts}
}

// Routes wires the /session endpoints onto the provided router.
func (h *AccountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.current)
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type sessionUser struct {
	Subject string   `json:"subject,omitempty"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Admin   bool     `json:"admin"`
}

type sessionPayload struct {
	Authenticated bool         `json:"authenticated"`
	Mode          cart.Mode    `json:"mode"`
	User          *sessionUser `json:"user,omitempty"`
	ExpiresAt     string       `json:"expiresAt,omitempty"`
}

func buildSessionPayload(claims auth.Claims, authenticated bool) sessionPayload {
	if !authenticated {
		return sessionPayload{Mode: cart.ModeGuest}
	}
	payload := sessionPayload{
		Authenticated: true,
		Mode:          cart.ModeUser,
		User: &sessionUser{
			Subject: claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Roles:   claims.Roles,
			Admin:   claims.HasRole(auth.RoleAdmin),
		},
	}
	if !claims.ExpiresAt.IsZero() {
		payload.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (h *AccountHandlers) current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := h.sessions.For(ctx)
	if err != nil {
		writeSessionUnavailable(ctx, w, err)
		return
	}
	claims, err := scope.Tokens.Claims(ctx)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"session": buildSessionPayload(claims, err == nil)})
}

func (h *AccountHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "email and password are required", http.StatusBadRequest))
		return
	}
	h.signIn(w, r, http.StatusOK, func(ctx context.Context) (backend.Session, error) {
		return h.accounts.Login(ctx, backend.Credentials{Email: req.Email, Password: req.Password})
	})
}

func (h *AccountHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "name, email and password are required", http.StatusBadRequest))
		return
	}
	h.signIn(w, r, http.StatusCreated, func(ctx context.Context) (backend.Session, error) {
		return h.accounts.Register(ctx, backend.Registration{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Phone:    strings.TrimSpace(req.Phone),
		})
	})
}

// signIn stores the issued token and migrates the guest cart. Migration failures are logged and never fail
// the login.
func (h *AccountHandlers) signIn(w http.ResponseWriter, r *http.Request, status int, call func(context.Context) (backend.Session, error)) {
	ctx := r.Context()
	scope, err := h.sessions.For(ctx)
	if err != nil {
		writeSessionUnavailable(ctx, w, err)
		return
	}

	session, err := call(ctx)
	if err != nil {
		writeAccountError(ctx, w, err)
		return
	}
	if err := scope.Tokens.Save(ctx, session.Token); err != nil {
		logger(ctx).Error("issued token rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "backend issued an unreadable token", http.StatusBadGateway))
		return
	}

	snap, err := scope.Cart.MigrateGuestCartToUser(ctx)
	if err != nil {
		logger(ctx).Warn("guest cart migration failed", zap.Error(err))
	}
	if err != nil || snap.Mode != cart.ModeUser {
		if loaded, lerr := scope.Cart.Load(ctx); lerr == nil {
			snap = loaded
		} else {
			logger(ctx).Warn("user cart load failed", zap.Error(lerr))
			snap = scope.Cart.Snapshot()
		}
	}

	claims, err := scope.Tokens.Claims(ctx)
	httpx.WriteJSON(w, status, map[string]any{
		"session": buildSessionPayload(claims, err == nil),
		"user":    session.User,
		"cart":    snap,
	})
}

func (h *AccountHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := h.sessions.For(ctx)
	if err != nil {
		writeSessionUnavailable(ctx, w, err)
		return
	}
	if err := scope.Tokens.Logout(ctx); err != nil {
		logger(ctx).Error("logout failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session is unavailable", http.StatusInternalServerError))
		return
	}
	snap, err := scope.Cart.LoadGuestCart(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session": buildSessionPayload(auth.Claims{}, false),
		"cart":    snap,
	})
}

func writeAccountError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password is incorrect", http.StatusUnauthorized))
			return
		case apiErr.Status == http.StatusConflict:
			httpx.WriteError(ctx, w, httpx.NewError("account_exists", apiErr.Message, http.StatusConflict))
			return
		case apiErr.Status >= 400 && apiErr.Status < 500:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", apiErr.Message, http.StatusBadRequest))
			return
		}
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger(ctx).Error("account request failed", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "account service is unavailable", http.StatusBadGateway))
}
