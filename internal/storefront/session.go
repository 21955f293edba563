package storefront

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultCookieName = "storefront_session"
	defaultLifetime   = 30 * 24 * time.Hour
)

// ErrInvalidSessionConfig indicates the session manager was built without usable keys.
var ErrInvalidSessionConfig = errors.New("storefront: invalid session config")

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    []byte
	BlockKey   []byte
	Secure     bool
	Lifetime   time.Duration
	Now        func() time.Time
	NewID      func() string
}

// SessionManager issues and reads the signed cookie that carries a browser's session ID.
type SessionManager struct {
	cfg   SessionConfig
	codec *securecookie.SecureCookie
}

type sessionCookie struct {
	ID       string `json:"id"`
	IssuedAt int64  `json:"iat"`
}

// NewSessionManager validates cfg and builds the cookie codec.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if len(cfg.HashKey) < 32 {
		return nil, fmt.Errorf("%w: hash key must be at least 32 bytes", ErrInvalidSessionConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidSessionConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return ulid.Make().String() }
	}

	var block []byte
	if len(cfg.BlockKey) > 0 {
		block = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, block)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime / time.Second))

	return &SessionManager{cfg: cfg, codec: codec}, nil
}

// Middleware resolves the session ID from the cookie, issuing a new session when the cookie is absent,
// tampered with or expired, and records it on the request context and its logger.
func (m *SessionManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, ok := m.read(r)
			if !ok {
				id = m.cfg.NewID()
				if err := m.write(w, id); err != nil {
					requestctx.Logger(ctx).Error("session cookie encode failed", zap.Error(err))
				}
			}
			ctx = requestctx.WithSessionID(ctx, id)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(
				zap.String("session_id", observability.SanitizeSessionID(id)),
			))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *SessionManager) read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", false
	}
	var stored sessionCookie
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil {
		return "", false
	}
	if _, err := ulid.ParseStrict(stored.ID); err != nil {
		return "", false
	}
	return stored.ID, true
}

func (m *SessionManager) write(w http.ResponseWriter, id string) error {
	now := m.cfg.Now()
	encoded, err := m.codec.Encode(m.cfg.CookieName, sessionCookie{ID: id, IssuedAt: now.Unix()})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     "/",
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(m.cfg.Lifetime).UTC(),
		MaxAge:   int(m.cfg.Lifetime / time.Second),
	})
	return nil
}
