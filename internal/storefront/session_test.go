package storefront

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/storefront/internal/platform/requestctx"
)

func newSessionHandler(t *testing.T, cfg SessionConfig) (http.Handler, *[]string) {
	t.Helper()
	manager, err := NewSessionManager(cfg)
	require.NoError(t, err)
	seen := &[]string{}
	return manager.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = append(*seen, requestctx.SessionID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})), seen
}

func TestNewSessionManagerValidatesKeys(t *testing.T) {
	_, err := NewSessionManager(SessionConfig{HashKey: []byte("short")})
	require.ErrorIs(t, err, ErrInvalidSessionConfig)

	_, err = NewSessionManager(SessionConfig{HashKey: bytes.Repeat([]byte("h"), 32), BlockKey: []byte("odd")})
	require.ErrorIs(t, err, ErrInvalidSessionConfig)

	_, err = NewSessionManager(SessionConfig{HashKey: bytes.Repeat([]byte("h"), 32), BlockKey: bytes.Repeat([]byte("b"), 16)})
	require.NoError(t, err)
}

func TestSessionMiddlewareIssuesAndReusesCookie(t *testing.T) {
	handler, seen := newSessionHandler(t, SessionConfig{HashKey: bytes.Repeat([]byte("h"), 32), Secure: true})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, defaultCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)
	_, err := ulid.ParseStrict((*seen)[0])
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Result().Cookies())
	require.Equal(t, (*seen)[0], (*seen)[1])
}

func TestSessionMiddlewareReplacesTamperedCookie(t *testing.T) {
	handler, seen := newSessionHandler(t, SessionConfig{HashKey: bytes.Repeat([]byte("h"), 32)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	original := rec.Result().Cookies()[0]

	forged := *original
	forged.Value = original.Value[:len(original.Value)-4] + "AAAA"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&forged)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, rec.Result().Cookies(), 1)
	require.Len(t, *seen, 2)
	require.NotEqual(t, (*seen)[0], (*seen)[1])
}

func TestSessionMiddlewareRejectsCookieFromOtherKey(t *testing.T) {
	issuer, _ := newSessionHandler(t, SessionConfig{HashKey: bytes.Repeat([]byte("a"), 32)})
	rec := httptest.NewRecorder()
	issuer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	handler, seen := newSessionHandler(t, SessionConfig{HashKey: bytes.Repeat([]byte("b"), 32)})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, rec.Result().Cookies(), 1)
	require.Len(t, *seen, 1)
}

func TestSessionMiddlewareAnnotatesLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	manager, err := NewSessionManager(SessionConfig{
		HashKey: bytes.Repeat([]byte("h"), 32),
		NewID:   func() string { return "01HZX3J6Q8M5V7T2K9B4N1C0DE" },
	})
	require.NoError(t, err)
	handler := manager.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("cart loaded")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.New(core)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("cart loaded").All()
	require.Len(t, entries, 1)
	require.Equal(t, "01HZX3J6Q8M5V7T2K9B4N1C0DE", entries[0].ContextMap()["session_id"])
}
