package storefront

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// ErrNoSession is returned when a request reaches a session-bound handler without a session ID.
var ErrNoSession = errors.New("storefront: no session")

var (
	errStoreRequired    = errors.New("storefront: key/value store is required")
	errRegistryRequired = errors.New("storefront: cart registry is required")
	errRemoteRequired   = errors.New("storefront: remote cart is required")
)

// SessionServicesDeps wires the collaborators shared by every session.
type SessionServicesDeps struct {
	Store       kv.Store
	Registry    *cart.Registry
	Remote      cart.Remote
	Catalog     cart.Catalog
	IsAuthError func(error) bool
	OnChange    func(context.Context, cart.Snapshot)
	Logger      func(context.Context, string, map[string]any)
	Meter       metric.Meter
	Clock       func() time.Time
}

// SessionServices hands out the token store and cart reconciler bound to the current request's session.
type SessionServices struct {
	deps SessionServicesDeps
}

// SessionScope is one session's view of the storefront.
type SessionScope struct {
	ID     string
	Tokens *auth.TokenStore
	Cart   *cart.Reconciler
}

// NewSessionServices validates deps.
func NewSessionServices(deps SessionServicesDeps) (*SessionServices, error) {
	switch {
	case deps.Store == nil:
		return nil, errStoreRequired
	case deps.Registry == nil:
		return nil, errRegistryRequired
	case deps.Remote == nil:
		return nil, errRemoteRequired
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &SessionServices{deps: deps}, nil
}

// For binds the session recorded on ctx.
func (s *SessionServices) For(ctx context.Context) (*SessionScope, error) {
	id := requestctx.SessionID(ctx)
	if id == "" {
		return nil, ErrNoSession
	}
	store := kv.SessionScope(s.deps.Store, id)
	tokens := auth.NewTokenStore(store, s.deps.Clock)
	reconciler, err := cart.NewReconciler(cart.Deps{
		State:       s.deps.Registry.State(id),
		Guest:       store,
		Auth:        tokens,
		Remote:      s.deps.Remote,
		Catalog:     s.deps.Catalog,
		IsAuthError: s.deps.IsAuthError,
		OnChange:    s.deps.OnChange,
		Logger:      s.deps.Logger,
		Meter:       s.deps.Meter,
	})
	if err != nil {
		return nil, err
	}
	return &SessionScope{ID: id, Tokens: tokens, Cart: reconciler}, nil
}
