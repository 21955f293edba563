package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/observability"
)

// GuestCartKey is the session key holding the guest cart as a JSON array of entries.
const GuestCartKey = "guest_cart"

const instrumentationName = "finitefield.org/storefront/internal/cart"

var (
	errStateRequired  = errors.New("cart: state is required")
	errGuestRequired  = errors.New("cart: guest store is required")
	errAuthRequired   = errors.New("cart: authenticator is required")
	errRemoteRequired = errors.New("cart: remote cart is required")
)

// ErrInvalidInput indicates an empty product id or a quantity above MaxQuantity.
var ErrInvalidInput = errors.New("cart: invalid input")

var (
	errProductIDRequired = fmt.Errorf("%w: productId is required", ErrInvalidInput)
	errQuantityTooLarge  = fmt.Errorf("%w: quantity must be at most %d", ErrInvalidInput, MaxQuantity)
)

// ErrUnknownProduct indicates a guest add for a product neither the catalog nor the products cache knows.
var ErrUnknownProduct = errors.New("cart: unknown product")

// ErrNotAuthenticated indicates an operation that needs a signed-in user ran without one.
var ErrNotAuthenticated = errors.New("cart: not authenticated")

// Authenticator reports the session's bearer token. Token returns an error when the session is a guest.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Remote is the per-user cart of the backend. Every call returns the authoritative cart after the change.
type Remote interface {
	GetCart(ctx context.Context, token string) ([]Entry, error)
	AddCartItem(ctx context.Context, token string, item Entry) ([]Entry, error)
	UpdateCartItem(ctx context.Context, token, productID string, quantity int) ([]Entry, error)
	RemoveCartItem(ctx context.Context, token, productID string) ([]Entry, error)
	ClearCart(ctx context.Context, token string) ([]Entry, error)
}

// Catalog resolves display data for products added to the guest cart.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	CachedProducts(ctx context.Context) ([]catalog.Product, error)
}

// Deps wires one session's reconciler.
type Deps struct {
	State   *State
	Guest   kv.Store
	Auth    Authenticator
	Remote  Remote
	Catalog Catalog
	// IsAuthError classifies remote failures that end the session. Defaults to IsAuthFailure.
	IsAuthError func(error) bool
	OnChange    func(context.Context, Snapshot)
	Logger      func(context.Context, string, map[string]any)
	Meter       metric.Meter
}

// Reconciler applies cart operations to whichever store the session's authentication selects at call time.
type Reconciler struct {
	state       *State
	guest       kv.Store
	auth        Authenticator
	remote      Remote
	catalog     Catalog
	isAuthError func(error) bool
	onChange    func(context.Context, Snapshot)
	logger      func(context.Context, string, map[string]any)
	tracer      trace.Tracer
	ops         metric.Int64Counter
}

// NewReconciler validates deps and builds a reconciler.
func NewReconciler(deps Deps) (*Reconciler, error) {
	switch {
	case deps.State == nil:
		return nil, errStateRequired
	case deps.Guest == nil:
		return nil, errGuestRequired
	case deps.Auth == nil:
		return nil, errAuthRequired
	case deps.Remote == nil:
		return nil, errRemoteRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	isAuthError := deps.IsAuthError
	if isAuthError == nil {
		isAuthError = IsAuthFailure
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	ops, err := meter.Int64Counter("storefront.cart.operations",
		metric.WithDescription("Cart operations by operation, mode and outcome."))
	if err != nil {
		return nil, fmt.Errorf("cart: create counter: %w", err)
	}

	return &Reconciler{
		state:       deps.State,
		guest:       deps.Guest,
		auth:        deps.Auth,
		remote:      deps.Remote,
		catalog:     deps.Catalog,
		isAuthError: isAuthError,
		onChange:    deps.OnChange,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		ops:         ops,
	}, nil
}

// AddToCart adds quantity (at least 1) of productID. A quantity above MaxQuantity, or one that would push the
// guest line past it, fails with ErrInvalidInput.
func (r *Reconciler) AddToCart(ctx context.Context, productID string, quantity int) (Snapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Snapshot{}, errProductIDRequired
	}
	if quantity < 1 {
		quantity = 1
	}
	if quantity > MaxQuantity {
		return Snapshot{}, errQuantityTooLarge
	}
	return r.run(ctx, operation{
		name: "add",
		guest: func(ctx context.Context) ([]Entry, error) {
			return r.guestAdd(ctx, productID, quantity)
		},
		remote: func(ctx context.Context, token string) ([]Entry, error) {
			data, _ := r.productData(ctx, productID)
			return r.remote.AddCartItem(ctx, token, Entry{ProductID: productID, Quantity: quantity, ProductData: data})
		},
	})
}

// RemoveFromCart removes productID's entry.
func (r *Reconciler) RemoveFromCart(ctx context.Context, productID string) (Snapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Snapshot{}, errProductIDRequired
	}
	return r.run(ctx, r.removeOperation(productID))
}

func (r *Reconciler) removeOperation(productID string) operation {
	return operation{
		name: "remove",
		guest: func(ctx context.Context) ([]Entry, error) {
			return r.updateGuest(ctx, func(entries []Entry) []Entry {
				out := entries[:0]
				for _, e := range entries {
					if e.ProductID != productID {
						out = append(out, e)
					}
				}
				return out
			})
		},
		remote: func(ctx context.Context, token string) ([]Entry, error) {
			return r.remote.RemoveCartItem(ctx, token, productID)
		},
	}
}

// UpdateCartQuantity sets productID's quantity. A quantity of zero or less removes the entry.
func (r *Reconciler) UpdateCartQuantity(ctx context.Context, productID string, quantity int) (Snapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Snapshot{}, errProductIDRequired
	}
	if quantity <= 0 {
		return r.run(ctx, r.removeOperation(productID))
	}
	if quantity > MaxQuantity {
		return Snapshot{}, errQuantityTooLarge
	}
	return r.run(ctx, operation{
		name: "update",
		guest: func(ctx context.Context) ([]Entry, error) {
			return r.updateGuest(ctx, func(entries []Entry) []Entry {
				for i := range entries {
					if entries[i].ProductID == productID {
						entries[i].Quantity = quantity
					}
				}
				return entries
			})
		},
		remote: func(ctx context.Context, token string) ([]Entry, error) {
			return r.remote.UpdateCartItem(ctx, token, productID, quantity)
		},
	})
}

// ClearCart empties the active cart.
func (r *Reconciler) ClearCart(ctx context.Context) (Snapshot, error) {
	return r.run(ctx, operation{
		name: "clear",
		guest: func(ctx context.Context) ([]Entry, error) {
			if err := r.guest.Delete(ctx, GuestCartKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
				return nil, fmt.Errorf("cart: delete guest cart: %w", err)
			}
			return []Entry{}, nil
		},
		remote: func(ctx context.Context, token string) ([]Entry, error) {
			return r.remote.ClearCart(ctx, token)
		},
	})
}

// Load populates the state from whichever store is active.
func (r *Reconciler) Load(ctx context.Context) (Snapshot, error) {
	return r.run(ctx, operation{
		name:  "load",
		guest: r.readGuest,
		remote: func(ctx context.Context, token string) ([]Entry, error) {
			return r.remote.GetCart(ctx, token)
		},
	})
}

// LoadGuestCart populates the state from the guest store regardless of authentication.
func (r *Reconciler) LoadGuestCart(ctx context.Context) (Snapshot, error) {
	r.state.op.Lock()
	defer r.state.op.Unlock()

	ticket := r.state.Ticket()
	entries, err := r.readGuest(ctx)
	r.record(ctx, "load_guest", ModeGuest, err)
	if err != nil {
		return Snapshot{}, err
	}
	return r.apply(ctx, ticket, ModeGuest, entries), nil
}

// LoadUserCart populates the state from the remote cart. It fails with ErrNotAuthenticated for guests and
// logs the session out when the backend rejects the token.
func (r *Reconciler) LoadUserCart(ctx context.Context) (Snapshot, error) {
	r.state.op.Lock()
	defer r.state.op.Unlock()

	token, err := r.auth.Token(ctx)
	if err != nil || token == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	ticket := r.state.Ticket()
	entries, err := r.remote.GetCart(ctx, token)
	if err != nil && r.isAuthError(err) {
		r.forceLogout(ctx, "load_user", err)
		err = fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	r.record(ctx, "load_user", ModeUser, err)
	if err != nil {
		return Snapshot{}, err
	}
	return r.apply(ctx, ticket, ModeUser, entries), nil
}

// MigrateGuestCartToUser replays every guest entry as an authenticated add, in order, then deletes the guest
// cart and reloads the user cart. An empty guest cart is a no-op. When an add fails the entries not yet
// replayed stay in the guest cart.
func (r *Reconciler) MigrateGuestCartToUser(ctx context.Context) (snap Snapshot, err error) {
	r.state.op.Lock()
	defer r.state.op.Unlock()

	ctx, span := r.tracer.Start(ctx, "cart.migrate")
	defer func() { observability.EndSpan(span, err) }()
	defer func() { r.record(ctx, "migrate", ModeUser, err) }()

	guest, err := r.readGuest(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if len(guest) == 0 {
		return r.state.Snapshot(), nil
	}
	token, err := r.auth.Token(ctx)
	if err != nil || token == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	span.SetAttributes(attribute.Int("cart.guest_entries", len(guest)))

	for i, entry := range guest {
		if _, err := r.remote.AddCartItem(ctx, token, entry); err != nil {
			r.logger(ctx, "cart: guest migration failed", map[string]any{
				"productId": entry.ProductID,
				"migrated":  i,
				"error":     err,
			})
			if werr := kv.SetJSON(ctx, r.guest, GuestCartKey, guest[i:]); werr != nil {
				r.logger(ctx, "cart: keep unmigrated guest entries failed", map[string]any{"error": werr})
			}
			return Snapshot{}, fmt.Errorf("cart: migrate %s: %w", entry.ProductID, err)
		}
	}
	if err := r.guest.Delete(ctx, GuestCartKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("cart: delete guest cart: %w", err)
	}

	ticket := r.state.Ticket()
	entries, err := r.remote.GetCart(ctx, token)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cart: reload user cart: %w", err)
	}
	r.logger(ctx, "cart: guest cart migrated", map[string]any{"entries": len(guest)})
	return r.apply(ctx, ticket, ModeUser, entries), nil
}

// Totals sums the current state.
func (r *Reconciler) Totals() Totals {
	return ComputeTotals(r.state.Items())
}

// Items returns a copy of the current entries.
func (r *Reconciler) Items() []Entry {
	return r.state.Items()
}

// Snapshot returns the current state without touching either store.
func (r *Reconciler) Snapshot() Snapshot {
	return r.state.Snapshot()
}

// Reset empties the local state, for example after an order consumed the user cart.
func (r *Reconciler) Reset(ctx context.Context) Snapshot {
	r.state.op.Lock()
	defer r.state.op.Unlock()
	return r.apply(ctx, r.state.Ticket(), r.state.Mode(), nil)
}

type operation struct {
	name   string
	guest  func(ctx context.Context) ([]Entry, error)
	remote func(ctx context.Context, token string) ([]Entry, error)
}

// run holds the session's operation lock for the whole call, network round trip included.
func (r *Reconciler) run(ctx context.Context, op operation) (snap Snapshot, err error) {
	r.state.op.Lock()
	defer r.state.op.Unlock()

	ctx, span := r.tracer.Start(ctx, "cart."+op.name)
	defer func() { observability.EndSpan(span, err) }()

	ticket := r.state.Ticket()
	mode := ModeGuest
	var entries []Entry
	if token, terr := r.auth.Token(ctx); terr == nil && token != "" {
		mode = ModeUser
		entries, err = op.remote(ctx, token)
		if err != nil && r.isAuthError(err) {
			r.forceLogout(ctx, op.name, err)
			mode = ModeGuest
			entries, err = op.guest(ctx)
		}
	} else {
		entries, err = op.guest(ctx)
	}
	span.SetAttributes(attribute.String("cart.mode", string(mode)))
	r.record(ctx, op.name, mode, err)
	if err != nil {
		r.logger(ctx, "cart: operation failed", map[string]any{
			"operation": op.name,
			"mode":      string(mode),
			"error":     err,
		})
		return Snapshot{}, err
	}
	return r.apply(ctx, ticket, mode, entries), nil
}

func (r *Reconciler) apply(ctx context.Context, ticket uint64, mode Mode, entries []Entry) Snapshot {
	snap, applied := r.state.Apply(ticket, mode, entries)
	if !applied {
		r.logger(ctx, "cart: stale snapshot dropped", map[string]any{"seq": ticket, "current": snap.Seq})
		return snap
	}
	if r.onChange != nil {
		r.onChange(ctx, snap)
	}
	return snap
}

func (r *Reconciler) forceLogout(ctx context.Context, op string, cause error) {
	r.logger(ctx, "cart: remote rejected token, continuing as guest", map[string]any{
		"operation": op,
		"cause":     cause.Error(),
	})
	if err := r.auth.Logout(ctx); err != nil {
		r.logger(ctx, "cart: logout failed", map[string]any{"error": err})
	}
}

func (r *Reconciler) record(ctx context.Context, op string, mode Mode, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("mode", string(mode)),
		attribute.String("outcome", outcome),
	))
}

func (r *Reconciler) readGuest(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := kv.GetJSON(ctx, r.guest, GuestCartKey, &entries)
	if errors.Is(err, kv.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		r.logger(ctx, "cart: unreadable guest cart discarded", map[string]any{"error": err})
		return []Entry{}, nil
	}
	return normalizeEntries(entries), nil
}

func (r *Reconciler) updateGuest(ctx context.Context, mutate func([]Entry) []Entry) ([]Entry, error) {
	entries, err := r.readGuest(ctx)
	if err != nil {
		return nil, err
	}
	entries = normalizeEntries(mutate(entries))
	if err := kv.SetJSON(ctx, r.guest, GuestCartKey, entries); err != nil {
		return nil, fmt.Errorf("cart: write guest cart: %w", err)
	}
	return entries, nil
}

func (r *Reconciler) guestAdd(ctx context.Context, productID string, quantity int) ([]Entry, error) {
	entries, err := r.readGuest(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ProductID == productID {
			if entries[i].Quantity > MaxQuantity-quantity {
				return nil, errQuantityTooLarge
			}
			entries[i].Quantity += quantity
			return r.writeGuest(ctx, entries)
		}
	}
	data, err := r.productData(ctx, productID)
	if err != nil {
		return nil, err
	}
	entries = append(entries, Entry{ProductID: productID, Quantity: quantity, ProductData: data})
	return r.writeGuest(ctx, entries)
}

func (r *Reconciler) writeGuest(ctx context.Context, entries []Entry) ([]Entry, error) {
	if err := kv.SetJSON(ctx, r.guest, GuestCartKey, entries); err != nil {
		return nil, fmt.Errorf("cart: write guest cart: %w", err)
	}
	return entries, nil
}

// productData resolves display fields from the catalog, falling back to the cached product list.
func (r *Reconciler) productData(ctx context.Context, productID string) (ProductData, error) {
	if r.catalog == nil {
		return ProductData{}, ErrUnknownProduct
	}
	product, err := r.catalog.GetProduct(ctx, productID)
	if err == nil && product != nil {
		return dataFromProduct(*product), nil
	}
	if err != nil {
		r.logger(ctx, "cart: catalog lookup failed, using products cache", map[string]any{
			"productId": productID,
			"error":     err,
		})
	}
	cached, cerr := r.catalog.CachedProducts(ctx)
	if cerr == nil {
		if p, ok := catalog.FindByID(cached, productID); ok {
			return dataFromProduct(p), nil
		}
	}
	return ProductData{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
}

func dataFromProduct(p catalog.Product) ProductData {
	return ProductData{
		Name:     p.Name,
		Price:    p.Price,
		Image:    p.Image,
		Currency: p.Currency,
	}
}

// IsAuthFailure reports whether err ends the session: an error exposing AuthFailure() true, or a message
// carrying an auth or token signature.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var classified interface{ AuthFailure() bool }
	if errors.As(err, &classified) {
		return classified.AuthFailure()
	}
	return HasAuthSignature(err.Error())
}

var authSignatures = []string{"unauthorized", "unauthenticated", "forbidden", "token", "jwt", "not authenticated"}

// HasAuthSignature reports whether msg reads like an authentication failure.
func HasAuthSignature(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range authSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
