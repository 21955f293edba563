package cart

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/platform/kv"
)

type stubAuth struct {
	mu      sync.Mutex
	token   string
	logouts int
}

func (a *stubAuth) Token(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return "", errors.New("no token")
	}
	return a.token, nil
}

func (a *stubAuth) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.logouts++
	return nil
}

type stubRemote struct {
	getFn    func(ctx context.Context, token string) ([]Entry, error)
	addFn    func(ctx context.Context, token string, item Entry) ([]Entry, error)
	updateFn func(ctx context.Context, token, productID string, quantity int) ([]Entry, error)
	removeFn func(ctx context.Context, token, productID string) ([]Entry, error)
	clearFn  func(ctx context.Context, token string) ([]Entry, error)
}

func (s *stubRemote) GetCart(ctx context.Context, token string) ([]Entry, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected GetCart")
	}
	return s.getFn(ctx, token)
}

func (s *stubRemote) AddCartItem(ctx context.Context, token string, item Entry) ([]Entry, error) {
	if s.addFn == nil {
		return nil, errors.New("unexpected AddCartItem")
	}
	return s.addFn(ctx, token, item)
}

func (s *stubRemote) UpdateCartItem(ctx context.Context, token, productID string, quantity int) ([]Entry, error) {
	if s.updateFn == nil {
		return nil, errors.New("unexpected UpdateCartItem")
	}
	return s.updateFn(ctx, token, productID, quantity)
}

func (s *stubRemote) RemoveCartItem(ctx context.Context, token, productID string) ([]Entry, error) {
	if s.removeFn == nil {
		return nil, errors.New("unexpected RemoveCartItem")
	}
	return s.removeFn(ctx, token, productID)
}

func (s *stubRemote) ClearCart(ctx context.Context, token string) ([]Entry, error) {
	if s.clearFn == nil {
		return nil, errors.New("unexpected ClearCart")
	}
	return s.clearFn(ctx, token)
}

type stubCatalog struct {
	products map[string]catalog.Product
	cached   []catalog.Product
}

func (c *stubCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, errors.New("catalog unavailable")
	}
	return &p, nil
}

func (c *stubCatalog) CachedProducts(context.Context) ([]catalog.Product, error) {
	if c.cached == nil {
		return nil, errors.New("empty")
	}
	return c.cached, nil
}

type authError struct{}

func (authError) Error() string     { return "backend: 401" }
func (authError) AuthFailure() bool { return true }

type fixture struct {
	store     *kv.Memory
	guest     kv.Store
	auth      *stubAuth
	remote    *stubRemote
	catalog   *stubCatalog
	state     *State
	rec       *Reconciler
	snapshots []Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  kv.NewMemory(),
		auth:   &stubAuth{},
		remote: &stubRemote{},
		catalog: &stubCatalog{products: map[string]catalog.Product{
			"p1": {ID: "p1", Name: "Cable", Price: 19.99, Image: "https://cdn/p1.jpg", Currency: "EGP"},
			"p2": {ID: "p2", Name: "Charger", Price: 250, Currency: "EGP"},
		}},
		state: NewState(),
	}
	f.guest = kv.SessionScope(f.store, "s1")
	rec, err := NewReconciler(Deps{
		State:    f.state,
		Guest:    f.guest,
		Auth:     f.auth,
		Remote:   f.remote,
		Catalog:  f.catalog,
		OnChange: func(_ context.Context, snap Snapshot) { f.snapshots = append(f.snapshots, snap) },
	})
	require.NoError(t, err)
	f.rec = rec
	return f
}

func (f *fixture) guestEntries(t *testing.T) []Entry {
	t.Helper()
	var entries []Entry
	require.NoError(t, kv.GetJSON(context.Background(), f.guest, GuestCartKey, &entries))
	return entries
}

func TestNewReconcilerValidatesDeps(t *testing.T) {
	_, err := NewReconciler(Deps{})
	require.ErrorIs(t, err, errStateRequired)
	_, err = NewReconciler(Deps{State: NewState(), Guest: kv.NewMemory(), Auth: &stubAuth{}})
	require.ErrorIs(t, err, errRemoteRequired)
}

func TestGuestAddMergesEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)
	snap, err := f.rec.AddToCart(ctx, " p1 ", 1)
	require.NoError(t, err)

	require.Equal(t, ModeGuest, snap.Mode)
	require.Len(t, snap.Items, 1)
	require.Equal(t, 2, snap.Items[0].Quantity)
	require.Equal(t, ProductData{Name: "Cable", Price: 19.99, Image: "https://cdn/p1.jpg", Currency: "EGP"}, snap.Items[0].ProductData)
	require.Equal(t, Totals{Total: "39.98", Count: 2}, snap.Totals)
	require.Equal(t, snap.Items, f.guestEntries(t))
	require.Len(t, f.snapshots, 2)
	require.Greater(t, f.snapshots[1].Seq, f.snapshots[0].Seq)
}

func TestGuestAddClampsQuantityAndRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	snap, err := f.rec.AddToCart(ctx, "p2", 0)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Items[0].Quantity)

	_, err = f.rec.AddToCart(ctx, "  ", 1)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuantityAboveLimitIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.rec.AddToCart(ctx, "p1", math.MaxInt)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.rec.Items())

	_, err = f.rec.AddToCart(ctx, "p1", MaxQuantity-1)
	require.NoError(t, err)
	snap, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)
	require.Equal(t, MaxQuantity, snap.Items[0].Quantity)

	_, err = f.rec.AddToCart(ctx, "p1", 1)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Len(t, f.rec.Items(), 1)
	require.Equal(t, MaxQuantity, f.rec.Items()[0].Quantity)
	require.Equal(t, MaxQuantity, f.guestEntries(t)[0].Quantity)

	_, err = f.rec.UpdateCartQuantity(ctx, "p1", MaxQuantity+1)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, MaxQuantity, f.rec.Items()[0].Quantity)
}

func TestNormalizeEntriesSaturatesMergedQuantity(t *testing.T) {
	entries := normalizeEntries([]Entry{
		{ProductID: "p1", Quantity: math.MaxInt},
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 600},
		{ProductID: "p2", Quantity: 600},
	})
	require.Len(t, entries, 2)
	require.Equal(t, MaxQuantity, entries[0].Quantity)
	require.Equal(t, MaxQuantity, entries[1].Quantity)
}

func TestGuestAddResolvesFromCacheOrFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.catalog.cached = []catalog.Product{{ID: "p9", Name: "Cached Case", Price: 75}}

	snap, err := f.rec.AddToCart(ctx, "p9", 2)
	require.NoError(t, err)
	require.Equal(t, "Cached Case", snap.Items[0].ProductData.Name)

	_, err = f.rec.AddToCart(ctx, "missing", 1)
	require.ErrorIs(t, err, ErrUnknownProduct)
	require.Len(t, f.rec.Items(), 1)
}

func TestGuestUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)
	_, err = f.rec.AddToCart(ctx, "p2", 1)
	require.NoError(t, err)

	snap, err := f.rec.UpdateCartQuantity(ctx, "p2", 3)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Items[1].Quantity)
	require.Equal(t, "769.99", snap.Totals.Total)

	snap, err = f.rec.UpdateCartQuantity(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "p2", snap.Items[0].ProductID)

	snap, err = f.rec.RemoveFromCart(ctx, "p2")
	require.NoError(t, err)
	require.Empty(t, snap.Items)
	require.Equal(t, Totals{Total: "0.00", Count: 0}, snap.Totals)
}

func TestGuestClearDeletesKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)

	snap, err := f.rec.ClearCart(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Items)
	_, err = f.guest.Get(ctx, GuestCartKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestEmptyTotals(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, Totals{Total: "0.00", Count: 0}, f.rec.Totals())
	require.Equal(t, Totals{Total: "0.00", Count: 0}, ComputeTotals(nil))
}

func TestComputeTotalsUsesDecimalArithmetic(t *testing.T) {
	totals := ComputeTotals([]Entry{
		{ProductID: "a", Quantity: 3, ProductData: ProductData{Price: 0.1}},
		{ProductID: "b", Quantity: 1, ProductData: ProductData{Price: 0.2}},
		{ProductID: "c", Quantity: 2, ProductData: ProductData{Price: math.NaN()}},
		{ProductID: "d", Quantity: 1, ProductData: ProductData{Price: math.Inf(1)}},
	})
	require.Equal(t, Totals{Total: "0.50", Count: 7}, totals)
}

func TestAuthenticatedOperationsReplaceState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.auth.token = "tok"
	var sent Entry
	f.remote.addFn = func(_ context.Context, token string, item Entry) ([]Entry, error) {
		require.Equal(t, "tok", token)
		sent = item
		return []Entry{{ProductID: "p1", Quantity: 5, ProductData: ProductData{Name: "Cable", Price: 19.99}}}, nil
	}
	f.remote.updateFn = func(_ context.Context, _ string, productID string, quantity int) ([]Entry, error) {
		return []Entry{{ProductID: productID, Quantity: quantity, ProductData: ProductData{Price: 1}}}, nil
	}
	f.remote.clearFn = func(context.Context, string) ([]Entry, error) { return []Entry{}, nil }

	snap, err := f.rec.AddToCart(ctx, "p1", 2)
	require.NoError(t, err)
	require.Equal(t, Entry{ProductID: "p1", Quantity: 2, ProductData: ProductData{Name: "Cable", Price: 19.99, Image: "https://cdn/p1.jpg", Currency: "EGP"}}, sent)
	require.Equal(t, ModeUser, snap.Mode)
	require.Equal(t, 5, snap.Items[0].Quantity, "remote response is authoritative")

	snap, err = f.rec.UpdateCartQuantity(ctx, "p1", 4)
	require.NoError(t, err)
	require.Equal(t, 4, snap.Items[0].Quantity)

	snap, err = f.rec.ClearCart(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Items)

	_, err = f.guest.Get(ctx, GuestCartKey)
	require.ErrorIs(t, err, kv.ErrNotFound, "authenticated writes never touch the guest store")
}

func TestAuthFailureFallsBackToGuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.auth.token = "expired"
	f.remote.addFn = func(context.Context, string, Entry) ([]Entry, error) {
		return nil, authError{}
	}

	snap, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)
	require.Equal(t, 1, f.auth.logouts)
	require.Equal(t, ModeGuest, snap.Mode)
	require.Len(t, f.guestEntries(t), 1)

	f.auth.token = "again"
	f.remote.removeFn = func(context.Context, string, string) ([]Entry, error) {
		return nil, errors.New("invalid token signature")
	}
	snap, err = f.rec.RemoveFromCart(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, f.auth.logouts)
	require.Empty(t, snap.Items)
}

func TestRemoteFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.auth.token = "tok"
	f.remote.addFn = func(context.Context, string, Entry) ([]Entry, error) {
		return nil, errors.New("backend: status 503")
	}

	_, err := f.rec.AddToCart(ctx, "p1", 1)
	require.EqualError(t, err, "backend: status 503")
	require.Zero(t, f.auth.logouts)
	require.Empty(t, f.rec.Items())
}

func TestMigrateGuestCartToUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rec.AddToCart(ctx, "p1", 2)
	require.NoError(t, err)
	_, err = f.rec.AddToCart(ctx, "p2", 1)
	require.NoError(t, err)

	f.auth.token = "tok"
	var order []string
	remoteCart := []Entry{}
	f.remote.addFn = func(_ context.Context, _ string, item Entry) ([]Entry, error) {
		order = append(order, item.ProductID)
		remoteCart = append(remoteCart, item)
		return remoteCart, nil
	}
	f.remote.getFn = func(context.Context, string) ([]Entry, error) {
		return append([]Entry{{ProductID: "p0", Quantity: 1}}, remoteCart...), nil
	}

	snap, err := f.rec.MigrateGuestCartToUser(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, order)
	require.Equal(t, 2, remoteCart[0].Quantity)
	_, err = f.guest.Get(ctx, GuestCartKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
	require.Equal(t, ModeUser, snap.Mode)
	require.Len(t, snap.Items, 3)
	require.Equal(t, "p0", snap.Items[0].ProductID)
}

func TestMigrateEmptyGuestCartIsNoop(t *testing.T) {
	f := newFixture(t)
	f.auth.token = "tok"

	snap, err := f.rec.MigrateGuestCartToUser(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Items)
	require.Empty(t, f.snapshots)
}

func TestMigrateKeepsUnreplayedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.rec.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)
	_, err = f.rec.AddToCart(ctx, "p2", 1)
	require.NoError(t, err)

	f.auth.token = "tok"
	f.remote.addFn = func(_ context.Context, _ string, item Entry) ([]Entry, error) {
		if item.ProductID == "p2" {
			return nil, errors.New("backend: status 500")
		}
		return []Entry{item}, nil
	}

	_, err = f.rec.MigrateGuestCartToUser(ctx)
	require.Error(t, err)
	remaining := f.guestEntries(t)
	require.Len(t, remaining, 1)
	require.Equal(t, "p2", remaining[0].ProductID)
}

func TestLoadSelectsStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, kv.SetJSON(ctx, f.guest, GuestCartKey, []Entry{
		{ProductID: "g1", Quantity: 1},
		{ProductID: "g1", Quantity: 2},
		{ProductID: "", Quantity: 1},
	}))

	snap, err := f.rec.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []Entry{{ProductID: "g1", Quantity: 3}}, snap.Items)

	_, err = f.rec.LoadUserCart(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	f.auth.token = "tok"
	f.remote.getFn = func(context.Context, string) ([]Entry, error) {
		return []Entry{{ProductID: "u1", Quantity: 1}}, nil
	}
	snap, err = f.rec.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, ModeUser, snap.Mode)

	snap, err = f.rec.LoadGuestCart(ctx)
	require.NoError(t, err)
	require.Equal(t, ModeGuest, snap.Mode)
	require.Equal(t, "g1", snap.Items[0].ProductID)

	f.remote.getFn = func(context.Context, string) ([]Entry, error) { return nil, authError{} }
	_, err = f.rec.LoadUserCart(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Equal(t, 1, f.auth.logouts)
}

func TestConcurrentGuestAddsAreSerialised(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.AddToCart(ctx, "p1", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 20, f.rec.Items()[0].Quantity)
	require.Equal(t, 20, f.guestEntries(t)[0].Quantity)
}

func TestIsAuthFailure(t *testing.T) {
	require.False(t, IsAuthFailure(nil))
	require.True(t, IsAuthFailure(authError{}))
	require.True(t, IsAuthFailure(errors.New("JWT expired")))
	require.True(t, IsAuthFailure(errors.New("request Unauthorized")))
	require.False(t, IsAuthFailure(errors.New("connection refused")))
}
