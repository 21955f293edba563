package nopcommerce

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/platform/kv"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return client
}

func TestListProductsEnvelopeAndCache(t *testing.T) {
	cache := kv.NewMemory()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/products", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("pageNumber"))
		require.Equal(t, "5", r.URL.Query().Get("pageSize"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products": [
			{"id": 1, "name": "USB-C Cable", "product_price": {"price_value": "49.5"}},
			{"id": 2, "name": "Charger", "product_price": {"price_value": 120}},
			"not a record"
		]}`))
	}, WithProductsCache(cache))

	require.Nil(t, client.Schema())
	products, err := client.ListProducts(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "1", products[0].ID)
	require.Equal(t, 49.5, products[0].Price)
	require.Equal(t, "EGP", products[1].Currency)
	require.Same(t, catalog.SchemaSnake, client.Schema())

	cached, err := client.CachedProducts(context.Background())
	require.NoError(t, err)
	require.Equal(t, products, cached)
}

func TestSchemaIsChosenOnce(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`[{"id": 1, "name": "A", "product_price": {"price_value": 10}}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id": 2, "name": "B", "productPrice": {"priceValue": 20}}]`))
	})

	first, err := client.ListProducts(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, 10.0, first[0].Price)

	second, err := client.ListProducts(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, 0.0, second[0].Price, "camelCase pricing is not read once snake_case was chosen")
	require.Same(t, catalog.SchemaSnake, client.Schema())
}

func TestUndecidedRecordsDoNotFixSchema(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/categories":
			_, _ = w.Write([]byte(`[{"id": 1, "name": "Cables"}]`))
		case "/api/products":
			_, _ = w.Write([]byte(`[{"id": 7, "name": "X", "productPrice": {"priceValue": "19.99"}}]`))
		default:
			http.NotFound(w, r)
		}
	})

	categories, err := client.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	require.Nil(t, client.Schema())

	products, err := client.ListProducts(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, 19.99, products[0].Price)
	require.Same(t, catalog.SchemaCamel, client.Schema())
}

func TestConfiguredSchema(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"id": 3, "name": "C", "productPrice": {"priceValue": "7.25"}}]}`))
	}, WithSchema(catalog.SchemaCamel), WithNormalizerOptions(catalog.WithDefaultCurrency("usd")))

	require.Same(t, catalog.SchemaCamel, client.Schema())
	products, err := client.ListProducts(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, 7.25, products[0].Price)
	require.Equal(t, "USD", products[0].Currency)
	require.Equal(t, "USD 7.25", products[0].PriceDisplay)
}

func TestGetProduct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/7":
			_, _ = w.Write([]byte(`{"product": {"id": 7, "name": "X", "product_price": {"price_value": "19.99"}}}`))
		case "/api/products/8":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	})

	product, err := client.GetProduct(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "7", product.ID)
	require.Equal(t, 19.99, product.Price)

	_, err = client.GetProduct(context.Background(), "8")
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = client.GetProduct(context.Background(), "404")
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = client.GetProduct(context.Background(), " ")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestListCategoriesAndProductsByCategory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/categories":
			_, _ = w.Write([]byte(`[{"id": 4, "name": "cable", "numberOfProducts": 12, "showOnHomePage": true}]`))
		case "/api/categories/4/products":
			require.Equal(t, "1", r.URL.Query().Get("pageNumber"))
			_, _ = w.Write([]byte(`{"items": [{"id": 11, "name": "Braided Cable"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	categories, err := client.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	require.Equal(t, "Cables", categories[0].Name)
	require.Equal(t, "cables", categories[0].Slug)
	require.Equal(t, 12, categories[0].Count)
	require.True(t, categories[0].Featured)

	products, err := client.ProductsByCategory(context.Background(), "4", 1, 20)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "Braided Cable", products[0].Name)
}

func TestUpstreamFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	_, err := client.ListProducts(context.Background(), 1, 10)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	require.Equal(t, "maintenance", statusErr.Body)

	_, err = client.CachedProducts(context.Background())
	require.ErrorIs(t, err, ErrCacheEmpty)

	_, err = NewClient(" ")
	require.Error(t, err)
}
