// Package nopcommerce reads products and categories from the nopCommerce catalog API and hands back
// normalized catalog values.
package nopcommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/platform/kv"
	"finitefield.org/storefront/internal/platform/observability"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultPageSize = 20
	maxPageSize     = 100

	// ProductsCacheKey holds the last fetched normalized product list.
	ProductsCacheKey = "products_cache"
)

var (
	// ErrProductNotFound is returned when the API has no product for the requested id.
	ErrProductNotFound = errors.New("nopcommerce: product not found")
	// ErrCacheEmpty is returned by CachedProducts before any product list was fetched.
	ErrCacheEmpty = errors.New("nopcommerce: products cache empty")
)

// envelopeKeys are the object keys a list response may wrap its array in.
var envelopeKeys = []string{"products", "Products", "categories", "Categories", "data", "Data", "items", "Items"}

// productKeys are the object keys a single product response may wrap its record in.
var productKeys = []string{"product", "Product", "data", "Data"}

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx answer from the catalog API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("nopcommerce: status %d", e.Status)
	}
	return fmt.Sprintf("nopcommerce: status %d: %s", e.Status, e.Body)
}

// Client talks to the catalog API. The upstream schema is fixed at construction or detected from the first
// response and reused afterwards.
type Client struct {
	base     *url.URL
	http     HTTPClient
	cache    kv.Store
	normOpts []catalog.Option
	schema   *catalog.Schema

	mu         sync.Mutex
	normalizer *catalog.Normalizer
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout}
		}
	}
}

// WithSchema fixes the upstream schema instead of detecting it.
func WithSchema(schema *catalog.Schema) Option {
	return func(c *Client) { c.schema = schema }
}

// WithNormalizerOptions passes currency and canonicalizer settings to the normalizer.
func WithNormalizerOptions(opts ...catalog.Option) Option {
	return func(c *Client) { c.normOpts = append(c.normOpts, opts...) }
}

// WithProductsCache stores every fetched product list under ProductsCacheKey.
func WithProductsCache(store kv.Store) Option {
	return func(c *Client) { c.cache = store }
}

// NewClient builds a catalog client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("nopcommerce: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("nopcommerce: parse base URL: %w", err)
	}
	c := &Client{
		base: parsed,
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.schema != nil {
		c.normalizer = c.newNormalizer(c.schema)
	}
	return c, nil
}

// Schema returns the schema in use, or nil before it has been detected.
func (c *Client) Schema() *catalog.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.normalizer == nil {
		return nil
	}
	return c.normalizer.Schema()
}

// ListProducts fetches one page of products.
func (c *Client) ListProducts(ctx context.Context, pageNumber, pageSize int) (products []catalog.Product, err error) {
	pageNumber, pageSize = clampPage(pageNumber, pageSize)
	ctx, span := observability.StartClientSpan(ctx, "nopcommerce", "list_products",
		attribute.Int("page.number", pageNumber), attribute.Int("page.size", pageSize))
	defer func() { observability.EndSpan(span, err) }()

	raw, err := c.getJSON(ctx, "products", pageQuery(pageNumber, pageSize))
	if err != nil {
		return nil, err
	}
	records := unwrapList(raw)
	products = c.normalizerFor(records).Products(records)
	span.SetAttributes(attribute.Int("products.count", len(products)))
	c.storeCache(ctx, products)
	return products, nil
}

// ProductsByCategory fetches one page of products belonging to categoryID.
func (c *Client) ProductsByCategory(ctx context.Context, categoryID string, pageNumber, pageSize int) (products []catalog.Product, err error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return c.ListProducts(ctx, pageNumber, pageSize)
	}
	pageNumber, pageSize = clampPage(pageNumber, pageSize)
	ctx, span := observability.StartClientSpan(ctx, "nopcommerce", "products_by_category",
		attribute.String("category.id", categoryID), attribute.Int("page.number", pageNumber))
	defer func() { observability.EndSpan(span, err) }()

	raw, err := c.getJSON(ctx, "categories/"+url.PathEscape(categoryID)+"/products", pageQuery(pageNumber, pageSize))
	if err != nil {
		return nil, err
	}
	records := unwrapList(raw)
	return c.normalizerFor(records).Products(records), nil
}

// GetProduct fetches one product by id.
func (c *Client) GetProduct(ctx context.Context, id string) (product *catalog.Product, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrProductNotFound
	}
	ctx, span := observability.StartClientSpan(ctx, "nopcommerce", "get_product", attribute.String("product.id", id))
	defer func() { observability.EndSpan(span, err) }()

	raw, err := c.getJSON(ctx, "products/"+url.PathEscape(id), nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	record := unwrapRecord(raw)
	if len(record) == 0 {
		return nil, ErrProductNotFound
	}
	product = c.normalizerFor([]any{record}).Product(record)
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// ListCategories fetches every category.
func (c *Client) ListCategories(ctx context.Context) (categories []catalog.Category, err error) {
	ctx, span := observability.StartClientSpan(ctx, "nopcommerce", "list_categories")
	defer func() { observability.EndSpan(span, err) }()

	raw, err := c.getJSON(ctx, "categories", nil)
	if err != nil {
		return nil, err
	}
	records := unwrapList(raw)
	return c.normalizerFor(records).Categories(records), nil
}

// CachedProducts returns the product list stored by the last successful ListProducts.
func (c *Client) CachedProducts(ctx context.Context) ([]catalog.Product, error) {
	if c.cache == nil {
		return nil, ErrCacheEmpty
	}
	var products []catalog.Product
	err := kv.GetJSON(ctx, c.cache, ProductsCacheKey, &products)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrCacheEmpty
	}
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) storeCache(ctx context.Context, products []catalog.Product) {
	if c.cache == nil || len(products) == 0 {
		return
	}
	if err := kv.SetJSON(ctx, c.cache, ProductsCacheKey, products); err != nil {
		observability.FromContext(ctx).Named("nopcommerce").Warn("products cache write failed", zap.Error(err))
	}
}

// normalizerFor returns the shared normalizer. The schema is fixed by the first record whose keys decide
// it; until then records are normalized with per-record detection.
func (c *Client) normalizerFor(records []any) *catalog.Normalizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.normalizer != nil {
		return c.normalizer
	}
	for _, item := range records {
		rec, ok := item.(map[string]any)
		if !ok || len(rec) == 0 {
			continue
		}
		if schema, decided := catalog.ClassifySchema(rec); decided {
			c.normalizer = c.newNormalizer(schema)
			return c.normalizer
		}
	}
	return catalog.NewNormalizer(c.normOpts...)
}

func (c *Client) newNormalizer(schema *catalog.Schema) *catalog.Normalizer {
	opts := make([]catalog.Option, 0, len(c.normOpts)+1)
	opts = append(opts, c.normOpts...)
	opts = append(opts, catalog.WithSchema(schema))
	return catalog.NewNormalizer(opts...)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values) (any, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("nopcommerce: parse endpoint %q: %w", endpoint, err)
	}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("nopcommerce: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nopcommerce: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: drainError(resp.Body)}
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("nopcommerce: decode %s: %w", endpoint, err)
	}
	return payload, nil
}

func unwrapList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range envelopeKeys {
			if list, ok := v[key].([]any); ok {
				return list
			}
		}
	}
	return []any{}
}

func unwrapRecord(raw any) map[string]any {
	rec, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range productKeys {
		if inner, ok := rec[key].(map[string]any); ok {
			return inner
		}
	}
	return rec
}

func clampPage(pageNumber, pageSize int) (int, int) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageNumber, pageSize
}

func pageQuery(pageNumber, pageSize int) url.Values {
	return url.Values{
		"pageNumber": []string{strconv.Itoa(pageNumber)},
		"pageSize":   []string{strconv.Itoa(pageSize)},
	}
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
