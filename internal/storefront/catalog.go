package storefront

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/nopcommerce"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/textutil"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	featuredCategories = 8
	searchPageSize     = 100
)

// CatalogSource reads normalized catalog data.
type CatalogSource interface {
	ListProducts(ctx context.Context, pageNumber, pageSize int) ([]catalog.Product, error)
	ProductsByCategory(ctx context.Context, categoryID string, pageNumber, pageSize int) ([]catalog.Product, error)
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	CachedProducts(ctx context.Context) ([]catalog.Product, error)
}

// CatalogHandlers serves the read-only catalog endpoints.
type CatalogHandlers struct {
	source   CatalogSource
	pageSize int
	canon    *catalog.Canonicalizer
}

// NewCatalogHandlers builds the handlers. pageSize <= 0 uses 20. canon resolves category references and
// should be the canonicalizer the catalog is normalized with; nil uses the built-in alias table.
func NewCatalogHandlers(source CatalogSource, pageSize int, canon *catalog.Canonicalizer) *CatalogHandlers {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if canon == nil {
		canon = catalog.NewCanonicalizer()
	}
	return &CatalogHandlers{source: source, pageSize: pageSize, canon: canon}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/home", h.home)
	r.Get("/products", h.listProducts)
	r.Get("/products/{productId}", h.getProduct)
	r.Get("/categories", h.listCategories)
	r.Get("/search", h.search)
}

type productsResponse struct {
	Products   []catalog.Product `json:"products"`
	PageNumber int               `json:"pageNumber"`
	PageSize   int               `json:"pageSize"`
	Category   *catalog.Category `json:"category,omitempty"`
}

func (h *CatalogHandlers) home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.source.ListCategories(ctx)
	if err != nil {
		h.writeUpstreamError(ctx, w, "list categories", err)
		return
	}
	products, err := h.source.ListProducts(ctx, 1, h.pageSize)
	if err != nil {
		h.writeUpstreamError(ctx, w, "list products", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"featuredCategories": catalog.Featured(categories, featuredCategories),
		"products":           products,
	})
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pageNumber, err := queryInt(r, "pageNumber", 1)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	pageSize, err := queryInt(r, "pageSize", h.pageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = h.pageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	resp := productsResponse{PageNumber: pageNumber, PageSize: pageSize}
	if ref := strings.TrimSpace(r.URL.Query().Get("category")); ref != "" {
		category, found, err := h.findCategory(ctx, ref)
		if err != nil {
			h.writeUpstreamError(ctx, w, "list categories", err)
			return
		}
		if !found {
			// Breadcrumb-only buckets have no category record; serve them from the products cache.
			if cached, cerr := h.source.CachedProducts(ctx); cerr == nil {
				if matches := catalog.FilterByCategory(cached, textutil.Slugify(h.canon.Name(ref))); len(matches) > 0 {
					resp.Products = matches
					httpx.WriteJSON(w, http.StatusOK, resp)
					return
				}
			}
			httpx.WriteError(ctx, w, httpx.NewError("category_not_found", "category not found", http.StatusNotFound))
			return
		}
		resp.Category = &category
		resp.Products, err = h.source.ProductsByCategory(ctx, category.ID, pageNumber, pageSize)
		if err != nil {
			h.writeUpstreamError(ctx, w, "products by category", err)
			return
		}
	} else {
		resp.Products, err = h.source.ListProducts(ctx, pageNumber, pageSize)
		if err != nil {
			h.writeUpstreamError(ctx, w, "list products", err)
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// findCategory matches ref against category ids, slugs and canonical names.
func (h *CatalogHandlers) findCategory(ctx context.Context, ref string) (catalog.Category, bool, error) {
	categories, err := h.source.ListCategories(ctx)
	if err != nil {
		return catalog.Category{}, false, err
	}
	slug := strings.ToLower(ref)
	canonical := h.canon.Name(ref)
	canonicalSlug := textutil.Slugify(canonical)
	for _, c := range categories {
		if c.ID == ref || c.Slug == slug || c.Slug == canonicalSlug || strings.EqualFold(c.Name, canonical) {
			return c, true, nil
		}
	}
	return catalog.Category{}, false, nil
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "productId"))
	product, err := h.source.GetProduct(ctx, id)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": product})
		return
	case errors.Is(err, nopcommerce.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}

	logger(ctx).Warn("product lookup failed, trying products cache", zap.String("product_id", id), zap.Error(err))
	if cached, cerr := h.source.CachedProducts(ctx); cerr == nil {
		if p, ok := catalog.FindByID(cached, id); ok {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": p, "stale": true})
			return
		}
	}
	h.writeUpstreamError(ctx, w, "get product", err)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.source.ListCategories(ctx)
	if err != nil {
		h.writeUpstreamError(ctx, w, "list categories", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *CatalogHandlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "q is required", http.StatusBadRequest))
		return
	}

	products, err := h.source.ListProducts(ctx, 1, searchPageSize)
	if err != nil {
		logger(ctx).Warn("search listing failed, using products cache", zap.Error(err))
		cached, cerr := h.source.CachedProducts(ctx)
		if cerr != nil {
			h.writeUpstreamError(ctx, w, "search", err)
			return
		}
		products = cached
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"query":    query,
		"products": catalog.Search(products, query),
	})
}

func (h *CatalogHandlers) writeUpstreamError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	logger(ctx).Error("catalog request failed", zap.String("operation", op), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusBadGateway))
}
