package storefront

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/httpx"
)

// CartHandlers exposes the session cart.
type CartHandlers struct {
	sessions *SessionServices
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(sessions *SessionServices) *CartHandlers {
	return &CartHandlers{sessions: sessions}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productId}", h.updateItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(ctx context.Context, rec *cart.Reconciler) (cart.Snapshot, error) {
		return rec.Load(ctx)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(ctx context.Context, rec *cart.Reconciler) (cart.Snapshot, error) {
		return rec.ClearCart(ctx)
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	h.apply(w, r, http.StatusOK, func(ctx context.Context, rec *cart.Reconciler) (cart.Snapshot, error) {
		return rec.AddToCart(ctx, req.ProductID, quantity)
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	h.apply(w, r, http.StatusOK, func(ctx context.Context, rec *cart.Reconciler) (cart.Snapshot, error) {
		return rec.UpdateCartQuantity(ctx, productID, *req.Quantity)
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	h.apply(w, r, http.StatusOK, func(ctx context.Context, rec *cart.Reconciler) (cart.Snapshot, error) {
		return rec.RemoveFromCart(ctx, productID)
	})
}

func (h *CartHandlers) apply(w http.ResponseWriter, r *http.Request, status int, op func(context.Context, *cart.Reconciler) (cart.Snapshot, error)) {
	ctx := r.Context()
	scope, err := h.sessions.For(ctx)
	if err != nil {
		writeSessionUnavailable(ctx, w, err)
		return
	}
	snap, err := op(ctx, scope.Cart)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, map[string]any{"cart": snap})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidInput):
		message := strings.TrimPrefix(err.Error(), cart.ErrInvalidInput.Error()+": ")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
	case errors.Is(err, cart.ErrUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, cart.ErrNotAuthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, context.Canceled):
	default:
		logger(ctx).Error("cart operation failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusBadGateway))
	}
}
