package storefront

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/httpx"
)

// Orders reads and places orders for the signed-in user.
type Orders interface {
	ListOrders(ctx context.Context, token string) ([]backend.Order, error)
	CreateOrder(ctx context.Context, token string, req backend.OrderRequest) (backend.Order, error)
}

// OrderHandlers pass order calls through to the backend with the session's token.
type OrderHandlers struct {
	sessions *SessionServices
	orders   Orders
}

// NewOrderHandlers constructs the /orders handlers.
func NewOrderHandlers(sessions *SessionServices, orders Orders) *OrderHandlers {
	return &OrderHandlers{sessions: sessions, orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
}

type createOrderRequest struct {
	ShippingAddress backend.Address `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	Notes           string          `json:"notes"`
}

func (req createOrderRequest) validate() error {
	addr := req.ShippingAddress
	if strings.TrimSpace(addr.Name) == "" || strings.TrimSpace(addr.Phone) == "" ||
		strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" {
		return errors.New("shippingAddress requires name, phone, line1 and city")
	}
	return nil
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, token, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListOrders(ctx, token)
	if err != nil {
		h.writeOrderError(ctx, w, scope, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	scope, token, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	snap, err := scope.Cart.LoadUserCart(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if len(snap.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, token, backend.OrderRequest{
		Items:           snap.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeOrderError(ctx, w, scope, err)
		return
	}

	cleared, err := scope.Cart.ClearCart(ctx)
	if err != nil {
		logger(ctx).Warn("cart clear after order failed", zap.String("order_id", order.ID), zap.Error(err))
		cleared = scope.Cart.Reset(ctx)
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": order, "cart": cleared})
}

func (h *OrderHandlers) authenticated(w http.ResponseWriter, r *http.Request) (*SessionScope, string, bool) {
	ctx := r.Context()
	scope, err := h.sessions.For(ctx)
	if err != nil {
		writeSessionUnavailable(ctx, w, err)
		return nil, "", false
	}
	token, err := scope.Tokens.Token(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, "", false
	}
	return scope, token, true
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, scope *SessionScope, err error) {
	if backend.IsAuthError(err) {
		if lerr := scope.Tokens.Logout(ctx); lerr != nil {
			logger(ctx).Warn("logout after rejected token failed", zap.Error(lerr))
		}
		if _, lerr := scope.Cart.LoadGuestCart(ctx); lerr != nil {
			logger(ctx).Warn("guest cart reload failed", zap.Error(lerr))
		}
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		httpx.WriteError(ctx, w, httpx.NewError("order_rejected", apiErr.Message, http.StatusUnprocessableEntity))
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger(ctx).Error("order request failed", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "order service is unavailable", http.StatusBadGateway))
}

var _ cart.Remote = (*backend.Client)(nil)
