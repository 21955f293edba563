package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"finitefield.org/storefront/internal/cart"
)

// Address is a shipping address attached to an order.
type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Country string `json:"country,omitempty"`
}

// OrderRequest places an order for the given cart lines.
type OrderRequest struct {
	Items           []cart.Entry `json:"items"`
	ShippingAddress Address      `json:"shippingAddress"`
	PaymentMethod   string       `json:"paymentMethod,omitempty"`
	Notes           string       `json:"notes,omitempty"`
}

// Order is an order as recorded by the backend.
type Order struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	Total           float64      `json:"total"`
	Currency        string       `json:"currency,omitempty"`
	Items           []cart.Entry `json:"items"`
	ShippingAddress *Address     `json:"shippingAddress,omitempty"`
	CreatedAt       string       `json:"createdAt,omitempty"`
}

type ordersPayload struct {
	orders []Order
}

func (p *ordersPayload) UnmarshalJSON(data []byte) error {
	var list []Order
	if err := json.Unmarshal(data, &list); err == nil {
		p.orders = list
		return nil
	}
	var obj struct {
		Orders []Order `json:"orders"`
		Data   []Order `json:"data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.orders = obj.Orders
	if p.orders == nil {
		p.orders = obj.Data
	}
	return nil
}

type orderPayload struct {
	Order
	Wrapped *Order `json:"order"`
}

// ListOrders returns the signed-in user's orders.
func (c *Client) ListOrders(ctx context.Context, token string) ([]Order, error) {
	token, err := requireToken(token)
	if err != nil {
		return nil, err
	}
	var payload ordersPayload
	if err := c.call(ctx, "list_orders", http.MethodGet, "orders", nil, token, &payload); err != nil {
		return nil, err
	}
	if payload.orders == nil {
		return []Order{}, nil
	}
	return payload.orders, nil
}

// CreateOrder places an order. Each call carries a fresh idempotency key.
func (c *Client) CreateOrder(ctx context.Context, token string, req OrderRequest) (Order, error) {
	token, err := requireToken(token)
	if err != nil {
		return Order{}, err
	}
	var payload orderPayload
	if err := c.call(ctx, "create_order", http.MethodPost, "orders", req, token, &payload, withIdempotencyKey(c.newKey())); err != nil {
		return Order{}, err
	}
	if payload.Wrapped != nil {
		return *payload.Wrapped, nil
	}
	return payload.Order, nil
}
