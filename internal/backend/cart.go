package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"finitefield.org/storefront/internal/cart"
)

// cartPayload accepts a bare array of entries or an object wrapping them in items, cart.items or data.items.
type cartPayload struct {
	entries []cart.Entry
}

func (p *cartPayload) UnmarshalJSON(data []byte) error {
	var list []cart.Entry
	if err := json.Unmarshal(data, &list); err == nil {
		p.entries = list
		return nil
	}
	var obj struct {
		Items []cart.Entry `json:"items"`
		Cart  *struct {
			Items []cart.Entry `json:"items"`
		} `json:"cart"`
		Data *struct {
			Items []cart.Entry `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	switch {
	case obj.Items != nil:
		p.entries = obj.Items
	case obj.Cart != nil:
		p.entries = obj.Cart.Items
	case obj.Data != nil:
		p.entries = obj.Data.Items
	}
	return nil
}

func (p cartPayload) items() []cart.Entry {
	if p.entries == nil {
		return []cart.Entry{}
	}
	return p.entries
}

func (c *Client) cartCall(ctx context.Context, op, method, endpoint string, payload any, token string) ([]cart.Entry, error) {
	token, err := requireToken(token)
	if err != nil {
		return nil, err
	}
	var out cartPayload
	if err := c.call(ctx, op, method, endpoint, payload, token, &out); err != nil {
		return nil, err
	}
	return out.items(), nil
}

func cartItemPath(productID string) string {
	return "cart/items/" + url.PathEscape(strings.TrimSpace(productID))
}

// GetCart returns the user's cart.
func (c *Client) GetCart(ctx context.Context, token string) ([]cart.Entry, error) {
	return c.cartCall(ctx, "get_cart", http.MethodGet, "cart", nil, token)
}

// AddCartItem adds item to the user's cart and returns the cart after the change.
func (c *Client) AddCartItem(ctx context.Context, token string, item cart.Entry) ([]cart.Entry, error) {
	return c.cartCall(ctx, "add_cart_item", http.MethodPost, "cart/items", item, token)
}

// UpdateCartItem sets the quantity of productID.
func (c *Client) UpdateCartItem(ctx context.Context, token, productID string, quantity int) ([]cart.Entry, error) {
	body := map[string]int{"quantity": quantity}
	return c.cartCall(ctx, "update_cart_item", http.MethodPut, cartItemPath(productID), body, token)
}

// RemoveCartItem deletes productID from the user's cart.
func (c *Client) RemoveCartItem(ctx context.Context, token, productID string) ([]cart.Entry, error) {
	return c.cartCall(ctx, "remove_cart_item", http.MethodDelete, cartItemPath(productID), nil, token)
}

// ClearCart empties the user's cart.
func (c *Client) ClearCart(ctx context.Context, token string) ([]cart.Entry, error) {
	return c.cartCall(ctx, "clear_cart", http.MethodDelete, "cart", nil, token)
}
