// Package cart reconciles a storefront session's cart between the guest store and the signed-in user's
// remote cart, and migrates the guest cart when the user logs in.
package cart

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Mode names the store a cart snapshot is mirrored to.
type Mode string

const (
	ModeGuest Mode = "guest"
	ModeUser  Mode = "user"
)

// ProductData is the display data copied into an entry when it is added.
type ProductData struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Currency string  `json:"currency,omitempty"`
}

// MaxQuantity is the largest quantity one cart line may hold.
const MaxQuantity = 999

// Entry is one cart line. A cart holds at most one entry per ProductID.
type Entry struct {
	ProductID   string      `json:"productId"`
	Quantity    int         `json:"quantity"`
	ProductData ProductData `json:"productData"`
}

// Totals summarises a cart. Total is formatted with two decimals.
type Totals struct {
	Total string `json:"total"`
	Count int    `json:"count"`
}

// Snapshot is one applied cart state.
type Snapshot struct {
	Items  []Entry `json:"items"`
	Totals Totals  `json:"totals"`
	Mode   Mode    `json:"mode"`
	Seq    uint64  `json:"seq"`
}

// ComputeTotals sums price x quantity. Non-finite prices count as zero.
func ComputeTotals(entries []Entry) Totals {
	total := decimal.Zero
	count := 0
	for _, e := range entries {
		if e.Quantity < 1 {
			continue
		}
		price := e.ProductData.Price
		if math.IsNaN(price) || math.IsInf(price, 0) {
			price = 0
		}
		total = total.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(e.Quantity))))
		count += e.Quantity
	}
	return Totals{Total: total.StringFixed(2), Count: count}
}

// normalizeEntries trims ids, drops empty or non-positive lines and merges duplicates keeping first-seen order.
func normalizeEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		e.ProductID = strings.TrimSpace(e.ProductID)
		if e.ProductID == "" || e.Quantity < 1 {
			continue
		}
		if math.IsNaN(e.ProductData.Price) || math.IsInf(e.ProductData.Price, 0) {
			e.ProductData.Price = 0
		}
		if i, ok := index[e.ProductID]; ok {
			out[i].Quantity = addQuantity(out[i].Quantity, e.Quantity)
			continue
		}
		index[e.ProductID] = len(out)
		out = append(out, e)
	}
	return out
}

// addQuantity sums two positive quantities, saturating at MaxQuantity.
func addQuantity(a, b int) int {
	if a >= MaxQuantity || b >= MaxQuantity || a > MaxQuantity-b {
		return MaxQuantity
	}
	return a + b
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
