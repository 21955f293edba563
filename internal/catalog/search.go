package catalog

import (
	"strings"

	"finitefield.org/storefront/internal/platform/textutil"
)

// Search returns the products whose name, category, manufacturer, SKU or tags contain every word of query,
// ignoring case. An empty query returns nil.
func Search(products []Product, query string) []Product {
	terms := strings.Fields(textutil.FoldKey(query))
	if len(terms) == 0 {
		return nil
	}
	out := make([]Product, 0)
	for _, p := range products {
		haystack := textutil.FoldKey(strings.Join(append([]string{p.Name, p.Category, p.Manufacturer, p.SKU}, p.Tags...), " "))
		if containsAll(haystack, terms) {
			out = append(out, p)
		}
	}
	return out
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// FilterByCategory keeps the products in the category bucket identified by slug.
func FilterByCategory(products []Product, slug string) []Product {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return products
	}
	out := make([]Product, 0)
	for _, p := range products {
		if p.CategorySlug == slug {
			out = append(out, p)
		}
	}
	return out
}

// FindByID returns the product with the given ID from a list.
func FindByID(products []Product, id string) (Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// Featured returns the categories flagged for the home page, or the first limit categories when none are.
func Featured(categories []Category, limit int) []Category {
	out := make([]Category, 0, limit)
	for _, c := range categories {
		if c.Featured {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, categories...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
