// Package catalog turns raw nopCommerce catalog records into the storefront's Product and Category values.
//
// Normalization never fails: missing or malformed upstream fields degrade to zero values, empty slices or the
// Uncategorized placeholder.
package catalog

// Record is one decoded upstream JSON object.
type Record = map[string]any

const (
	// PlaceholderCategory is used when a product carries no category at all.
	PlaceholderCategory     = "Uncategorized"
	PlaceholderCategorySlug = "uncategorized"

	DefaultCurrency = "EGP"
)

// Product is the normalized product shape shared by every storefront view and the cart.
type Product struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Category         string            `json:"category"`
	CategorySlug     string            `json:"categorySlug"`
	CategoryID       string            `json:"categoryId"`
	Price            float64           `json:"price"`
	OldPrice         float64           `json:"oldPrice"`
	Currency         string            `json:"currency"`
	PriceDisplay     string            `json:"priceDisplay"`
	InStock          bool              `json:"inStock"`
	SKU              string            `json:"sku"`
	Description      string            `json:"description"`
	ShortDescription string            `json:"shortDescription"`
	Image            string            `json:"image"`
	MainImage        string            `json:"mainImage"`
	ThumbImage       string            `json:"thumbImage"`
	Images           []Image           `json:"images"`
	Manufacturer     string            `json:"manufacturer"`
	Tags             []string          `json:"tags"`
	Rating           float64           `json:"rating"`
	ReviewCount      int               `json:"reviewCount"`
	Specifications   map[string]string `json:"specifications"`
}

// Image is one product picture in its three upstream sizes.
type Image struct {
	URL      string `json:"url"`
	FullSize string `json:"fullSize"`
	Thumb    string `json:"thumb"`
	Alt      string `json:"alt"`
}

// Category is the normalized category shape.
type Category struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Description      string `json:"description"`
	Image            string `json:"image"`
	ImageURL         string `json:"imageUrl"`
	FullSizeImageURL string `json:"fullSizeImageUrl"`
	ThumbImageURL    string `json:"thumbImageUrl"`
	Count            int    `json:"count"`
	ParentID         string `json:"parentId"`
	Featured         bool   `json:"featured"`
}
