package catalog

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"finitefield.org/storefront/internal/platform/textutil"
)

// Normalizer converts raw catalog records. It is safe for concurrent use.
type Normalizer struct {
	schema   *Schema
	currency string
	canon    *Canonicalizer
	rich     *bluemonday.Policy
	plain    *bluemonday.Policy
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithSchema fixes the upstream schema. Without it the schema is detected per record.
func WithSchema(schema *Schema) Option {
	return func(n *Normalizer) { n.schema = schema }
}

// WithDefaultCurrency sets the currency used when a record has none.
func WithDefaultCurrency(code string) Option {
	return func(n *Normalizer) {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			n.currency = code
		}
	}
}

// WithCanonicalizer replaces the built-in category alias table.
func WithCanonicalizer(c *Canonicalizer) Option {
	return func(n *Normalizer) {
		if c != nil {
			n.canon = c
		}
	}
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		currency: DefaultCurrency,
		canon:    defaultCanonicalizer,
		rich:     bluemonday.UGCPolicy(),
		plain:    bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Schema returns the fixed schema, or nil when detecting per record.
func (n *Normalizer) Schema() *Schema { return n.schema }

func (n *Normalizer) schemaFor(raw Record) *Schema {
	if n.schema != nil {
		return n.schema
	}
	return DetectSchema(raw)
}

var defaultNormalizer = NewNormalizer()

// NormalizeProduct normalizes one product record, detecting its naming convention. Nil input returns nil;
// an empty record yields a product with every field defaulted.
func NormalizeProduct(raw Record) *Product { return defaultNormalizer.Product(raw) }

// NormalizeProducts normalizes a decoded JSON array of products. Non-list input yields an empty slice.
func NormalizeProducts(raw any) []Product { return defaultNormalizer.Products(raw) }

// NormalizeCategory normalizes one category record.
func NormalizeCategory(raw Record) *Category { return defaultNormalizer.Category(raw) }

// NormalizeCategories normalizes a decoded JSON array of categories.
func NormalizeCategories(raw any) []Category { return defaultNormalizer.Categories(raw) }

// Product normalizes one product record.
func (n *Normalizer) Product(raw Record) *Product {
	if raw == nil {
		return nil
	}
	s := n.schemaFor(raw)
	p := &Product{
		ID:               idString(raw["id"]),
		Name:             firstString(raw, "name"),
		SKU:              firstString(raw, s.SKU, "sku"),
		Description:      n.richText(firstString(raw, s.FullDescription, "description")),
		ShortDescription: n.plainText(firstString(raw, s.ShortDescription, "shortDescription")),
		InStock:          inStock(raw, s),
		Manufacturer:     manufacturer(raw, s),
		Tags:             tags(raw, s),
		Specifications:   n.specifications(raw, s),
	}
	n.applyPricing(p, raw, s)
	n.applyCategory(p, raw, s)
	applyImages(p, raw, s)
	applyReviews(p, raw, s)
	return p
}

// Products normalizes every element of a decoded JSON array and drops elements that are not records.
func (n *Normalizer) Products(raw any) []Product {
	items := asList(raw)
	out := make([]Product, 0, len(items))
	for _, item := range items {
		rec, _ := asRecord(item)
		if p := n.Product(rec); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Category normalizes one category record.
func (n *Normalizer) Category(raw Record) *Category {
	if raw == nil {
		return nil
	}
	s := n.schemaFor(raw)
	name := n.canon.Name(firstString(raw, "name"))
	c := &Category{
		ID:          idString(raw["id"]),
		Name:        name,
		Slug:        n.slug(name, firstString(raw, s.SeName, "slug")),
		Description: n.richText(firstString(raw, "description")),
		ParentID:    idString(firstPresent(raw, s.ParentCategory, "parentId")),
	}
	picture := record(raw, s.PictureModel)
	c.ImageURL = firstString(picture, s.ImageURL)
	if c.ImageURL == "" {
		c.ImageURL = firstString(raw, "imageUrl", "image")
	}
	c.FullSizeImageURL = firstString(picture, s.FullSizeImageURL)
	if c.FullSizeImageURL == "" {
		c.FullSizeImageURL = firstString(raw, "fullSizeImageUrl")
	}
	c.ThumbImageURL = firstString(picture, s.ThumbImageURL)
	if c.ThumbImageURL == "" {
		c.ThumbImageURL = firstString(raw, "thumbImageUrl")
	}
	c.Image = firstNonEmpty(c.ImageURL, c.FullSizeImageURL, c.ThumbImageURL)
	if count, ok := firstNumber(raw, s.NumberOfProducts, "count"); ok {
		c.Count = toInt(count)
	}
	if featured, ok := toBool(firstPresent(raw, s.ShowOnHomePage, "featured")); ok {
		c.Featured = featured
	}
	return c
}

// Categories normalizes every element of a decoded JSON array of categories.
func (n *Normalizer) Categories(raw any) []Category {
	items := asList(raw)
	out := make([]Category, 0, len(items))
	for _, item := range items {
		rec, _ := asRecord(item)
		if c := n.Category(rec); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (n *Normalizer) applyPricing(p *Product, raw Record, s *Schema) {
	pricing := record(raw, s.ProductPrice)

	if v, ok := firstNumber(pricing, s.PriceValue); ok {
		p.Price = v
	} else {
		p.Price, _ = firstNumber(raw, "price")
	}
	if v, ok := firstNumber(pricing, s.OldPriceValue); ok {
		p.OldPrice = v
	} else {
		p.OldPrice, _ = firstNumber(raw, "oldPrice")
	}

	p.Currency = strings.ToUpper(firstString(pricing, s.CurrencyCode))
	if p.Currency == "" {
		p.Currency = strings.ToUpper(firstString(raw, "currency"))
	}
	if p.Currency == "" {
		p.Currency = n.currency
	}

	p.PriceDisplay = firstString(pricing, s.PriceText)
	if p.PriceDisplay == "" {
		p.PriceDisplay = firstString(raw, "priceDisplay")
	}
	if p.PriceDisplay == "" {
		p.PriceDisplay = FormatPrice(p.Currency, p.Price)
	}
}

// FormatPrice renders "<CUR> 0.00".
func FormatPrice(currency string, amount float64) string {
	return fmt.Sprintf("%s %.2f", currency, amount)
}

func (n *Normalizer) applyCategory(p *Product, raw Record, s *Schema) {
	var name, explicitSlug string
	if crumb := firstRecord(record(raw, s.Breadcrumb), s.CategoryBreadcrumb); crumb != nil {
		name = firstString(crumb, "name")
		explicitSlug = firstString(crumb, s.SeName)
		p.CategoryID = idString(crumb["id"])
	} else {
		switch v := raw["category"].(type) {
		case string:
			name = strings.TrimSpace(v)
		case map[string]any:
			name = firstString(v, "name")
			explicitSlug = firstString(v, s.SeName, "slug")
			p.CategoryID = idString(v["id"])
		}
		if slug := firstString(raw, "categorySlug"); slug != "" {
			explicitSlug = slug
		}
		if id := idString(raw["categoryId"]); id != "" {
			p.CategoryID = id
		}
	}

	name = n.canon.Name(name)
	if name == "" {
		p.Category = PlaceholderCategory
		p.CategorySlug = PlaceholderCategorySlug
		return
	}
	p.Category = name
	p.CategorySlug = n.slug(name, explicitSlug)
}

// slug derives a category slug. Names known to the alias table always take the slug of their canonical
// name so variant spellings share one bucket; otherwise an explicit upstream slug wins.
func (n *Normalizer) slug(name, explicit string) string {
	var slug string
	switch {
	case n.canon.Known(name):
		slug = textutil.Slugify(n.canon.Name(name))
	case explicit != "":
		slug = textutil.Slugify(explicit)
	}
	if slug == "" {
		slug = textutil.Slugify(name)
	}
	if slug == "" {
		slug = PlaceholderCategorySlug
	}
	return slug
}

func applyImages(p *Product, raw Record, s *Schema) {
	images := make([]Image, 0)
	for _, item := range list(raw, s.Pictures) {
		if pic, ok := asRecord(item); ok {
			if img, ok := pictureImage(pic, s); ok {
				images = append(images, img)
			}
		}
	}
	if len(images) == 0 {
		if img, ok := pictureImage(record(raw, s.DefaultPicture), s); ok {
			images = append(images, img)
		}
	}
	if len(images) > 0 {
		p.Images = images
		p.Image = images[0].URL
		p.MainImage = images[0].FullSize
		p.ThumbImage = images[0].Thumb
		return
	}

	// Already-normalized shape.
	for _, item := range list(raw, "images") {
		if rec, ok := asRecord(item); ok {
			if img, ok := flatImage(rec); ok {
				images = append(images, img)
			}
		}
	}
	p.Images = images
	p.Image = firstString(raw, "image")
	if p.Image == "" && len(images) > 0 {
		p.Image = images[0].URL
	}
	p.MainImage = firstNonEmpty(firstString(raw, "mainImage"), p.Image)
	p.ThumbImage = firstNonEmpty(firstString(raw, "thumbImage"), p.Image)
}

func pictureImage(pic Record, s *Schema) (Image, bool) {
	url := firstString(pic, s.ImageURL, s.FullSizeImageURL, s.ThumbImageURL)
	if url == "" {
		return Image{}, false
	}
	return Image{
		URL:      url,
		FullSize: firstNonEmpty(firstString(pic, s.FullSizeImageURL), url),
		Thumb:    firstNonEmpty(firstString(pic, s.ThumbImageURL), url),
		Alt:      firstString(pic, s.AlternateText, "title"),
	}, true
}

func flatImage(rec Record) (Image, bool) {
	url := firstString(rec, "url", "fullSize", "thumb")
	if url == "" {
		return Image{}, false
	}
	return Image{
		URL:      url,
		FullSize: firstNonEmpty(firstString(rec, "fullSize"), url),
		Thumb:    firstNonEmpty(firstString(rec, "thumb"), url),
		Alt:      firstString(rec, "alt"),
	}, true
}

func inStock(raw Record, s *Schema) bool {
	if v, ok := toBool(firstPresent(raw, s.InStock, "inStock")); ok {
		return v
	}
	if availability := strings.ToLower(firstString(raw, s.StockAvailability)); availability != "" {
		return !strings.Contains(availability, "out of stock")
	}
	return true
}

func manufacturer(raw Record, s *Schema) string {
	if m := firstRecord(raw, s.Manufacturers); m != nil {
		if name := firstString(m, "name"); name != "" {
			return name
		}
	}
	switch v := raw["manufacturer"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return firstString(v, "name")
	}
	return ""
}

func tags(raw Record, s *Schema) []string {
	items := list(raw, s.Tags)
	if items == nil {
		items = list(raw, "tags")
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		var tag string
		switch v := item.(type) {
		case string:
			tag = strings.TrimSpace(v)
		case map[string]any:
			tag = firstString(v, "name")
		}
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func applyReviews(p *Product, raw Record, s *Schema) {
	if overview := record(raw, s.ReviewOverview); overview != nil {
		total := toInt(overview[s.TotalReviews])
		if total > 0 {
			p.ReviewCount = total
			p.Rating = math.Round(toFloat(overview[s.RatingSum])/float64(total)*10) / 10
		}
		return
	}
	p.Rating = toFloat(raw["rating"])
	p.ReviewCount = toInt(raw["reviewCount"])
}

func (n *Normalizer) specifications(raw Record, s *Schema) map[string]string {
	specs := make(map[string]string)
	if model := record(raw, s.Specifications); model != nil {
		for _, g := range list(model, s.SpecGroups) {
			group, _ := asRecord(g)
			for _, a := range list(group, s.SpecAttributes) {
				attr, _ := asRecord(a)
				name := firstString(attr, "name")
				if name == "" {
					continue
				}
				var values []string
				for _, v := range list(attr, s.SpecValues) {
					value, _ := asRecord(v)
					if text := n.plainText(firstString(value, s.SpecValueRaw, "value")); text != "" {
						values = append(values, text)
					}
				}
				specs[name] = strings.Join(values, ", ")
			}
		}
		return textutil.NormalizeStringMap(specs)
	}
	if flat := record(raw, "specifications"); flat != nil {
		for k, v := range flat {
			specs[k] = toString(v)
		}
	}
	return textutil.NormalizeStringMap(specs)
}

func (n *Normalizer) richText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(n.rich.Sanitize(s))
}

// plainText strips every tag and decodes entities so the result is display-ready text.
func (n *Normalizer) plainText(s string) string {
	if s == "" {
		return ""
	}
	return textutil.CollapseSpace(html.UnescapeString(n.plain.Sanitize(s)))
}

func firstPresent(raw Record, keys ...string) any {
	for _, key := range keys {
		if v, ok := field(raw, key); ok {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
