package catalog

import (
	"strings"
	"unicode"
)

// Schema names the upstream keys for one naming convention of the catalog API.
type Schema struct {
	Name string

	ProductPrice  string
	PriceValue    string
	OldPriceValue string
	PriceText     string
	CurrencyCode  string

	DefaultPicture   string
	Pictures         string
	PictureModel     string
	ImageURL         string
	FullSizeImageURL string
	ThumbImageURL    string
	AlternateText    string

	Breadcrumb         string
	CategoryBreadcrumb string
	SeName             string

	FullDescription   string
	ShortDescription  string
	InStock           string
	StockAvailability string
	SKU               string

	Manufacturers  string
	Tags           string
	ReviewOverview string
	RatingSum      string
	TotalReviews   string

	Specifications   string
	SpecGroups       string
	SpecAttributes   string
	SpecValues       string
	SpecValueRaw     string
	NumberOfProducts string
	ParentCategory   string
	ShowOnHomePage   string
}

// SchemaSnake is the snake_case shape served by the nopCommerce Web API plugin.
var SchemaSnake = &Schema{
	Name:               "snake",
	ProductPrice:       "product_price",
	PriceValue:         "price_value",
	OldPriceValue:      "old_price_value",
	PriceText:          "price",
	CurrencyCode:       "currency_code",
	DefaultPicture:     "default_picture_model",
	Pictures:           "picture_models",
	PictureModel:       "picture_model",
	ImageURL:           "image_url",
	FullSizeImageURL:   "full_size_image_url",
	ThumbImageURL:      "thumb_image_url",
	AlternateText:      "alternate_text",
	Breadcrumb:         "breadcrumb",
	CategoryBreadcrumb: "category_breadcrumb",
	SeName:             "se_name",
	FullDescription:    "full_description",
	ShortDescription:   "short_description",
	InStock:            "in_stock",
	StockAvailability:  "stock_availability",
	SKU:                "sku",
	Manufacturers:      "product_manufacturers",
	Tags:               "product_tags",
	ReviewOverview:     "product_review_overview",
	RatingSum:          "rating_sum",
	TotalReviews:       "total_reviews",
	Specifications:     "product_specification_model",
	SpecGroups:         "groups",
	SpecAttributes:     "attributes",
	SpecValues:         "values",
	SpecValueRaw:       "value_raw",
	NumberOfProducts:   "number_of_products",
	ParentCategory:     "parent_category_id",
	ShowOnHomePage:     "show_on_home_page",
}

// SchemaCamel is the camelCase shape of the default ASP.NET serializer.
var SchemaCamel = &Schema{
	Name:               "camel",
	ProductPrice:       "productPrice",
	PriceValue:         "priceValue",
	OldPriceValue:      "oldPriceValue",
	PriceText:          "price",
	CurrencyCode:       "currencyCode",
	DefaultPicture:     "defaultPictureModel",
	Pictures:           "pictureModels",
	PictureModel:       "pictureModel",
	ImageURL:           "imageUrl",
	FullSizeImageURL:   "fullSizeImageUrl",
	ThumbImageURL:      "thumbImageUrl",
	AlternateText:      "alternateText",
	Breadcrumb:         "breadcrumb",
	CategoryBreadcrumb: "categoryBreadcrumb",
	SeName:             "seName",
	FullDescription:    "fullDescription",
	ShortDescription:   "shortDescription",
	InStock:            "inStock",
	StockAvailability:  "stockAvailability",
	SKU:                "sku",
	Manufacturers:      "productManufacturers",
	Tags:               "productTags",
	ReviewOverview:     "productReviewOverview",
	RatingSum:          "ratingSum",
	TotalReviews:       "totalReviews",
	Specifications:     "productSpecificationModel",
	SpecGroups:         "groups",
	SpecAttributes:     "attributes",
	SpecValues:         "values",
	SpecValueRaw:       "valueRaw",
	NumberOfProducts:   "numberOfProducts",
	ParentCategory:     "parentCategoryId",
	ShowOnHomePage:     "showOnHomePage",
}

// SchemaByName returns the schema for "snake" or "camel", and nil for anything else (including "auto").
func SchemaByName(name string) *Schema {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SchemaSnake.Name:
		return SchemaSnake
	case SchemaCamel.Name:
		return SchemaCamel
	default:
		return nil
	}
}

// DetectSchema guesses the convention of raw from its top-level keys. Ties and key-less records resolve to
// SchemaSnake.
func DetectSchema(raw Record) *Schema {
	schema, _ := ClassifySchema(raw)
	return schema
}

// ClassifySchema is DetectSchema that also reports whether the keys decided the convention. A record with
// no underscored or inner-capitalised keys, or with as many of each, is undecided.
func ClassifySchema(raw Record) (*Schema, bool) {
	snake, camel := 0, 0
	for key := range raw {
		switch {
		case strings.Contains(key, "_"):
			snake++
		case hasInnerUpper(key):
			camel++
		}
	}
	switch {
	case camel > snake:
		return SchemaCamel, true
	case snake > camel:
		return SchemaSnake, true
	default:
		return SchemaSnake, false
	}
}

func hasInnerUpper(key string) bool {
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
