package models

// Availability is the normalized stock status of a product.
type Availability string

const (
	InStock     Availability = "In stock"
	OnOrder     Availability = "On order"
	Unavailable Availability = "Unavailable"
	Unknown     Availability = "Unknown"
)

// Currency is the single catalog currency this engine normalizes prices to.
const Currency = "UAH"

// NoImage is the placeholder used when a product exposes no usable image.
const NoImage = "https://placehold.co/100x100?text=No+Image"

// ProductAttribute is a free-form name/value pair. Order is preserved and
// names are not required to be unique.
type ProductAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Product is the canonical unit of output. List-view records carry only the
// card-level fields and DetailsLoaded=false; a detail-page parse fills the
// rest and flips DetailsLoaded.
type Product struct {
	ID            string             `json:"id"`
	ExternalID    string             `json:"external_id,omitempty"`
	Title         string             `json:"title"`
	Price         float64            `json:"price"`
	OldPrice      float64            `json:"old_price,omitempty"`
	Currency      string             `json:"currency"`
	Availability  Availability       `json:"availability"`
	Link          string             `json:"link"`
	Seller        string             `json:"seller,omitempty"`
	SKU           string             `json:"sku,omitempty"`
	Image         string             `json:"image"`
	AllImages     []string           `json:"all_images,omitempty"`
	Description   string             `json:"description,omitempty"`
	Attributes    []ProductAttribute `json:"attributes,omitempty"`
	CategoryName  string             `json:"category_name,omitempty"`
	CategoryPath  []string           `json:"category_path,omitempty"`
	DetailsLoaded bool               `json:"details_loaded"`
}

// SetOldPrice records old as the pre-discount price only when it is strictly
// greater than the current price; anything else is not a discount.
func (p *Product) SetOldPrice(old float64) {
	if old > p.Price {
		p.OldPrice = old
	} else {
		p.OldPrice = 0
	}
}

// HasDiscount reports whether the product carries a valid old price.
func (p *Product) HasDiscount() bool {
	return p.OldPrice > p.Price && p.Price > 0
}

// LeafCategory returns the last category path element, falling back to
// CategoryName and then to the given default group label.
func (p *Product) LeafCategory(fallback string) string {
	if len(p.CategoryPath) > 0 {
		return p.CategoryPath[len(p.CategoryPath)-1]
	}
	if p.CategoryName != "" {
		return p.CategoryName
	}
	return fallback
}

// Merge overlays full onto p while preserving p's identity and never
// regressing DetailsLoaded. Hydration relies on this: the list-view id
// survives the detail re-fetch so selection and dedup downstream keep
// working.
func (p *Product) Merge(full *Product) {
	id := p.ID
	loaded := p.DetailsLoaded
	*p = *full
	p.ID = id
	if loaded {
		p.DetailsLoaded = true
	}
}

// ParseResult is the output envelope of a crawl or a multi-product scrape.
type ParseResult struct {
	Products []*Product `json:"products"`
}

// Add appends p unless a record with the same id is already present.
// Returns true when the product was actually added.
func (r *ParseResult) Add(p *Product) bool {
	for _, existing := range r.Products {
		if existing.ID == p.ID {
			return false
		}
	}
	r.Products = append(r.Products, p)
	return true
}

const (
	ModeCategory = "category"
	ModeProducts = "products"
)

// SearchFilters is the caller-supplied input configuration. The engine
// never mutates it.
type SearchFilters struct {
	Mode        string   `json:"mode" validate:"required,oneof=category products"`
	ShopURL     string   `json:"shop_url" validate:"required_if=Mode category"`
	ProductURLs []string `json:"product_urls" validate:"required_if=Mode products"`
	MaxPages    int      `json:"max_pages"`
}
