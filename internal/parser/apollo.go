package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/promtools/promscraper/internal/models"
)

// State classifies the outcome of scanning a page for the embedded
// Apollo cache payload.
type State int

const (
	// StateAbsent means no script on the page carried the payload.
	StateAbsent State = iota
	// StateMalformed means the payload was present but could not be
	// decoded into a product.
	StateMalformed
	// StateProduct means a product was successfully extracted.
	StateProduct
)

// Result is the outcome of an Apollo extraction. Product is non-nil only
// when State is StateProduct.
type Result struct {
	State   State
	Product *models.Product
}

const apolloMarker = "window.ApolloCacheState"

var apolloStateRe = regexp.MustCompile(`window\.ApolloCacheState\s*=\s*(\{.+\});`)

// productCardKeyPrefix identifies the cache entry holding the product
// card query result.
const productCardKeyPrefix = "ProductCardPageQuery"

type apolloCacheEntry struct {
	Result struct {
		Product     *apolloProduct `json:"product"`
		BreadCrumbs struct {
			Items []struct {
				Caption string `json:"caption"`
			} `json:"items"`
		} `json:"breadCrumbs"`
	} `json:"result"`
}

type apolloProduct struct {
	ID              json.RawMessage   `json:"id"`
	Name            string            `json:"name"`
	Price           json.RawMessage   `json:"price"`
	DiscountedPrice json.RawMessage   `json:"discountedPrice"`
	PriceOriginal   json.RawMessage   `json:"priceOriginal"`
	Status          string            `json:"status"`
	SKU             string            `json:"sku"`
	Description     string            `json:"description"`
	DescriptionFull string            `json:"descriptionFull"`
	Image           string            `json:"image"`
	Images          []json.RawMessage `json:"images"`
	Attributes      []struct {
		Name   string          `json:"name"`
		Value  string          `json:"value"`
		Values json.RawMessage `json:"values"`
	} `json:"attributes"`
}

// imageURL reads one entry of the images list, which may be either an
// object with a url field or a bare URL string.
func imageURL(raw json.RawMessage) string {
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
		return obj.URL
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// ExtractApollo scans the document's inline scripts for the serialized
// Apollo cache and, when present, assembles a fully detailed product from
// the ProductCardPageQuery entry. canonicalURL becomes the product link.
func ExtractApollo(doc *goquery.Document, canonicalURL string) Result {
	var payload string
	markerSeen := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, apolloMarker) {
			return true
		}
		markerSeen = true
		if match := apolloStateRe.FindStringSubmatch(text); match != nil {
			payload = match[1]
		}
		return false
	})
	if payload == "" {
		if markerSeen {
			return Result{State: StateMalformed}
		}
		return Result{State: StateAbsent}
	}

	var cache map[string]apolloCacheEntry
	if err := json.Unmarshal([]byte(payload), &cache); err != nil {
		return Result{State: StateMalformed}
	}

	var entry *apolloCacheEntry
	for key := range cache {
		if strings.HasPrefix(key, productCardKeyPrefix) {
			e := cache[key]
			entry = &e
			break
		}
	}
	if entry == nil || entry.Result.Product == nil {
		return Result{State: StateMalformed}
	}

	src := entry.Result.Product
	p := &models.Product{
		ID:            rawString(src.ID),
		Title:         strings.TrimSpace(src.Name),
		Currency:      models.Currency,
		Link:          canonicalURL,
		Seller:        "Prom Seller",
		SKU:           strings.TrimSpace(src.SKU),
		DetailsLoaded: true,
	}
	if p.ID == "" || p.Title == "" {
		return Result{State: StateMalformed}
	}
	p.ExternalID = p.ID

	// The discounted price is the actual selling price when both are set.
	p.Price = rawFloat(src.DiscountedPrice)
	if p.Price == 0 {
		p.Price = rawFloat(src.Price)
	}
	p.SetOldPrice(rawFloat(src.PriceOriginal))

	switch src.Status {
	case "available":
		p.Availability = models.InStock
	case "on_order":
		p.Availability = models.OnOrder
	default:
		p.Availability = models.Unavailable
	}

	p.Description = strings.TrimSpace(src.DescriptionFull)
	if p.Description == "" {
		p.Description = strings.TrimSpace(src.Description)
	}

	for _, img := range src.Images {
		if u := imageURL(img); u != "" {
			p.AllImages = append(p.AllImages, UpscaleImageURL(u))
		}
	}
	if len(p.AllImages) == 0 && src.Image != "" {
		p.AllImages = []string{UpscaleImageURL(src.Image)}
	}
	if len(p.AllImages) > 0 {
		p.Image = p.AllImages[0]
	}

	for _, attr := range src.Attributes {
		if attr.Name == "" {
			continue
		}
		value := attr.Value
		var items []struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(attr.Values, &items); err == nil && len(items) > 0 {
			values := make([]string, 0, len(items))
			for _, v := range items {
				if v.Value != "" {
					values = append(values, v.Value)
				}
			}
			value = strings.Join(values, ", ")
		}
		if value == "" {
			continue
		}
		p.Attributes = append(p.Attributes, models.ProductAttribute{
			Name:  attr.Name,
			Value: value,
		})
	}

	// The first breadcrumb is the site root, not a category.
	items := entry.Result.BreadCrumbs.Items
	if len(items) > 1 {
		for _, item := range items[1:] {
			if caption := strings.TrimSpace(item.Caption); caption != "" {
				p.CategoryPath = append(p.CategoryPath, caption)
			}
		}
	}
	if len(p.CategoryPath) > 0 {
		p.CategoryName = p.CategoryPath[len(p.CategoryPath)-1]
	}

	return Result{State: StateProduct, Product: p}
}

// rawString reads a JSON value that may be serialized as either a string
// or a number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawFloat reads a numeric JSON value that may be serialized as either a
// number or a price string.
func rawFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParsePrice(s)
	}
	return 0
}
