package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/promtools/promscraper/internal/models"
)

// Selector chains are ordered newest-first: data-qaid hooks from the
// current storefront markup, then the legacy b- and cs- theme classes.
var (
	descriptionSelectors = []string{
		`[data-qaid="descriptions"]`,
		`[data-qaid="product_description"]`,
		`.b-user-content`,
		`.cs-user-content`,
	}

	imageSelectors = strings.Join([]string{
		`[data-qaid="image_preview"]`,
		`.cs-image-holder img`,
		`.b-extra-photos img`,
		`.b-pictures img`,
		`.cs-images img`,
	}, ", ")

	attributeRowSelectors = []string{
		`.b-product-info tr`,
		`[data-qaid="attribute_block"] tr`,
		`.cs-product-info tr`,
		`.cs-product-info__row`,
	}

	skuSelectors = strings.Join([]string{
		`[data-qaid="product-sku"]`,
		`[data-qaid="product_code"]`,
		`.b-product-data__item_type_sku`,
		`.cs-product-data__item_type_sku`,
	}, ", ")

	breadcrumbSelectors = strings.Join([]string{
		`[data-qaid="breadcrumbs_seo"] li a`,
		`.b-breadcrumb__item a`,
		`.cs-breadcrumb__item a`,
	}, ", ")

	oldPriceSelectors = []string{
		`[data-qaid="old_price"]`,
		`[data-qaid="old_product_price"]`,
		`.b-goods-price__value_type_old`,
		`.b-product-gallery__old-price`,
		`.b-product-cost__old-price`,
		`.b-product-cost__prev`,
		`.cs-goods-price__value_type_old`,
		`.cs-goods-price__old`,
		`strike`,
		`del`,
	}

	availabilitySelectors = strings.Join([]string{
		`[data-qaid="presence_data"]`,
		`[data-qaid="product_presence"]`,
		`.b-product-data__item_type_available`,
		`.b-goods-data__state`,
		`.b-product-status__state`,
		`.cs-goods-availability`,
		`.cs-goods-data__state`,
		`.b-product-gallery__state`,
	}, ", ")

	breadcrumbRoots = map[string]bool{
		"Головна":         true,
		"Каталог товарів": true,
		"Каталог":         true,
	}

	skuLabelReplacer = strings.NewReplacer("Код:", "", "Артикул:", "")

	descriptionPolicy = bluemonday.UGCPolicy()
)

// Details holds everything the heuristic extractor could recover from a
// product page's markup.
type Details struct {
	Description  string
	AllImages    []string
	Attributes   []models.ProductAttribute
	SKU          string
	CategoryName string
	CategoryPath []string
	OldPrice     float64
	Availability models.Availability
}

// ExtractDetails walks the product page DOM and fills in every detail it
// can find. seed carries values already recovered from the Apollo cache;
// fields the seed provides are kept and only the gaps are probed. seed may
// be nil.
func ExtractDetails(doc *goquery.Document, seed *models.Product) Details {
	var d Details
	if seed != nil {
		d.Description = seed.Description
		d.AllImages = append(d.AllImages, seed.AllImages...)
		d.Attributes = append(d.Attributes, seed.Attributes...)
		d.SKU = seed.SKU
		d.CategoryName = seed.CategoryName
		d.CategoryPath = append(d.CategoryPath, seed.CategoryPath...)
		d.OldPrice = seed.OldPrice
		d.Availability = seed.Availability
	}

	if d.Description == "" {
		d.Description = extractDescription(doc)
	}
	d.AllImages = extractImages(doc, d.AllImages)
	if len(d.Attributes) == 0 {
		d.Attributes = extractAttributes(doc)
	}
	if d.SKU == "" {
		d.SKU = extractSKU(doc)
	}
	if len(d.CategoryPath) == 0 {
		d.CategoryPath = extractBreadcrumbs(doc)
		if len(d.CategoryPath) > 0 {
			d.CategoryName = d.CategoryPath[len(d.CategoryPath)-1]
		}
	}
	if d.OldPrice == 0 {
		d.OldPrice = extractOldPrice(doc)
	}
	if d.Availability == "" || d.Availability == models.Unknown {
		d.Availability = extractAvailability(doc)
	}

	return d
}

func extractDescription(doc *goquery.Document) string {
	for _, selector := range descriptionSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		clone := sel.Clone()
		clone.Find(`script, style, [data-qaid="attribute_block"]`).Remove()
		markup, err := clone.Html()
		if err != nil {
			continue
		}
		clean := strings.TrimSpace(descriptionPolicy.Sanitize(markup))
		if clean != "" {
			return clean
		}
	}
	return ""
}

// extractImages unions gallery images with the already known ones,
// preserving order and dropping duplicates.
func extractImages(doc *goquery.Document, known []string) []string {
	images := make([]string, 0, len(known))
	seen := make(map[string]bool)
	for _, img := range known {
		if img != "" && !seen[img] {
			seen[img] = true
			images = append(images, img)
		}
	}
	doc.Find(imageSelectors).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("data-src")
		if !ok || src == "" {
			src, _ = s.Attr("src")
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		src = UpscaleImageURL(src)
		if !seen[src] {
			seen[src] = true
			images = append(images, src)
		}
	})
	return images
}

func extractAttributes(doc *goquery.Document) []models.ProductAttribute {
	for _, selector := range attributeRowSelectors {
		var attrs []models.ProductAttribute
		doc.Find(selector).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, .cs-product-info__cell")
			if cells.Length() < 2 {
				return
			}
			name := strings.TrimSpace(cells.Eq(0).Text())
			value := strings.TrimSpace(cells.Eq(1).Text())
			if name == "" || value == "" {
				return
			}
			attrs = append(attrs, models.ProductAttribute{Name: name, Value: value})
		})
		if len(attrs) > 0 {
			return attrs
		}
	}
	return nil
}

func extractSKU(doc *goquery.Document) string {
	sel := doc.Find(skuSelectors).First()
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(skuLabelReplacer.Replace(sel.Text()))
}

func extractBreadcrumbs(doc *goquery.Document) []string {
	var path []string
	doc.Find(breadcrumbSelectors).Each(func(_ int, s *goquery.Selection) {
		caption, ok := s.Attr("title")
		if !ok || strings.TrimSpace(caption) == "" {
			caption = s.Text()
		}
		caption = strings.TrimSpace(caption)
		if caption == "" || breadcrumbRoots[caption] {
			return
		}
		path = append(path, caption)
	})
	return path
}

func extractOldPrice(doc *goquery.Document) float64 {
	for _, selector := range oldPriceSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		raw, ok := sel.Attr("data-qaprice")
		if !ok || raw == "" {
			raw = sel.Text()
		}
		if value := ParsePrice(raw); value > 0 {
			return value
		}
	}
	return 0
}

func extractAvailability(doc *goquery.Document) models.Availability {
	sel := doc.Find(availabilitySelectors).First()
	if sel.Length() == 0 {
		return models.Unknown
	}
	return ParseAvailability(sel.Text())
}
