package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/promtools/promscraper/internal/models"
)

var (
	nonPriceChars = regexp.MustCompile(`[^0-9.,]`)
	imageSizeRe   = regexp.MustCompile(`_w\d+_h\d+`)
)

// ParsePrice extracts a numeric price from marketplace price text such as
// "1 299,50 грн" or "2&nbsp;500 ₴". Returns 0 when no number can be found.
func ParsePrice(text string) float64 {
	cleaned := strings.ReplaceAll(text, " ", "")
	cleaned = nonPriceChars.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0
	}
	// Thousand-separated prices can leave multiple dots; keep only the last
	// one as the decimal separator.
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return value
}

// ParseAvailability maps free-form availability text to a normalized status.
func ParseAvailability(text string) models.Availability {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return models.Unknown
	}
	switch {
	case strings.Contains(lower, "немає"), strings.Contains(lower, "нет в наличии"):
		return models.Unavailable
	case strings.Contains(lower, "замовлення"), strings.Contains(lower, "заказ"):
		return models.OnOrder
	case strings.Contains(lower, "наявності"), strings.Contains(lower, "наличии"),
		strings.Contains(lower, "готово"), strings.Contains(lower, "in stock"):
		return models.InStock
	}
	return models.Unknown
}

// UpscaleImageURL rewrites a sized CDN thumbnail URL to its 640x640 variant.
func UpscaleImageURL(rawURL string) string {
	return imageSizeRe.ReplaceAllString(rawURL, "_w640_h640")
}
