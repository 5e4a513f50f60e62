package export

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/promtools/promscraper/internal/models"
)

var csvHeader = []string{
	"Product_Code", "Item_Name", "Search_Queries", "Description", "Item_Type",
	"Price", "Currency", "Unit", "Image_Links", "Availability", "Group_Name",
	"Manufacturer", "Discount", "Old_Price", "SKU", "Attributes",
}

var nonDigitRe = regexp.MustCompile(`[^0-9]`)

// writeCSV renders the marketplace import table. String cells are always
// quoted with inner quotes doubled; numeric cells stay bare.
func (e *Exporter) writeCSV(products []*models.Product) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteString("\n")

	for _, p := range products {
		attrs := make([]string, 0, len(p.Attributes))
		for _, a := range p.Attributes {
			attrs = append(attrs, a.Name+":"+a.Value)
		}

		images := p.AllImages
		if len(images) == 0 && p.Image != "" {
			images = []string{p.Image}
		}

		availability := "-"
		if p.Availability == models.InStock {
			availability = "+"
		}

		discount := ""
		oldPrice := ""
		if p.HasDiscount() {
			discount = formatPrice(p.OldPrice - p.Price)
			oldPrice = formatPrice(p.OldPrice)
		}

		row := []string{
			csvQuote(productCode(p)),
			csvQuote(p.Title),
			"",
			csvQuote(p.Description),
			"r",
			formatPrice(p.Price),
			p.Currency,
			"pcs",
			csvQuote(strings.Join(images, ", ")),
			availability,
			csvQuote(p.LeafCategory("General")),
			"",
			discount,
			oldPrice,
			csvQuote(p.SKU),
			csvQuote(strings.Join(attrs, "|")),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteString("\n")
	}

	return []byte(b.String())
}

func csvQuote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func formatPrice(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// productCode derives a stable import code: the platform id when known,
// else the digits of the internal id, else a timestamp.
func productCode(p *models.Product) string {
	if p.ExternalID != "" {
		return p.ExternalID
	}
	digits := nonDigitRe.ReplaceAllString(p.ID, "")
	if digits != "" {
		if len(digits) > 10 {
			digits = digits[:10]
		}
		return digits
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
