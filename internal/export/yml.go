package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/promtools/promscraper/internal/models"
)

const defaultGroup = "General"

var nonAlphanumRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// writeYML renders the YML catalog (the marketplace's XML import format).
// Category ids are assigned in first-seen order with the default group
// always holding id 1.
func (e *Exporter) writeYML(products []*models.Product) []byte {
	categoryIDs := map[string]int{defaultGroup: 1}
	categories := []string{defaultGroup}
	for _, p := range products {
		name := p.LeafCategory(defaultGroup)
		if _, ok := categoryIDs[name]; !ok {
			categoryIDs[name] = len(categories) + 1
			categories = append(categories, name)
		}
	}

	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(&b, "<yml_catalog date=%q>\n", e.now().Format("2006-01-02 15:04:05"))
	b.WriteString("  <shop>\n")
	fmt.Fprintf(&b, "    <name>%s</name>\n", escapeXML(e.shopName))
	b.WriteString("    <company>Prom Parser</company>\n")
	fmt.Fprintf(&b, "    <url>%s</url>\n", escapeXML(e.shopURL))
	b.WriteString("    <currencies>\n")
	fmt.Fprintf(&b, "      <currency id=%q rate=\"1\"/>\n", models.Currency)
	b.WriteString("    </currencies>\n")
	b.WriteString("    <categories>\n")
	for _, name := range categories {
		fmt.Fprintf(&b, "      <category id=\"%d\">%s</category>\n", categoryIDs[name], escapeXML(name))
	}
	b.WriteString("    </categories>\n")
	b.WriteString("    <offers>\n")

	for _, p := range products {
		available := p.Availability == models.InStock

		id := p.ExternalID
		if id == "" {
			id = nonAlphanumRe.ReplaceAllString(p.ID, "")
		}

		fmt.Fprintf(&b, "    <offer id=%q available=\"%t\">\n", id, available)
		fmt.Fprintf(&b, "      <name>%s</name>\n", escapeXML(p.Title))
		fmt.Fprintf(&b, "      <price>%s</price>\n", formatPrice(p.Price))
		if p.HasDiscount() {
			fmt.Fprintf(&b, "      <oldprice>%s</oldprice>\n", formatPrice(p.OldPrice))
		}
		fmt.Fprintf(&b, "      <currencyId>%s</currencyId>\n", models.Currency)
		fmt.Fprintf(&b, "      <categoryId>%d</categoryId>\n", categoryIDs[p.LeafCategory(defaultGroup)])

		if len(p.AllImages) > 0 {
			for _, img := range p.AllImages {
				fmt.Fprintf(&b, "      <picture>%s</picture>\n", escapeXML(img))
			}
		} else if p.Image != "" {
			fmt.Fprintf(&b, "      <picture>%s</picture>\n", escapeXML(p.Image))
		}

		fmt.Fprintf(&b, "      <url>%s</url>\n", escapeXML(p.Link))
		fmt.Fprintf(&b, "      <vendor>%s</vendor>\n", escapeXML(p.Seller))
		if p.SKU != "" {
			fmt.Fprintf(&b, "      <vendorCode>%s</vendorCode>\n", escapeXML(p.SKU))
		}
		fmt.Fprintf(&b, "      <description><![CDATA[%s]]></description>\n", cdataSafe(p.Description))

		for _, attr := range p.Attributes {
			fmt.Fprintf(&b, "      <param name=%q>%s</param>\n",
				escapeAttr(attr.Name), escapeXML(attr.Value))
		}
		if p.SKU != "" {
			fmt.Fprintf(&b, "      <param name=\"SKU\">%s</param>\n", escapeXML(p.SKU))
		}
		b.WriteString("      <param name=\"Condition\">New</param>\n")
		b.WriteString("    </offer>\n")
	}

	b.WriteString("    </offers>\n")
	b.WriteString("  </shop>\n")
	b.WriteString("</yml_catalog>\n")

	return []byte(b.String())
}

// cdataSafe splits any literal "]]>" across two CDATA sections so a
// description cannot terminate the wrapper early.
func cdataSafe(value string) string {
	return strings.ReplaceAll(value, "]]>", "]]]]><![CDATA[>")
}

var xmlTextReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeXML(value string) string {
	return xmlTextReplacer.Replace(value)
}

func escapeAttr(value string) string {
	return strings.ReplaceAll(escapeXML(value), `"`, "&quot;")
}
