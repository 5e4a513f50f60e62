package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/parser"
)

var (
	cardSelectors = []string{
		`[data-qaid="product_block"]`,
		`[data-qaid="product-block"]`,
		`.cs-product-gallery__item`,
		`.b-product-gallery__item`,
		`.b-goods-gallery__item`,
		`.cs-product-list__item`,
		`.cs-product-gallery`,
		`.b-product-gallery`,
		`.b-product-gallery li`,
	}

	cardTitleSelectors = strings.Join([]string{
		`[data-qaid="product_name"]`,
		`.cs-product-gallery__title`,
		`.b-product-gallery__title`,
		`.b-goods-title`,
		`.cs-goods-title-wrap`,
		`a.cs-product-gallery__title`,
	}, ", ")

	cardPriceSelectors = []string{
		`.cs-goods-price__value_type_current`,
		`.b-goods-price__value_type_current`,
		`.b-product-gallery__current-price`,
		`[data-qaid="product_price"]`,
		`.b-product-cost__price`,
		`.cs-goods-price__value`,
		`.b-goods-price__value`,
		`.cs-goods-price__major`,
	}

	cardOldPriceSelectors = []string{
		`.cs-goods-price__value_type_old`,
		`.b-goods-price__value_type_old`,
		`.b-product-gallery__old-price`,
		`[data-qaid="price_old"]`,
		`[data-qaid="old_price"]`,
		`.cs-goods-price__old`,
		`strike`,
		`del`,
		`[data-qaid="discount_label"]`,
	}

	cardStatusSelectors = strings.Join([]string{
		`[data-qaid="presence_data"]`,
		`.cs-goods-data__state`,
		`.b-product-gallery__state`,
		`.cs-goods-availability`,
		`[data-qaid="product_presence"]`,
		`.b-goods-data__state`,
	}, ", ")

	pageSegmentRe = regexp.MustCompile(`/page_(\d+)`)
)

// CrawlCategory walks a category listing page by page, collecting list-view
// products until maxPages is reached, a page yields no cards, or pagination
// loops back on itself. A fetch failure on the first page is fatal; later
// failures return the partial result.
func (s *Service) CrawlCategory(ctx context.Context, startURL string, maxPages int, onProgress Progress) (*models.ParseResult, error) {
	currentURL := strings.TrimSpace(startURL)
	result := &models.ParseResult{}
	visited := make(map[string]bool)

	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		norm := normalizePageURL(currentURL)
		if visited[norm] {
			s.logger.Info("pagination loop detected", "url", norm)
			break
		}
		visited[norm] = true

		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}

		onProgress(fmt.Sprintf("Processing page %d of %d", pageNum, maxPages))
		s.logger.Info("crawling category page", "page", pageNum, "url", currentURL)

		markup, err := s.fetcher.Fetch(ctx, currentURL)
		if err != nil {
			if pageNum == 1 {
				return nil, fmt.Errorf("fetch first category page: %w", err)
			}
			s.logger.Warn("category page fetch failed, returning partial result",
				"page", pageNum, "error", err)
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			if pageNum == 1 {
				return nil, fmt.Errorf("parse first category page: %w", err)
			}
			s.logger.Warn("category page parse failed, returning partial result",
				"page", pageNum, "error", err)
			break
		}

		products, nextFromDOM := extractCategoryPage(doc, currentURL)

		added := 0
		for _, p := range products {
			if result.Add(p) {
				added++
			}
		}
		s.logger.Info("category page extracted",
			"page", pageNum, "found", len(products), "added", added)

		// An empty page means pagination ran past the last real page.
		if len(products) == 0 {
			break
		}

		if pageNum < maxPages {
			if nextFromDOM != "" {
				currentURL = nextFromDOM
			} else {
				currentURL = nextPageURL(currentURL)
			}
		}
	}

	return result, nil
}

// extractCategoryPage pulls every product card off a listing page and
// looks for an explicit next-page link.
func extractCategoryPage(doc *goquery.Document, pageURL string) ([]*models.Product, string) {
	base, baseErr := url.Parse(pageURL)

	seen := make(map[*html.Node]bool)
	var cards []*goquery.Selection
	for _, selector := range cardSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			cards = append(cards, s)
		})
	}

	var products []*models.Product
	for _, card := range cards {
		titleEl := card.Find(cardTitleSelectors).First()
		linkEl := card.Find("a[href]").First()
		if titleEl.Length() == 0 || linkEl.Length() == 0 {
			continue
		}

		title := strings.TrimSpace(titleEl.Text())
		if title == "" {
			title = "No Title"
		}

		href, _ := linkEl.Attr("href")
		link := resolveURL(base, baseErr, href)
		if link == "" {
			continue
		}

		price := selectorChainPrice(card, cardPriceSelectors)

		p := &models.Product{
			ID:           link,
			Title:        title,
			Price:        price,
			Currency:     models.Currency,
			Availability: models.Unknown,
			Link:         link,
			Seller:       "Seller",
		}
		p.SetOldPrice(selectorChainPrice(card, cardOldPriceSelectors))

		if statusEl := card.Find(cardStatusSelectors).First(); statusEl.Length() > 0 {
			p.Availability = parser.ParseAvailability(statusEl.Text())
		}

		if seller := strings.TrimSpace(card.Find(`[data-qaid="company_name"]`).First().Text()); seller != "" {
			p.Seller = seller
		}

		if imgEl := card.Find("img").First(); imgEl.Length() > 0 {
			src, _ := imgEl.Attr("src")
			if src == "" || strings.HasPrefix(src, "data:") {
				src, _ = imgEl.Attr("data-src")
			}
			if src != "" && !strings.HasPrefix(src, "data:") {
				p.Image = src
			}
		}
		if p.Image == "" {
			p.Image = models.NoImage
		}

		products = append(products, p)
	}

	return products, findNextLink(doc, base, baseErr, pageURL)
}

// findNextLink scans every anchor for pagination markers and returns the
// first resolved link that does not point back at the current page.
func findNextLink(doc *goquery.Document, base *url.URL, baseErr error, pageURL string) string {
	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if href == "" || href == "#" || href == "javascript:void(0)" {
			return true
		}

		text := strings.TrimSpace(a.Text())
		lowerText := strings.ToLower(text)
		classes, _ := a.Attr("class")
		qaid, _ := a.Attr("data-qaid")
		rel, _ := a.Attr("rel")

		isNext := text == "›" || text == "»" || text == "→" ||
			strings.Contains(lowerText, "наступна") ||
			strings.Contains(lowerText, "далі") ||
			lowerText == "next" ||
			qaid == "next_page" ||
			rel == "next" ||
			strings.Contains(classes, "b-pager__link_pos_last") ||
			strings.Contains(classes, "cs-pager__link_pos_last")
		if !isNext {
			return true
		}

		resolved := resolveURL(base, baseErr, href)
		if resolved == "" || resolved == pageURL {
			return true
		}
		next = resolved
		return false
	})
	return next
}

// nextPageURL synthesizes the next page address by bumping the /page_N
// path segment, or appending /page_2 when the URL has none yet.
func nextPageURL(currentURL string) string {
	u, err := url.Parse(currentURL)
	if err != nil {
		return currentURL
	}

	if match := pageSegmentRe.FindStringSubmatch(u.Path); match != nil {
		page, _ := strconv.Atoi(match[1])
		u.Path = strings.Replace(u.Path,
			fmt.Sprintf("/page_%d", page),
			fmt.Sprintf("/page_%d", page+1), 1)
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/page_2"
	}

	return u.String()
}

// normalizePageURL strips the query string and trailing slash so revisits
// of the same page are detected regardless of tracking parameters.
func normalizePageURL(rawURL string) string {
	norm := rawURL
	if idx := strings.Index(norm, "?"); idx >= 0 {
		norm = norm[:idx]
	}
	return strings.TrimSuffix(norm, "/")
}

func resolveURL(base *url.URL, baseErr error, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if baseErr != nil || base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}

func selectorChainPrice(sel *goquery.Selection, selectors []string) float64 {
	for _, selector := range selectors {
		el := sel.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		raw, ok := el.Attr("data-qaprice")
		if !ok || raw == "" {
			raw = el.Text()
		}
		if value := parser.ParsePrice(raw); value > 0 {
			return value
		}
	}
	return 0
}
