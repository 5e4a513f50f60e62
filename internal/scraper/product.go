package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/parser"
)

var (
	currentPriceSelectors = []string{
		`[data-qaid="product_price"]`,
		`.cs-goods-price__value_type_current`,
		`.b-goods-price__value_type_current`,
		`.b-product-gallery__current-price`,
		`.b-product-cost__price`,
	}

	productPathIDRe = regexp.MustCompile(`/p(\d+)`)
	productFileIDRe = regexp.MustCompile(`-(\d+)\.html`)
)

// ScrapeProduct fetches a single product page and assembles a fully
// detailed product. It returns nil when the page cannot be retrieved or
// parsed; a failed product never aborts a batch.
func (s *Service) ScrapeProduct(ctx context.Context, productURL string) *models.Product {
	targetURL := strings.TrimSpace(productURL)
	if targetURL == "" {
		return nil
	}
	if !strings.HasPrefix(targetURL, "http") {
		targetURL = "https://prom.ua" + targetURL
	}

	markup, err := s.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		s.logger.Warn("product fetch failed", "url", targetURL, "error", err)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		s.logger.Warn("product page parse failed", "url", targetURL, "error", err)
		return nil
	}

	apollo := parser.ExtractApollo(doc, targetURL)
	var seed *models.Product
	if apollo.State == parser.StateProduct {
		seed = apollo.Product
	}

	details := parser.ExtractDetails(doc, seed)

	p := &models.Product{
		Link:          targetURL,
		Currency:      models.Currency,
		DetailsLoaded: true,
		Description:   details.Description,
		Attributes:    details.Attributes,
		AllImages:     details.AllImages,
		SKU:           details.SKU,
		CategoryName:  details.CategoryName,
		CategoryPath:  details.CategoryPath,
		Availability:  details.Availability,
	}

	if seed != nil {
		p.ID = seed.ID
		p.Title = seed.Title
		p.Price = seed.Price
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if p.Title == "" {
		p.Title = "No Title"
	}
	if p.Price == 0 {
		p.Price = selectorChainPrice(doc.Selection, currentPriceSelectors)
	}
	if p.ID == "" {
		p.ID = productIDFromURL(targetURL)
	}
	p.ExternalID = p.ID

	p.SetOldPrice(details.OldPrice)
	if p.Availability == "" {
		p.Availability = models.Unknown
	}

	if len(p.AllImages) > 0 {
		p.Image = p.AllImages[0]
	} else {
		p.Image = models.NoImage
	}

	if seller := strings.TrimSpace(doc.Find(`[data-qaid="company_name"]`).First().Text()); seller != "" {
		p.Seller = seller
	} else {
		p.Seller = "Seller"
	}

	return p
}

// ScrapeProducts fetches the given product pages in concurrent batches.
// Pages that fail are skipped; the result keeps input order.
func (s *Service) ScrapeProducts(ctx context.Context, urls []string, onProgress Progress) *models.ParseResult {
	result := &models.ParseResult{}
	scraped := make([]*models.Product, len(urls))

	for start := 0; start < len(urls); start += s.batchSize {
		end := start + s.batchSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				scraped[idx] = s.ScrapeProduct(ctx, urls[idx])
			}(i)
		}
		wg.Wait()

		onProgress(fmt.Sprintf("Scraped %d of %d products", end, len(urls)))
	}

	for _, p := range scraped {
		if p != nil {
			result.Add(p)
		}
	}

	s.logger.Info("product scrape finished", "requested", len(urls), "scraped", len(result.Products))
	return result
}

// productIDFromURL recovers the platform product id from the URL path,
// falling back to a time-based id when the URL carries none.
func productIDFromURL(productURL string) string {
	if match := productPathIDRe.FindStringSubmatch(productURL); match != nil {
		return match[1]
	}
	if match := productFileIDRe.FindStringSubmatch(productURL); match != nil {
		return match[1]
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
