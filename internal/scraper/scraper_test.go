package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promtools/promscraper/internal/models"
)

// stubFetcher serves canned HTML keyed by URL.
type stubFetcher struct {
	pages map[string]string
	calls []string
}

func (f *stubFetcher) Fetch(_ context.Context, targetURL string) (string, error) {
	f.calls = append(f.calls, targetURL)
	page, ok := f.pages[targetURL]
	if !ok {
		return "", fmt.Errorf("no relay served %s: %w", targetURL, errStubMiss)
	}
	return page, nil
}

var errStubMiss = errors.New("page not available")

func newTestService(f Fetcher) *Service {
	return NewService(f, slog.New(slog.NewTextHandler(testWriter{}, nil)), Options{
		PageDelay: time.Millisecond,
		BatchSize: 5,
	})
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

const productPageHTML = `<html><head>
<script>window.ApolloCacheState = {"ProductCardPageQuery:1":{"result":{"product":{"id":555,"name":"Чайник електричний","price":899,"status":"available","images":[{"url":"https://images.prom.st/5_w100_h100_k.jpg"}]},"breadCrumbs":{"items":[{"caption":"Головна"},{"caption":"Побутова техніка"}]}}}};</script>
</head><body>
<h1>Чайник електричний</h1>
<span data-qaid="company_name">ТехноМаркет</span>
</body></html>`

const plainProductPageHTML = `<html><body>
<h1>Блендер ручний</h1>
<span data-qaid="product_price" data-qaprice="1250">1 250 грн</span>
<span data-qaid="presence_data">В наявності</span>
<img data-qaid="image_preview" src="https://images.prom.st/7_w100_h100_b.jpg"/>
</body></html>`

func TestScrapeProductFromApolloState(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://prom.ua/p555-chainyk.html": productPageHTML,
	}}
	svc := newTestService(fetcher)

	p := svc.ScrapeProduct(context.Background(), "https://prom.ua/p555-chainyk.html")
	require.NotNil(t, p)

	assert.Equal(t, "555", p.ID)
	assert.Equal(t, "Чайник електричний", p.Title)
	assert.InDelta(t, 899.0, p.Price, 0.001)
	assert.Equal(t, models.InStock, p.Availability)
	assert.Equal(t, "ТехноМаркет", p.Seller)
	assert.Equal(t, "https://images.prom.st/5_w640_h640_k.jpg", p.Image)
	assert.Equal(t, []string{"Побутова техніка"}, p.CategoryPath)
	assert.True(t, p.DetailsLoaded)
}

func TestScrapeProductHeuristicFallback(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://prom.ua/ua/blender-98123.html": plainProductPageHTML,
	}}
	svc := newTestService(fetcher)

	p := svc.ScrapeProduct(context.Background(), "https://prom.ua/ua/blender-98123.html")
	require.NotNil(t, p)

	// Without the embedded state the id comes from the URL and the rest
	// from the selector chains.
	assert.Equal(t, "98123", p.ID)
	assert.Equal(t, "Блендер ручний", p.Title)
	assert.InDelta(t, 1250.0, p.Price, 0.001)
	assert.Equal(t, models.InStock, p.Availability)
	assert.Equal(t, "Seller", p.Seller)
	assert.Equal(t, "https://images.prom.st/7_w640_h640_b.jpg", p.Image)
	assert.True(t, p.DetailsLoaded)
}

func TestScrapeProductPrefixesRelativeURL(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://prom.ua/p555-chainyk.html": productPageHTML,
	}}
	svc := newTestService(fetcher)

	p := svc.ScrapeProduct(context.Background(), "/p555-chainyk.html")
	require.NotNil(t, p)
	assert.Equal(t, "https://prom.ua/p555-chainyk.html", p.Link)
}

func TestScrapeProductFetchFailureReturnsNil(t *testing.T) {
	svc := newTestService(&stubFetcher{pages: map[string]string{}})
	assert.Nil(t, svc.ScrapeProduct(context.Background(), "https://prom.ua/p1-gone.html"))
}

func TestScrapeProductsSkipsFailures(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://prom.ua/p555-chainyk.html":     productPageHTML,
		"https://prom.ua/ua/blender-98123.html": plainProductPageHTML,
	}}
	svc := newTestService(fetcher)

	var updates []string
	result := svc.ScrapeProducts(context.Background(), []string{
		"https://prom.ua/p555-chainyk.html",
		"https://prom.ua/p777-missing.html",
		"https://prom.ua/ua/blender-98123.html",
	}, func(msg string) { updates = append(updates, msg) })

	require.Len(t, result.Products, 2)
	assert.Equal(t, "555", result.Products[0].ID)
	assert.Equal(t, "98123", result.Products[1].ID)
	assert.NotEmpty(t, updates)
}

func TestSearchValidation(t *testing.T) {
	svc := newTestService(&stubFetcher{pages: map[string]string{}})
	ctx := context.Background()

	_, err := svc.Search(ctx, models.SearchFilters{Mode: "catalog"}, nil)
	assert.ErrorIs(t, err, ErrInvalidFilters)

	_, err = svc.Search(ctx, models.SearchFilters{
		Mode:        models.ModeProducts,
		ProductURLs: []string{"  ", ""},
	}, nil)
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = svc.Search(ctx, models.SearchFilters{
		Mode:    models.ModeCategory,
		ShopURL: "   ",
	}, nil)
	assert.ErrorIs(t, err, ErrNoInput)
}

func categoryPage(cards string, nextHref string) string {
	next := ""
	if nextHref != "" {
		next = fmt.Sprintf(`<a href="%s" data-qaid="next_page">›</a>`, nextHref)
	}
	return fmt.Sprintf(`<html><body><div class="cs-product-gallery">%s</div>%s</body></html>`, cards, next)
}

func card(id int, title string, price string) string {
	return fmt.Sprintf(`<div data-qaid="product_block">
		<a href="/p%d-item.html"><span data-qaid="product_name">%s</span></a>
		<span class="cs-goods-price__value_type_current">%s</span>
		<span data-qaid="presence_data">В наявності</span>
		<img src="https://images.prom.st/%d_w150_h150_c.jpg"/>
	</div>`, id, title, price, id)
}

func TestCrawlCategoryStopsOnEmptyPage(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн")+card(2, "Товар два", "200 грн"), ""),
		"https://shop.prom.ua/g111-katalog/page_2": categoryPage("", ""),
	}}
	svc := newTestService(fetcher)

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 5, func(string) {})
	require.NoError(t, err)

	require.Len(t, result.Products, 2)
	assert.Equal(t, "Товар один", result.Products[0].Title)
	assert.InDelta(t, 100.0, result.Products[0].Price, 0.001)
	assert.Equal(t, models.InStock, result.Products[0].Availability)
	assert.False(t, result.Products[0].DetailsLoaded)
	assert.Equal(t, "https://shop.prom.ua/p1-item.html", result.Products[0].Link)

	// The crawl synthesized page_2, found nothing and stopped.
	assert.Equal(t, []string{
		"https://shop.prom.ua/g111-katalog",
		"https://shop.prom.ua/g111-katalog/page_2",
	}, fetcher.calls)
}

func TestCrawlCategoryFollowsNextLinkAndDedupes(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн"), "/g111-katalog/page_2"),
		"https://shop.prom.ua/g111-katalog/page_2": categoryPage(
			card(1, "Товар один", "100 грн")+card(3, "Товар три", "300 грн"), ""),
	}}
	svc := newTestService(fetcher)

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 2, func(string) {})
	require.NoError(t, err)

	// The repeated card keeps its first occurrence only.
	require.Len(t, result.Products, 2)
	assert.Equal(t, "Товар один", result.Products[0].Title)
	assert.Equal(t, "Товар три", result.Products[1].Title)
}

func TestCrawlCategoryStopsAtMaxPages(t *testing.T) {
	// Every page links onward, so only the cap can end the crawl.
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн"), "/g111-katalog/page_2"),
		"https://shop.prom.ua/g111-katalog/page_2": categoryPage(
			card(2, "Товар два", "200 грн"), "/g111-katalog/page_3"),
		"https://shop.prom.ua/g111-katalog/page_3": categoryPage(
			card(3, "Товар три", "300 грн"), "/g111-katalog/page_4"),
		"https://shop.prom.ua/g111-katalog/page_4": categoryPage(
			card(4, "Товар чотири", "400 грн"), "/g111-katalog/page_5"),
	}}
	svc := newTestService(fetcher)

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 3, func(string) {})
	require.NoError(t, err)

	assert.Len(t, result.Products, 3)
	assert.Equal(t, []string{
		"https://shop.prom.ua/g111-katalog",
		"https://shop.prom.ua/g111-katalog/page_2",
		"https://shop.prom.ua/g111-katalog/page_3",
	}, fetcher.calls)
}

func TestSearchCategoryClampsMaxPagesToOne(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн"), "/g111-katalog/page_2"),
		"https://shop.prom.ua/g111-katalog/page_2": categoryPage(
			card(2, "Товар два", "200 грн"), "/g111-katalog/page_3"),
	}}
	svc := newTestService(fetcher)

	result, err := svc.Search(context.Background(), models.SearchFilters{
		Mode:    models.ModeCategory,
		ShopURL: "https://shop.prom.ua/g111-katalog",
	}, nil)
	require.NoError(t, err)

	// An unset page limit means one page, not a service-wide default.
	assert.Len(t, result.Products, 1)
	assert.Equal(t, []string{"https://shop.prom.ua/g111-katalog"}, fetcher.calls)
}

func TestCrawlCategoryDetectsPaginationLoop(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн"), "/g111-katalog?from=pager"),
	}}
	svc := newTestService(fetcher)

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 5, func(string) {})
	require.NoError(t, err)

	// The next link differs only by query string, so the second visit is
	// recognized as a loop before fetching.
	require.Len(t, result.Products, 1)
	assert.Len(t, fetcher.calls, 1)
}

func TestCrawlCategoryFirstPageFailureIsFatal(t *testing.T) {
	svc := newTestService(&stubFetcher{pages: map[string]string{}})

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 3, func(string) {})
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestCrawlCategoryLaterFailureReturnsPartial(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://shop.prom.ua/g111-katalog": categoryPage(
			card(1, "Товар один", "100 грн"), "/g111-katalog/page_2"),
	}}
	svc := newTestService(fetcher)

	result, err := svc.CrawlCategory(context.Background(),
		"https://shop.prom.ua/g111-katalog", 3, func(string) {})
	require.NoError(t, err)
	assert.Len(t, result.Products, 1)
}

func TestNextPageURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "appends first page segment",
			input:    "https://shop.prom.ua/g111-katalog",
			expected: "https://shop.prom.ua/g111-katalog/page_2",
		},
		{
			name:     "strips trailing slash before appending",
			input:    "https://shop.prom.ua/g111-katalog/",
			expected: "https://shop.prom.ua/g111-katalog/page_2",
		},
		{
			name:     "increments existing page segment",
			input:    "https://shop.prom.ua/g111-katalog/page_4",
			expected: "https://shop.prom.ua/g111-katalog/page_5",
		},
		{
			name:     "keeps query parameters",
			input:    "https://shop.prom.ua/g111-katalog?sort=price",
			expected: "https://shop.prom.ua/g111-katalog/page_2?sort=price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nextPageURL(tt.input))
		})
	}
}
