package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promtools/promscraper/internal/models"
)

const detailPageHTML = `<html><body>
<h1>Кросівки Nike Air</h1>
<div data-qaid="descriptions">
	<script>trackView();</script>
	<p>Легкі бігові кросівки.</p>
	<div data-qaid="attribute_block"><table><tr><td>шум</td><td>шум</td></tr></table></div>
</div>
<div class="b-user-content"><p>Старий опис, не має перемогти.</p></div>
<img data-qaid="image_preview" src="https://images.prom.st/10_w150_h150_main.jpg"/>
<div class="cs-image-holder">
	<img data-src="https://images.prom.st/11_w150_h150_side.jpg" src="data:image/gif;base64,R0lGOD"/>
	<img src="https://images.prom.st/10_w150_h150_main.jpg"/>
</div>
<div class="b-product-info"><table>
	<tr><td>Бренд</td><td>Nike</td></tr>
	<tr><td>Розмір</td><td>42</td></tr>
	<tr><td>одна клітинка</td></tr>
</table></div>
<span data-qaid="product-sku">Код: NK-AIR-42</span>
<ul data-qaid="breadcrumbs_seo">
	<li><a href="/" title="Головна">Головна</a></li>
	<li><a href="/vzuttia" title="Взуття">Взуття</a></li>
	<li><a href="/krosivky">Кросівки</a></li>
</ul>
<span data-qaid="old_price" data-qaprice="2499">2 499 грн</span>
<span data-qaid="presence_data">В наявності</span>
</body></html>`

func TestExtractDetails(t *testing.T) {
	doc := docFromHTML(t, detailPageHTML)

	d := ExtractDetails(doc, nil)

	// The first matching description block wins and loses its tracking
	// script and attribute table.
	assert.Contains(t, d.Description, "Легкі бігові кросівки.")
	assert.NotContains(t, d.Description, "trackView")
	assert.NotContains(t, d.Description, "шум")
	assert.NotContains(t, d.Description, "Старий опис")

	// Gallery images are upscaled, deduplicated and keep document order;
	// data: URIs never survive.
	assert.Equal(t, []string{
		"https://images.prom.st/10_w640_h640_main.jpg",
		"https://images.prom.st/11_w640_h640_side.jpg",
	}, d.AllImages)

	require.Len(t, d.Attributes, 2)
	assert.Equal(t, models.ProductAttribute{Name: "Бренд", Value: "Nike"}, d.Attributes[0])
	assert.Equal(t, models.ProductAttribute{Name: "Розмір", Value: "42"}, d.Attributes[1])

	assert.Equal(t, "NK-AIR-42", d.SKU)

	assert.Equal(t, []string{"Взуття", "Кросівки"}, d.CategoryPath)
	assert.Equal(t, "Кросівки", d.CategoryName)

	assert.InDelta(t, 2499.0, d.OldPrice, 0.001)
	assert.Equal(t, models.InStock, d.Availability)
}

func TestExtractDetailsKeepsSeedValues(t *testing.T) {
	doc := docFromHTML(t, detailPageHTML)
	seed := &models.Product{
		Description:  "<p>Опис із кешу</p>",
		AllImages:    []string{"https://images.prom.st/seed_w640_h640_a.jpg"},
		Attributes:   []models.ProductAttribute{{Name: "Колір", Value: "Білий"}},
		SKU:          "SEED-1",
		CategoryName: "Бігове взуття",
		CategoryPath: []string{"Спорт", "Бігове взуття"},
		OldPrice:     3000,
		Availability: models.OnOrder,
	}

	d := ExtractDetails(doc, seed)

	assert.Equal(t, "<p>Опис із кешу</p>", d.Description)
	assert.Equal(t, []models.ProductAttribute{{Name: "Колір", Value: "Білий"}}, d.Attributes)
	assert.Equal(t, "SEED-1", d.SKU)
	assert.Equal(t, []string{"Спорт", "Бігове взуття"}, d.CategoryPath)
	assert.InDelta(t, 3000.0, d.OldPrice, 0.001)
	assert.Equal(t, models.OnOrder, d.Availability)

	// Page gallery images are still unioned behind the seed ones.
	require.NotEmpty(t, d.AllImages)
	assert.Equal(t, "https://images.prom.st/seed_w640_h640_a.jpg", d.AllImages[0])
	assert.Contains(t, d.AllImages, "https://images.prom.st/10_w640_h640_main.jpg")
}

func TestExtractDetailsOldPriceFromText(t *testing.T) {
	html := `<html><body><span class="cs-goods-price__old">1 200 грн</span></body></html>`
	d := ExtractDetails(docFromHTML(t, html), nil)
	assert.InDelta(t, 1200.0, d.OldPrice, 0.001)
}

func TestExtractDetailsEmptyPage(t *testing.T) {
	d := ExtractDetails(docFromHTML(t, `<html><body><h1>Товар</h1></body></html>`), nil)

	assert.Empty(t, d.Description)
	assert.Empty(t, d.AllImages)
	assert.Empty(t, d.Attributes)
	assert.Empty(t, d.SKU)
	assert.Empty(t, d.CategoryPath)
	assert.Zero(t, d.OldPrice)
	assert.Equal(t, models.Unknown, d.Availability)
}
