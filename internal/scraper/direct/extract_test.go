package direct

import (
	"testing"

	"PriceWatch/internal/models"
)

const productPage = `<!DOCTYPE html>
<html><head>
<title>Кроссовки беговые</title>
<link rel="canonical" href="https://www.wildberries.ru/catalog/123456789/detail.aspx">
<meta property="og:image" content="https://img.example/1.webp">
</head><body>
<h1 class="product-page__title">Кроссовки   беговые</h1>
<div class="price-block">
  <ins class="price-block__final-price">1&nbsp;999&nbsp;₽</ins>
  <span class="price-block__wallet-price">1 899 ₽</span>
  <del class="price-block__old-price">3 499 ₽</del>
</div>
<span class="product-review__rating">4,8</span>
<span class="product-review__count-review">1 234 оценки</span>
<p class="product-page__order-quantity">Осталось 3 шт</p>
<div class="swiper-slide"><img src="https://img.example/1.webp"></div>
<div class="swiper-slide"><img src="https://img.example/2.webp"></div>
<div class="swiper-slide"><img data-src="https://img.example/3.webp"></div>
<script>var price = "9 999 ₽";</script>
</body></html>`

func TestExtractFullPage(t *testing.T) {
	rec, err := Extract([]byte(productPage), "123456789", "http://local/catalog/123456789")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Extract() = nil; want a record")
	}

	if rec.Name != "Кроссовки беговые" {
		t.Errorf("Name = %q", rec.Name)
	}
	checkFloat(t, "Price", rec.Price, 1999)
	checkFloat(t, "LoyaltyPrice", rec.LoyaltyPrice, 1899)
	checkFloat(t, "OldPrice", rec.OldPrice, 3499)
	checkFloat(t, "Rating", rec.Rating, 4.8)
	if rec.ReviewCount == nil || *rec.ReviewCount != 1234 {
		t.Errorf("ReviewCount = %v; want 1234", rec.ReviewCount)
	}
	if rec.Availability != models.AvailabilityLimited {
		t.Errorf("Availability = %q; want limited", rec.Availability)
	}
	if rec.StockCount == nil || *rec.StockCount != 3 {
		t.Errorf("StockCount = %v; want 3", rec.StockCount)
	}
	if rec.ImageURL != "https://img.example/1.webp" {
		t.Errorf("ImageURL = %q", rec.ImageURL)
	}
	if len(rec.Images) != 3 {
		t.Errorf("Images = %v; want 3 unique images", rec.Images)
	}
	if rec.URL != "https://www.wildberries.ru/catalog/123456789/detail.aspx" {
		t.Errorf("URL = %q; want the canonical link", rec.URL)
	}
}

func TestExtractRegexFallback(t *testing.T) {
	page := `<html><body>
<h1>Чайник</h1>
<div class="x">Цена 2 490 ₽</div>
<div>Рейтинг: 4.5, 87 отзывов</div>
<div>В наличии</div>
</body></html>`
	rec, err := Extract([]byte(page), "1", "u")
	if err != nil || rec == nil {
		t.Fatalf("Extract() = %v, %v", rec, err)
	}
	checkFloat(t, "Price", rec.Price, 2490)
	checkFloat(t, "Rating", rec.Rating, 4.5)
	if rec.ReviewCount == nil || *rec.ReviewCount != 87 {
		t.Errorf("ReviewCount = %v; want 87", rec.ReviewCount)
	}
	if rec.Availability != models.AvailabilityAvailable {
		t.Errorf("Availability = %q; want available", rec.Availability)
	}
	if rec.LoyaltyPrice != nil {
		t.Errorf("LoyaltyPrice = %v; want nil", *rec.LoyaltyPrice)
	}
}

func TestExtractWithoutPriceIsNotFound(t *testing.T) {
	page := `<html><body><h1>Товар</h1><script>var p = "100 ₽"</script></body></html>`
	rec, err := Extract([]byte(page), "1", "u")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Extract() = %+v; want nil for a page without price", rec)
	}
}

func TestAntiBotMarker(t *testing.T) {
	testCases := []struct {
		name   string
		page   string
		priced bool
		want   bool
	}{
		{"script source", `<html><head><script src="/recaptcha.js"></script></head><body>ok</body></html>`, false, false},
		{"challenge title", `<html><head><title>Почти готово...</title></head><body></body></html>`, false, true},
		{"challenge title on priced page", `<html><head><title>Почти готово...</title></head><body></body></html>`, true, true},
		{"challenge text", `<html><body><p>Please solve the CAPTCHA</p></body></html>`, false, true},
		{"challenge form", `<html><body><form id="challenge-form"></form></body></html>`, false, true},
		{"captcha footer on priced page", `<html><body><footer>Protected by reCAPTCHA</footer></body></html>`, true, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := antiBotMarker([]byte(tc.page), tc.priced) != ""; got != tc.want {
				t.Errorf("antiBotMarker() detected = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestExtractPriceNextToOtherNumbers(t *testing.T) {
	testCases := []struct {
		name string
		page string
		want float64
	}{
		{"article before price", `<span>Артикул 123456789</span> <span>1 999 ₽</span>`, 1999},
		{"ungrouped count before price", `<span>Продано 2500</span> <span>990 ₽</span>`, 990},
		{"code in the same text", `<span>Код 4567 999 ₽</span>`, 999},
		{"kopecks", `<span>Цена 12 345,50 руб</span>`, 12345.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Extract([]byte("<html><body>"+tc.page+"</body></html>"), "1", "u")
			if err != nil || rec == nil {
				t.Fatalf("Extract() = %v, %v", rec, err)
			}
			checkFloat(t, "Price", rec.Price, tc.want)
		})
	}

	rec, _ := Extract([]byte(`<html><body>Артикул 555 С WB кошельком 1 899 ₽</body></html>`), "1", "u")
	if rec == nil {
		t.Fatal("Extract() = nil; want the loyalty price")
	}
	checkFloat(t, "LoyaltyPrice", rec.LoyaltyPrice, 1899)
}

func checkFloat(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil; want %v", name, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %v; want %v", name, *got, want)
	}
}
