package direct

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"PriceWatch/internal/models"
	"PriceWatch/utils"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// selector picks a value from the page: the text of the first match, or the
// attribute when attr is set.
type selector struct {
	css  string
	attr string
}

// Selector lists are tried in order; the first non-empty value wins.
var (
	nameSelectors = []selector{
		{css: "h1.product-page__title"},
		{css: "[data-link*='productCard'] h1"},
		{css: "meta[property='og:title']", attr: "content"},
		{css: "h1"},
	}
	priceSelectors = []selector{
		{css: "ins.price-block__final-price"},
		{css: ".price-block__final-price"},
		{css: "[itemprop='price']", attr: "content"},
		{css: "meta[property='product:price:amount']", attr: "content"},
	}
	loyaltyPriceSelectors = []selector{
		{css: ".price-block__wallet-price"},
		{css: "[data-price='loyalty']"},
	}
	oldPriceSelectors = []selector{
		{css: "del.price-block__old-price"},
		{css: ".price-block__old-price"},
		{css: "del"},
	}
	ratingSelectors = []selector{
		{css: ".product-review__rating"},
		{css: "[itemprop='ratingValue']", attr: "content"},
		{css: "[itemprop='ratingValue']"},
	}
	reviewCountSelectors = []selector{
		{css: ".product-review__count-review"},
		{css: "[itemprop='reviewCount']", attr: "content"},
		{css: "[itemprop='reviewCount']"},
	}
	availabilitySelectors = []selector{
		{css: ".sold-out-product"},
		{css: ".product-page__order-quantity"},
		{css: "link[itemprop='availability']", attr: "href"},
		{css: "[itemprop='availability']", attr: "content"},
		{css: ".product-page__order-buttons"},
	}
	imageSelectors = []selector{
		{css: "meta[property='og:image']", attr: "content"},
		{css: ".slide__content img", attr: "src"},
		{css: "img.photo-zoom__preview", attr: "src"},
	}
	urlSelectors = []selector{
		{css: "link[rel='canonical']", attr: "href"},
		{css: "meta[property='og:url']", attr: "content"},
	}
)

const galleryImageSelector = ".swiper-slide img, .slide__content img"

// groupedAmount is a price written in thousands groups, so a number sitting
// before the price is not glued onto it.
const groupedAmount = `\d{1,3}(?:[\s\x{00a0}\x{202f}]\d{3})*(?:[.,]\d{1,2})?`

// Regex fallbacks run over the visible page text.
var (
	priceTextRegex   = regexp.MustCompile(`(?:^|[^\d.,])(` + groupedAmount + `)\s*(?:₽|руб)`)
	loyaltyTextRegex = regexp.MustCompile(`(?i)(?:с\s+(?:wb\s+)?кошельком|wallet)\D{0,20}(` + groupedAmount + `)\s*(?:₽|руб)`)
	ratingTextRegex  = regexp.MustCompile(`(?i)(?:рейтинг\s*:?\s*(\d[.,]\d))|(?:(\d[.,]\d)\s*(?:из 5|out of 5))`)
	reviewTextRegex  = regexp.MustCompile(`(?i)(\d[\d\s\x{00a0}]*)\s*(?:отзыв|оцен|reviews?|ratings?)`)
	stockTextRegex   = regexp.MustCompile(`(?i)(?:осталось\s*(\d+)\s*шт)|(?:only\s*(\d+)\s*left)`)
)

// Extract parses a product page. It returns nil when neither the list price
// nor the loyalty price can be found, which callers treat as "not found".
func Extract(body []byte, article, pageURL string) (*models.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}
	text, err := visibleText(body)
	if err != nil {
		return nil, fmt.Errorf("read page text: %w", err)
	}

	rec := &models.ProductRecord{
		Article: article,
		Name:    utils.CleanText(first(doc, nameSelectors)),
		URL:     pageURL,
	}

	rec.Price = utils.NormalizePrice(first(doc, priceSelectors))
	if rec.Price == nil {
		rec.Price = utils.NormalizePrice(submatch(priceTextRegex, text))
	}
	rec.LoyaltyPrice = utils.NormalizePrice(first(doc, loyaltyPriceSelectors))
	if rec.LoyaltyPrice == nil {
		rec.LoyaltyPrice = utils.NormalizePrice(submatch(loyaltyTextRegex, text))
	}
	if !rec.HasPrice() {
		return nil, nil
	}
	rec.OldPrice = utils.NormalizePrice(first(doc, oldPriceSelectors))

	rec.Rating = utils.ParseRating(first(doc, ratingSelectors))
	if rec.Rating == nil {
		rec.Rating = utils.ParseRating(submatch(ratingTextRegex, text))
	}
	rec.ReviewCount = utils.ParseCount(first(doc, reviewCountSelectors))
	if rec.ReviewCount == nil {
		rec.ReviewCount = utils.ParseCount(submatch(reviewTextRegex, text))
	}

	availabilityText := first(doc, availabilitySelectors)
	rec.Availability = models.ParseAvailability(availabilityText)
	if rec.Availability == models.AvailabilityUnknown {
		rec.Availability = models.ParseAvailability(text)
	}
	if m := submatch(stockTextRegex, availabilityText+" "+text); m != "" {
		rec.StockCount = utils.ParseCount(m)
		if rec.Availability == models.AvailabilityUnknown || rec.Availability == models.AvailabilityAvailable {
			rec.Availability = models.AvailabilityLimited
		}
	}

	rec.ImageURL = first(doc, imageSelectors)
	var gallery []string
	if rec.ImageURL != "" {
		gallery = append(gallery, rec.ImageURL)
	}
	doc.Find(galleryImageSelector).Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			src, _ = s.Attr("data-src")
		}
		gallery = append(gallery, strings.TrimSpace(src))
	})
	if images := utils.UniqueStrings(gallery); len(images) > 0 {
		rec.Images = images
		if rec.ImageURL == "" {
			rec.ImageURL = images[0]
		}
	}
	if canonical := first(doc, urlSelectors); canonical != "" {
		rec.URL = canonical
	}

	rec.Sanitize()
	return rec, nil
}

func first(doc *goquery.Document, selectors []selector) string {
	for _, sel := range selectors {
		s := doc.Find(sel.css).First()
		if s.Length() == 0 {
			continue
		}
		var v string
		if sel.attr != "" {
			v, _ = s.Attr(sel.attr)
		} else {
			v = s.Text()
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// submatch returns the first non-empty capture group of re in s.
func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	for _, g := range m[min(1, len(m)):] {
		if g != "" {
			return g
		}
	}
	return ""
}

// visibleText returns the page text without script, style and template
// content.
func visibleText(body []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return utils.CleanText(b.String()), nil
}
