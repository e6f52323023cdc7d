// Package direct fetches product pages straight from the marketplace. Tier 1
// is a plain HTTP request; when it is blocked the page is rendered in a
// stealth browser (Tier 2).
package direct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"PriceWatch/internal/audit"
	"PriceWatch/internal/models"
	"PriceWatch/internal/retry"
	"PriceWatch/internal/scraper"
	"PriceWatch/pkg/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

// antiBotMarkers are lower-case fragments of challenge and captcha pages.
var antiBotMarkers = []string{
	"captcha",
	"почти готово",
	"подозрительная активность",
	"доступ ограничен",
	"robot check",
	"are you a robot",
	"access denied",
	"checking your browser",
}

var titleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// challengeSelector matches the containers challenge pages render into.
const challengeSelector = "#challenge-form, #challenge-running, #captcha, .captcha, form[action*='captcha'], [id*='antibot'], [class*='antibot']"

// Provider scrapes product pages directly.
type Provider struct {
	conf     config.ScraperConfig
	renderer Renderer
	sink     audit.Sink
}

// New creates a direct provider. renderer may be nil, in which case a
// blocked Tier-1 request fails instead of escalating.
func New(conf config.ScraperConfig, renderer Renderer, sink audit.Sink) *Provider {
	return &Provider{conf: conf, renderer: renderer, sink: sink}
}

// Fetch tries Tier 1 and escalates to the browser when blocked.
func (p *Provider) Fetch(ctx context.Context, article string) (*models.ProductRecord, error) {
	return p.FetchTier(ctx, article, false)
}

// FetchTier is Fetch with the option to skip Tier 1.
func (p *Provider) FetchTier(ctx context.Context, article string, forceTier2 bool) (*models.ProductRecord, error) {
	url := p.ProductURL(article)
	if !forceTier2 {
		rec, err := p.tier1(ctx, article, url)
		var blocked *scraper.BlockedError
		if !errors.As(err, &blocked) {
			return rec, err
		}
		log.Printf("[direct] tier1 blocked for article %s: %v; escalating to browser", article, err)
	}
	return p.tier2(ctx, article, url)
}

// Tier2 returns a provider that always renders in the browser.
func (p *Provider) Tier2() scraper.Provider {
	return tier2Provider{p}
}

type tier2Provider struct{ p *Provider }

func (t tier2Provider) Fetch(ctx context.Context, article string) (*models.ProductRecord, error) {
	return t.p.FetchTier(ctx, article, true)
}

// ProductURL builds the product page address for article.
func (p *Provider) ProductURL(article string) string {
	return fmt.Sprintf(p.conf.ProductURLTemplate, article)
}

func (p *Provider) tier1(ctx context.Context, article, url string) (*models.ProductRecord, error) {
	start := time.Now()
	rec, status, err := p.fetchTier1(ctx, article, url)
	p.record(ctx, article, models.SourceDirectTier1, start, status, rec, err)
	return rec, err
}

func (p *Provider) fetchTier1(ctx context.Context, article, url string) (*models.ProductRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	timeout := time.Duration(p.conf.HTTPTimeoutSeconds) * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	c := colly.NewCollector(
		colly.UserAgent(p.conf.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", acceptLanguage)
	})

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	if err := c.Visit(url); err != nil {
		return nil, status, &scraper.TransientError{Op: "tier1 GET " + url, StatusCode: status, Err: err}
	}

	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, status, nil
	case isBlockedStatus(status):
		return nil, status, &scraper.BlockedError{URL: url, StatusCode: status, Reason: http.StatusText(status)}
	case status >= 500:
		return nil, status, &scraper.TransientError{Op: "tier1 GET " + url, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status < 200 || status >= 300:
		return nil, status, fmt.Errorf("tier1 GET %s: unexpected status %d", url, status)
	}

	rec, err := Extract(body, article, url)
	if err != nil {
		return nil, status, err
	}
	if marker := antiBotMarker(body, rec != nil); marker != "" {
		return nil, status, &scraper.BlockedError{URL: url, StatusCode: status, Reason: "anti-bot page: " + marker}
	}
	if rec != nil {
		rec.Source = models.SourceDirectTier1
	}
	return rec, status, nil
}

func (p *Provider) tier2(ctx context.Context, article, url string) (*models.ProductRecord, error) {
	start := time.Now()
	rec, err := p.fetchTier2(ctx, article, url)
	p.record(ctx, article, models.SourceDirectTier2, start, 0, rec, err)
	return rec, err
}

func (p *Provider) fetchTier2(ctx context.Context, article, url string) (*models.ProductRecord, error) {
	if p.renderer == nil {
		return nil, errors.New("tier2: no browser renderer configured")
	}
	html, err := p.renderer.Render(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrBrowserUnavailable) {
			return nil, fmt.Errorf("tier2 render %s: %w", url, err)
		}
		return nil, &scraper.TransientError{Op: "tier2 render " + url, Err: err}
	}
	body := []byte(html)
	rec, err := Extract(body, article, url)
	if err != nil {
		return nil, err
	}
	// A block at this tier is final for this fetch.
	if marker := antiBotMarker(body, rec != nil); marker != "" {
		return nil, &scraper.BlockedError{URL: url, Reason: "anti-bot page in browser: " + marker}
	}
	if rec != nil {
		rec.Source = models.SourceDirectTier2
	}
	return rec, nil
}

func (p *Provider) record(ctx context.Context, article string, source models.Source, start time.Time, status int, rec *models.ProductRecord, err error) {
	e := audit.NewEntry(article, source)
	e.Duration = time.Since(start)
	e.RetryCount = max(retry.Attempt(ctx)-1, 0)
	e.Success = err == nil && rec != nil
	e.NotFound = err == nil && rec == nil
	if status > 0 {
		e.HTTPStatus = &status
	}
	audit.Record(ctx, p.sink, e.WithError(err))
}

// antiBotMarker reports the challenge phrase found on a page. The title is
// always checked. Challenge containers and the visible text are only
// checked when no price could be extracted, since ordinary pages mention
// captcha in footers and legal notices. Script bodies are never searched.
func antiBotMarker(body []byte, priced bool) string {
	if m := titleRegex.FindSubmatch(body); m != nil {
		if marker := findMarker(string(m[1])); marker != "" {
			return marker
		}
	}
	if priced {
		return ""
	}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if doc.Find(challengeSelector).Length() > 0 {
			return "challenge form"
		}
	}
	text, err := visibleText(body)
	if err != nil {
		text = string(body)
	}
	return findMarker(text)
}

func findMarker(text string) string {
	text = strings.ToLower(text)
	for _, m := range antiBotMarkers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}

func isBlockedStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests, 498:
		return true
	}
	return false
}
