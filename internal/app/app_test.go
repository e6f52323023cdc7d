package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"PriceWatch/internal/acquisition"
	"PriceWatch/internal/audit"
	"PriceWatch/internal/database"
	"PriceWatch/internal/models"
	"PriceWatch/internal/retry"
	"PriceWatch/pkg/config"
)

type openLimiter struct{}

func (openLimiter) Acquire(ctx context.Context) error { return ctx.Err() }

type priceProvider struct {
	calls  atomic.Int32
	prices map[string]float64
}

func (p *priceProvider) Fetch(ctx context.Context, article string) (*models.ProductRecord, error) {
	p.calls.Add(1)
	price, ok := p.prices[article]
	if !ok {
		return nil, nil
	}
	return &models.ProductRecord{
		Article:      article,
		Name:         "Товар " + article,
		Price:        models.Float(price),
		Availability: models.AvailabilityAvailable,
		Source:       models.SourceDirectTier1,
	}, nil
}

func newTestApp(t *testing.T, provider *priceProvider) *App {
	t.Helper()
	repo, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(repo.Close)

	cfg := &config.Config{}
	cfg.Scraper.Workers = "2"
	svc := acquisition.New(acquisition.Deps{
		Limiter: openLimiter{},
		Direct:  provider,
		Retry:   retry.Policy{MaxRetries: 1},
		Sink:    repo,
	})
	return &App{Config: cfg, Repo: repo, Service: svc}
}

func TestRunRefreshSavesSnapshots(t *testing.T) {
	provider := &priceProvider{prices: map[string]float64{"111": 1999, "222": 500}}
	a := newTestApp(t, provider)
	ctx := context.Background()

	for _, article := range []string{"111", "222", "333"} {
		if err := a.RunTrack(ctx, article); err != nil {
			t.Fatalf("RunTrack(%s) error = %v", article, err)
		}
	}
	if err := a.RunRefresh(ctx); err != nil {
		t.Fatalf("RunRefresh() error = %v", err)
	}
	if got := provider.calls.Load(); got != 3 {
		t.Errorf("provider calls = %d; want 3", got)
	}

	rec, err := a.Repo.GetSnapshot(ctx, "111")
	if err != nil || rec == nil {
		t.Fatalf("GetSnapshot(111) = %v, %v", rec, err)
	}
	if rec.Price == nil || *rec.Price != 1999 || rec.FetchedAt.IsZero() {
		t.Errorf("snapshot = %+v", rec)
	}
	if rec, _ := a.Repo.GetSnapshot(ctx, "333"); rec != nil {
		t.Errorf("snapshot for a missing product = %+v; want nil", rec)
	}

	// a second run compares against the stored prices
	provider.prices["111"] = 1799
	if err := a.RunRefresh(ctx); err != nil {
		t.Fatalf("second RunRefresh() error = %v", err)
	}
	rec, _ = a.Repo.GetSnapshot(ctx, "111")
	if rec == nil || *rec.Price != 1799 {
		t.Errorf("snapshot after change = %+v; want price 1799", rec)
	}

	stats, err := a.Repo.GetRequestLogStats(ctx, "111")
	if err != nil {
		t.Fatalf("GetRequestLogStats() error = %v", err)
	}
	if stats.CacheHit != 0 {
		t.Errorf("refresh must bypass the cache, got %d cache hits", stats.CacheHit)
	}
}

func TestRunRefreshStopsOnCancel(t *testing.T) {
	provider := &priceProvider{prices: map[string]float64{"1": 1, "2": 2}}
	a := newTestApp(t, provider)
	a.Config.Batch.ItemDelaySeconds = 60

	ctx := context.Background()
	a.RunTrack(ctx, "1")
	a.RunTrack(ctx, "2")

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := a.RunRefresh(ctx); err == nil {
		t.Error("RunRefresh() error = nil; want the context error")
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d; want 1 before the item delay", got)
	}
}

func TestPriceAlert(t *testing.T) {
	rec := &models.ProductRecord{Article: "42", Price: models.Float(900)}

	msg, changed := PriceAlert(models.Float(1000), rec)
	if !changed || !strings.Contains(msg, "1000.00 -> 900.00") || !strings.Contains(msg, "-10.0%") {
		t.Errorf("PriceAlert() = %q, %v", msg, changed)
	}
	if _, changed := PriceAlert(models.Float(900), rec); changed {
		t.Error("unchanged price reported as a change")
	}
	if _, changed := PriceAlert(nil, rec); changed {
		t.Error("first snapshot reported as a change")
	}
}

func TestRunBalanceWithoutRemote(t *testing.T) {
	a := newTestApp(t, &priceProvider{})
	if err := a.RunBalance(context.Background()); err == nil {
		t.Error("RunBalance() error = nil; want an error without a remote client")
	}
}

func TestAuditSinkEcho(t *testing.T) {
	a := newTestApp(t, &priceProvider{})
	if _, ok := a.auditSink().(*database.DBRepository); !ok {
		t.Errorf("auditSink() = %T; want the sqlite repository", a.auditSink())
	}

	a.Config.Audit.Echo = true
	multi, ok := a.auditSink().(audit.MultiSink)
	if !ok || len(multi) != 2 {
		t.Fatalf("auditSink() = %T; want the repository and the log", a.auditSink())
	}
	if _, ok := multi[1].(audit.LogSink); !ok {
		t.Errorf("multi[1] = %T; want audit.LogSink", multi[1])
	}

	a.Config.Audit.Driver = "log"
	if _, ok := a.auditSink().(audit.LogSink); !ok {
		t.Errorf("auditSink() = %T; want audit.LogSink without echo duplicates", a.auditSink())
	}
}
