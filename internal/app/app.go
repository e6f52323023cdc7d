package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"PriceWatch/internal/acquisition"
	"PriceWatch/internal/audit"
	"PriceWatch/internal/cache"
	"PriceWatch/internal/database"
	"PriceWatch/internal/models"
	"PriceWatch/internal/ratelimit"
	"PriceWatch/internal/retry"
	"PriceWatch/internal/scraper/direct"
	"PriceWatch/internal/scraper/remote"
	"PriceWatch/pkg/config"
	"PriceWatch/utils"

	"golang.org/x/sync/errgroup"
)

// App is the main application structure holding all dependencies.
type App struct {
	Config  *config.Config
	Repo    *database.DBRepository
	Service *acquisition.Service
	Remote  *remote.Client

	closers []func()
}

// New builds every component once from config.yml at configPath.
func New(configPath string) *App {
	cfg := config.LoadConfig(configPath)
	repo := database.InitDB(cfg.Database.Path)
	a := &App{Config: cfg, Repo: repo}

	sink := a.auditSink()

	renderer := direct.NewBrowserRenderer(cfg.Scraper)
	a.closers = append(a.closers, func() {
		if err := renderer.Close(); err != nil {
			log.Printf("Failed to close browser: %v", err)
		}
	})
	directProvider := direct.New(cfg.Scraper, renderer, sink)

	deps := acquisition.Deps{
		Limiter: ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute,
			ratelimit.WithJitter(
				time.Duration(cfg.RateLimit.JitterMinMS)*time.Millisecond,
				time.Duration(cfg.RateLimit.JitterMaxMS)*time.Millisecond,
			)),
		Cache:       cache.New[string, *models.ProductRecord](cfg.CacheTTL()),
		Direct:      directProvider,
		DirectTier2: directProvider.Tier2(),
		Retry: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Retryable:  retry.Kinds(),
		},
		Default: acquisition.Kind(cfg.Acquisition.DefaultProvider),
		Sink:    sink,
	}
	for _, m := range cfg.Remote.Methods {
		deps.Methods = append(deps.Methods, models.IdentifierMethod(m))
	}
	if cfg.Remote.BaseURL != "" {
		a.Remote = remote.NewClient(cfg.Remote, cfg.HTTPTimeout())
		deps.Remote = remote.NewProvider(a.Remote, cfg.PollInterval(), cfg.RemoteTimeout(), sink)
	} else {
		log.Println("remote.base_url is empty; the remote provider is disabled.")
	}

	a.Service = acquisition.New(deps)
	return a
}

func (a *App) auditSink() audit.Sink {
	var sink audit.Sink
	switch a.Config.Audit.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		pg, err := audit.NewPostgresSink(ctx, a.Config.Audit.DSN)
		if err != nil {
			log.Fatalf("Error connecting audit database: %v", err)
		}
		a.closers = append(a.closers, pg.Close)
		log.Println("Audit entries go to postgres.")
		sink = pg
	case "log":
		return audit.LogSink{}
	default:
		sink = a.Repo
	}
	if a.Config.Audit.Echo {
		return audit.MultiSink{sink, audit.LogSink{}}
	}
	return sink
}

// Close releases the browser, the databases and the audit sink.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Repo != nil {
		a.Repo.Close()
	}
}

// RunFetch acquires one article and prints the record as JSON.
func (a *App) RunFetch(ctx context.Context, article, provider string, noCache bool) error {
	kind, err := acquisition.ParseKind(provider)
	if err != nil {
		return err
	}
	rec, err := a.Service.GetProductInfo(ctx, article, acquisition.FetchOptions{SkipCache: noCache, Provider: kind})
	if err != nil {
		return err
	}
	if rec == nil {
		log.Printf("Article %s could not be acquired.", article)
		return nil
	}
	fmt.Println(database.MarshalSnapshot(rec))
	return nil
}

// RunTrack adds an article to the tracked list.
func (a *App) RunTrack(ctx context.Context, article string) error {
	if err := a.Repo.TrackArticle(ctx, article); err != nil {
		return fmt.Errorf("track article %s: %w", article, err)
	}
	log.Printf("Article %s is now tracked.", article)
	return nil
}

// RunRefresh fetches every tracked article, saves the new snapshots and logs
// price changes. Items are started with a fixed pause between them on top of
// the rate limiter.
func (a *App) RunRefresh(ctx context.Context) error {
	log.Println("--- Starting Refresh Task ---")

	products, err := a.Repo.GetTrackedProducts(ctx)
	if err != nil {
		return fmt.Errorf("get tracked products: %w", err)
	}
	if len(products) == 0 {
		log.Println("No tracked products. Task finished.")
		return nil
	}

	numWorkers := utils.GetOptimalWorkerCount(a.Config.Scraper.Workers)
	log.Printf("Refreshing %d products with %d workers.", len(products), numWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	var stats refreshStats
	for i, tp := range products {
		if i > 0 {
			if err := ratelimit.Sleep(gctx, a.Config.ItemDelay()); err != nil {
				break
			}
		}
		tp := tp
		g.Go(func() error {
			return a.refreshOne(gctx, tp, &stats)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("--- Refresh Task Finished: %d updated, %d changed, %d failed ---",
		stats.updated.Load(), stats.changed.Load(), stats.failed.Load())
	return nil
}

type refreshStats struct {
	updated, changed, failed atomic.Int64
}

func (a *App) refreshOne(ctx context.Context, tp models.TrackedProduct, stats *refreshStats) error {
	rec, err := a.Service.GetProductInfo(ctx, tp.Article, acquisition.FetchOptions{SkipCache: true})
	if err != nil {
		// limiter errors mean the run is being cancelled
		return err
	}
	if rec == nil {
		stats.failed.Add(1)
		log.Printf("[refresh] article %s: no data, keeping the last snapshot", tp.Article)
		return nil
	}
	if msg, changed := PriceAlert(tp.LastPrice, rec); changed {
		stats.changed.Add(1)
		log.Printf("[alert] %s", msg)
	}
	if err := a.Repo.SaveSnapshot(ctx, rec); err != nil {
		stats.failed.Add(1)
		if errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	stats.updated.Add(1)
	return nil
}

// PriceAlert describes a price change between the last stored price and a
// fresh record. It reports false when there is nothing to compare or the
// price did not move.
func PriceAlert(last *float64, rec *models.ProductRecord) (string, bool) {
	now, ok := rec.BestPrice()
	if last == nil || !ok || *last == now {
		return "", false
	}
	diff := now - *last
	pct := 0.0
	if *last != 0 {
		pct = diff / *last * 100
	}
	return fmt.Sprintf("article %s price changed: %.2f -> %.2f (%+.1f%%)", rec.Article, *last, now, pct), true
}

// RunBalance prints the remote service balance.
func (a *App) RunBalance(ctx context.Context) error {
	if a.Remote == nil {
		return errors.New("remote provider is not configured (remote.base_url)")
	}
	b, err := a.Remote.Balance(ctx)
	if err != nil {
		return err
	}
	log.Printf("Remote balance: %s %s", b.Amount.StringFixed(2), b.Currency)
	return nil
}
