// Package acquisition is the single entry point for getting a product
// record. It puts the cache, the rate limiter, retries and the providers
// together.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"PriceWatch/internal/audit"
	"PriceWatch/internal/models"
	"PriceWatch/internal/retry"
	"PriceWatch/internal/scraper"
)

// Kind selects the provider of a fetch.
type Kind string

const (
	KindDirect      Kind = "direct"
	KindDirectTier2 Kind = "direct_tier2"
	KindRemote      Kind = "remote"
)

// Limiter admits outgoing fetches.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Cache stores recent records by article.
type Cache interface {
	Get(article string) (*models.ProductRecord, bool)
	Put(article string, rec *models.ProductRecord)
}

// Deps are the collaborators of a Service. Providers that are not configured
// may be nil; asking for them is an error.
type Deps struct {
	Limiter     Limiter
	Cache       Cache
	Direct      scraper.Provider
	DirectTier2 scraper.Provider
	Remote      scraper.MethodProvider
	Methods     []models.IdentifierMethod // remote lookup order
	Retry       retry.Policy
	Default     Kind
	Sink        audit.Sink
}

// FetchOptions tune a single GetProductInfo call.
type FetchOptions struct {
	SkipCache bool
	Provider  Kind // empty means the configured default
}

// Service is safe for concurrent use.
type Service struct {
	deps Deps
	now  func() time.Time
}

// New creates a Service. A zero Default means KindDirect and an empty
// method list means seller id first, then marketplace id.
func New(deps Deps) *Service {
	if deps.Default == "" {
		deps.Default = KindDirect
	}
	if len(deps.Methods) == 0 {
		deps.Methods = []models.IdentifierMethod{models.MethodSellerID, models.MethodMarketplaceID}
	}
	if deps.Retry.Retryable == nil {
		deps.Retry.Retryable = retry.Kinds()
	}
	return &Service{deps: deps, now: time.Now}
}

// GetProductInfo returns the record for article, or nil when it could not be
// acquired. Provider failures are logged and turned into nil; only limiter
// errors and misconfiguration are returned.
func (s *Service) GetProductInfo(ctx context.Context, article string, opts FetchOptions) (*models.ProductRecord, error) {
	if !opts.SkipCache && s.deps.Cache != nil {
		if rec, ok := s.deps.Cache.Get(article); ok {
			log.Printf("[facade] cache hit for article %s", article)
			e := audit.NewEntry(article, models.SourceCache)
			e.Success = true
			e.CacheHit = true
			e.Method = rec.Method
			audit.Record(ctx, s.deps.Sink, e)
			return rec.Clone(), nil
		}
	}

	if err := s.deps.Limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	kind := opts.Provider
	if kind == "" {
		kind = s.deps.Default
	}

	start := s.now()
	rec, err := s.fetch(ctx, kind, article)
	if errors.Is(err, errNotConfigured) {
		return nil, err
	}
	if err != nil {
		log.Printf("[facade] %s fetch failed for article %s: %v", kind, article, err)
		return nil, nil
	}
	if rec == nil {
		log.Printf("[facade] article %s not found via %s", article, kind)
		return nil, nil
	}

	finished := s.now()
	rec.FetchDurationMS = finished.Sub(start).Milliseconds()
	rec.FetchedAt = finished
	if rec.Source == "" {
		rec.Source = defaultSource(kind)
	}
	if !opts.SkipCache && s.deps.Cache != nil {
		s.deps.Cache.Put(article, rec.Clone())
	}
	log.Printf("[facade] article %s fetched via %s in %dms", article, rec.Source, rec.FetchDurationMS)
	return rec, nil
}

var errNotConfigured = errors.New("provider not configured")

func (s *Service) fetch(ctx context.Context, kind Kind, article string) (*models.ProductRecord, error) {
	switch kind {
	case KindDirect:
		return s.fetchWith(ctx, s.deps.Direct, kind, article)
	case KindDirectTier2:
		return s.fetchWith(ctx, s.deps.DirectTier2, kind, article)
	case KindRemote:
		if s.deps.Remote == nil {
			return nil, fmt.Errorf("%s: %w", kind, errNotConfigured)
		}
		return s.fetchRemote(ctx, article)
	}
	return nil, fmt.Errorf("unknown provider %q: %w", kind, errNotConfigured)
}

func (s *Service) fetchWith(ctx context.Context, p scraper.Provider, kind Kind, article string) (*models.ProductRecord, error) {
	if p == nil {
		return nil, fmt.Errorf("%s: %w", kind, errNotConfigured)
	}
	return retry.Do(ctx, s.deps.Retry, func(ctx context.Context) (*models.ProductRecord, error) {
		return p.Fetch(ctx, article)
	})
}

// fetchRemote walks the identifier methods in order. Each method is a full
// retried task cycle; only "not found" moves on to the next method.
func (s *Service) fetchRemote(ctx context.Context, article string) (*models.ProductRecord, error) {
	for _, method := range s.deps.Methods {
		rec, err := retry.Do(ctx, s.deps.Retry, func(ctx context.Context) (*models.ProductRecord, error) {
			return s.deps.Remote.FetchByMethod(ctx, article, method)
		})
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rec.Method = method
			return rec, nil
		}
		log.Printf("[facade] article %s not found by %s", article, method)
	}
	return nil, nil
}

func defaultSource(kind Kind) models.Source {
	switch kind {
	case KindDirectTier2:
		return models.SourceDirectTier2
	case KindRemote:
		return models.SourceRemoteTask
	}
	return models.SourceDirectTier1
}

// ParseKind validates a provider name from config or the command line.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindDirect, KindDirectTier2, KindRemote:
		return k, nil
	}
	return "", fmt.Errorf("unknown provider %q (want direct, direct_tier2 or remote)", s)
}
