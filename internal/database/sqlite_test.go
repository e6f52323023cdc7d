package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"PriceWatch/internal/audit"
	"PriceWatch/internal/models"
)

func openTestDB(t *testing.T) *DBRepository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "products.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestTrackAndSnapshot(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	if err := repo.TrackArticle(ctx, "123456789"); err != nil {
		t.Fatalf("TrackArticle() error = %v", err)
	}
	if err := repo.TrackArticle(ctx, "123456789"); err != nil {
		t.Fatalf("tracking twice must not fail: %v", err)
	}
	if err := repo.TrackArticle(ctx, "  "); err == nil {
		t.Error("TrackArticle(blank) error = nil")
	}

	tracked, err := repo.GetTrackedProducts(ctx)
	if err != nil {
		t.Fatalf("GetTrackedProducts() error = %v", err)
	}
	if len(tracked) != 1 || tracked[0].LastRecord != nil || tracked[0].LastPrice != nil {
		t.Fatalf("tracked = %+v; want one article without snapshot", tracked)
	}

	fetchedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &models.ProductRecord{
		Article:         "123456789",
		Name:            "Кроссовки",
		Price:           models.Float(1999),
		LoyaltyPrice:    models.Float(1899),
		Rating:          models.Float(4.8),
		ReviewCount:     models.Int(1234),
		Availability:    models.AvailabilityLimited,
		StockCount:      models.Int(3),
		ImageURL:        "https://img.example/1.webp",
		Images:          models.JSONStringSlice{"https://img.example/1.webp", "https://img.example/2.webp"},
		URL:             "https://www.wildberries.ru/catalog/123456789/detail.aspx",
		FetchDurationMS: 850,
		Source:          models.SourceRemoteTask,
		Method:          models.MethodSellerID,
		FetchedAt:       fetchedAt,
	}
	if err := repo.SaveSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	tracked, err = repo.GetTrackedProducts(ctx)
	if err != nil || len(tracked) != 1 {
		t.Fatalf("GetTrackedProducts() = %+v, %v", tracked, err)
	}
	tp := tracked[0]
	if tp.LastPrice == nil || *tp.LastPrice != 1899 {
		t.Errorf("LastPrice = %v; want the loyalty price 1899", tp.LastPrice)
	}
	got := tp.LastRecord
	if got == nil {
		t.Fatal("LastRecord = nil")
	}
	if got.Name != rec.Name || *got.ReviewCount != 1234 || *got.StockCount != 3 || got.OldPrice != nil {
		t.Errorf("LastRecord = %+v", got)
	}
	if len(got.Images) != 2 || got.Method != models.MethodSellerID || got.Source != models.SourceRemoteTask {
		t.Errorf("LastRecord = %+v", got)
	}
	if !got.FetchedAt.Equal(fetchedAt) {
		t.Errorf("FetchedAt = %v; want %v", got.FetchedAt, fetchedAt)
	}

	missing, err := repo.GetSnapshot(ctx, "000")
	if err != nil || missing != nil {
		t.Errorf("GetSnapshot(unknown) = %v, %v; want nil, nil", missing, err)
	}
}

func TestWriteRequestLog(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	status := 403
	failed := audit.NewEntry("42", models.SourceDirectTier1).WithError(errors.New("blocked"))
	failed.HTTPStatus = &status
	failed.Duration = 120 * time.Millisecond

	hit := audit.NewEntry("42", models.SourceCache)
	hit.Success, hit.CacheHit = true, true

	for _, e := range []audit.Entry{failed, hit, hit} {
		audit.Record(ctx, repo, e)
	}

	stats, err := repo.GetRequestLogStats(ctx, "42")
	if err != nil {
		t.Fatalf("GetRequestLogStats() error = %v", err)
	}
	// the duplicated request id is stored once
	if stats.Total != 2 || stats.Success != 1 || stats.CacheHit != 1 {
		t.Errorf("stats = %+v; want 2 total, 1 success, 1 cache hit", stats)
	}
}

func TestSaveSnapshotNil(t *testing.T) {
	repo := openTestDB(t)
	if err := repo.SaveSnapshot(context.Background(), nil); err == nil {
		t.Error("SaveSnapshot(nil) error = nil")
	}
}
