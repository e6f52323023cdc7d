package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"PriceWatch/internal/audit"
	"PriceWatch/internal/models"

	_ "modernc.org/sqlite"
)

// DBRepository wraps the sqlite connection holding tracked products and the
// request log.
type DBRepository struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and makes sure the tables exist.
func Open(path string) (*DBRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	createProductsTableSQL := `
	CREATE TABLE IF NOT EXISTS products (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"article" TEXT NOT NULL UNIQUE,
		"name" TEXT,
		"price" REAL,
		"loyalty_price" REAL,
		"old_price" REAL,
		"rating" REAL,
		"review_count" INTEGER,
		"availability" TEXT,
		"stock_count" INTEGER,
		"image_url" TEXT,
		"images" TEXT,
		"url" TEXT,
		"source" TEXT,
		"method" TEXT,
		"fetch_duration_ms" INTEGER,
		"fetched_at" DATETIME,
		"created_at" DATETIME
	);`
	if _, err = db.Exec(createProductsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create products table: %w", err)
	}

	createRequestLogsTableSQL := `
	CREATE TABLE IF NOT EXISTS request_logs (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"request_id" TEXT NOT NULL UNIQUE,
		"article" TEXT NOT NULL,
		"success" BOOLEAN NOT NULL,
		"not_found" BOOLEAN NOT NULL DEFAULT 0,
		"http_status" INTEGER,
		"duration_ms" INTEGER NOT NULL,
		"retry_count" INTEGER NOT NULL DEFAULT 0,
		"cache_hit" BOOLEAN NOT NULL DEFAULT 0,
		"source" TEXT NOT NULL,
		"method" TEXT,
		"error" TEXT,
		"trace" TEXT,
		"created_at" DATETIME NOT NULL
	);`
	if _, err = db.Exec(createRequestLogsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create request_logs table: %w", err)
	}

	return &DBRepository{DB: db}, nil
}

// InitDB is Open that exits the process on error.
func InitDB(filepath string) *DBRepository {
	repo, err := Open(filepath)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	log.Println("Database and tables initialized successfully.")
	return repo
}

// Close closes the database connection.
func (repo *DBRepository) Close() {
	repo.DB.Close()
}

// Write stores an audit entry in request_logs. It makes the repository an
// audit.Sink.
func (repo *DBRepository) Write(ctx context.Context, e audit.Entry) error {
	_, err := repo.DB.ExecContext(ctx, `
	INSERT OR IGNORE INTO request_logs (
		request_id, article, success, not_found, http_status, duration_ms, retry_count,
		cache_hit, source, method, error, trace, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Article, e.Success, e.NotFound, e.HTTPStatus, e.Duration.Milliseconds(),
		e.RetryCount, e.CacheHit, string(e.Source), string(e.Method), e.Error, e.Trace, e.CreatedAt,
	)
	return err
}

// RequestLogStats summarizes request_logs for one article.
type RequestLogStats struct {
	Total    int
	Success  int
	CacheHit int
}

// GetRequestLogStats counts request log entries for an article.
func (repo *DBRepository) GetRequestLogStats(ctx context.Context, article string) (RequestLogStats, error) {
	var s RequestLogStats
	err := repo.DB.QueryRowContext(ctx, `
	SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(cache_hit), 0)
	FROM request_logs WHERE article = ?`, article).Scan(&s.Total, &s.Success, &s.CacheHit)
	return s, err
}

// TrackArticle adds an article to the tracked list. Tracking an already
// tracked article is not an error.
func (repo *DBRepository) TrackArticle(ctx context.Context, article string) error {
	article = strings.TrimSpace(article)
	if article == "" {
		return errors.New("empty article")
	}
	_, err := repo.DB.ExecContext(ctx,
		`INSERT INTO products (article, created_at) VALUES (?, ?) ON CONFLICT(article) DO NOTHING`,
		article, time.Now())
	return err
}

// GetTrackedProducts returns every tracked article with its last snapshot.
func (repo *DBRepository) GetTrackedProducts(ctx context.Context) ([]models.TrackedProduct, error) {
	rows, err := repo.DB.QueryContext(ctx, `
		SELECT id, article, name, price, loyalty_price, old_price, rating, review_count,
		       availability, stock_count, image_url, images, url, source, method,
		       fetch_duration_ms, fetched_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.TrackedProduct
	for rows.Next() {
		tp, err := scanTracked(rows)
		if err != nil {
			log.Printf("Error scanning tracked product row: %v", err)
			continue
		}
		products = append(products, tp)
	}
	return products, rows.Err()
}

// GetSnapshot returns the last saved record for an article, or nil when the
// article was never fetched successfully.
func (repo *DBRepository) GetSnapshot(ctx context.Context, article string) (*models.ProductRecord, error) {
	row := repo.DB.QueryRowContext(ctx, `
		SELECT id, article, name, price, loyalty_price, old_price, rating, review_count,
		       availability, stock_count, image_url, images, url, source, method,
		       fetch_duration_ms, fetched_at
		FROM products WHERE article = ?`, article)
	tp, err := scanTracked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tp.LastRecord, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTracked(s scanner) (models.TrackedProduct, error) {
	var (
		tp                                models.TrackedProduct
		name, availability, imageURL, url sql.NullString
		source, method                    sql.NullString
		price, loyalty, old, rating       sql.NullFloat64
		reviews, stock, duration          sql.NullInt64
		images                            models.JSONStringSlice
		fetchedAt                         sql.NullTime
	)
	if err := s.Scan(&tp.ID, &tp.Article, &name, &price, &loyalty, &old, &rating, &reviews,
		&availability, &stock, &imageURL, &images, &url, &source, &method, &duration, &fetchedAt); err != nil {
		return tp, err
	}
	if !fetchedAt.Valid {
		return tp, nil
	}

	rec := &models.ProductRecord{
		Article:         tp.Article,
		Name:            name.String,
		Price:           nullFloat(price),
		LoyaltyPrice:    nullFloat(loyalty),
		OldPrice:        nullFloat(old),
		Rating:          nullFloat(rating),
		ReviewCount:     nullInt(reviews),
		Availability:    models.Availability(availability.String),
		StockCount:      nullInt(stock),
		ImageURL:        imageURL.String,
		Images:          images,
		URL:             url.String,
		Source:          models.Source(source.String),
		Method:          models.IdentifierMethod(method.String),
		FetchDurationMS: duration.Int64,
		FetchedAt:       fetchedAt.Time,
	}
	t := fetchedAt.Time
	tp.LastRecord = rec
	tp.LastFetched = &t
	if p, ok := rec.BestPrice(); ok {
		tp.LastPrice = &p
	}
	return tp, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return models.Int(int(v.Int64))
}

// SaveSnapshot upserts the latest record of an article.
func (repo *DBRepository) SaveSnapshot(ctx context.Context, p *models.ProductRecord) error {
	if p == nil {
		return errors.New("nil record")
	}
	query := `
	INSERT INTO products (
		article, name, price, loyalty_price, old_price, rating, review_count, availability,
		stock_count, image_url, images, url, source, method, fetch_duration_ms, fetched_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(article) DO UPDATE SET
		name=excluded.name,
		price=excluded.price,
		loyalty_price=excluded.loyalty_price,
		old_price=excluded.old_price,
		rating=excluded.rating,
		review_count=excluded.review_count,
		availability=excluded.availability,
		stock_count=excluded.stock_count,
		image_url=excluded.image_url,
		images=excluded.images,
		url=excluded.url,
		source=excluded.source,
		method=excluded.method,
		fetch_duration_ms=excluded.fetch_duration_ms,
		fetched_at=excluded.fetched_at;
	`
	stmt, err := repo.DB.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		p.Article, p.Name, p.Price, p.LoyaltyPrice, p.OldPrice, p.Rating, p.ReviewCount,
		string(p.Availability), p.StockCount, p.ImageURL, p.Images, p.URL, string(p.Source),
		string(p.Method), p.FetchDurationMS, p.FetchedAt, time.Now(),
	)
	if err != nil {
		log.Printf("Failed to save snapshot for %s: %v", p.Article, err)
		return err
	}
	return nil
}

// MarshalSnapshot renders a record as indented JSON for CLI output.
func MarshalSnapshot(p *models.ProductRecord) string {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprintf("<unprintable record: %v>", err)
	}
	return string(b)
}
