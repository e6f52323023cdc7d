package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Availability is the normalized stock state of a product.
type Availability string

const (
	AvailabilityAvailable  Availability = "available"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityLimited    Availability = "limited"
	AvailabilityPreOrder   Availability = "pre_order"
	AvailabilityUnknown    Availability = "unknown"
)

// Source tells which acquisition path produced a record.
type Source string

const (
	SourceDirectTier1 Source = "direct_scrape_tier1"
	SourceDirectTier2 Source = "direct_scrape_tier2"
	SourceRemoteTask  Source = "remote_task"
	SourceCache       Source = "cache"
	SourceManual      Source = "manual"
)

// IdentifierMethod selects which id slot a remote task lookup uses.
type IdentifierMethod string

const (
	MethodSellerID      IdentifierMethod = "seller_id"
	MethodMarketplaceID IdentifierMethod = "marketplace_id"
)

// ProductRecord is the normalized snapshot of a marketplace product.
// Nil pointer fields mean "unknown". A product that could not be found is
// represented by a nil *ProductRecord, never by a record with empty prices.
type ProductRecord struct {
	Article         string           `json:"article" db:"article"`
	Name            string           `json:"name" db:"name"`
	Price           *float64         `json:"price" db:"price"`
	LoyaltyPrice    *float64         `json:"loyalty_price" db:"loyalty_price"`
	OldPrice        *float64         `json:"old_price" db:"old_price"`
	AvgPrice7d      *float64         `json:"avg_price_7d" db:"avg_price_7d"` // filled by storage, not by acquisition
	Rating          *float64         `json:"rating" db:"rating"`
	ReviewCount     *int             `json:"review_count" db:"review_count"`
	Availability    Availability     `json:"availability" db:"availability"`
	StockCount      *int             `json:"stock_count" db:"stock_count"`
	ImageURL        string           `json:"image_url" db:"image_url"`
	Images          JSONStringSlice  `json:"images" db:"images"`
	URL             string           `json:"url" db:"url"`
	FetchDurationMS int64            `json:"fetch_duration_ms" db:"fetch_duration_ms"`
	Source          Source           `json:"source" db:"source"`
	Method          IdentifierMethod `json:"method,omitempty" db:"method"`
	FetchedAt       time.Time        `json:"fetched_at" db:"fetched_at"`
}

// HasPrice reports whether either the list price or the loyalty price is known.
func (p *ProductRecord) HasPrice() bool {
	return p != nil && (p.Price != nil || p.LoyaltyPrice != nil)
}

// BestPrice returns the lowest known customer-facing price.
func (p *ProductRecord) BestPrice() (float64, bool) {
	switch {
	case p == nil:
		return 0, false
	case p.Price != nil && p.LoyaltyPrice != nil:
		if *p.LoyaltyPrice < *p.Price {
			return *p.LoyaltyPrice, true
		}
		return *p.Price, true
	case p.Price != nil:
		return *p.Price, true
	case p.LoyaltyPrice != nil:
		return *p.LoyaltyPrice, true
	}
	return 0, false
}

// Sanitize drops values that break the record invariants: negative prices
// and counts, ratings outside [0,5].
func (p *ProductRecord) Sanitize() {
	for _, f := range []**float64{&p.Price, &p.LoyaltyPrice, &p.OldPrice, &p.AvgPrice7d} {
		if *f != nil && **f < 0 {
			*f = nil
		}
	}
	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		p.Rating = nil
	}
	if p.ReviewCount != nil && *p.ReviewCount < 0 {
		p.ReviewCount = nil
	}
	if p.StockCount != nil && *p.StockCount < 0 {
		p.StockCount = nil
	}
	if p.Availability == "" {
		p.Availability = AvailabilityUnknown
	}
}

// Clone returns a deep copy. The facade caches and hands out copies.
func (p *ProductRecord) Clone() *ProductRecord {
	if p == nil {
		return nil
	}
	c := *p
	c.Price = cloneFloat(p.Price)
	c.LoyaltyPrice = cloneFloat(p.LoyaltyPrice)
	c.OldPrice = cloneFloat(p.OldPrice)
	c.AvgPrice7d = cloneFloat(p.AvgPrice7d)
	c.Rating = cloneFloat(p.Rating)
	c.ReviewCount = cloneInt(p.ReviewCount)
	c.StockCount = cloneInt(p.StockCount)
	if p.Images != nil {
		c.Images = append(JSONStringSlice(nil), p.Images...)
	}
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// JSONStringSlice is a custom type to handle JSON serialization/deserialization for []string
type JSONStringSlice []string

// Value implements the driver.Valuer interface to convert []string to JSON for database storage
func (j JSONStringSlice) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface to convert JSON from database to []string
func (j *JSONStringSlice) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("unsupported type for JSONStringSlice")
	}
	return json.Unmarshal(bytes, (*[]string)(j))
}

// TrackedProduct is a row of the tracked-articles table together with the
// last snapshot taken for it.
type TrackedProduct struct {
	ID          int64
	Article     string
	LastPrice   *float64
	LastRecord  *ProductRecord
	LastFetched *time.Time
}
