package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"PriceWatch/internal/models"
	"PriceWatch/utils"

	"github.com/shopspring/decimal"
)

// Amount is a price as sent in reports: a JSON number, a formatted string
// such as "1 200 ₽", or null. Missing prices decode to 0.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = 0
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(utils.ParsePrice(s))
	default:
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("invalid amount %s: %w", data, err)
		}
		*a = Amount(d.InexactFloat64())
	}
	return nil
}

func (a Amount) ptr() *float64 {
	if a <= 0 {
		return nil
	}
	return models.Float(float64(a))
}

// Offer is one seller's proposal for the product.
type Offer struct {
	Price        Amount `json:"price"`
	LoyaltyPrice Amount `json:"loyalty_price"`
	OldPrice     Amount `json:"old_price"`
	Seller       string `json:"seller"`
	Stock        *int   `json:"stock"`
	Availability string `json:"availability"`
}

// ReportItem is the product hit for one submitted query.
type ReportItem struct {
	Query       string   `json:"query"`
	Success     *bool    `json:"success"`
	OffersCount *int     `json:"offers_count"`
	Name        string   `json:"name"`
	Rating      *float64 `json:"rating"`
	Reviews     *int     `json:"reviews"`
	Images      []string `json:"images"`
	URL         string   `json:"url"`
	Offers      []Offer  `json:"offers"`
}

// Report is the decoded JSON report document.
type Report []ReportItem

// CanonicalOffer picks the offer with the lowest positive price.
func CanonicalOffer(offers []Offer) (Offer, bool) {
	var best Offer
	found := false
	for _, o := range offers {
		if o.Price <= 0 {
			continue
		}
		if !found || o.Price < best.Price {
			best, found = o, true
		}
	}
	return best, found
}

// Item returns the hit for identifier. A report with a single item is taken
// as the answer to the only query of the task.
func (r Report) Item(identifier string) (ReportItem, bool) {
	for _, it := range r {
		if it.Query == identifier {
			return it, true
		}
	}
	if len(r) == 1 {
		return r[0], true
	}
	return ReportItem{}, false
}

// ErrNoPricedOffer means the service reported offers for the product but
// none of them carries a positive price.
var ErrNoPricedOffer = errors.New("report has offers but none with a price")

// Record converts the report into a product record for article. It returns
// nil when the product was not found: no offer has a positive price and the
// item has neither a success flag nor a non-zero offer count.
func (r Report) Record(article string) (*models.ProductRecord, error) {
	item, ok := r.Item(article)
	if !ok {
		return nil, nil
	}
	offer, ok := CanonicalOffer(item.Offers)
	if !ok {
		if item.claimsOffers() {
			return nil, fmt.Errorf("article %s: %w", article, ErrNoPricedOffer)
		}
		return nil, nil
	}

	rec := &models.ProductRecord{
		Article:      article,
		Name:         utils.CleanText(item.Name),
		Price:        offer.Price.ptr(),
		LoyaltyPrice: offer.LoyaltyPrice.ptr(),
		OldPrice:     offer.OldPrice.ptr(),
		Rating:       item.Rating,
		ReviewCount:  item.Reviews,
		Availability: models.ParseAvailability(offer.Availability),
		StockCount:   offer.Stock,
		URL:          item.URL,
		Source:       models.SourceRemoteTask,
	}
	if images := utils.UniqueStrings(item.Images); len(images) > 0 {
		rec.Images = images
		rec.ImageURL = images[0]
	}
	if rec.Availability == models.AvailabilityUnknown && offer.Stock != nil {
		if *offer.Stock > 0 {
			rec.Availability = models.AvailabilityAvailable
		} else {
			rec.Availability = models.AvailabilityOutOfStock
		}
	}
	rec.Sanitize()
	return rec, nil
}

func (it ReportItem) claimsOffers() bool {
	return (it.Success != nil && *it.Success) || (it.OffersCount != nil && *it.OffersCount > 0)
}
