package scraper

import (
	"context"
	"fmt"

	"PriceWatch/internal/models"
)

// Provider defines the basic behavior for every acquisition path.
// A nil record with a nil error means the product was not found.
type Provider interface {
	Fetch(ctx context.Context, article string) (*models.ProductRecord, error)
}

// MethodProvider is a Provider that can look a product up by a specific
// identifier slot. The remote task service implements it.
type MethodProvider interface {
	FetchByMethod(ctx context.Context, identifier string, method models.IdentifierMethod) (*models.ProductRecord, error)
}

// TransientError marks a failure worth another attempt: network errors,
// timeouts and 5xx answers.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Temporary() bool { return true }

// BlockedError reports that the marketplace refused the request or served an
// anti-bot page.
type BlockedError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *BlockedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("blocked on %s (status %d): %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("blocked on %s: %s", e.URL, e.Reason)
}
