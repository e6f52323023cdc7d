package remote

import (
	"context"
	"errors"
	"log"
	"time"

	"PriceWatch/internal/audit"
	"PriceWatch/internal/models"
	"PriceWatch/internal/ratelimit"
	"PriceWatch/internal/retry"
)

// Provider acquires products through parsing tasks.
type Provider struct {
	client       *Client
	pollInterval time.Duration
	timeout      time.Duration
	sink         audit.Sink

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProvider creates a provider polling every pollInterval and giving up
// after timeout.
func NewProvider(client *Client, pollInterval, timeout time.Duration, sink audit.Sink) *Provider {
	return &Provider{
		client:       client,
		pollInterval: pollInterval,
		timeout:      timeout,
		sink:         sink,
		now:          time.Now,
		sleep:        ratelimit.Sleep,
	}
}

// Fetch looks the article up by its marketplace id.
func (p *Provider) Fetch(ctx context.Context, article string) (*models.ProductRecord, error) {
	return p.FetchByMethod(ctx, article, models.MethodMarketplaceID)
}

// FetchByMethod runs one submit, poll and download cycle. A nil record with a
// nil error means the service found no priced offer.
func (p *Provider) FetchByMethod(ctx context.Context, identifier string, method models.IdentifierMethod) (*models.ProductRecord, error) {
	start := p.now()
	rec, err := p.fetch(ctx, identifier, method)

	e := audit.NewEntry(identifier, models.SourceRemoteTask)
	e.Method = method
	e.Duration = p.now().Sub(start)
	e.RetryCount = max(retry.Attempt(ctx)-1, 0)
	e.Success = err == nil && rec != nil
	e.NotFound = err == nil && rec == nil
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		status := apiErr.StatusCode
		e.HTTPStatus = &status
	}
	audit.Record(ctx, p.sink, e.WithError(err))
	return rec, err
}

func (p *Provider) fetch(ctx context.Context, identifier string, method models.IdentifierMethod) (*models.ProductRecord, error) {
	task, err := p.client.Submit(ctx, identifier, method)
	if err != nil {
		return nil, err
	}
	log.Printf("[remote] submitted task %s for %s=%s", task.Label, method, identifier)

	if err := p.await(ctx, task); err != nil {
		return nil, err
	}

	report, err := p.client.DownloadReport(ctx, task.Reports.JSON)
	if err != nil {
		return nil, err
	}
	rec, err := report.Record(identifier)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		log.Printf("[remote] task %s: no priced offer for %s=%s", task.Label, method, identifier)
		return nil, nil
	}
	rec.Method = method
	return rec, nil
}

// await polls the task until it reaches a terminal status or the overall
// timeout expires.
func (p *Provider) await(ctx context.Context, task *Task) error {
	start := p.now()
	for {
		states, err := p.client.Status(ctx, task.Label)
		if err != nil {
			return err
		}
		task.PolledAt = p.now()
		if st, ok := states[task.Label]; ok {
			task.Status = st.Status
			task.Reports = st.Reports
			switch st.Status {
			case StatusCompleted:
				log.Printf("[remote] task %s completed in %v", task.Label, task.PolledAt.Sub(start).Round(time.Millisecond))
				return nil
			case StatusError:
				return &TaskFailedError{Label: task.Label, Reason: st.Error}
			}
		}

		elapsed := p.now().Sub(start)
		if elapsed >= p.timeout {
			return &TimeoutError{Label: task.Label, Elapsed: elapsed, LastStatus: task.Status}
		}
		wait := min(p.pollInterval, p.timeout-elapsed)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
