// Package remote talks to the external parsing service: tasks are submitted,
// polled by label and their JSON reports downloaded.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PriceWatch/internal/models"
	"PriceWatch/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// APIError is a failed call to the parsing service: a transport error or a
// non-2xx answer.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether the call is worth repeating. Client errors other
// than 408 and 429 are not.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// Balance is the account state of the parsing service.
type Balance struct {
	Amount   decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Client is a thin JSON client for the parsing service API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client from the remote section of the config. timeout
// bounds each HTTP call; zero means 30 seconds.
func NewClient(conf config.RemoteConfig, timeout time.Duration) *Client {
	rps := conf.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(conf.BaseURL, "/"),
		apiKey:     conf.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Balance returns the remaining account balance.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var b Balance
	err := c.do(ctx, "balance", http.MethodGet, c.baseURL+"/api/v1/balance", nil, &b)
	return b, err
}

type submitProduct map[models.IdentifierMethod]string

type submitRequest struct {
	Label    string          `json:"label"`
	Products []submitProduct `json:"products"`
}

// Submit creates a parsing task for one product and returns without waiting
// for it.
func (c *Client) Submit(ctx context.Context, identifier string, method models.IdentifierMethod) (*Task, error) {
	task := &Task{
		Label:       uuid.NewString(),
		Identifier:  identifier,
		Method:      method,
		Status:      StatusWaiting,
		SubmittedAt: time.Now(),
	}
	req := submitRequest{
		Label:    task.Label,
		Products: []submitProduct{{method: identifier}},
	}
	if err := c.do(ctx, "submit", http.MethodPost, c.baseURL+"/api/v1/tasks", req, nil); err != nil {
		return nil, err
	}
	return task, nil
}

// Status returns the state of every task in labels. Unknown labels are
// absent from the result.
func (c *Client) Status(ctx context.Context, labels ...string) (map[string]TaskState, error) {
	q := url.Values{}
	q.Set("labels", strings.Join(labels, ","))
	var batch statusBatch
	if err := c.do(ctx, "status", http.MethodGet, c.baseURL+"/api/v1/tasks?"+q.Encode(), nil, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// DownloadReport fetches and decodes the JSON report of a completed task.
func (c *Client) DownloadReport(ctx context.Context, reportURL string) (Report, error) {
	if reportURL == "" {
		return nil, &APIError{Op: "download report", Err: fmt.Errorf("task has no JSON report")}
	}
	if !strings.HasPrefix(reportURL, "http://") && !strings.HasPrefix(reportURL, "https://") {
		reportURL = c.baseURL + "/" + strings.TrimLeft(reportURL, "/")
	}
	var r Report
	err := c.do(ctx, "download report", http.MethodGet, reportURL, nil, &r)
	return r, err
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("could not create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
