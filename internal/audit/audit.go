// Package audit records one entry per acquisition attempt. Recording is
// best effort: a failing sink is logged and never fails the fetch.
package audit

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"PriceWatch/internal/models"

	"github.com/google/uuid"
)

// Entry is a single request log line.
type Entry struct {
	RequestID  string
	Article    string
	Success    bool
	NotFound   bool
	HTTPStatus *int
	Duration   time.Duration
	RetryCount int
	CacheHit   bool
	Source     models.Source
	Method     models.IdentifierMethod
	Error      string
	Trace      string
	CreatedAt  time.Time
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// NewEntry starts an entry with a fresh request id.
func NewEntry(article string, source models.Source) Entry {
	return Entry{
		RequestID: uuid.NewString(),
		Article:   article,
		Source:    source,
		CreatedAt: time.Now(),
	}
}

// WithError fills Error and Trace from err. Trace lists every wrapped layer,
// outermost first.
func (e Entry) WithError(err error) Entry {
	if err == nil {
		return e
	}
	e.Error = err.Error()
	var layers []string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		layers = append(layers, cur.Error())
	}
	if len(layers) > 1 {
		e.Trace = strings.Join(layers, "\n  caused by: ")
	}
	return e
}

// Record writes e to sink and swallows any failure, including panics from a
// misbehaving sink.
func Record(ctx context.Context, sink Sink, e Entry) {
	if sink == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[audit] sink panicked for request %s: %v", e.RequestID, r)
		}
	}()
	if err := sink.Write(ctx, e); err != nil {
		log.Printf("[audit] failed to write request %s for article %s: %v", e.RequestID, e.Article, err)
	}
}

// LogSink writes entries to the standard logger.
type LogSink struct{}

func (LogSink) Write(_ context.Context, e Entry) error {
	status := "-"
	if e.HTTPStatus != nil {
		status = strconv.Itoa(*e.HTTPStatus)
	}
	log.Printf("[audit] req=%s article=%s success=%v not_found=%v status=%s duration=%v retries=%d cache_hit=%v source=%s method=%s err=%q",
		e.RequestID, e.Article, e.Success, e.NotFound, status, e.Duration.Round(time.Millisecond),
		e.RetryCount, e.CacheHit, e.Source, e.Method, e.Error)
	return nil
}

// MultiSink fans an entry out to several sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
