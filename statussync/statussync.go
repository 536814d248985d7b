// Package statussync is the Status Synchronizer (component E): a
// fire-and-forget callback relay that tells an external orchestrator
// about ingestion status changes without ever blocking or failing the
// ingestion pipeline itself (§4.5). Grounded on the teacher's use of
// bounded worker pools for fan-out work. HTTP delivery runs its own retry
// loop here, with the same full-jitter backoff shape as modelgateway's
// (jitter.go), and does not import modelgateway.
package statussync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Internal status values the synchronizer knows how to translate. These
// mirror store.Status but the package intentionally does not import
// store, to keep the callback boundary decoupled from the metadata
// schema (§4.5 frames E as an external-facing translation layer only).
const (
	StatusParsed        = "parsed"
	StatusSplited       = "splited"
	StatusConvertFailed = "convert_failed"
	StatusParseFailed   = "parse_failed"
	StatusMergeFailed   = "merge_failed"
	StatusChunkFailed   = "chunk_failed"
	StatusSplitFailed   = "split_failed"
)

// externalStatus maps internal status -> external status per §4.5's
// table. Anything absent from this map is filtered out: no callback.
var externalStatus = map[string]string{
	StatusParsed:        "layout_ready",
	StatusSplited:       "fully_processed",
	StatusConvertFailed: "processing_failed",
	StatusParseFailed:   "processing_failed",
	StatusMergeFailed:   "processing_failed",
	StatusChunkFailed:   "processing_failed",
	StatusSplitFailed:   "processing_failed",
}

var failureStatuses = map[string]bool{
	StatusConvertFailed: true,
	StatusParseFailed:   true,
	StatusMergeFailed:   true,
	StatusChunkFailed:   true,
	StatusSplitFailed:   true,
}

// Event is one status-change notification to relay.
type Event struct {
	DocID          string
	InternalStatus string
	RequestID      string
	CallbackURL    string
}

type callbackPayload struct {
	DocID     string `json:"doc_id"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// Synchronizer owns the bounded queue and worker pool. The pipeline must
// never wait on it (§4.5): Enqueue either hands the event to a buffered
// channel or returns immediately having logged sync-skipped.
type Synchronizer struct {
	pool       *ants.Pool
	queue      chan Event
	httpClient *http.Client
	maxRetries int
	done       chan struct{}
}

// New starts a Synchronizer with the given worker concurrency and bounded
// queue depth.
func New(concurrency, queueDepth int, timeout time.Duration, maxRetries int) (*Synchronizer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("statussync: creating worker pool: %w", err)
	}
	s := &Synchronizer{
		pool:       pool,
		queue:      make(chan Event, queueDepth),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		done:       make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Enqueue submits an event for best-effort delivery. Never blocks: a full
// queue is a sync-skipped outcome, logged and discarded.
func (s *Synchronizer) Enqueue(ev Event) {
	ext, ok := externalStatus[ev.InternalStatus]
	if !ok {
		slog.Debug("statussync: sync-skipped, status not externally reportable",
			"doc_id", ev.DocID, "internal_status", ev.InternalStatus)
		return
	}
	if ev.CallbackURL == "" {
		slog.Debug("statussync: sync-skipped, no callback url", "doc_id", ev.DocID)
		return
	}

	select {
	case s.queue <- ev:
	default:
		slog.Warn("statussync: sync-skipped, queue full", "doc_id", ev.DocID, "external_status", ext)
	}
}

func (s *Synchronizer) drain() {
	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			event := ev
			if err := s.pool.Submit(func() { s.deliver(event) }); err != nil {
				slog.Warn("statussync: sync-skipped, worker pool rejected task", "doc_id", event.DocID, "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Synchronizer) deliver(ev Event) {
	ext := externalStatus[ev.InternalStatus]
	payload := callbackPayload{DocID: ev.DocID, Status: ext, RequestID: ev.RequestID}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logFailure(ev, ext, err)
		return
	}

	ctx := context.Background()
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := fullJitterDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				s.logFailure(ev, ext, ctx.Err())
				return
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.CallbackURL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Info("statussync: sync-ok", "doc_id", ev.DocID, "external_status", ext, "request_id", ev.RequestID)
			return
		}
		if !retryableCallbackStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("callback HTTP %d", resp.StatusCode)
			break
		}
		lastErr = fmt.Errorf("callback HTTP %d", resp.StatusCode)
	}

	s.logFailure(ev, ext, lastErr)
}

func (s *Synchronizer) logFailure(ev Event, ext string, err error) {
	attrs := []any{"doc_id", ev.DocID, "external_status", ext, "request_id", ev.RequestID, "error", err}
	if failureStatuses[ev.InternalStatus] {
		// The user-facing failure notification itself failed: elevated
		// severity, per §4.5.
		slog.Error("statussync: sync-failed-for-failure-status", attrs...)
		return
	}
	slog.Warn("statussync: sync-failed", attrs...)
}

func retryableCallbackStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Close stops accepting new work and releases the worker pool. In-flight
// deliveries are allowed to finish; queued-but-undelivered events are
// dropped, consistent with E's best-effort contract.
func (s *Synchronizer) Close() {
	close(s.done)
	s.pool.Release()
}
