package modelgateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/kbrag/kberrors"
)

// endpointClient is the shared HTTP base for embed/rerank/generate calls,
// generalized from the teacher's openAICompatClient (llm/openai_compat.go):
// same retry-with-backoff loop and Retry-After handling, but backoff uses
// full jitter (§4.4: "exponential backoff and full jitter") instead of the
// teacher's fixed doubling delay, and failures are classified into the
// spec's Transient/Permanent/OverlongInput taxonomy instead of being
// returned as opaque errors.
type endpointClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func newEndpointClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) *endpointClient {
	return &endpointClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

const baseRetryDelay = 1 * time.Second

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// classifyStatus maps an HTTP status to the spec's failure classes.
func classifyStatus(code int) *kberrors.CodedError {
	if retryableStatusCode(code) || (code >= 500 && code <= 599) {
		return kberrors.ErrTransientBackend
	}
	if code == http.StatusRequestEntityTooLarge {
		return kberrors.ErrOverlongInput
	}
	return kberrors.ErrPermanentBackend
}

func (c *endpointClient) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := fullJitterDelay(attempt)
			slog.Warn("modelgateway: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = kberrors.Wrap(kberrors.ErrTransientBackend, fmt.Errorf("request to %s: %w", url, err))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = kberrors.Wrap(kberrors.ErrTransientBackend, fmt.Errorf("reading response body: %w", err))
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		class := classifyStatus(resp.StatusCode)
		lastErr = kberrors.Wrap(class, fmt.Errorf("model gateway HTTP %d: %s", resp.StatusCode, string(respBody)))

		if class == kberrors.ErrOverlongInput || class == kberrors.ErrPermanentBackend {
			return nil, lastErr // not retried (§4.4)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
			}
		}
	}

	// Retry budget exhausted: escalate to Permanent for the caller, per
	// §7 ("if budget exhausted, escalated to Permanent for the caller").
	return nil, kberrors.Wrap(kberrors.ErrPermanentBackend, lastErr)
}

// fullJitterDelay implements AWS-style "full jitter": a uniformly random
// delay in [0, cap] where cap grows exponentially with attempt (§4.4).
func fullJitterDelay(attempt int) time.Duration {
	cap := baseRetryDelay * time.Duration(math.Pow(2, float64(attempt)))
	if cap > 60*time.Second {
		cap = 60 * time.Second
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return cap / 2
	}
	n := binary.BigEndian.Uint64(buf[:])
	frac := float64(n) / float64(math.MaxUint64)
	return time.Duration(frac * float64(cap))
}
