// ABOUTME: Outbound provider HTTP client with bounded exponential-backoff retry
// ABOUTME: Posts JSON payloads to the text or email delivery endpoint

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/threadworks/relay-gateway/internal/channel"
)

// ErrUnreachable is returned when the provider cannot be reached at the
// transport level. Unlike an HTTP error status, this is not retried.
var ErrUnreachable = errors.New("provider unreachable")

// StatusError is a non-success provider response. After the retry budget is
// exhausted, the last StatusError is surfaced to the caller.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Payload is the provider-shaped outbound body. Type is set for text
// messages only; email payloads omit it.
type Payload struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Body       string   `json:"body"`
	Attachment []string `json:"attachment"`
	Type       string   `json:"type,omitempty"`
}

// Response is a successful provider reply.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Config holds delivery endpoints and retry policy.
type Config struct {
	TextEndpoint  string
	EmailEndpoint string
	Timeout       time.Duration // per-attempt HTTP timeout
	MaxAttempts   int           // 0 means the default of 3
	BackoffBase   time.Duration // 0 means the default of 250ms
}

// Deliverer posts payloads to the delivery provider for a channel,
// retrying HTTP error statuses up to the attempt budget with waits of
// backoffBase * 2^n after the nth failure (0.5s, 1.0s at the defaults).
type Deliverer struct {
	textEndpoint  string
	emailEndpoint string
	client        *http.Client
	maxAttempts   int
	backoffBase   time.Duration
	sleep         func(time.Duration)
	logger        *slog.Logger
}

// New creates a Deliverer from the given config.
func New(cfg Config, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Deliverer{
		textEndpoint:  cfg.TextEndpoint,
		emailEndpoint: cfg.EmailEndpoint,
		client:        &http.Client{Timeout: cfg.Timeout},
		maxAttempts:   cfg.MaxAttempts,
		backoffBase:   cfg.BackoffBase,
		sleep:         time.Sleep,
		logger:        logger.With("component", "delivery"),
	}
}

// Endpoint returns the provider endpoint serving the given channel.
func (d *Deliverer) Endpoint(ch channel.Type) string {
	if ch == channel.TypeText {
		return d.textEndpoint
	}
	return d.emailEndpoint
}

// Deliver posts the payload to the channel's provider. An HTTP error status
// counts as a failed attempt and is retried after an escalating wait; a
// transport failure aborts immediately with ErrUnreachable. On exhaustion
// the last StatusError is returned.
func (d *Deliverer) Deliver(ctx context.Context, ch channel.Type, payload *Payload) (*Response, error) {
	endpoint := d.Endpoint(ch)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	var last *StatusError
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			// Failure n waits backoffBase * 2^n before the next attempt
			wait := d.backoffBase * (1 << (attempt - 1))
			d.logger.Debug("retrying delivery",
				"attempt", attempt,
				"wait", wait,
				"endpoint", endpoint)
			d.sleep(wait)
		}

		resp, err := d.post(ctx, endpoint, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			d.logger.Debug("delivered",
				"endpoint", endpoint,
				"attempt", attempt)
			return resp, nil
		}

		last = &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
		d.logger.Warn("delivery attempt failed",
			"attempt", attempt,
			"status", resp.StatusCode,
			"endpoint", endpoint)
	}

	return nil, last
}

// post issues a single delivery call. Only a failure from the HTTP client
// itself classifies as ErrUnreachable; local errors stay unwrapped.
func (d *Deliverer) post(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}, nil
}
