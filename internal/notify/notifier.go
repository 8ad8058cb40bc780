// Package notify delivers outbound JSON payloads with bounded exponential
// backoff. It is used to issue tasks to participant endpoints and, with a
// different URL/payload, to forward accepted submissions to an operator
// evaluation hook. The receiving side never retries; the sender owns the
// retry budget.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultMaxAttempts is 1 initial attempt plus 7 retries; with the default
	// base delay the sleep sequence is 1,2,4,8,16,32,64 seconds.
	DefaultMaxAttempts = 8
	DefaultBaseDelay   = time.Second
	DefaultTimeout     = 30 * time.Second
)

// Attempt records one delivery attempt for the audit trail.
type Attempt struct {
	Number     int       `json:"number"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Outcome is the result of a full delivery sequence.
type Outcome struct {
	Success    bool
	StatusCode int
	Attempts   int
	Trail      []Attempt
	Err        error
}

// Notifier sends JSON payloads to URLs with retry. Safe for concurrent use;
// independent deliveries never serialize on each other.
type Notifier struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures the Notifier during construction.
type Option func(*Notifier)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithMaxAttempts bounds the total number of attempts (initial + retries).
func WithMaxAttempts(max int) Option {
	return func(n *Notifier) {
		if max > 0 {
			n.maxAttempts = max
		}
	}
}

// WithBaseDelay sets the first backoff delay; attempt k sleeps base*2^(k-1).
func WithBaseDelay(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.baseDelay = d
		}
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// New creates a Notifier with the reference retry policy.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver POSTs payload as JSON to url until a 2xx response or the attempt
// budget is exhausted. Every attempt lands in the outcome's audit trail.
// A canceled context aborts the in-flight attempt and any backoff sleep
// without affecting other deliveries.
func (n *Notifier) Deliver(ctx context.Context, url string, payload any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	out := Outcome{}
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		out.Attempts = attempt
		rec := Attempt{Number: attempt, At: time.Now().UTC()}

		status, attemptErr := n.post(ctx, url, body)
		rec.StatusCode = status
		if attemptErr != nil {
			rec.Error = attemptErr.Error()
		}
		out.Trail = append(out.Trail, rec)
		out.StatusCode = status

		if attemptErr == nil && status >= 200 && status < 300 {
			n.logger.Info("delivered", "url", url, "status", status, "attempt", attempt)
			out.Success = true
			out.Err = nil
			return out
		}

		if attemptErr != nil {
			out.Err = attemptErr
			n.logger.Warn("delivery attempt failed", "url", url, "attempt", attempt, "error", attemptErr)
		} else {
			out.Err = fmt.Errorf("unexpected status %d", status)
			n.logger.Warn("delivery attempt failed", "url", url, "attempt", attempt, "status", status)
		}

		if attempt == n.maxAttempts {
			break
		}
		delay := n.baseDelay << (attempt - 1)
		n.logger.Debug("backing off", "url", url, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			out.Err = ctx.Err()
			return out
		}
	}

	n.logger.Error("delivery exhausted", "url", url, "attempts", out.Attempts, "error", out.Err)
	return out
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused across attempts.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
