// Package requester implements an outbound JSON POST that retries on any
// failure at a constant interval until it succeeds or a time budget elapses.
//
// Transport failures and non-2xx responses are treated alike. Callers only
// ever see the final outcome: the response, or a *TimeoutExceededError
// wrapping the last attempt's cause. A request with MaxAttempts set gets the
// last attempt's error instead once its attempts run out.
package requester

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/squai/internal/metrics"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultWaitInterval = 5 * time.Second

	defaultMaxBodyBytes = 16 << 20
	maxErrorBodyExcerpt = 512
)

// Config controls retry timing. Zero values fall back to the defaults.
type Config struct {
	// Timeout is the total wall-clock budget across all attempts.
	Timeout time.Duration `yaml:"timeout"`
	// WaitInterval is the constant delay between attempts.
	WaitInterval time.Duration `yaml:"wait_interval"`
	// AttemptTimeout bounds a single attempt. 0 = no per-attempt limit.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one logical call. Timeout and WaitInterval override the
// requester's configuration when positive. MaxAttempts > 0 additionally caps
// the number of attempts; the last attempt's error is then returned as is.
type Request struct {
	URL          string
	Payload      any
	Timeout      time.Duration
	WaitInterval time.Duration
	MaxAttempts  int
}

// Response is a successful (2xx) reply with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Requester issues retried POST requests. It holds no per-call state and is
// safe for concurrent use.
type Requester struct {
	cfg   Config
	doer  Doer
	clock Clock
	log   *slog.Logger
}

// Option customizes a Requester.
type Option func(*Requester)

// WithDoer replaces the HTTP client.
func WithDoer(d Doer) Option {
	return func(r *Requester) { r.doer = d }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Requester) { r.clock = c }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Requester) { r.log = l }
}

// New creates a Requester.
func New(cfg Config, opts ...Option) *Requester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = DefaultWaitInterval
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	r := &Requester{
		cfg:   cfg,
		clock: SystemClock{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.doer == nil {
		r.doer = &http.Client{
			Timeout: cfg.AttemptTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	r.log = r.log.With("component", "requester")

	return r
}

// Config returns the effective configuration.
func (r *Requester) Config() Config {
	return r.cfg
}

// Post sends req.Payload as JSON to req.URL, retrying every wait interval
// until a 2xx response arrives or the timeout is spent. A 2xx body over
// MaxBodyBytes fails at once with ErrResponseTooLarge.
//
// A failed attempt is checked against the budget before sleeping, and the
// sleep is clipped to what remains of the budget, so one last attempt is
// made at the deadline and the call returns within one attempt duration
// past the timeout.
func (r *Requester) Post(ctx context.Context, req Request) (*Response, error) {
	target, err := url.ParseRequestURI(req.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	timeout := r.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	wait := r.cfg.WaitInterval
	if req.WaitInterval > 0 {
		wait = req.WaitInterval
	}

	endpoint := target.Path
	if endpoint == "" {
		endpoint = "/"
	}

	start := r.clock.Now()
	defer func() {
		metrics.RequestLatency.WithLabelValues(endpoint).Observe(r.clock.Now().Sub(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		resp, err := r.attempt(ctx, req.URL, body)
		if err == nil {
			metrics.RequestAttempts.WithLabelValues(endpoint, "success").Inc()
			resp.Attempts = attempt
			if attempt > 1 {
				r.log.Info("Request succeeded after retry", "url", req.URL, "attempts", attempt)
			}
			return resp, nil
		}

		metrics.RequestAttempts.WithLabelValues(endpoint, "failure").Inc()
		metrics.RequestErrors.WithLabelValues(endpoint, errorType(err)).Inc()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("request to %s canceled after %d attempts: %w", req.URL, attempt, ctxErr)
		}
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		if req.MaxAttempts > 0 && attempt >= req.MaxAttempts {
			r.log.Warn("Request failed, no attempts left",
				"url", req.URL,
				"attempts", attempt,
				"error", err,
			)
			return nil, err
		}

		elapsed := r.clock.Now().Sub(start)
		if elapsed >= timeout {
			metrics.RequestTimeouts.WithLabelValues(endpoint).Inc()
			r.log.Error("Giving up on request",
				"url", req.URL,
				"attempts", attempt,
				"elapsed", elapsed,
				"timeout", timeout,
				"error", err,
			)
			return nil, &TimeoutExceededError{
				URL:      req.URL,
				Timeout:  timeout,
				Elapsed:  elapsed,
				Attempts: attempt,
				Err:      err,
			}
		}

		delay := min(wait, timeout-elapsed)
		r.log.Warn("Request failed, retrying",
			"url", req.URL,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		if err := r.clock.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("request to %s canceled after %d attempts: %w", req.URL, attempt, err)
		}
	}
}

// attempt performs exactly one request/response cycle.
func (r *Requester) attempt(ctx context.Context, target string, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.doer.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("read response: %w", err)}
	}
	tooLarge := int64(len(data)) > r.cfg.MaxBodyBytes

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       excerpt(data),
		}
	}
	if tooLarge {
		return nil, fmt.Errorf("%w: %s sent more than %d bytes", ErrResponseTooLarge, target, r.cfg.MaxBodyBytes)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func errorType(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	}
	if errors.Is(err, ErrResponseTooLarge) {
		return "too_large"
	}
	return "transport"
}

func excerpt(data []byte) string {
	s := string(bytes.TrimSpace(data))
	if len(s) > maxErrorBodyExcerpt {
		return s[:maxErrorBodyExcerpt] + "..."
	}
	return s
}
