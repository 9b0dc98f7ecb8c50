package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptDoer answers attempt n (1-based) with script(n).
type scriptDoer struct {
	clock       *fakeClock
	attemptCost time.Duration
	calls       atomic.Int32
	script      func(n int, req *http.Request) (*http.Response, error)
}

func (d *scriptDoer) Do(req *http.Request) (*http.Response, error) {
	n := int(d.calls.Add(1))
	if d.clock != nil && d.attemptCost > 0 {
		d.clock.advance(d.attemptCost)
	}
	return d.script(n, req)
}

func reply(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func alwaysStatus(code int) func(int, *http.Request) (*http.Response, error) {
	return func(int, *http.Request) (*http.Response, error) {
		return reply(code, `{"detail":"unavailable"}`), nil
	}
}

const testURL = "http://backend.local/split"

// =============================================================================
// Tests
// =============================================================================

func TestPost_SuccessFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	doer := &scriptDoer{script: func(int, *http.Request) (*http.Response, error) {
		return reply(http.StatusOK, `{"should_split":false}`), nil
	}}
	r := New(Config{Timeout: 10 * time.Second, WaitInterval: time.Second}, WithClock(clock), WithDoer(doer))

	resp, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{"question": "q"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if resp.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", resp.Attempts)
	}
	if got := clock.slept(); len(got) != 0 {
		t.Errorf("expected no sleep, got %v", got)
	}

	var out struct {
		ShouldSplit bool `json:"should_split"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPost_FailOnceThenSucceed(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	doer := &scriptDoer{script: func(n int, _ *http.Request) (*http.Response, error) {
		if n == 1 {
			return reply(http.StatusBadGateway, "bad gateway"), nil
		}
		return reply(http.StatusOK, `{}`), nil
	}}
	wait := 5 * time.Second
	r := New(Config{Timeout: 300 * time.Second, WaitInterval: wait}, WithClock(clock), WithDoer(doer))

	resp, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", resp.Attempts)
	}

	slept := clock.slept()
	if len(slept) != 1 || slept[0] != wait {
		t.Errorf("expected exactly one sleep of %v, got %v", wait, slept)
	}
	if elapsed := clock.Now().Sub(start); elapsed != wait {
		t.Errorf("expected elapsed %v, got %v", wait, elapsed)
	}
}

func TestPost_AlwaysFailingStopsWithinBudget(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		wait    time.Duration
	}{
		{300 * time.Second, 5 * time.Second},
		{10 * time.Second, 3 * time.Second},
		{9 * time.Second, 3 * time.Second},
		{time.Second, 999 * time.Millisecond},
		{7 * time.Second, 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("T=%v/W=%v", tt.timeout, tt.wait), func(t *testing.T) {
			clock := newFakeClock()
			start := clock.Now()
			doer := &scriptDoer{script: alwaysStatus(http.StatusServiceUnavailable)}
			r := New(Config{Timeout: tt.timeout, WaitInterval: tt.wait}, WithClock(clock), WithDoer(doer))

			_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
			if !errors.Is(err, ErrTimeoutExceeded) {
				t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
			}

			elapsed := clock.Now().Sub(start)
			if elapsed < tt.timeout || elapsed >= tt.timeout+tt.wait {
				t.Errorf("elapsed %v outside [%v, %v)", elapsed, tt.timeout, tt.timeout+tt.wait)
			}

			for _, d := range clock.slept() {
				if d > tt.wait {
					t.Errorf("slept %v, longer than wait interval %v", d, tt.wait)
				}
			}

			var timeoutErr *TimeoutExceededError
			if !errors.As(err, &timeoutErr) {
				t.Fatalf("expected *TimeoutExceededError, got %T", err)
			}
			if timeoutErr.Attempts != int(doer.calls.Load()) {
				t.Errorf("expected %d attempts recorded, got %d", doer.calls.Load(), timeoutErr.Attempts)
			}

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected wrapped *HTTPError, got %v", err)
			}
			if httpErr.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("expected status 503, got %d", httpErr.StatusCode)
			}
		})
	}
}

func TestPost_WaitLongerThanTimeout(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	doer := &scriptDoer{script: alwaysStatus(http.StatusInternalServerError)}
	r := New(Config{Timeout: time.Second, WaitInterval: 5 * time.Second}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
	}

	if elapsed := clock.Now().Sub(start); elapsed != time.Second {
		t.Errorf("expected to give up after 1s, got %v", elapsed)
	}
	if slept := clock.slept(); len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("expected a single clipped sleep of 1s, got %v", slept)
	}
}

func TestPost_SlowAttemptsCountAgainstBudget(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	doer := &scriptDoer{
		clock:       clock,
		attemptCost: 2 * time.Second,
		script:      alwaysStatus(http.StatusGatewayTimeout),
	}
	r := New(Config{Timeout: 5 * time.Second, WaitInterval: time.Second}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
	}

	elapsed := clock.Now().Sub(start)
	if elapsed < 5*time.Second || elapsed > 5*time.Second+doer.attemptCost {
		t.Errorf("elapsed %v exceeds budget by more than one attempt", elapsed)
	}
}

func TestPost_TransportErrorIsRetried(t *testing.T) {
	clock := newFakeClock()
	doer := &scriptDoer{script: func(n int, _ *http.Request) (*http.Response, error) {
		if n < 3 {
			return nil, errors.New("connection refused")
		}
		return reply(http.StatusOK, `{"answer":"42"}`), nil
	}}
	r := New(Config{Timeout: time.Minute, WaitInterval: 2 * time.Second}, WithClock(clock), WithDoer(doer))

	resp, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", resp.Attempts)
	}
	if string(resp.Body) != `{"answer":"42"}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestPost_TransportErrorWrappedOnTimeout(t *testing.T) {
	clock := newFakeClock()
	doer := &scriptDoer{script: func(int, *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	}}
	r := New(Config{Timeout: 3 * time.Second, WaitInterval: time.Second}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected wrapped *TransportError, got %v", err)
	}
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Errorf("expected ErrTimeoutExceeded, got %v", err)
	}
}

func TestPost_RequestOverridesBudget(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	doer := &scriptDoer{script: alwaysStatus(http.StatusInternalServerError)}
	r := New(Config{}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{
		URL:          testURL,
		Payload:      map[string]any{},
		Timeout:      4 * time.Second,
		WaitInterval: 2 * time.Second,
	})
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed != 4*time.Second {
		t.Errorf("expected elapsed 4s, got %v", elapsed)
	}
	if got := doer.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPost_Defaults(t *testing.T) {
	r := New(Config{})
	cfg := r.Config()
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, cfg.Timeout)
	}
	if cfg.WaitInterval != DefaultWaitInterval {
		t.Errorf("expected default wait %v, got %v", DefaultWaitInterval, cfg.WaitInterval)
	}
}

func TestPost_NonRetryableInputErrors(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		payload any
	}{
		{"empty url", "", map[string]any{}},
		{"relative url", "/split", map[string]any{}},
		{"unserializable payload", testURL, map[string]any{"ch": make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &scriptDoer{script: alwaysStatus(http.StatusOK)}
			r := New(Config{}, WithClock(newFakeClock()), WithDoer(doer))

			_, err := r.Post(context.Background(), Request{URL: tt.url, Payload: tt.payload})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrTimeoutExceeded) {
				t.Errorf("input error must not be reported as timeout: %v", err)
			}
			if doer.calls.Load() != 0 {
				t.Errorf("expected no attempts, got %d", doer.calls.Load())
			}
		})
	}
}

func TestPost_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doer := &scriptDoer{script: func(int, *http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	r := New(Config{Timeout: time.Hour, WaitInterval: time.Second}, WithClock(newFakeClock()), WithDoer(doer))

	_, err := r.Post(ctx, Request{URL: testURL, Payload: map[string]any{}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeoutExceeded) {
		t.Errorf("cancellation must not be reported as timeout")
	}
	if doer.calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", doer.calls.Load())
	}
}

func TestPost_SendsJSONOverHTTP(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body["question"] != "what is attention?" {
			t.Errorf("unexpected question %v", body["question"])
		}

		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	r := New(Config{Timeout: 5 * time.Second, WaitInterval: 10 * time.Millisecond})
	resp, err := r.Post(context.Background(), Request{
		URL:     server.URL + "/split",
		Payload: map[string]any{"question": "what is attention?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", resp.Attempts)
	}
}

func TestPost_ConcurrentCallsAreIndependent(t *testing.T) {
	var flakyHits atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if flakyHits.Add(1) <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`"flaky"`))
	}))
	defer flaky.Close()

	steady := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"steady"`))
	}))
	defer steady.Close()

	r := New(Config{Timeout: 5 * time.Second, WaitInterval: 20 * time.Millisecond})

	type result struct {
		body     string
		attempts int
		err      error
	}
	results := make([]result, 2)

	var wg sync.WaitGroup
	for i, url := range []string{flaky.URL, steady.URL} {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			resp, err := r.Post(context.Background(), Request{URL: url + "/ask", Payload: map[string]any{"i": i}})
			if err != nil {
				results[i] = result{err: err}
				return
			}
			results[i] = result{body: string(resp.Body), attempts: resp.Attempts}
		}(i, url)
	}
	wg.Wait()

	if results[0].err != nil || results[0].body != `"flaky"` || results[0].attempts != 3 {
		t.Errorf("flaky endpoint: got %+v", results[0])
	}
	if results[1].err != nil || results[1].body != `"steady"` || results[1].attempts != 1 {
		t.Errorf("steady endpoint: got %+v", results[1])
	}
}

func TestPost_MaxAttemptsReturnsLastError(t *testing.T) {
	clock := newFakeClock()
	doer := &scriptDoer{script: alwaysStatus(http.StatusUnprocessableEntity)}
	r := New(Config{Timeout: time.Minute, WaitInterval: time.Second}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}, MaxAttempts: 1})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected the 422 to be returned directly, got %v", err)
	}
	if errors.Is(err, ErrTimeoutExceeded) {
		t.Error("an attempt cap must not report a spent budget")
	}
	if n := doer.calls.Load(); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
	if slept := clock.slept(); len(slept) != 0 {
		t.Errorf("expected no sleep, got %v", slept)
	}
}

func TestPost_ResponseTooLarge(t *testing.T) {
	clock := newFakeClock()
	doer := &scriptDoer{script: func(int, *http.Request) (*http.Response, error) {
		return reply(http.StatusOK, `{"answer":"0123456789"}`), nil
	}}
	r := New(Config{Timeout: time.Minute, WaitInterval: time.Second, MaxBodyBytes: 8}, WithClock(clock), WithDoer(doer))

	_, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
	if n := doer.calls.Load(); n != 1 {
		t.Errorf("oversized body must not be retried, got %d attempts", n)
	}
}

func TestPost_BodyAtLimitIsAccepted(t *testing.T) {
	doer := &scriptDoer{script: func(int, *http.Request) (*http.Response, error) {
		return reply(http.StatusOK, `"abcdef"`), nil
	}}
	r := New(Config{MaxBodyBytes: 8}, WithClock(newFakeClock()), WithDoer(doer))

	resp, err := r.Post(context.Background(), Request{URL: testURL, Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != `"abcdef"` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}
