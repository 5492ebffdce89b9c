// Package fetch performs outbound HTTP requests with per-host concurrency
// caps, retry/backoff and browser-like request headers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 500 * time.Millisecond
)

// ErrRateLimited is wrapped by the StatusError returned once a host keeps
// answering 429 past the retry budget.
var ErrRateLimited = errors.New("rate limited")

// StatusError reports a retryable status that persisted after every attempt.
type StatusError struct {
	StatusCode int
	URL        string
	Attempts   int
	err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
}

func (e *StatusError) Unwrap() error { return e.err }

type Fetcher struct {
	client      *http.Client
	limiter     *HostLimiter
	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

type Option func(*Fetcher)

// WithTransport replaces the HTTP transport. Tests use it to point arbitrary
// hostnames at an httptest server.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.client.Transport = rt }
}

func WithLimiter(l *HostLimiter) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.limiter = l
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

func WithBackoffBase(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.backoffBase = d
		}
	}
}

// WithTimeout bounds connection setup and the wait for response headers.
// Body streaming is not bounded so large downloads can complete.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d <= 0 {
			return
		}
		if t, ok := f.client.Transport.(*http.Transport); ok {
			t.ResponseHeaderTimeout = d
			t.TLSHandshakeTimeout = d
		}
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{Transport: defaultTransport(DefaultTimeout)},
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil {
		f.limiter = NewHostLimiter(DefaultHostLimit, nil)
	}
	if f.logger == nil {
		f.logger = slog.Default().With(slog.String("component", "fetch"))
	}
	return f
}

func defaultTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   DefaultHostLimit,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
}

// Limiter exposes the per-host limiter so callers can observe slot usage.
func (f *Fetcher) Limiter() *HostLimiter { return f.limiter }

func (f *Fetcher) Get(ctx context.Context, rawURL string, headers http.Header) (*http.Response, error) {
	return f.Do(ctx, http.MethodGet, rawURL, headers, f.maxRetries)
}

func (f *Fetcher) Head(ctx context.Context, rawURL string, headers http.Header) (*http.Response, error) {
	return f.Do(ctx, http.MethodHead, rawURL, headers, f.maxRetries)
}

// Do issues the request, retrying 429, 5xx and transport failures up to
// maxRetries times. Other statuses are returned to the caller as-is.
//
// The host slot stays held until the returned body is closed, so callers must
// always close it.
func (f *Fetcher) Do(ctx context.Context, method, rawURL string, headers http.Header, maxRetries int) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		release, err := f.limiter.Acquire(ctx, host)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			release()
			return nil, err
		}
		req.Header = PoliteHeaders(rawURL)
		mergeHeaders(req.Header, headers)

		resp, err := f.client.Do(req)
		if err != nil {
			release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= maxRetries {
				return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
			}
			delay := f.backoff(attempt)
			f.logger.Debug("Retrying after request error", "url", rawURL, "attempt", attempt+1, "delay", delay, "error", err)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			if method == http.MethodHead {
				release()
				return resp, nil
			}
			resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
			return resp, nil
		}

		delay := f.backoff(attempt)
		if resp.StatusCode == http.StatusTooManyRequests {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				delay = d
			}
		}
		drain(resp.Body)
		release()

		if attempt >= maxRetries {
			se := &StatusError{StatusCode: resp.StatusCode, URL: rawURL, Attempts: attempt + 1}
			if resp.StatusCode == http.StatusTooManyRequests {
				se.err = ErrRateLimited
			}
			return nil, se
		}

		f.logger.Debug("Retrying after status", "url", rawURL, "status", resp.StatusCode, "attempt", attempt+1, "delay", delay)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// backoff returns base * 2^attempt plus up to one base of jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := f.backoffBase << attempt
	if f.backoffBase > 0 {
		d += rand.N(f.backoffBase)
	}
	return d
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}

type releaseOnClose struct {
	io.ReadCloser
	release func()
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}
