// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chinachu is the HTTP client for the Chinachu PVR REST API.
package chinachu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/harekaze/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Client talks to a single Chinachu server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	// streamClient has no overall timeout; media bodies can take hours.
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	username     string
	password     string
	userAgent    string
	rnd          *rand.Rand
	mu           sync.Mutex
}

// Options configures the client. The zero value is usable except for BaseURL.
type Options struct {
	BaseURL               string
	Username              string
	Password              string
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	MaxRetries            int
	Backoff               time.Duration
	MaxBackoff            time.Duration
	RateLimit             rate.Limit
	RateLimitBurst        int
	UserAgent             string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

const (
	defaultTimeout        = 10 * time.Second
	defaultHeaderTimeout  = 15 * time.Second
	defaultRetries        = 2
	defaultBackoff        = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
	defaultUserAgent      = "harekaze"
)

// New validates the base URL and builds a client. Credentials embedded in the
// URL are used when Username is empty.
func New(opts Options) (*Client, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, requestError("new client", err)
	}
	if base.User != nil && opts.Username == "" {
		opts.Username = base.User.Username()
		if pass, ok := base.User.Password(); ok {
			opts.Password = pass
		}
	}
	base.User = nil

	nopts := normalizeOptions(opts)
	transport := nopts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: nopts.ResponseHeaderTimeout,
			TLSHandshakeTimeout:   5 * time.Second,
		}
	}

	return &Client{
		baseURL:      base,
		httpClient:   &http.Client{Timeout: nopts.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
		limiter:      rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		maxRetries:   nopts.MaxRetries,
		backoff:      nopts.Backoff,
		maxBackoff:   nopts.MaxBackoff,
		username:     nopts.Username,
		password:     nopts.Password,
		userAgent:    nopts.UserAgent,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}, nil
}

// parseBaseURL accepts "host:port", "http://host:port" and ".../api" forms and
// returns the URL of the API root with a trailing slash.
func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("base URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("base URL has no host")
	}
	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, "/api")
	u.Path = p + "/api/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaultHeaderTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	return opts
}

// BaseURL returns the API root without credentials.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolve joins an already escaped relative path onto the API root.
func (c *Client) resolve(path string, params url.Values) string {
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + strings.TrimLeft(path, "/")
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path = u.RawPath
		u.RawPath = ""
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

type call struct {
	operation string
	method    string
	path      string
	params    url.Values
	retry     bool
	stream    bool
}

// getJSON performs an idempotent GET and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, operation, path string, params url.Values, v any) error {
	resp, err := c.do(ctx, call{operation: operation, method: http.MethodGet, path: path, params: params, retry: true})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return decodeError(operation, err)
	}
	return nil
}

// mutate issues a non-idempotent request and discards the body.
func (c *Client) mutate(ctx context.Context, operation, method, path string) error {
	resp, err := c.do(ctx, call{operation: operation, method: method, path: path})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do executes the request and returns a 2xx response. Everything else is
// turned into an error from the package taxonomy.
func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	rawURL := c.resolve(cl.path, cl.params)
	route := "/api/" + strings.TrimLeft(cl.path, "/")
	urlLabel := route
	if len(cl.params) > 0 {
		urlLabel += "?"
	}

	tracer := telemetry.Tracer("harekaze.chinachu")
	ctx, span := tracer.Start(ctx, "harekaze.chinachu."+cl.operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.HTTPMethodKey, cl.method),
		attribute.String(telemetry.HTTPRouteKey, route),
	)

	hc := c.httpClient
	if cl.stream {
		hc = c.streamClient
	}

	maxAttempts := 1
	if cl.retry {
		maxAttempts = c.maxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				err = connectionError(cl.operation, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, cl.method, rawURL, nil)
		if err != nil {
			err = requestError(cl.operation, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		c.applyHeaders(req, cl.stream)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		start := time.Now()
		resp, err := hc.Do(req)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		retry := attempt < maxAttempts && shouldRetry(resp, err) && ctx.Err() == nil
		recordAttemptMetrics(cl.method, cl.operation, status, duration, err, retry)

		if err == nil && status >= 200 && status < 300 {
			span.SetAttributes(telemetry.HTTPAttributes(cl.method, route, urlLabel, status)...)
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			lastErr = connectionError(cl.operation, err)
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = newResponseError(cl.operation, status, body)
			span.SetAttributes(telemetry.HTTPAttributes(cl.method, route, urlLabel, status)...)
		}

		if !retry {
			break
		}
		if err := sleepWithContext(ctx, c.backoffFor(attempt-1)); err != nil {
			lastErr = connectionError(cl.operation, err)
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (c *Client) applyHeaders(req *http.Request, stream bool) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if !stream {
		req.Header.Set("Accept", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
