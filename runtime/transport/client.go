// Package transport implements the authenticated HTTP client used by every
// SDK subsystem that talks to the agent server. It layers credential headers,
// tenant scoping, bounded connection pooling, health checking and retry with
// exponential backoff on top of net/http.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

const (
	// headerTenant carries the tenant scope of the caller.
	headerTenant = "TenantId"
	// headerCertificate carries a base64 agent certificate credential.
	headerCertificate = "X-Agent-Certificate"

	healthPath = "/health"

	defaultTimeout             = 30 * time.Second
	defaultHealthCheckInterval = time.Minute
	defaultPoolLifetime        = 15 * time.Minute
	maxIdleConnsPerHost        = 10
	maxErrorBody               = 8 << 10
)

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client is an authenticated HTTP client for the agent server. All SDK
	// subsystems share one Client per platform; it is safe for concurrent use.
	Client struct {
		baseURL        string
		apiKey         string
		certificate    string
		tenantID       string
		headers        http.Header
		timeout        time.Duration
		retry          RetryConfig
		limiter        *rate.Limiter
		healthInterval time.Duration
		poolLifetime   time.Duration
		logger         telemetry.Logger
		metrics        telemetry.Metrics

		conn *conn
	}

	// conn holds the pooled HTTP client together with its health state. It is
	// shared between tenant-scoped copies of a Client.
	conn struct {
		mu        sync.Mutex
		http      *http.Client
		custom    bool
		createdAt time.Time
		lastCheck time.Time
		healthy   bool
	}

	// RequestFactory builds a fresh *http.Request for a retry attempt. Bodies
	// must not be shared across attempts, hence the factory indirection.
	RequestFactory func(ctx context.Context) (*http.Request, error)
)

// WithAPIKey configures an opaque API key sent as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithCertificate configures a base64 agent certificate credential.
func WithCertificate(cert string) Option {
	return func(c *Client) {
		c.certificate = cert
	}
}

// WithTenant sets the tenant scope sent with every request.
func WithTenant(tenant string) Option {
	return func(c *Client) {
		c.tenantID = tenant
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(http.Header)
		}
		c.headers.Add(name, value)
	}
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
// The override disables pooled-client recreation; health checks still run.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.conn.http = hc
		c.conn.custom = true
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHealthCheckInterval sets how long a health check result is trusted.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.healthInterval = d
		}
	}
}

// WithRetryConfig overrides the retry budget and backoff schedule.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithRateLimit applies a client-side request rate limit. Callers block until
// the limiter grants capacity. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry and health reporting.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for request instrumentation.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New constructs a Client for the given agent server base URL. Exactly one
// credential option (WithAPIKey or WithCertificate) must be supplied.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("transport: server URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid server URL %q", baseURL)
	}

	c := &Client{
		baseURL:        baseURL,
		timeout:        defaultTimeout,
		retry:          DefaultRetryConfig(),
		healthInterval: defaultHealthCheckInterval,
		poolLifetime:   defaultPoolLifetime,
		logger:         telemetry.NewNoopLogger(),
		metrics:        telemetry.NewNoopMetrics(),
		conn:           &conn{healthy: true},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.apiKey == "" && c.certificate == "" {
		return nil, errors.New("transport: an API key or agent certificate is required")
	}
	if c.conn.http == nil {
		c.conn.http = c.newPooledClient()
		c.conn.createdAt = time.Now()
	}
	return c, nil
}

// Scoped returns a copy of the client that sends the given TenantId header.
// The copy shares the pooled connection and health state of the receiver.
func (c *Client) Scoped(tenant string) *Client {
	cp := *c
	cp.tenantID = tenant
	return &cp
}

// BaseURL returns the configured agent server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tenant returns the tenant scope of this client, if any.
func (c *Client) Tenant() string {
	return c.tenantID
}

// GetHealthyClient returns the pooled HTTP client after verifying server
// health. Results are trusted for the configured interval; a failed check
// forces recreation of the pooled client before the next probe. Pooled
// clients are also rotated after the pool lifetime elapses.
func (c *Client) GetHealthyClient(ctx context.Context) (*http.Client, error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()

	now := time.Now()
	if !c.conn.custom && now.Sub(c.conn.createdAt) > c.poolLifetime {
		c.conn.http = c.newPooledClient()
		c.conn.createdAt = now
		c.conn.lastCheck = time.Time{}
	}
	if c.conn.healthy && now.Sub(c.conn.lastCheck) < c.healthInterval {
		return c.conn.http, nil
	}
	if !c.conn.healthy && !c.conn.custom {
		c.conn.http = c.newPooledClient()
		c.conn.createdAt = now
	}

	err := c.checkHealth(ctx, c.conn.http)
	c.conn.lastCheck = time.Now()
	if err != nil {
		c.conn.healthy = false
		c.logger.Warn(ctx, "server health check failed", "url", c.baseURL, "err", err)
		return nil, err
	}
	c.conn.healthy = true
	return c.conn.http, nil
}

// checkHealth probes the server health endpoint once, without retry.
func (c *Client) checkHealth(ctx context.Context, hc *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u := c.baseURL + healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := hc.Do(req)
	if err != nil {
		return &ConnectionError{URL: u, Attempts: 1, Err: err}
	}
	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ConnectionError{URL: u, Attempts: 1, LastStatus: resp.StatusCode, Body: body}
	}
	return nil
}

// ExecuteWithRetry runs the request built by factory, retrying transient
// failures (network errors, timeouts, 408/429/5xx) with exponential backoff
// until the retry budget is exhausted. Other 4xx statuses fail fast with a
// StatusError. On success the response is returned with its body unread;
// callers own closing it.
func (c *Client) ExecuteWithRetry(ctx context.Context, factory RequestFactory) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	cfg := c.retry
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var (
		lastErr    error
		lastStatus int
		lastBody   string
		reqURL     = c.baseURL
		method     = ""
	)
	start := time.Now()
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := backoffFor(cfg, attempt-1)
			c.logger.Debug(ctx, "retrying request", "url", reqURL, "attempt", attempt, "backoff", backoff.String())
			c.metrics.IncCounter("xians.http.retries", 1, "method", method)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		hc, err := c.GetHealthyClient(ctx)
		if err != nil {
			lastErr, lastStatus, lastBody = err, 0, ""
			continue
		}
		req, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		reqURL, method = req.URL.String(), req.Method
		c.decorate(req)

		resp, err := hc.Do(req)
		if err != nil {
			if !isRetryableError(err) {
				return nil, err
			}
			lastErr, lastStatus, lastBody = err, 0, ""
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.metrics.RecordTimer("xians.http.request", time.Since(start), "method", method, "status", strconv.Itoa(resp.StatusCode))
			return resp, nil
		}
		body := readBody(resp)
		if !isRetryableStatus(resp.StatusCode) {
			return nil, &StatusError{Status: resp.StatusCode, URL: reqURL, Body: body}
		}
		lastErr, lastStatus, lastBody = nil, resp.StatusCode, body
	}

	c.metrics.IncCounter("xians.http.exhausted", 1, "method", method)
	connErr := &ConnectionError{URL: reqURL, Attempts: cfg.MaxAttempts, LastStatus: lastStatus, Body: lastBody, Err: lastErr}
	c.logger.Error(ctx, "request retries exhausted", "url", reqURL, "attempts", cfg.MaxAttempts, "status", lastStatus)
	return nil, connErr
}

// GetJSON issues a GET against path and decodes the JSON response into out.
// It returns (false, nil) when the server responds 404.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) (bool, error) {
	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	}
	return c.doJSON(ctx, factory, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response into
// out. It returns (false, nil) when the server responds 404. A nil body sends
// an empty request.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) (bool, error) {
	return c.sendJSON(ctx, http.MethodPost, path, nil, body, out)
}

// PutJSON issues a PUT with a JSON body, mirroring PostJSON semantics.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) (bool, error) {
	return c.sendJSON(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE against path. It returns true when the server
// acknowledged the deletion and (false, nil) on 404.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) (bool, error) {
	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(path, query), nil)
	}
	return c.doJSON(ctx, factory, nil)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
	}
	factory := func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
	return c.doJSON(ctx, factory, out)
}

func (c *Client) doJSON(ctx context.Context, factory RequestFactory, out any) (bool, error) {
	resp, err := c.ExecuteWithRetry(ctx, factory)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil // empty body
		}
		return true, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

// decorate applies credential, tenant and static headers to a request.
func (c *Client) decorate(req *http.Request) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.certificate != "" {
		req.Header.Set(headerCertificate, c.certificate)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set(headerTenant, c.tenantID)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newPooledClient() *http.Client {
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: c.timeout, Transport: t}
}

// readBody drains and closes the response body, returning at most
// maxErrorBody bytes for diagnostics.
func readBody(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
