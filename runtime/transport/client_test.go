package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fastRetry keeps test runs quick while preserving the three-attempt budget.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// newTestClient wires a client against the given test server with retry
// backoffs collapsed to milliseconds.
func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithAPIKey("test-key"), WithRetryConfig(fastRetry())}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

// countingHandler serves health checks and delegates everything else,
// counting non-health requests.
func countingHandler(count *atomic.Int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		count.Add(1)
		next(w, r)
	}
}

// TestNewValidation verifies that construction fails fast on missing or
// malformed configuration.
func TestNewValidation(t *testing.T) {
	_, err := New("", WithAPIKey("k"))
	require.Error(t, err)

	_, err = New("not a url", WithAPIKey("k"))
	require.Error(t, err)

	_, err = New("https://server.example.com")
	require.Error(t, err, "credential is required")

	c, err := New("https://server.example.com/", WithAPIKey("k"))
	require.NoError(t, err)
	require.Equal(t, "https://server.example.com", c.BaseURL())
}

// TestRetryTransientStatuses verifies that two server errors followed by a
// success yield the successful response after exactly three attempts.
func TestRetryTransientStatuses(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(countingHandler(&calls, func(w http.ResponseWriter, r *http.Request) {
		if calls.Load() < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	var out map[string]string
	found, err := c.GetJSON(context.Background(), "/api/agent/ping", nil, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "ok", out["status"])
	require.Equal(t, int64(3), calls.Load())
}

// TestNotFoundNoRetry verifies that a 404 is reported as absence without
// consuming the retry budget.
func TestNotFoundNoRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(countingHandler(&calls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thing", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	var out map[string]string
	found, err := c.GetJSON(context.Background(), "/api/agent/knowledge/latest", nil, &out)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, int64(1), calls.Load())
}

// TestClientErrorFailsFast verifies that 4xx responses other than 408/429 are
// surfaced immediately with status and body preserved.
func TestClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(countingHandler(&calls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.PostJSON(context.Background(), "/api/agent/secrets", map[string]string{"key": ""}, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Status)
	require.Contains(t, se.Body, "bad input")
	require.Equal(t, int64(1), calls.Load())
}

// TestConflictDetection verifies that 409 responses map to the conflict
// predicate used by the secret vault.
func TestConflictDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "duplicate key", http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.PostJSON(context.Background(), "/api/agent/secrets", map[string]string{"key": "dup"}, nil)
	require.Error(t, err)
	require.True(t, IsConflict(err))
	require.False(t, IsStatus(err, http.StatusNotFound))
}

// TestRetryExhaustion verifies that persistent server errors exhaust the
// budget and surface a ConnectionError naming the URL, attempts and status.
func TestRetryExhaustion(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(countingHandler(&calls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.GetJSON(context.Background(), "/api/agent/settings/flowserver", nil, nil)
	require.Error(t, err)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 3, ce.Attempts)
	require.Equal(t, http.StatusServiceUnavailable, ce.LastStatus)
	require.Contains(t, ce.Body, "still down")
	require.Contains(t, ce.URL, "/api/agent/settings/flowserver")
	require.Equal(t, int64(3), calls.Load())
}

// TestCredentialAndTenantHeaders verifies credential and tenant header
// injection, including tenant-scoped copies.
func TestCredentialAndTenantHeaders(t *testing.T) {
	var (
		auth   string
		cert   string
		tenant string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		auth = r.Header.Get("Authorization")
		cert = r.Header.Get(headerCertificate)
		tenant = r.Header.Get(headerTenant)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("secret"), WithTenant("acme"), WithRetryConfig(fastRetry()))
	require.NoError(t, err)
	_, err = c.GetJSON(context.Background(), "/api/agent/ping", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", auth)
	require.Empty(t, cert)
	require.Equal(t, "acme", tenant)

	_, err = c.Scoped("globex").GetJSON(context.Background(), "/api/agent/ping", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "globex", tenant)
	require.Equal(t, "acme", c.Tenant(), "scoped copy must not mutate the original")

	certClient, err := New(srv.URL, WithCertificate("YmFzZTY0"), WithRetryConfig(fastRetry()))
	require.NoError(t, err)
	_, err = certClient.GetJSON(context.Background(), "/api/agent/ping", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "YmFzZTY0", cert)
	require.Empty(t, auth, "certificate credential must not add a bearer token")
}

// TestHealthCheckCaching verifies that health results are reused within the
// configured interval.
func TestHealthCheckCaching(t *testing.T) {
	var healthCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			healthCalls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHealthCheckInterval(time.Hour))

	for i := 0; i < 5; i++ {
		_, err := c.GetJSON(context.Background(), "/api/agent/ping", nil, nil)
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), healthCalls.Load())
}

// TestHealthCheckRecovery verifies that a failed health check blocks requests
// and that recovery is observed on the next call.
func TestHealthCheckRecovery(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath && !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHealthCheckInterval(time.Hour))

	_, err := c.GetJSON(context.Background(), "/api/agent/ping", nil, nil)
	require.Error(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)

	healthy.Store(true)
	found, err := c.GetJSON(context.Background(), "/api/agent/ping", nil, nil)
	require.NoError(t, err)
	require.True(t, found)
}

// TestGetJSONQueryEncoding verifies that query values reach the server intact.
func TestGetJSONQueryEncoding(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		got = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]string{"name": got.Get("name")})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	q := url.Values{}
	q.Set("name", "greeting prompt")
	q.Set("agent", "Demo Agent")
	var out map[string]string
	found, err := c.GetJSON(context.Background(), "/api/agent/knowledge/latest", q, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "greeting prompt", got.Get("name"))
	require.Equal(t, "Demo Agent", got.Get("agent"))
}

// TestPostJSONBody verifies request body encoding and response decoding.
func TestPostJSONBody(t *testing.T) {
	type payload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var (
		received    payload
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "s-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	var out map[string]string
	found, err := c.PostJSON(context.Background(), "/api/agent/secrets", payload{Key: "api-token", Value: "v"}, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "application/json", contentType)
	require.Equal(t, "api-token", received.Key)
	require.Equal(t, "s-1", out["id"])
}

// TestDeleteNotFound verifies delete absence semantics.
func TestDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	ok, err := c.Delete(context.Background(), "/api/agent/secrets", url.Values{"id": []string{"missing"}})
	require.NoError(t, err)
	require.False(t, ok)
}

// TestContextCancellationStopsRetry verifies that a canceled context aborts
// the retry loop instead of burning the full budget.
func TestContextCancellationStopsRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(countingHandler(&calls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetryConfig(RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetJSON(ctx, "/api/agent/ping", nil, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Less(t, calls.Load(), int64(5))
}
