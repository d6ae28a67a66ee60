package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachememory "github.com/xiansaiplatform/sdk-go/features/cache/memory"
	"github.com/xiansaiplatform/sdk-go/runtime/cache"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

func fastRetry() transport.RetryConfig {
	return transport.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// newService wires a Service against the test server. env supplies the
// environment override fixture.
func newService(t *testing.T, srv *httptest.Server, env map[string]string, withCache bool) *Service {
	t.Helper()
	tc, err := transport.New(srv.URL, transport.WithAPIKey("k"), transport.WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	var c *cache.Cache
	if withCache {
		c = cache.New(cachememory.New(64), cache.DefaultOptions())
	}
	return New(Options{
		Transport: tc,
		Cache:     c,
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	})
}

func settingsHandler(calls *atomic.Int64, s FlowServerSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != flowServerPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(s)
	}
}

// TestFlowServerFetchAndCache verifies the settings are fetched once and
// served from the cache afterwards.
func TestFlowServerFetchAndCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(settingsHandler(&calls, FlowServerSettings{
		FlowServerURL:       "temporal.acme.internal:7233",
		FlowServerNamespace: "agents",
	}))
	defer srv.Close()

	svc := newService(t, srv, nil, true)

	for i := 0; i < 3; i++ {
		got, err := svc.FlowServer(context.Background())
		require.NoError(t, err)
		require.Equal(t, "temporal.acme.internal:7233", got.FlowServerURL)
		require.Equal(t, "agents", got.FlowServerNamespace)
	}
	require.Equal(t, int64(1), calls.Load())
}

// TestFlowServerValidatesResponse verifies empty URL or namespace is a
// configuration error.
func TestFlowServerValidatesResponse(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(settingsHandler(&calls, FlowServerSettings{
		FlowServerURL: "temporal:7233",
	}))
	defer srv.Close()

	svc := newService(t, srv, nil, false)
	_, err := svc.FlowServer(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "namespace")
}

// TestFlowServerMissing verifies a 404 from the server is surfaced as a
// configuration error, not absence.
func TestFlowServerMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == flowServerPath {
			http.Error(w, "not configured", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newService(t, srv, nil, false)
	_, err := svc.FlowServer(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not configured")
}

// TestEnvOverrideSkipsServer verifies that a complete environment override
// never reaches the server.
func TestEnvOverrideSkipsServer(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(settingsHandler(&calls, FlowServerSettings{
		FlowServerURL:       "server-value:7233",
		FlowServerNamespace: "server-ns",
	}))
	defer srv.Close()

	svc := newService(t, srv, map[string]string{
		EnvFlowServerURL:       "env-value:7233",
		EnvFlowServerNamespace: "env-ns",
	}, true)

	got, err := svc.FlowServer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "env-value:7233", got.FlowServerURL)
	require.Equal(t, "env-ns", got.FlowServerNamespace)
	require.Zero(t, calls.Load())
}

// TestEnvOverridePartial verifies a URL-only override still fetches the
// namespace from the server and then applies the override.
func TestEnvOverridePartial(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(settingsHandler(&calls, FlowServerSettings{
		FlowServerURL:       "server-value:7233",
		FlowServerNamespace: "server-ns",
		CertBase64:          "c2VydmVyY2VydA==",
	}))
	defer srv.Close()

	svc := newService(t, srv, map[string]string{
		EnvFlowServerURL: "env-value:7233",
		EnvFlowServerKey: "ZW52a2V5",
	}, false)

	got, err := svc.FlowServer(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())
	require.Equal(t, "env-value:7233", got.FlowServerURL)
	require.Equal(t, "server-ns", got.FlowServerNamespace)
	require.Equal(t, "c2VydmVyY2VydA==", got.CertBase64)
	require.Equal(t, "ZW52a2V5", got.KeyBase64)
}

// TestEnvOverrideInvalidURL verifies malformed overrides fail fast.
func TestEnvOverrideInvalidURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newService(t, srv, map[string]string{
		EnvFlowServerURL: "no-port-here",
	}, false)

	_, err := svc.FlowServer(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), EnvFlowServerURL)
}

// TestValidateFlowServerURL covers the accepted address shapes.
func TestValidateFlowServerURL(t *testing.T) {
	valid := []string{
		"temporal.acme.internal:7233",
		"localhost:7233",
		"grpc://temporal.acme.internal:7233",
		"https://temporal.acme.internal",
		"http://localhost:8080",
	}
	for _, v := range valid {
		require.NoError(t, ValidateFlowServerURL(v), v)
	}

	invalid := []string{
		"temporal.acme.internal",
		":7233",
		"://missing-scheme",
		"http://",
	}
	for _, v := range invalid {
		require.Error(t, ValidateFlowServerURL(v), v)
	}
}
