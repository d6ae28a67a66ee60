// Package settings fetches flow-engine connection parameters from the agent
// server and derives the caller identity from the configured API credential.
package settings

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/xiansaiplatform/sdk-go/runtime/cache"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	flowServerPath = "/api/agent/settings/flowserver"

	// EnvFlowServerURL overrides the flow-server URL returned by the server.
	EnvFlowServerURL = "TEMPORAL_SERVER_URL"
	// EnvFlowServerNamespace overrides the flow-server namespace.
	EnvFlowServerNamespace = "TEMPORAL_NAMESPACE"
	// EnvFlowServerCert overrides the base64 client certificate for mTLS.
	EnvFlowServerCert = "TEMPORAL_CERT_BASE64"
	// EnvFlowServerKey overrides the base64 client key for mTLS.
	EnvFlowServerKey = "TEMPORAL_KEY_BASE64"
)

type (
	// FlowServerSettings carries the connection parameters for the durable
	// workflow engine. CertBase64/KeyBase64 are set when the engine requires
	// mutual TLS.
	FlowServerSettings struct {
		// FlowServerURL is the engine endpoint, either host:port or a URL.
		FlowServerURL string `json:"flowServerUrl"`
		// FlowServerNamespace is the engine namespace agents execute in.
		FlowServerNamespace string `json:"flowServerNamespace"`
		// CertBase64 is an optional base64 PEM client certificate.
		CertBase64 string `json:"certBase64,omitempty"`
		// KeyBase64 is an optional base64 PEM client key.
		KeyBase64 string `json:"keyBase64,omitempty"`
	}

	// Options configures a Service.
	Options struct {
		// Transport is the authenticated server client. Required.
		Transport *transport.Client
		// Cache holds fetched settings under the settings aspect. Optional.
		Cache *cache.Cache
		// Logger reports fetches and overrides. Optional.
		Logger telemetry.Logger
		// LookupEnv resolves environment overrides. Defaults to os.LookupEnv;
		// injectable for tests.
		LookupEnv func(string) (string, bool)
	}

	// Service resolves flow-server settings with caching and environment
	// overrides, and parses certificate credentials into identities.
	Service struct {
		transport *transport.Client
		cache     *cache.Cache
		logger    telemetry.Logger
		lookupEnv func(string) (string, bool)

		mu         sync.Mutex
		identities map[string]Identity
	}
)

// New constructs a settings Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Service{
		transport:  opts.Transport,
		cache:      opts.Cache,
		logger:     logger,
		lookupEnv:  lookup,
		identities: make(map[string]Identity),
	}
}

// FlowServer resolves the engine connection parameters. Environment overrides
// win over server values; server responses are cached under the settings
// aspect. Both the URL and the namespace must resolve non-empty.
func (s *Service) FlowServer(ctx context.Context) (*FlowServerSettings, error) {
	override, err := s.envOverride()
	if err != nil {
		return nil, err
	}
	if override.FlowServerURL != "" && override.FlowServerNamespace != "" {
		s.logger.Debug(ctx, "flow server resolved from environment", "url", override.FlowServerURL, "namespace", override.FlowServerNamespace)
		return override, nil
	}

	fetched, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	merged := *fetched
	if override.FlowServerURL != "" {
		merged.FlowServerURL = override.FlowServerURL
	}
	if override.FlowServerNamespace != "" {
		merged.FlowServerNamespace = override.FlowServerNamespace
	}
	if override.CertBase64 != "" {
		merged.CertBase64 = override.CertBase64
	}
	if override.KeyBase64 != "" {
		merged.KeyBase64 = override.KeyBase64
	}
	return &merged, nil
}

// fetch loads settings from cache or the server and validates them.
func (s *Service) fetch(ctx context.Context) (*FlowServerSettings, error) {
	const key = "flowserver"

	var cached FlowServerSettings
	if s.cache.GetJSON(ctx, cache.AspectSettings, key, &cached) {
		return &cached, nil
	}

	var fetched FlowServerSettings
	found, err := s.transport.GetJSON(ctx, flowServerPath, nil, &fetched)
	if err != nil {
		return nil, fmt.Errorf("settings: fetch flow server settings: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("settings: flow server settings not configured on %s", s.transport.BaseURL())
	}
	if strings.TrimSpace(fetched.FlowServerURL) == "" {
		return nil, fmt.Errorf("settings: server returned empty flow server URL")
	}
	if strings.TrimSpace(fetched.FlowServerNamespace) == "" {
		return nil, fmt.Errorf("settings: server returned empty flow server namespace")
	}

	s.cache.SetJSON(ctx, cache.AspectSettings, key, &fetched)
	s.logger.Info(ctx, "flow server settings fetched", "url", fetched.FlowServerURL, "namespace", fetched.FlowServerNamespace)
	return &fetched, nil
}

// envOverride assembles the environment-provided settings fragment.
func (s *Service) envOverride() (*FlowServerSettings, error) {
	var o FlowServerSettings
	if v, ok := s.lookupEnv(EnvFlowServerURL); ok && strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		if err := ValidateFlowServerURL(v); err != nil {
			return nil, fmt.Errorf("settings: invalid %s: %w", EnvFlowServerURL, err)
		}
		o.FlowServerURL = v
	}
	if v, ok := s.lookupEnv(EnvFlowServerNamespace); ok && strings.TrimSpace(v) != "" {
		o.FlowServerNamespace = strings.TrimSpace(v)
	}
	if v, ok := s.lookupEnv(EnvFlowServerCert); ok && strings.TrimSpace(v) != "" {
		o.CertBase64 = strings.TrimSpace(v)
	}
	if v, ok := s.lookupEnv(EnvFlowServerKey); ok && strings.TrimSpace(v) != "" {
		o.KeyBase64 = strings.TrimSpace(v)
	}
	return &o, nil
}

// ValidateFlowServerURL accepts either "scheme://host[:port]" or "host:port".
func ValidateFlowServerURL(raw string) error {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse %q: %w", raw, err)
		}
		if u.Host == "" {
			return fmt.Errorf("%q has no host", raw)
		}
		return nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return fmt.Errorf("%q is neither scheme://host[:port] nor host:port", raw)
	}
	if host == "" || port == "" {
		return fmt.Errorf("%q is missing host or port", raw)
	}
	return nil
}
