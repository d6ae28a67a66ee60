// Package platform assembles the SDK subsystems into one connected handle.
// It wires transport, settings, cache and the engine client in dependency
// order, hangs the service layer (knowledge, secrets, documents, messaging,
// tasks, usage) off a shared executor registry, and owns the agent registry
// that carries workflow definitions through upload, worker startup and
// schedules. There are no process-wide singletons: everything reachable from
// the SDK hangs off a Platform value.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/xiansaiplatform/sdk-go/features/cache/memory"
	"github.com/xiansaiplatform/sdk-go/runtime/cache"
	"github.com/xiansaiplatform/sdk-go/runtime/documents"
	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/knowledge"
	"github.com/xiansaiplatform/sdk-go/runtime/messaging"
	"github.com/xiansaiplatform/sdk-go/runtime/secrets"
	"github.com/xiansaiplatform/sdk-go/runtime/settings"
	"github.com/xiansaiplatform/sdk-go/runtime/task"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
	"github.com/xiansaiplatform/sdk-go/runtime/usage"
)

// Environment variables recognized by FromEnv.
const (
	// EnvServerURL is the agent server base URL.
	EnvServerURL = "XIANS_SERVER_URL"
	// EnvAPIKey is the opaque API key credential.
	EnvAPIKey = "XIANS_API_KEY"
	// EnvCertificate is the base64 agent certificate credential.
	EnvCertificate = "XIANS_AGENT_CERTIFICATE"
	// EnvTenantID names the tenant when the credential does not carry one.
	EnvTenantID = "XIANS_TENANT_ID"
	// EnvConsoleLogLevel sets the SDK log threshold.
	EnvConsoleLogLevel = telemetry.EnvConsoleLogLevel
	// EnvServerLogLevel is consulted when EnvConsoleLogLevel is unset.
	EnvServerLogLevel = telemetry.EnvServerLogLevel
	// EnvLegacyLogLevel is the deprecated spelling of EnvServerLogLevel.
	EnvLegacyLogLevel = telemetry.EnvLegacyLogLevel
)

// Sentinel errors of the platform lifecycle.
var (
	// ErrInvalidConfig marks configuration the process must not start with.
	ErrInvalidConfig = errors.New("platform: invalid configuration")
	// ErrDuplicateAgent marks a second registration of an agent name.
	ErrDuplicateAgent = errors.New("platform: agent already registered")
	// ErrRegistrationClosed marks registrations after workers have started.
	ErrRegistrationClosed = errors.New("platform: registration closed after first run")
)

type (
	// Options configures a Platform. ServerURL plus one credential are
	// required; everything else has working defaults.
	Options struct {
		// ServerURL is the agent server base URL. Required.
		ServerURL string

		// APIKey is an opaque credential. One of APIKey or Certificate is
		// required.
		APIKey string

		// Certificate is a base64 agent certificate credential. When set it
		// also supplies the tenant and user identity.
		Certificate string

		// TenantID names the owning tenant. Required with APIKey; with
		// Certificate it must match the certificate tenant when set.
		TenantID string

		// UserID names the acting user for workflows the platform starts.
		// Defaults to the certificate user when one is present.
		UserID string

		// Logger receives SDK logs. Defaults to the Clue logger.
		Logger telemetry.Logger

		// Metrics receives SDK instrumentation. Defaults to OTEL metrics.
		Metrics telemetry.Metrics

		// Tracer is handed to handler authors via Platform.Tracer. Defaults
		// to the OTEL tracer.
		Tracer telemetry.Tracer

		// LogLevel sets the log threshold applied to contexts the platform
		// owns ("debug" and "trace" enable debug output).
		LogLevel string

		// Cache overrides the per-aspect cache configuration. Defaults to
		// cache.DefaultOptions.
		Cache *cache.Options

		// CacheStore overrides the cache backend. Defaults to an in-process
		// LRU; pass the redis store to share the cache across processes.
		CacheStore cache.Store

		// KnowledgeAssets switches knowledge to local mode, serving items
		// from the given filesystem instead of the server.
		KnowledgeAssets fs.FS

		// HTTPTimeout bounds individual server requests.
		HTTPTimeout time.Duration

		// Retry overrides the transport retry policy.
		Retry *transport.RetryConfig

		// RateLimit caps outbound server requests per second when positive.
		// RateBurst bounds the burst size and defaults to the ceiling of
		// RateLimit inside the transport.
		RateLimit float64
		RateBurst int

		// HistoryPageSize is the default conversation history page size.
		HistoryPageSize int

		// Identity names this process towards the engine.
		Identity string

		// DisableEngineTracing and DisableEngineMetrics switch off the OTEL
		// instrumentation on the engine client and its workers.
		DisableEngineTracing bool
		DisableEngineMetrics bool

		// FlowServer overrides engine connection parameters, skipping the
		// settings fetch entirely. Used when the engine endpoint is known
		// up front.
		FlowServer *settings.FlowServerSettings

		// EngineDialer overrides how the engine client is constructed.
		// Injectable for tests.
		EngineDialer func(temporalclient.Options) (temporalclient.Client, error)

		// LookupEnv resolves environment overrides for the settings service.
		// Defaults to os.LookupEnv; injectable for tests.
		LookupEnv func(string) (string, bool)
	}

	// Platform is the connected SDK handle. Construct it once per process
	// with New, register agents and definitions, then RunAll. All methods
	// are safe for concurrent use.
	Platform struct {
		// Agents registers and holds the agents this process hosts.
		Agents *AgentRegistry

		opts      Options
		tenantID  string
		userID    string
		logLevel  string
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		transport *transport.Client
		cache     *cache.Cache
		settings  *settings.Service
		flow      *flow.Client
		registry  *executor.Registry
		knowledge *knowledge.Service
		secrets   *secrets.Vault
		documents *documents.Store
		messaging *messaging.Service
		router    *messaging.Router
		tasks     *task.Client
		usage     *usage.Reporter

		uploadsOnce sync.Once
		uploads     *uploader

		runMu   sync.Mutex
		running bool
	}
)

// FromEnv assembles Options from the environment: XIANS_SERVER_URL,
// XIANS_API_KEY or XIANS_AGENT_CERTIFICATE, XIANS_TENANT_ID, and the log
// level chain CONSOLE_LOG_LEVEL, SERVER_LOG_LEVEL, API_LOG_LEVEL.
func FromEnv() Options {
	return Options{
		ServerURL:   os.Getenv(EnvServerURL),
		APIKey:      os.Getenv(EnvAPIKey),
		Certificate: os.Getenv(EnvCertificate),
		TenantID:    os.Getenv(EnvTenantID),
		LogLevel:    telemetry.LevelFromEnv(),
	}
}

// New connects a Platform: it validates the credential, resolves the tenant
// identity, and wires transport, cache, settings, the engine client and the
// service layer in dependency order. Configuration problems are fatal and
// wrapped in ErrInvalidConfig.
func New(ctx context.Context, opts Options) (*Platform, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewClueLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewClueMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewClueTracer()
	}
	ctx = telemetry.LogContext(ctx, opts.LogLevel)

	if strings.TrimSpace(opts.ServerURL) == "" {
		return nil, fmt.Errorf("%w: server URL is required", ErrInvalidConfig)
	}
	if opts.APIKey == "" && opts.Certificate == "" {
		return nil, fmt.Errorf("%w: an API key or agent certificate is required", ErrInvalidConfig)
	}

	tenantID := strings.TrimSpace(opts.TenantID)
	userID := strings.TrimSpace(opts.UserID)
	if opts.Certificate != "" {
		id, err := settings.ParseCertificateIdentity(opts.Certificate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if tenantID == "" {
			tenantID = id.TenantID
		} else if tenantID != id.TenantID {
			return nil, fmt.Errorf("%w: tenant id %q does not match certificate tenant %q", ErrInvalidConfig, tenantID, id.TenantID)
		}
		if userID == "" {
			userID = id.UserID
		}
	}
	if err := flow.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	topts := []transport.Option{
		transport.WithTenant(tenantID),
		transport.WithLogger(logger),
		transport.WithMetrics(metrics),
	}
	if opts.APIKey != "" {
		topts = append(topts, transport.WithAPIKey(opts.APIKey))
	}
	if opts.Certificate != "" {
		topts = append(topts, transport.WithCertificate(opts.Certificate))
	}
	if opts.HTTPTimeout > 0 {
		topts = append(topts, transport.WithTimeout(opts.HTTPTimeout))
	}
	if opts.Retry != nil {
		topts = append(topts, transport.WithRetryConfig(*opts.Retry))
	}
	if opts.RateLimit > 0 {
		topts = append(topts, transport.WithRateLimit(opts.RateLimit, opts.RateBurst))
	}
	tc, err := transport.New(opts.ServerURL, topts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	store := opts.CacheStore
	if store == nil {
		store = memory.New(0)
	}
	copts := cache.DefaultOptions()
	if opts.Cache != nil {
		copts = *opts.Cache
	}
	copts.Logger = logger
	sdkCache := cache.New(store, copts)

	settingsSvc := settings.New(settings.Options{
		Transport: tc,
		Cache:     sdkCache,
		Logger:    logger,
		LookupEnv: opts.LookupEnv,
	})

	flowSettings := opts.FlowServer
	if flowSettings == nil {
		flowSettings, err = settingsSvc.FlowServer(ctx)
		if err != nil {
			return nil, err
		}
	}
	flowClient, err := flow.New(flow.Options{
		Settings:       *flowSettings,
		Identity:       opts.Identity,
		DisableTracing: opts.DisableEngineTracing,
		DisableMetrics: opts.DisableEngineMetrics,
		Logger:         logger,
		Dialer:         opts.EngineDialer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	registry := executor.NewRegistry()

	var provider knowledge.Provider
	if opts.KnowledgeAssets != nil {
		provider = knowledge.NewLocalProvider(opts.KnowledgeAssets, logger)
	} else {
		provider = knowledge.NewServerProvider(tc)
	}
	knowledgeSvc, err := knowledge.New(knowledge.Options{
		Provider: provider,
		Cache:    sdkCache,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	vault, err := secrets.New(secrets.Options{Transport: tc, Registry: registry, Logger: logger})
	if err != nil {
		return nil, err
	}
	docs, err := documents.New(documents.Options{Transport: tc, Registry: registry, Logger: logger})
	if err != nil {
		return nil, err
	}
	messagingSvc, err := messaging.New(messaging.Options{
		Transport:       tc,
		Flow:            flowClient,
		Registry:        registry,
		Logger:          logger,
		HistoryPageSize: opts.HistoryPageSize,
	})
	if err != nil {
		return nil, err
	}
	router := messaging.NewRouter(messagingSvc)
	tasks, err := task.NewClient(task.Options{Flow: flowClient, Registry: registry, Logger: logger})
	if err != nil {
		return nil, err
	}
	reporter, err := usage.New(usage.Options{Transport: tc, Registry: registry, Logger: logger})
	if err != nil {
		return nil, err
	}

	p := &Platform{
		opts:      opts,
		tenantID:  tenantID,
		userID:    userID,
		logLevel:  opts.LogLevel,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		transport: tc,
		cache:     sdkCache,
		settings:  settingsSvc,
		flow:      flowClient,
		registry:  registry,
		knowledge: knowledgeSvc,
		secrets:   vault,
		documents: docs,
		messaging: messagingSvc,
		router:    router,
		tasks:     tasks,
		usage:     reporter,
	}
	p.Agents = newAgentRegistry(p)
	logger.Info(ctx, "platform connected",
		"server", tc.BaseURL(), "tenant", tenantID, "engine", flowClient.HostPort())
	return p, nil
}

// TenantID returns the tenant this platform operates as.
func (p *Platform) TenantID() string { return p.tenantID }

// UserID returns the acting user for workflows the platform starts, if known.
func (p *Platform) UserID() string { return p.userID }

// Logger returns the SDK logger for handler authors.
func (p *Platform) Logger() telemetry.Logger { return p.logger }

// Metrics returns the SDK metrics recorder for handler authors.
func (p *Platform) Metrics() telemetry.Metrics { return p.metrics }

// Tracer returns the SDK tracer for handler authors.
func (p *Platform) Tracer() telemetry.Tracer { return p.tracer }

// Transport returns the authenticated server client.
func (p *Platform) Transport() *transport.Client { return p.transport }

// Cache returns the aspect-scoped SDK cache.
func (p *Platform) Cache() *cache.Cache { return p.cache }

// Settings returns the settings and identity service.
func (p *Platform) Settings() *settings.Service { return p.settings }

// Flow returns the engine client.
func (p *Platform) Flow() *flow.Client { return p.flow }

// Registry returns the executor operation registry applied to every worker.
func (p *Platform) Registry() *executor.Registry { return p.registry }

// Knowledge returns the knowledge service.
func (p *Platform) Knowledge() *knowledge.Service { return p.knowledge }

// Secrets returns the secret vault.
func (p *Platform) Secrets() *secrets.Vault { return p.secrets }

// Documents returns the document store.
func (p *Platform) Documents() *documents.Store { return p.documents }

// Messaging returns the conversation service.
func (p *Platform) Messaging() *messaging.Service { return p.messaging }

// Router returns the inbound message router workers dispatch through.
func (p *Platform) Router() *messaging.Router { return p.router }

// Tasks returns the client driving human tasks from outside their workflow.
func (p *Platform) Tasks() *task.Client { return p.tasks }

// Usage returns the usage reporter.
func (p *Platform) Usage() *usage.Reporter { return p.usage }

// Close releases the engine connection. The HTTP transport needs no
// teardown; its pooled connections close idle.
func (p *Platform) Close() {
	p.flow.Close()
}
