package flow

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"

	"github.com/xiansaiplatform/sdk-go/runtime/settings"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// defaultHealthCheckInterval bounds how often the engine connection is
// re-probed before use.
const defaultHealthCheckInterval = time.Minute

type (
	// Options configures the engine client.
	Options struct {
		// Settings carries the engine endpoint, namespace and optional mTLS
		// material, typically resolved through the settings service. Required.
		Settings settings.FlowServerSettings

		// Identity names this process towards the engine. Optional.
		Identity string

		// HealthCheckInterval sets how long a successful health probe is
		// trusted. Defaults to one minute.
		HealthCheckInterval time.Duration

		// DisableTracing skips the OTEL tracing interceptor on the engine
		// client. Tracing is on by default.
		DisableTracing bool

		// DisableMetrics skips the OTEL metrics handler on the engine client.
		// Metrics are on by default.
		DisableMetrics bool

		// Logger reports dials and health transitions. Optional.
		Logger telemetry.Logger

		// Dialer overrides how the engine client is constructed. Defaults to
		// a lazy Temporal client; injectable for tests.
		Dialer func(client.Options) (client.Client, error)
	}

	// Client is the SDK's handle on the durable workflow engine. The
	// underlying connection is established lazily under a lock and
	// health-checked before use; all methods are safe for concurrent use.
	Client struct {
		hostPort  string
		namespace string
		tlsConfig *tls.Config
		identity  string
		interval  time.Duration
		inst      instrumentation
		logger    telemetry.Logger
		dial      func(client.Options) (client.Client, error)

		mu        sync.Mutex
		cli       client.Client
		lastCheck time.Time
		healthy   bool
	}

	// StartWorkflowRequest describes a workflow to start or attach to.
	StartWorkflowRequest struct {
		// ID is the workflow id, built via BuildWorkflowID.
		ID string
		// WorkflowType is the registered workflow type name.
		WorkflowType string
		// TaskQueue routes the execution to its worker pool.
		TaskQueue string
		// Input is passed to the workflow function.
		Input []any
		// Memo identifies tenant, user and agent downstream.
		Memo Memo
		// RetryPolicy overrides the engine default when non-zero.
		RetryPolicy RetryPolicy
		// IDReusePolicy controls id collisions. Zero keeps the engine default.
		IDReusePolicy enumspb.WorkflowIdReusePolicy
		// ExecutionTimeout bounds the whole execution including retries.
		ExecutionTimeout time.Duration
	}

	// Handle references a started workflow execution.
	Handle struct {
		// ID is the workflow id.
		ID string
		// RunID is the run started or attached to, if known.
		RunID string

		run client.WorkflowRun
		cli client.Client
	}

	// Description is the subset of a workflow execution's state the SDK
	// exposes: lifecycle status plus the identifying memo.
	Description struct {
		// WorkflowID is the described workflow id.
		WorkflowID string
		// RunID is the latest run.
		RunID string
		// Status is the engine lifecycle status ("Running", "Completed", ...).
		Status string
		// Memo is the decoded workflow memo.
		Memo Memo
	}

	// ScheduleRequest describes a periodic workflow start.
	ScheduleRequest struct {
		// ID is the schedule id; re-creating the same id is a no-op.
		ID string
		// Interval is the period between runs.
		Interval time.Duration
		// WorkflowType is the workflow started by each run.
		WorkflowType string
		// WorkflowIDPrefix prefixes the per-run workflow ids; the engine
		// appends the scheduled time.
		WorkflowIDPrefix string
		// TaskQueue routes the scheduled runs.
		TaskQueue string
		// Input is passed to every run.
		Input []any
		// Memo is attached to every run.
		Memo Memo
	}

	// ScheduleEntry summarizes a schedule returned by ListSchedules.
	ScheduleEntry struct {
		// ID is the schedule id.
		ID string
		// WorkflowType is the workflow the schedule starts.
		WorkflowType string
		// Paused reports whether the schedule is currently paused.
		Paused bool
	}

	instrumentation struct {
		disableTracing bool
		disableMetrics bool
	}
)

// New constructs an engine client from resolved flow-server settings. The
// connection is not dialed until first use.
func New(opts Options) (*Client, error) {
	hostPort, err := normalizeHostPort(opts.Settings.FlowServerURL)
	if err != nil {
		return nil, err
	}
	namespace := strings.TrimSpace(opts.Settings.FlowServerNamespace)
	if namespace == "" {
		return nil, fmt.Errorf("flow: engine namespace is required")
	}
	tlsConfig, err := tlsFromSettings(opts.Settings)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	interval := opts.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	dial := opts.Dialer
	if dial == nil {
		dial = client.NewLazyClient
	}
	return &Client{
		hostPort:  hostPort,
		namespace: namespace,
		tlsConfig: tlsConfig,
		identity:  opts.Identity,
		interval:  interval,
		inst:      instrumentation{disableTracing: opts.DisableTracing, disableMetrics: opts.DisableMetrics},
		logger:    logger,
		dial:      dial,
	}, nil
}

// HostPort returns the engine endpoint this client targets.
func (c *Client) HostPort() string { return c.hostPort }

// Namespace returns the engine namespace this client targets.
func (c *Client) Namespace() string { return c.namespace }

// StartOrGetWorkflow starts the workflow or attaches to the running execution
// with the same id (the engine's native start-or-attach behavior).
func (c *Client) StartOrGetWorkflow(ctx context.Context, req StartWorkflowRequest) (*Handle, error) {
	if req.ID == "" || req.WorkflowType == "" || req.TaskQueue == "" {
		return nil, fmt.Errorf("flow: start workflow requires id, type and task queue")
	}
	cli, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	opts := client.StartWorkflowOptions{
		ID:                                       req.ID,
		TaskQueue:                                req.TaskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: false,
		WorkflowIDReusePolicy:                    req.IDReusePolicy,
		Memo:                                     req.Memo.toPayloadMap(),
		RetryPolicy:                              req.RetryPolicy.ToTemporal(),
		WorkflowExecutionTimeout:                 req.ExecutionTimeout,
	}
	run, err := cli.ExecuteWorkflow(ctx, opts, req.WorkflowType, req.Input...)
	if err != nil {
		return nil, fmt.Errorf("flow: start workflow %s: %w", req.ID, err)
	}
	return &Handle{ID: run.GetID(), RunID: run.GetRunID(), run: run, cli: cli}, nil
}

// SignalWithStart delivers a signal to the workflow, starting it first when
// no execution is running.
func (c *Client) SignalWithStart(ctx context.Context, req StartWorkflowRequest, signalName string, signalArg any) (*Handle, error) {
	if req.ID == "" || req.WorkflowType == "" || req.TaskQueue == "" {
		return nil, fmt.Errorf("flow: signal with start requires id, type and task queue")
	}
	cli, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	opts := client.StartWorkflowOptions{
		ID:                       req.ID,
		TaskQueue:                req.TaskQueue,
		WorkflowIDReusePolicy:    req.IDReusePolicy,
		Memo:                     req.Memo.toPayloadMap(),
		RetryPolicy:              req.RetryPolicy.ToTemporal(),
		WorkflowExecutionTimeout: req.ExecutionTimeout,
	}
	run, err := cli.SignalWithStartWorkflow(ctx, req.ID, signalName, signalArg, opts, req.WorkflowType, req.Input...)
	if err != nil {
		return nil, fmt.Errorf("flow: signal %s with start %s: %w", signalName, req.ID, err)
	}
	return &Handle{ID: run.GetID(), RunID: run.GetRunID(), run: run, cli: cli}, nil
}

// SignalWorkflow delivers a signal to the latest run of the workflow.
func (c *Client) SignalWorkflow(ctx context.Context, workflowID, name string, payload any) error {
	cli, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	if err := cli.SignalWorkflow(ctx, workflowID, "", name, payload); err != nil {
		return fmt.Errorf("flow: signal %s to %s: %w", name, workflowID, err)
	}
	return nil
}

// QueryWorkflow runs a query against the latest run of the workflow and
// decodes the result into out.
func (c *Client) QueryWorkflow(ctx context.Context, workflowID, queryType string, out any, args ...any) error {
	cli, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	val, err := cli.QueryWorkflow(ctx, workflowID, "", queryType, args...)
	if err != nil {
		return fmt.Errorf("flow: query %s on %s: %w", queryType, workflowID, err)
	}
	if out == nil {
		return nil
	}
	if err := val.Get(out); err != nil {
		return fmt.Errorf("flow: decode %s result from %s: %w", queryType, workflowID, err)
	}
	return nil
}

// GetHandle returns a handle on the latest run of an existing workflow.
func (c *Client) GetHandle(ctx context.Context, workflowID string) (*Handle, error) {
	cli, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	run := cli.GetWorkflow(ctx, workflowID, "")
	return &Handle{ID: run.GetID(), RunID: run.GetRunID(), run: run, cli: cli}, nil
}

// Terminate stops the workflow immediately, recording the reason.
func (c *Client) Terminate(ctx context.Context, workflowID, reason string) error {
	cli, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	if err := cli.TerminateWorkflow(ctx, workflowID, "", reason); err != nil {
		return fmt.Errorf("flow: terminate %s: %w", workflowID, err)
	}
	return nil
}

// Describe returns the lifecycle status and decoded memo of the workflow.
func (c *Client) Describe(ctx context.Context, workflowID string) (*Description, error) {
	cli, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := cli.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("flow: describe %s: %w", workflowID, err)
	}
	info := resp.GetWorkflowExecutionInfo()
	desc := &Description{
		WorkflowID: workflowID,
		Status:     statusString(info.GetStatus()),
		Memo:       FromPayloads(info.GetMemo()),
	}
	if exec := info.GetExecution(); exec != nil {
		desc.RunID = exec.GetRunId()
	}
	return desc, nil
}

// CreateScheduleIfNotExists registers a periodic workflow start. Re-creating
// an existing schedule id reports created=false without error.
func (c *Client) CreateScheduleIfNotExists(ctx context.Context, req ScheduleRequest) (bool, error) {
	if req.ID == "" || req.WorkflowType == "" || req.Interval <= 0 {
		return false, fmt.Errorf("flow: schedule requires id, workflow type and a positive interval")
	}
	cli, err := c.ensure(ctx)
	if err != nil {
		return false, err
	}
	_, err = cli.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: req.ID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: req.Interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        req.WorkflowIDPrefix,
			Workflow:  req.WorkflowType,
			TaskQueue: req.TaskQueue,
			Args:      req.Input,
			Memo:      req.Memo.toPayloadMap(),
		},
	})
	if err != nil {
		if isScheduleExists(err) {
			c.logger.Debug(ctx, "schedule already exists", "schedule_id", req.ID)
			return false, nil
		}
		return false, fmt.Errorf("flow: create schedule %s: %w", req.ID, err)
	}
	return true, nil
}

// ListSchedules returns the schedules visible in the engine namespace.
func (c *Client) ListSchedules(ctx context.Context) ([]ScheduleEntry, error) {
	cli, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	iter, err := cli.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, fmt.Errorf("flow: list schedules: %w", err)
	}
	var entries []ScheduleEntry
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("flow: list schedules: %w", err)
		}
		entries = append(entries, ScheduleEntry{
			ID:           entry.ID,
			WorkflowType: entry.WorkflowType.Name,
			Paused:       entry.Paused,
		})
	}
	return entries, nil
}

// DeleteSchedule removes a schedule, reporting false when it does not exist.
func (c *Client) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	cli, err := c.ensure(ctx)
	if err != nil {
		return false, err
	}
	if err := cli.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("flow: delete schedule %s: %w", id, err)
	}
	return true, nil
}

// Close releases the engine connection if one was established.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		c.cli.Close()
		c.cli = nil
		c.healthy = false
	}
}

// Raw exposes the underlying engine client for worker construction. It dials
// lazily like every other method.
func (c *Client) Raw(ctx context.Context) (client.Client, error) {
	return c.ensure(ctx)
}

// Get waits for the workflow to finish and decodes its result into out.
func (h *Handle) Get(ctx context.Context, out any) error {
	return h.run.Get(ctx, out)
}

// Signal delivers a signal to this execution.
func (h *Handle) Signal(ctx context.Context, name string, payload any) error {
	return h.cli.SignalWorkflow(ctx, h.ID, "", name, payload)
}

// ensure dials the engine lazily and re-validates health once per interval.
// A failed probe drops the connection so the next call re-dials.
func (c *Client) ensure(ctx context.Context) (client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cli == nil {
		cli, err := c.dial(c.clientOptions(ctx))
		if err != nil {
			return nil, fmt.Errorf("flow: connect to engine %s: %w", c.hostPort, err)
		}
		c.cli = cli
		c.healthy = false
		c.lastCheck = time.Time{}
		c.logger.Info(ctx, "engine client created", "host", c.hostPort, "namespace", c.namespace)
	}
	if c.healthy && time.Since(c.lastCheck) < c.interval {
		return c.cli, nil
	}
	_, err := c.cli.CheckHealth(ctx, &client.CheckHealthRequest{})
	c.lastCheck = time.Now()
	if err != nil {
		c.healthy = false
		c.cli.Close()
		c.cli = nil
		c.logger.Warn(ctx, "engine health check failed", "host", c.hostPort, "err", err)
		return nil, fmt.Errorf("flow: engine %s unhealthy: %w", c.hostPort, err)
	}
	c.healthy = true
	return c.cli, nil
}

// clientOptions assembles the engine client options, wiring the SDK logger
// and OTEL instrumentation the same way the workers do.
func (c *Client) clientOptions(ctx context.Context) client.Options {
	opts := client.Options{
		HostPort:  c.hostPort,
		Namespace: c.namespace,
		Identity:  c.identity,
		Logger:    telemetry.NewTemporalLogger(context.WithoutCancel(ctx), c.logger),
	}
	if c.tlsConfig != nil {
		opts.ConnectionOptions = client.ConnectionOptions{TLS: c.tlsConfig}
	}
	if !c.inst.disableTracing {
		if tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{}); err == nil {
			opts.Interceptors = append(opts.Interceptors, tracer)
		}
	}
	if !c.inst.disableMetrics {
		opts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}
	return opts
}

// normalizeHostPort accepts "host:port" or "scheme://host[:port]" and returns
// the engine host:port form.
func normalizeHostPort(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("flow: engine URL is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("flow: invalid engine URL %q", raw)
	}
	return u.Host, nil
}

// tlsFromSettings builds mutual-TLS material from base64 PEM settings. Both
// halves must be present; a lone certificate or key is a configuration error.
func tlsFromSettings(s settings.FlowServerSettings) (*tls.Config, error) {
	if s.CertBase64 == "" && s.KeyBase64 == "" {
		return nil, nil
	}
	if s.CertBase64 == "" || s.KeyBase64 == "" {
		return nil, fmt.Errorf("flow: engine mTLS requires both certificate and key")
	}
	cert, err := base64.StdEncoding.DecodeString(s.CertBase64)
	if err != nil {
		return nil, fmt.Errorf("flow: engine certificate is not valid base64: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(s.KeyBase64)
	if err != nil {
		return nil, fmt.Errorf("flow: engine key is not valid base64: %w", err)
	}
	pair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("flow: engine certificate/key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}, nil
}

// statusString maps engine execution statuses onto the stable names the SDK
// reports.
func statusString(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "Running"
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "Completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "Failed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "Canceled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "Terminated"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "ContinuedAsNew"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "TimedOut"
	default:
		return "Unknown"
	}
}
