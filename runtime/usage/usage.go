// Package usage reports metered consumption (model tokens, API calls) back to
// the server. Reports are fluent builders that resolve their attribution from
// the calling scope at send time, so a handler only states what it consumed.
// Delivery is best effort: a report that cannot be posted is logged and
// dropped, never surfaced to the caller.
package usage

import (
	"context"
	"fmt"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/messaging"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

// reportPath is the server endpoint usage events are posted to.
const reportPath = "/api/agent/usage/report"

// opReport is the executor dispatch name for posting a usage event.
const opReport = "usage.report"

// Metric categories commonly reported by agents.
const (
	// CategoryModel groups metrics reported by model providers.
	CategoryModel = "llm"
	// CategoryAPI groups metrics for outbound API consumption.
	CategoryAPI = "api"
)

// UnitTokens is the unit for model token counts.
const UnitTokens = "tokens"

type (
	// Metric is one measured quantity inside an event.
	Metric struct {
		Category string  `json:"category"`
		Type     string  `json:"type"`
		Value    float64 `json:"value"`
		Unit     string  `json:"unit,omitempty"`
	}

	// Event is the usage report wire shape. All attribution fields resolve
	// from the sending scope when the builder leaves them empty.
	Event struct {
		TenantID         string            `json:"tenantId"`
		ParticipantID    string            `json:"participantId,omitempty"`
		WorkflowID       string            `json:"workflowId,omitempty"`
		WorkflowType     string            `json:"workflowType,omitempty"`
		AgentName        string            `json:"agentName,omitempty"`
		ActivationName   string            `json:"activationName,omitempty"`
		RequestID        string            `json:"requestId,omitempty"`
		Model            string            `json:"model,omitempty"`
		CustomIdentifier string            `json:"customIdentifier,omitempty"`
		Metrics          []Metric          `json:"metrics"`
		Metadata         map[string]string `json:"metadata,omitempty"`
	}

	// TokenUsage mirrors what model providers report for one completion.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Options configures the reporter.
	Options struct {
		// Transport is the authenticated server client. Required.
		Transport *transport.Client
		// Registry receives the executor operation. Optional for pure
		// client processes.
		Registry *executor.Registry
		// Logger reports dropped events. Optional.
		Logger telemetry.Logger
	}

	// Reporter builds and delivers usage events.
	Reporter struct {
		transport *transport.Client
		logger    telemetry.Logger
	}

	// Report accumulates one usage event. Builder calls mutate and return
	// the same report; a report is sent once.
	Report struct {
		reporter *Reporter
		scope    executor.Scope
		event    Event
	}
)

// New constructs the reporter and registers its executor operation.
func New(opts Options) (*Reporter, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("usage: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	r := &Reporter{transport: opts.Transport, logger: logger}
	if opts.Registry != nil {
		if err := opts.Registry.Register(opReport, r.report); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewReport starts an empty report attributed to the given scope.
func (r *Reporter) NewReport(sc executor.Scope) *Report {
	return &Report{reporter: r, scope: sc}
}

// FromMessage starts a report seeded from a message context. The message
// participant and request carry over; after an agent-to-agent send the report
// attributes to the target workflow, not the sender's.
func (r *Reporter) FromMessage(mc *messaging.Context) *Report {
	b := r.NewReport(mc.Scope())
	b.event.ParticipantID = mc.ParticipantID()
	b.event.RequestID = mc.RequestID()
	if id, wtype, ok := mc.A2ATarget(); ok {
		b.event.WorkflowID = id
		b.event.WorkflowType = wtype
	}
	return b
}

// WithTenant pins the event to a tenant instead of the scope's.
func (b *Report) WithTenant(tenantID string) *Report {
	b.event.TenantID = tenantID
	return b
}

// WithParticipant pins the participant the consumption belongs to.
func (b *Report) WithParticipant(participantID string) *Report {
	b.event.ParticipantID = participantID
	return b
}

// WithWorkflow pins the workflow execution the consumption belongs to.
func (b *Report) WithWorkflow(workflowID, workflowType string) *Report {
	b.event.WorkflowID = workflowID
	b.event.WorkflowType = workflowType
	return b
}

// WithRequest pins the request correlation id.
func (b *Report) WithRequest(requestID string) *Report {
	b.event.RequestID = requestID
	return b
}

// WithActivation pins the activation name instead of deriving it from the
// workflow id.
func (b *Report) WithActivation(name string) *Report {
	b.event.ActivationName = name
	return b
}

// WithModel names the model the consumption came from.
func (b *Report) WithModel(model string) *Report {
	b.event.Model = model
	return b
}

// WithCustomIdentifier tags the event with a caller-defined identifier for
// later aggregation.
func (b *Report) WithCustomIdentifier(id string) *Report {
	b.event.CustomIdentifier = id
	return b
}

// WithMetadata attaches one metadata attribute to the event.
func (b *Report) WithMetadata(key, value string) *Report {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// AddMetric appends one measured quantity.
func (b *Report) AddMetric(category, metricType string, value float64, unit string) *Report {
	b.event.Metrics = append(b.event.Metrics, Metric{
		Category: category,
		Type:     metricType,
		Value:    value,
		Unit:     unit,
	})
	return b
}

// AddTokenUsage stamps the model and appends the token counts a provider
// reported for one completion. A zero TotalTokens falls back to the sum.
func (b *Report) AddTokenUsage(model string, u TokenUsage) *Report {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	b.event.Model = model
	return b.
		AddMetric(CategoryModel, "input_tokens", float64(u.InputTokens), UnitTokens).
		AddMetric(CategoryModel, "output_tokens", float64(u.OutputTokens), UnitTokens).
		AddMetric(CategoryModel, "total_tokens", float64(total), UnitTokens)
}

// Send resolves the event against its scope and posts it. Delivery failures
// are logged and swallowed: usage reporting never fails the caller.
func (b *Report) Send() {
	_, _ = executor.Execute(b.scope, opReport, b.resolve(), b.reporter.report)
}

// resolve fills the attribution gaps from the scope, preferring what the
// builder set explicitly.
func (b *Report) resolve() Event {
	ev := b.event
	info := b.scope.Info()
	if ev.TenantID == "" {
		ev.TenantID = info.TenantID
	}
	if ev.TenantID == "" {
		ev.TenantID = b.reporter.transport.Tenant()
	}
	if ev.ParticipantID == "" {
		ev.ParticipantID = info.UserID
	}
	if ev.WorkflowID == "" {
		ev.WorkflowID = info.WorkflowID
	}
	if ev.WorkflowType == "" {
		ev.WorkflowType = info.WorkflowType
	}
	if ev.AgentName == "" {
		ev.AgentName = info.AgentName
	}
	if ev.RequestID == "" {
		ev.RequestID = info.RequestID
	}
	if ev.ActivationName == "" && ev.WorkflowID != "" {
		ev.ActivationName = flow.PostfixFromWorkflowID(ev.WorkflowID, ev.TenantID, ev.WorkflowType)
	}
	return ev
}

// report posts the event, swallowing delivery failures.
func (r *Reporter) report(ctx context.Context, ev Event) (bool, error) {
	client := r.transport
	if ev.TenantID != "" && ev.TenantID != r.transport.Tenant() {
		client = r.transport.Scoped(ev.TenantID)
	}
	if _, err := client.PostJSON(ctx, reportPath, ev, nil); err != nil {
		r.logger.Warn(ctx, "usage report dropped",
			"tenantId", ev.TenantID, "workflowId", ev.WorkflowID, "metrics", len(ev.Metrics), "error", err)
		return false, nil
	}
	r.logger.Debug(ctx, "usage report delivered",
		"tenantId", ev.TenantID, "workflowId", ev.WorkflowID, "metrics", len(ev.Metrics))
	return true, nil
}
