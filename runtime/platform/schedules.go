package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

type (
	// ScheduleSet creates and manages periodic starts of one agent's
	// workflows. Schedule ids are namespaced per tenant and agent, so the
	// short ids callers pick stay local to the agent.
	ScheduleSet struct {
		agent *Agent
	}

	// ScheduleBuilder assembles one schedule. Finish with CreateIfNotExists.
	ScheduleBuilder struct {
		agent        *Agent
		id           string
		workflowName string
		interval     time.Duration
		input        []any
	}
)

// Create opens a builder for the schedule with the given short id.
func (s *ScheduleSet) Create(id string) *ScheduleBuilder {
	return &ScheduleBuilder{agent: s.agent, id: strings.TrimSpace(id)}
}

// ForWorkflow picks the workflow the schedule starts, by display name.
func (b *ScheduleBuilder) ForWorkflow(displayName string) *ScheduleBuilder {
	b.workflowName = displayName
	return b
}

// WithInterval sets the period between runs.
func (b *ScheduleBuilder) WithInterval(d time.Duration) *ScheduleBuilder {
	b.interval = d
	return b
}

// WithInput passes arguments to every scheduled run.
func (b *ScheduleBuilder) WithInput(args ...any) *ScheduleBuilder {
	b.input = args
	return b
}

// CreateIfNotExists registers the schedule with the engine. Re-creating an
// existing schedule id reports created=false without error, so startup code
// can call it unconditionally.
func (b *ScheduleBuilder) CreateIfNotExists(ctx context.Context) (bool, error) {
	if b.id == "" {
		return false, fmt.Errorf("platform: schedule id is required")
	}
	if b.workflowName == "" {
		return false, fmt.Errorf("platform: schedule %q names no workflow", b.id)
	}
	if b.interval <= 0 {
		return false, fmt.Errorf("platform: schedule %q requires a positive interval", b.id)
	}
	def, ok := b.agent.Workflows.Get(b.workflowName)
	if !ok {
		return false, fmt.Errorf("platform: schedule %q: workflow %q is not defined on agent %q", b.id, b.workflowName, b.agent.Name())
	}

	p := b.agent.platform
	req := flow.ScheduleRequest{
		ID:               b.agent.Schedules.scheduleID(b.id),
		Interval:         b.interval,
		WorkflowType:     def.WorkflowType,
		WorkflowIDPrefix: def.DefaultWorkflowID(),
		TaskQueue:        def.Queue(),
		Input:            b.input,
		Memo:             flow.NewMemo(p.tenantID, p.userID, b.agent.Name(), def.SystemScoped),
	}
	return p.flow.CreateScheduleIfNotExists(ctx, req)
}

// List returns this agent's schedules with their short ids.
func (s *ScheduleSet) List(ctx context.Context) ([]flow.ScheduleEntry, error) {
	entries, err := s.agent.platform.flow.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	prefix := s.scheduleID("")
	var out []flow.ScheduleEntry
	for _, e := range entries {
		if !strings.HasPrefix(e.ID, prefix) {
			continue
		}
		e.ID = strings.TrimPrefix(e.ID, prefix)
		out = append(out, e)
	}
	return out, nil
}

// Delete removes the schedule with the given short id, reporting false when
// it does not exist.
func (s *ScheduleSet) Delete(ctx context.Context, id string) (bool, error) {
	return s.agent.platform.flow.DeleteSchedule(ctx, s.scheduleID(strings.TrimSpace(id)))
}

// scheduleID expands a short schedule id into its engine id
// "{tenant}:{agent}:{id}", keeping schedules from colliding across tenants
// and agents in a shared namespace.
func (s *ScheduleSet) scheduleID(id string) string {
	return s.agent.platform.tenantID + ":" + s.agent.Name() + ":" + id
}
