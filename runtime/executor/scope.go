package executor

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

type (
	// Info identifies the execution a service call runs under. Fields are
	// best effort: outside the engine only what the caller sets is known.
	Info struct {
		// TenantID is the tenant the call is scoped to.
		TenantID string
		// UserID is the acting user, when the memo carries one.
		UserID string
		// AgentName is the owning agent, when the memo carries one.
		AgentName string
		// WorkflowID is the surrounding workflow execution id.
		WorkflowID string
		// WorkflowType is the surrounding workflow type.
		WorkflowType string
		// RequestID correlates the call with an inbound message.
		RequestID string
	}

	// Scope tells Execute where a service call originates so it can pick
	// the right path: dispatch through the engine from workflow code, call
	// directly everywhere else. Construct one with InWorkflow, InActivity
	// or Outside.
	Scope interface {
		// Info returns the identity of the surrounding execution.
		Info() Info

		sealed()
	}

	workflowScope struct {
		wctx workflow.Context
		info Info
	}

	contextScope struct {
		ctx  context.Context
		info Info
	}
)

func (s workflowScope) Info() Info { return s.info }
func (s workflowScope) sealed()    {}

func (s contextScope) Info() Info { return s.info }
func (s contextScope) sealed()    {}

// InWorkflow scopes service calls made from workflow code. Calls dispatch as
// activities so the workflow stays deterministic; the identity comes from the
// workflow memo and execution info.
func InWorkflow(wctx workflow.Context) Scope {
	memo := flow.MemoFromWorkflow(wctx)
	wfInfo := workflow.GetInfo(wctx)
	return workflowScope{
		wctx: wctx,
		info: Info{
			TenantID:     memo.TenantID(),
			UserID:       memo.UserID(),
			AgentName:    memo.AgentName(),
			WorkflowID:   wfInfo.WorkflowExecution.ID,
			WorkflowType: wfInfo.WorkflowType.Name,
		},
	}
}

// InActivity scopes service calls made from activity code. Calls run
// directly; the tenant is recovered from the workflow id scheme.
func InActivity(ctx context.Context) Scope {
	info := Info{}
	if activity.IsActivity(ctx) {
		ai := activity.GetInfo(ctx)
		info.WorkflowID = ai.WorkflowExecution.ID
		info.WorkflowType = ai.WorkflowType.Name
		if tenant, err := flow.TenantFromWorkflowID(ai.WorkflowExecution.ID); err == nil {
			info.TenantID = tenant
		}
	}
	return contextScope{ctx: ctx, info: info}
}

// Outside scopes service calls made from plain client code, outside any
// engine execution.
func Outside(ctx context.Context) Scope {
	return contextScope{ctx: ctx}
}

// WithRequestID returns a copy of the scope carrying the message correlation
// id, for usage attribution downstream.
func WithRequestID(scope Scope, requestID string) Scope {
	switch s := scope.(type) {
	case workflowScope:
		s.info.RequestID = requestID
		return s
	case contextScope:
		s.info.RequestID = requestID
		return s
	default:
		return scope
	}
}
