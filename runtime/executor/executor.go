// Package executor gives every SDK service one body that runs in two worlds.
// A service method calls Execute with its operation name and direct
// implementation; from workflow code the call dispatches through the engine
// as an activity of that name, from activity or plain client code it runs the
// implementation in place. Workers expose the dispatch names through the
// shared Registry.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

const (
	// DefaultStartToClose bounds a dispatched service call.
	DefaultStartToClose = 2 * time.Minute

	// defaultMaxAttempts retries transient failures of dispatched calls.
	defaultMaxAttempts = 3
)

// CallOptions tune a single dispatched call. The zero value applies the
// package defaults; options are ignored on direct calls.
type CallOptions struct {
	// StartToCloseTimeout bounds one attempt of the dispatched call.
	StartToCloseTimeout time.Duration
	// RetryPolicy overrides the default three-attempt policy.
	RetryPolicy flow.RetryPolicy
}

// Execute runs the operation with default call options. See
// ExecuteWithOptions.
func Execute[I, O any](scope Scope, op string, in I, direct func(context.Context, I) (O, error)) (O, error) {
	return ExecuteWithOptions(scope, op, CallOptions{}, in, direct)
}

// ExecuteWithOptions runs op under the given scope. In workflow scope the
// call dispatches as the activity registered under op and failures are
// wrapped in flow.ActivityExecutionError; in every other scope direct runs in
// place and its error is returned as is. The direct function must be the one
// registered under op so both paths share a single body.
func ExecuteWithOptions[I, O any](scope Scope, op string, opts CallOptions, in I, direct func(context.Context, I) (O, error)) (O, error) {
	var out O
	switch s := scope.(type) {
	case workflowScope:
		actx := workflow.WithActivityOptions(s.wctx, activityOptions(opts))
		if err := workflow.ExecuteActivity(actx, op, in).Get(s.wctx, &out); err != nil {
			return out, &flow.ActivityExecutionError{Activity: op, Tenant: s.info.TenantID, Err: err}
		}
		return out, nil
	case contextScope:
		return direct(s.ctx, in)
	default:
		return out, fmt.Errorf("executor: unsupported scope %T", scope)
	}
}

// activityOptions maps call options onto engine activity options, filling in
// the package defaults.
func activityOptions(opts CallOptions) workflow.ActivityOptions {
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = DefaultStartToClose
	}
	retry := opts.RetryPolicy.ToTemporal()
	if retry == nil {
		retry = &temporal.RetryPolicy{MaximumAttempts: defaultMaxAttempts}
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         retry,
	}
}
