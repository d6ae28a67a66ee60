package flow

import (
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/temporal"
)

// ActivityExecutionError wraps a failure raised inside an SDK activity so the
// workflow sees the operation name and tenant alongside the cause.
type ActivityExecutionError struct {
	// Activity is the executor operation name.
	Activity string
	// Tenant is the tenant scope the operation ran under, if any.
	Tenant string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ActivityExecutionError) Error() string {
	if e.Tenant != "" {
		return fmt.Sprintf("activity %s failed for tenant %s: %v", e.Activity, e.Tenant, e.Err)
	}
	return fmt.Sprintf("activity %s failed: %v", e.Activity, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ActivityExecutionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is the engine's not-found error, e.g. when
// signalling or querying a workflow that does not exist.
func IsNotFound(err error) bool {
	var nf *serviceerror.NotFound
	return errors.As(err, &nf)
}

// IsAlreadyStarted reports whether err indicates a workflow id collision
// under a non-terminate reuse policy.
func IsAlreadyStarted(err error) bool {
	var as *serviceerror.WorkflowExecutionAlreadyStarted
	return errors.As(err, &as)
}

// isScheduleExists reports whether err is the engine's duplicate-schedule
// error, which CreateScheduleIfNotExists treats as success.
func isScheduleExists(err error) bool {
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return true
	}
	var ae *serviceerror.AlreadyExists
	return errors.As(err, &ae)
}
