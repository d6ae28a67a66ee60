// Package flow adapts the durable workflow engine (Temporal) for the SDK. It
// owns the multi-tenant identity scheme (workflow ids, task queues, memo
// propagation) and a lazily dialed client covering the start/signal/query/
// schedule surface the higher layers need.
package flow

import (
	"fmt"
	"strings"
)

// idSeparator joins the segments of workflow types and workflow ids.
const idSeparator = ":"

// TaskWorkflowName is the display name of the per-agent HITL task workflow.
const TaskWorkflowName = "Task Workflow"

// builtinPrefix prefixes the display name of every SDK-provided workflow.
const builtinPrefix = "Default Workflow - "

// WorkflowType derives the engine workflow type from an agent name and a
// workflow display name: "{agent}:{displayName}". Combined with the tenant
// prefix of BuildWorkflowID this guarantees every workflow id carries at
// least two separators.
func WorkflowType(agentName, displayName string) string {
	return agentName + idSeparator + displayName
}

// BuiltinWorkflowName returns the display name of an SDK built-in workflow
// kind, e.g. "Default Workflow - Conversational".
func BuiltinWorkflowName(kind string) string {
	return builtinPrefix + kind
}

// IsBuiltinWorkflowName reports whether a display name follows the built-in
// naming convention.
func IsBuiltinWorkflowName(displayName string) bool {
	return strings.HasPrefix(displayName, builtinPrefix)
}

// BuildWorkflowID builds the canonical workflow id
// "{tenant}:{workflowType}[:{postfix}]". The postfix disambiguates multiple
// concurrent activations of the same workflow type.
func BuildWorkflowID(tenantID, workflowType, idPostfix string) string {
	id := tenantID + idSeparator + workflowType
	if idPostfix != "" {
		id += idSeparator + idPostfix
	}
	return id
}

// TenantFromWorkflowID recovers the tenant segment from a workflow id built
// by BuildWorkflowID. Ids carry at least two separators (tenant, agent,
// workflow name); anything shorter is rejected.
func TenantFromWorkflowID(workflowID string) (string, error) {
	parts := strings.Split(workflowID, idSeparator)
	if len(parts) < 3 {
		return "", fmt.Errorf("flow: workflow id %q is not of the form tenant:agent:name", workflowID)
	}
	if parts[0] == "" {
		return "", fmt.Errorf("flow: workflow id %q has an empty tenant segment", workflowID)
	}
	return parts[0], nil
}

// PostfixFromWorkflowID recovers the optional activation postfix of a
// workflow id given the tenant and workflow type it was built from. It
// returns "" when the id carries no postfix or does not match the scheme.
func PostfixFromWorkflowID(workflowID, tenantID, workflowType string) string {
	prefix := BuildWorkflowID(tenantID, workflowType, "")
	if workflowID == prefix {
		return ""
	}
	rest, ok := strings.CutPrefix(workflowID, prefix+idSeparator)
	if !ok {
		return ""
	}
	return rest
}

// TaskQueue derives the engine routing queue for a workflow type. System
// scoped definitions share one global queue per type; tenant scoped
// definitions shard by tenant so worker pools never see foreign tenants.
func TaskQueue(workflowType string, systemScoped bool, tenantID string) string {
	if systemScoped {
		return workflowType
	}
	return tenantID + idSeparator + workflowType
}

// ValidateTenantID rejects tenant ids that would corrupt the id scheme.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("flow: tenant id is required")
	}
	if strings.Contains(tenantID, idSeparator) {
		return fmt.Errorf("flow: tenant id %q must not contain %q", tenantID, idSeparator)
	}
	return nil
}
