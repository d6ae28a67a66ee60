package flow

import (
	"sort"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/workflow"
)

// Memo keys attached to every workflow started by the SDK. Task child
// workflows overlay the task-specific keys on top of the inherited parent
// memo.
const (
	MemoTenantID        = "tenantId"
	MemoUserID          = "userId"
	MemoAgentName       = "agentName"
	MemoSystemScoped    = "systemScoped"
	MemoTaskTitle       = "taskTitle"
	MemoTaskDescription = "taskDescription"
	MemoTaskActions     = "taskActions"
)

// Memo is the key-value map attached to a workflow for downstream
// identification. Values are strings so they survive engine round-trips and
// stay queryable.
type Memo map[string]string

// NewMemo assembles the base memo every SDK workflow carries.
func NewMemo(tenantID, userID, agentName string, systemScoped bool) Memo {
	return Memo{
		MemoTenantID:     tenantID,
		MemoUserID:       userID,
		MemoAgentName:    agentName,
		MemoSystemScoped: boolString(systemScoped),
	}
}

// InheritMemo builds a child memo from a parent memo and an explicit overlay
// set. Every parent key is preserved; overlay keys win on conflict. Both
// inputs are left untouched.
func InheritMemo(parent, overlays Memo) Memo {
	child := make(Memo, len(parent)+len(overlays))
	for k, v := range parent {
		child[k] = v
	}
	for k, v := range overlays {
		child[k] = v
	}
	return child
}

// TenantID returns the owning tenant recorded in the memo.
func (m Memo) TenantID() string { return m[MemoTenantID] }

// UserID returns the acting user recorded in the memo.
func (m Memo) UserID() string { return m[MemoUserID] }

// AgentName returns the owning agent recorded in the memo.
func (m Memo) AgentName() string { return m[MemoAgentName] }

// SystemScoped reports whether the workflow runs outside tenant sharding.
func (m Memo) SystemScoped() bool { return m[MemoSystemScoped] == "true" }

// Keys returns the memo keys in stable order, for logging and tests.
func (m Memo) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toPayloadMap converts the memo into the loosely typed map the engine client
// options expect.
func (m Memo) toPayloadMap() map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FromPayloads decodes an engine memo into a Memo. Values that do not decode
// as strings are skipped; a nil input yields an empty memo.
func FromPayloads(memo *commonpb.Memo) Memo {
	out := Memo{}
	if memo == nil {
		return out
	}
	dc := converter.GetDefaultDataConverter()
	for k, payload := range memo.GetFields() {
		var v string
		if err := dc.FromPayload(payload, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// MemoFromWorkflow reads the memo of the current workflow execution. Safe for
// replay: the memo is part of the workflow's immutable started-event.
func MemoFromWorkflow(wctx workflow.Context) Memo {
	return FromPayloads(workflow.GetInfo(wctx).Memo)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
