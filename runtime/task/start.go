package task

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

// Handle tracks a started task child workflow from the parent side.
type Handle struct {
	// TaskID is the child workflow id, usable with the external client
	// surface while the task runs.
	TaskID string

	future workflow.ChildWorkflowFuture
}

// Result blocks until the task settles and returns its outcome.
func (h *Handle) Result(wctx workflow.Context) (*Result, error) {
	var res Result
	if err := h.future.Get(wctx, &res); err != nil {
		return nil, fmt.Errorf("task %s: %w", h.TaskID, err)
	}
	return &res, nil
}

// Start launches a task as a child of the calling workflow and returns once
// the engine accepted it. The task inherits the parent's memo identity and id
// postfix; ParticipantID falls back to the parent's acting user. Reusing a
// TaskName within the same activation replaces the prior task with that name.
// The child outlives the parent only when SurviveParentClose is set.
func Start(wctx workflow.Context, req Request) (*Handle, error) {
	req = req.normalize()

	memo := flow.MemoFromWorkflow(wctx)
	if req.ParticipantID == "" {
		req.ParticipantID = memo.UserID()
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	tenant := memo.TenantID()
	if err := flow.ValidateTenantID(tenant); err != nil {
		return nil, fmt.Errorf("task: parent workflow memo: %w", err)
	}
	agent := memo.AgentName()
	if agent == "" {
		return nil, fmt.Errorf("task: parent workflow memo names no agent")
	}

	if req.TaskName == "" {
		if err := workflow.SideEffect(wctx, func(workflow.Context) any {
			return uuid.NewString()
		}).Get(&req.TaskName); err != nil {
			return nil, fmt.Errorf("task: generate task name: %w", err)
		}
	}

	workflowType := flow.WorkflowType(agent, flow.TaskWorkflowName)
	info := workflow.GetInfo(wctx)
	postfix := flow.PostfixFromWorkflowID(info.WorkflowExecution.ID, tenant, info.WorkflowType.Name)
	taskID := WorkflowID(tenant, agent, postfix, req.TaskName)

	cm := childMemo(memo, req)
	memoPayload := make(map[string]any, len(cm))
	for k, v := range cm {
		memoPayload[k] = v
	}

	parentClose := enumspb.PARENT_CLOSE_POLICY_TERMINATE
	if req.SurviveParentClose {
		parentClose = enumspb.PARENT_CLOSE_POLICY_ABANDON
	}

	cctx := workflow.WithChildOptions(wctx, workflow.ChildWorkflowOptions{
		WorkflowID:               taskID,
		TaskQueue:                flow.TaskQueue(workflowType, memo.SystemScoped(), tenant),
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_TERMINATE_IF_RUNNING,
		ParentClosePolicy:        parentClose,
		WorkflowExecutionTimeout: req.Timeout + extraExecutionWindow,
		RetryPolicy:              req.RetryPolicy.ToTemporal(),
		Memo:                     memoPayload,
	})

	fut := workflow.ExecuteChildWorkflow(cctx, workflowType, Params{
		TaskID:        taskID,
		Title:         req.Title,
		Description:   req.Description,
		InitialWork:   req.DraftWork,
		ParticipantID: req.ParticipantID,
		Metadata:      req.Metadata,
		Actions:       req.Actions,
		Timeout:       req.Timeout,
	})

	var exec workflow.Execution
	if err := fut.GetChildWorkflowExecution().Get(wctx, &exec); err != nil {
		return nil, fmt.Errorf("task: start %s: %w", taskID, err)
	}
	return &Handle{TaskID: exec.ID, future: fut}, nil
}

// childMemo carries the parent's identity onto the task, rebinding the acting
// user to the participant and recording the task surface for console views.
func childMemo(parent flow.Memo, req Request) flow.Memo {
	return flow.InheritMemo(parent, flow.Memo{
		flow.MemoUserID:          req.ParticipantID,
		flow.MemoTaskTitle:       req.Title,
		flow.MemoTaskDescription: req.Description,
		flow.MemoTaskActions:     strings.Join(req.Actions, ","),
	})
}
