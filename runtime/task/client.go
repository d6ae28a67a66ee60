package task

import (
	"context"
	"fmt"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// Executor dispatch names for the task operations.
const (
	opUpdateDraft   = "task.updateDraft"
	opPerformAction = "task.performAction"
	opInfo          = "task.info"
	opCurrentDraft  = "task.currentDraft"
	opInitialWork   = "task.initialWork"
)

type (
	// Options configures the task client.
	Options struct {
		// Flow is the engine client signals and queries ride on. Required.
		Flow *flow.Client
		// Registry receives the executor operations. Optional for pure
		// client processes.
		Registry *executor.Registry
		// Logger reports signal and query traffic. Optional.
		Logger telemetry.Logger
	}

	// Client drives running tasks from outside their workflow: draft
	// updates, actions and state queries addressed by task id.
	Client struct {
		flow   *flow.Client
		logger telemetry.Logger
	}

	draftRequest struct {
		TaskID string `json:"taskId"`
		Draft  string `json:"draft"`
	}

	actionRequest struct {
		TaskID  string `json:"taskId"`
		Action  string `json:"action"`
		Comment string `json:"comment,omitempty"`
	}

	taskRef struct {
		TaskID string `json:"taskId"`
	}
)

// NewClient constructs the task client and registers its executor operations.
func NewClient(opts Options) (*Client, error) {
	if opts.Flow == nil {
		return nil, fmt.Errorf("task: flow client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	c := &Client{flow: opts.Flow, logger: logger}
	if opts.Registry != nil {
		for op, fn := range map[string]any{
			opUpdateDraft:   c.updateDraft,
			opPerformAction: c.performAction,
			opInfo:          c.getInfo,
			opCurrentDraft:  c.getCurrentDraft,
			opInitialWork:   c.getInitialWork,
		} {
			if err := opts.Registry.Register(op, fn); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// UpdateDraft replaces the task's working draft. Settled tasks ignore the
// update.
func (c *Client) UpdateDraft(sc executor.Scope, taskID, draft string) error {
	_, err := executor.Execute(sc, opUpdateDraft, draftRequest{TaskID: taskID, Draft: draft}, c.updateDraft)
	return err
}

// PerformAction settles the task with one of its available actions. An action
// outside the available set is dropped by the task workflow.
func (c *Client) PerformAction(sc executor.Scope, taskID, action, comment string) error {
	req := actionRequest{TaskID: taskID, Action: action, Comment: comment}
	_, err := executor.Execute(sc, opPerformAction, req, c.performAction)
	return err
}

// Approve settles the task with the approve action.
func (c *Client) Approve(sc executor.Scope, taskID, comment string) error {
	return c.PerformAction(sc, taskID, ActionApprove, comment)
}

// Reject settles the task with the reject action.
func (c *Client) Reject(sc executor.Scope, taskID, reason string) error {
	return c.PerformAction(sc, taskID, ActionReject, reason)
}

// GetInfo returns the task's current snapshot.
func (c *Client) GetInfo(sc executor.Scope, taskID string) (*Info, error) {
	return executor.Execute(sc, opInfo, taskRef{TaskID: taskID}, c.getInfo)
}

// GetCurrentDraft returns the task's working draft.
func (c *Client) GetCurrentDraft(sc executor.Scope, taskID string) (string, error) {
	return executor.Execute(sc, opCurrentDraft, taskRef{TaskID: taskID}, c.getCurrentDraft)
}

// GetInitialWork returns the draft the task started with.
func (c *Client) GetInitialWork(sc executor.Scope, taskID string) (string, error) {
	return executor.Execute(sc, opInitialWork, taskRef{TaskID: taskID}, c.getInitialWork)
}

// Summary returns the task snapshot rendered for humans.
func (c *Client) Summary(sc executor.Scope, taskID string) (string, error) {
	info, err := c.GetInfo(sc, taskID)
	if err != nil {
		return "", err
	}
	return info.Summary(), nil
}

func (c *Client) updateDraft(ctx context.Context, req draftRequest) (bool, error) {
	if req.TaskID == "" {
		return false, fmt.Errorf("task: task id is required")
	}
	if err := c.flow.SignalWorkflow(ctx, req.TaskID, SignalUpdateDraft, req.Draft); err != nil {
		return false, fmt.Errorf("task: update draft on %s: %w", req.TaskID, err)
	}
	c.logger.Debug(ctx, "task draft updated", "taskId", req.TaskID)
	return true, nil
}

func (c *Client) performAction(ctx context.Context, req actionRequest) (bool, error) {
	if req.TaskID == "" {
		return false, fmt.Errorf("task: task id is required")
	}
	if req.Action == "" {
		return false, fmt.Errorf("task: action is required")
	}
	payload := ActionRequest{Action: req.Action, Comment: req.Comment}
	if err := c.flow.SignalWorkflow(ctx, req.TaskID, SignalPerformAction, payload); err != nil {
		return false, fmt.Errorf("task: perform %q on %s: %w", req.Action, req.TaskID, err)
	}
	c.logger.Debug(ctx, "task action performed", "taskId", req.TaskID, "action", req.Action)
	return true, nil
}

func (c *Client) getInfo(ctx context.Context, req taskRef) (*Info, error) {
	var out Info
	if err := c.flow.QueryWorkflow(ctx, req.TaskID, QueryInfo, &out); err != nil {
		return nil, fmt.Errorf("task: info for %s: %w", req.TaskID, err)
	}
	return &out, nil
}

func (c *Client) getCurrentDraft(ctx context.Context, req taskRef) (string, error) {
	var out string
	if err := c.flow.QueryWorkflow(ctx, req.TaskID, QueryCurrentDraft, &out); err != nil {
		return "", fmt.Errorf("task: current draft for %s: %w", req.TaskID, err)
	}
	return out, nil
}

func (c *Client) getInitialWork(ctx context.Context, req taskRef) (string, error) {
	var out string
	if err := c.flow.QueryWorkflow(ctx, req.TaskID, QueryInitialWork, &out); err != nil {
		return "", fmt.Errorf("task: initial work for %s: %w", req.TaskID, err)
	}
	return out, nil
}
