// Package task implements human-in-the-loop tasks as child workflows. A task
// carries a piece of draft work to a participant, waits for draft edits and a
// final action (or a timeout), and hands the outcome back to the parent
// workflow. External processes drive the task through signals and queries on
// the flow engine; the parent blocks on the child result.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
)

// Actions offered when a request names none.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// taskNameSeparator splits the task name off the derived workflow id.
const taskNameSeparator = "--"

// extraExecutionWindow pads the workflow execution timeout beyond the task
// timeout so late queries against a finished task still find it.
const extraExecutionWindow = 24 * time.Hour

// DefaultActions returns the action set used when a request has none.
func DefaultActions() []string { return []string{ActionApprove, ActionReject} }

type (
	// Request describes a task to hand to a participant. Title and
	// Description are required. ParticipantID falls back to the parent
	// workflow's acting user; a missing participant on both sides fails
	// validation.
	Request struct {
		Title              string            `json:"title"`
		Description        string            `json:"description"`
		DraftWork          string            `json:"draftWork,omitempty"`
		ParticipantID      string            `json:"participantId,omitempty"`
		Metadata           map[string]string `json:"metadata,omitempty"`
		Actions            []string          `json:"actions,omitempty"`
		Timeout            time.Duration     `json:"timeout,omitempty"`
		SurviveParentClose bool              `json:"surviveParentClose,omitempty"`
		TaskName           string            `json:"taskName,omitempty"`
		RetryPolicy        flow.RetryPolicy  `json:"retryPolicy,omitempty"`
	}

	// Params is the child workflow input assembled from a validated
	// Request.
	Params struct {
		TaskID        string            `json:"taskId"`
		Title         string            `json:"title"`
		Description   string            `json:"description"`
		InitialWork   string            `json:"initialWork,omitempty"`
		ParticipantID string            `json:"participantId"`
		Metadata      map[string]string `json:"metadata,omitempty"`
		Actions       []string          `json:"actions"`
		Timeout       time.Duration     `json:"timeout,omitempty"`
	}

	// Info is the queryable task snapshot.
	Info struct {
		TaskID           string            `json:"taskId"`
		Title            string            `json:"title"`
		Description      string            `json:"description"`
		InitialWork      string            `json:"initialWork,omitempty"`
		FinalWork        string            `json:"finalWork,omitempty"`
		AvailableActions []string          `json:"availableActions"`
		IsCompleted      bool              `json:"isCompleted"`
		TimedOut         bool              `json:"timedOut,omitempty"`
		PerformedAction  string            `json:"performedAction,omitempty"`
		Comment          string            `json:"comment,omitempty"`
		ParticipantID    string            `json:"participantId"`
		Metadata         map[string]string `json:"metadata,omitempty"`
	}

	// Result is what the parent receives when the task reaches a terminal
	// state. PerformedAction is empty when the task timed out.
	Result struct {
		TaskID          string    `json:"taskId"`
		InitialWork     string    `json:"initialWork,omitempty"`
		FinalWork       string    `json:"finalWork,omitempty"`
		CompletedAt     time.Time `json:"completedAt,omitempty"`
		PerformedAction string    `json:"performedAction,omitempty"`
		Comment         string    `json:"comment,omitempty"`
		TimedOut        bool      `json:"timedOut,omitempty"`
	}

	// ActionRequest is the performAction signal payload.
	ActionRequest struct {
		Action  string `json:"action"`
		Comment string `json:"comment,omitempty"`
	}
)

// normalize applies the request defaults that need no workflow context.
func (r Request) normalize() Request {
	if len(r.Actions) == 0 {
		r.Actions = DefaultActions()
	}
	if (r.RetryPolicy == flow.RetryPolicy{}) {
		r.RetryPolicy = flow.SingleAttempt()
	}
	return r
}

// validate checks the request after participant inheritance was applied.
func (r Request) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("task: title is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("task: description is required")
	}
	if r.ParticipantID == "" {
		return fmt.Errorf("task: participant is required and the parent workflow names no acting user")
	}
	return nil
}

// WorkflowID derives the task workflow id for an agent's task under the
// tenant's id scheme. The idPostfix is the activation postfix of the workflow
// that owns the task, so tasks sharing a name under different activations get
// distinct ids.
func WorkflowID(tenantID, agentName, idPostfix, taskName string) string {
	workflowType := flow.WorkflowType(agentName, flow.TaskWorkflowName)
	return flow.BuildWorkflowID(tenantID, workflowType, idPostfix) + taskNameSeparator + taskName
}

// TaskNameFromID recovers the task name from a task workflow id.
func TaskNameFromID(taskID string) string {
	if i := strings.LastIndex(taskID, taskNameSeparator); i >= 0 {
		return taskID[i+len(taskNameSeparator):]
	}
	return ""
}

// status renders the task state for humans.
func (i Info) status() string {
	switch {
	case i.TimedOut:
		return "timed out"
	case i.IsCompleted:
		return fmt.Sprintf("completed (%s)", i.PerformedAction)
	default:
		return "pending"
	}
}

// Summary renders the task as a short human-readable report.
func (i Info) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %q (%s)\n", i.Title, i.TaskID)
	fmt.Fprintf(&b, "Status: %s\n", i.status())
	if i.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", i.Comment)
	}
	fmt.Fprintf(&b, "Description: %s\n", i.Description)
	fmt.Fprintf(&b, "Assigned to: %s\n", i.ParticipantID)
	fmt.Fprintf(&b, "Available actions: %s\n", strings.Join(i.AvailableActions, ", "))
	if i.FinalWork != "" {
		fmt.Fprintf(&b, "Final work:\n%s\n", i.FinalWork)
	} else if i.InitialWork != "" {
		fmt.Fprintf(&b, "Initial work:\n%s\n", i.InitialWork)
	}
	return b.String()
}
