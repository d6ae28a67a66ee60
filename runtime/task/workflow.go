package task

import (
	"time"

	"go.temporal.io/sdk/workflow"
)

// Signal and query names on every task workflow.
const (
	SignalUpdateDraft   = "updateDraft"
	SignalPerformAction = "performAction"

	QueryInfo         = "getTaskInfo"
	QueryCurrentDraft = "getCurrentDraft"
	QueryInitialWork  = "getInitialWork"
)

// Workflow runs a single task until a participant performs one of the
// available actions or the task times out. Draft updates are accepted while
// the task is pending; actions outside the available set are rejected and
// leave the task pending. Platform workers register this function under each
// agent's task workflow type.
func Workflow(wctx workflow.Context, in Params) (*Result, error) {
	logger := workflow.GetLogger(wctx)
	st := newState(in)

	if err := workflow.SetQueryHandler(wctx, QueryInfo, st.info); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(wctx, QueryCurrentDraft, st.currentDraft); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(wctx, QueryInitialWork, st.initialWork); err != nil {
		return nil, err
	}

	drafts := workflow.GetSignalChannel(wctx, SignalUpdateDraft)
	actions := workflow.GetSignalChannel(wctx, SignalPerformAction)

	sel := workflow.NewSelector(wctx)
	sel.AddReceive(drafts, func(ch workflow.ReceiveChannel, _ bool) {
		var draft string
		ch.Receive(wctx, &draft)
		st.draft = draft
	})
	sel.AddReceive(actions, func(ch workflow.ReceiveChannel, _ bool) {
		var req ActionRequest
		ch.Receive(wctx, &req)
		if !st.allowed(req.Action) {
			logger.Warn("rejecting action outside the available set",
				"taskId", in.TaskID, "action", req.Action, "available", st.actions)
			return
		}
		st.complete(req, workflow.Now(wctx))
	})

	var cancelTimer workflow.CancelFunc
	if in.Timeout > 0 {
		var tctx workflow.Context
		tctx, cancelTimer = workflow.WithCancel(wctx)
		sel.AddFuture(workflow.NewTimer(tctx, in.Timeout), func(f workflow.Future) {
			if err := f.Get(tctx, nil); err != nil {
				return
			}
			logger.Info("task timed out", "taskId", in.TaskID, "timeout", in.Timeout)
			st.expire(workflow.Now(wctx))
		})
	}

	for !st.terminal() {
		sel.Select(wctx)
	}
	if cancelTimer != nil {
		cancelTimer()
	}

	// The first settling event wins; whatever is still buffered is dropped.
	var lateDraft string
	for drafts.ReceiveAsync(&lateDraft) {
		logger.Info("ignoring draft update, task already settled", "taskId", in.TaskID)
	}
	var lateAction ActionRequest
	for actions.ReceiveAsync(&lateAction) {
		logger.Info("ignoring action, task already settled", "taskId", in.TaskID, "action", lateAction.Action)
	}

	return st.result(), nil
}

// state is the task workflow's mutable view of one task.
type state struct {
	params      Params
	actions     []string
	draft       string
	completed   bool
	timedOut    bool
	action      string
	comment     string
	completedAt time.Time
}

func newState(in Params) *state {
	actions := in.Actions
	if len(actions) == 0 {
		actions = DefaultActions()
	}
	return &state{params: in, actions: actions, draft: in.InitialWork}
}

func (s *state) terminal() bool { return s.completed || s.timedOut }

func (s *state) allowed(action string) bool {
	for _, a := range s.actions {
		if a == action {
			return true
		}
	}
	return false
}

func (s *state) complete(req ActionRequest, at time.Time) {
	s.completed = true
	s.action = req.Action
	s.comment = req.Comment
	s.completedAt = at
}

func (s *state) expire(at time.Time) {
	s.timedOut = true
	s.completedAt = at
}

// finalWork is the draft frozen at settlement, empty while pending.
func (s *state) finalWork() string {
	if s.terminal() {
		return s.draft
	}
	return ""
}

func (s *state) info() (Info, error) {
	return Info{
		TaskID:           s.params.TaskID,
		Title:            s.params.Title,
		Description:      s.params.Description,
		InitialWork:      s.params.InitialWork,
		FinalWork:        s.finalWork(),
		AvailableActions: s.actions,
		IsCompleted:      s.completed,
		TimedOut:         s.timedOut,
		PerformedAction:  s.action,
		Comment:          s.comment,
		ParticipantID:    s.params.ParticipantID,
		Metadata:         s.params.Metadata,
	}, nil
}

func (s *state) currentDraft() (string, error) { return s.draft, nil }

func (s *state) initialWork() (string, error) { return s.params.InitialWork, nil }

func (s *state) result() *Result {
	return &Result{
		TaskID:          s.params.TaskID,
		InitialWork:     s.params.InitialWork,
		FinalWork:       s.finalWork(),
		CompletedAt:     s.completedAt,
		PerformedAction: s.action,
		Comment:         s.comment,
		TimedOut:        s.timedOut,
	}
}
