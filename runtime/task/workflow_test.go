package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

const testTaskID = "acme:Support Agent:Task Workflow--review-1"

func newTaskEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(Workflow)
	return env
}

func reviewParams() Params {
	return Params{
		TaskID:        testTaskID,
		Title:         "Review refund",
		Description:   "Refund for order 42 needs a human decision.",
		InitialWork:   "Refund $100 to the customer.",
		ParticipantID: "user-7",
		Actions:       []string{ActionApprove, ActionReject, "hold"},
		Timeout:       time.Hour,
	}
}

func taskResult(t *testing.T, env *testsuite.TestWorkflowEnvironment) Result {
	t.Helper()
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var res Result
	require.NoError(t, env.GetWorkflowResult(&res))
	return res
}

func TestTaskWorkflowActionSettles(t *testing.T) {
	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionApprove, Comment: "ship it"})
	}, time.Minute)

	env.ExecuteWorkflow(Workflow, reviewParams())

	res := taskResult(t, env)
	assert.Equal(t, testTaskID, res.TaskID)
	assert.Equal(t, ActionApprove, res.PerformedAction)
	assert.Equal(t, "ship it", res.Comment)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "Refund $100 to the customer.", res.InitialWork)
	assert.Equal(t, "Refund $100 to the customer.", res.FinalWork)
	assert.False(t, res.CompletedAt.IsZero())
}

func TestTaskWorkflowTimesOut(t *testing.T) {
	env := newTaskEnv(t)

	env.ExecuteWorkflow(Workflow, reviewParams())

	res := taskResult(t, env)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.PerformedAction)
	assert.Empty(t, res.Comment)
	assert.Equal(t, "Refund $100 to the customer.", res.FinalWork)
	assert.False(t, res.CompletedAt.IsZero())
}

func TestTaskWorkflowDraftFrozenAtSettlement(t *testing.T) {
	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalUpdateDraft, "Refund $80, partial return.")
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalUpdateDraft, "Refund $60, restocking fee applies.")
	}, 2*time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionReject, Comment: "amount too high"})
	}, 3*time.Minute)

	env.ExecuteWorkflow(Workflow, reviewParams())

	res := taskResult(t, env)
	assert.Equal(t, ActionReject, res.PerformedAction)
	assert.Equal(t, "Refund $60, restocking fee applies.", res.FinalWork)
	assert.Equal(t, "Refund $100 to the customer.", res.InitialWork)
}

func TestTaskWorkflowRejectsUnknownAction(t *testing.T) {
	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: "escalate"})
	}, time.Minute)
	// Still pending after the rejected action: the info query must say so.
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(QueryInfo)
		require.NoError(t, err)
		var info Info
		require.NoError(t, val.Get(&info))
		assert.False(t, info.IsCompleted)
		assert.False(t, info.TimedOut)
		assert.Empty(t, info.PerformedAction)
	}, 2*time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: "hold", Comment: "needs finance"})
	}, 3*time.Minute)

	env.ExecuteWorkflow(Workflow, reviewParams())

	res := taskResult(t, env)
	assert.Equal(t, "hold", res.PerformedAction)
	assert.Equal(t, "needs finance", res.Comment)
}

func TestTaskWorkflowDefaultActions(t *testing.T) {
	in := reviewParams()
	in.Actions = nil

	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionReject})
	}, time.Minute)

	env.ExecuteWorkflow(Workflow, in)

	res := taskResult(t, env)
	assert.Equal(t, ActionReject, res.PerformedAction)
}

func TestTaskWorkflowNoTimeoutWaitsForAction(t *testing.T) {
	in := reviewParams()
	in.Timeout = 0

	env := newTaskEnv(t)
	// Far past where the one-hour timer would have fired.
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionApprove})
	}, 48*time.Hour)

	env.ExecuteWorkflow(Workflow, in)

	res := taskResult(t, env)
	assert.False(t, res.TimedOut)
	assert.Equal(t, ActionApprove, res.PerformedAction)
}

func TestTaskWorkflowQueries(t *testing.T) {
	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalUpdateDraft, "Refund $80.")
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(QueryCurrentDraft)
		require.NoError(t, err)
		var draft string
		require.NoError(t, val.Get(&draft))
		assert.Equal(t, "Refund $80.", draft)

		val, err = env.QueryWorkflow(QueryInitialWork)
		require.NoError(t, err)
		var initial string
		require.NoError(t, val.Get(&initial))
		assert.Equal(t, "Refund $100 to the customer.", initial)

		val, err = env.QueryWorkflow(QueryInfo)
		require.NoError(t, err)
		var info Info
		require.NoError(t, val.Get(&info))
		assert.Equal(t, "Review refund", info.Title)
		assert.Empty(t, info.FinalWork, "final work stays empty while pending")
		assert.Equal(t, []string{ActionApprove, ActionReject, "hold"}, info.AvailableActions)
	}, 2*time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionApprove})
	}, 3*time.Minute)

	env.ExecuteWorkflow(Workflow, reviewParams())

	require.True(t, env.IsWorkflowCompleted())
	val, err := env.QueryWorkflow(QueryInfo)
	require.NoError(t, err)
	var info Info
	require.NoError(t, val.Get(&info))
	assert.True(t, info.IsCompleted)
	assert.Equal(t, ActionApprove, info.PerformedAction)
	assert.Equal(t, "Refund $80.", info.FinalWork)
}

func TestTaskWorkflowFirstActionWins(t *testing.T) {
	env := newTaskEnv(t)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionApprove, Comment: "first"})
		// Buffered behind the settling action in the same workflow task.
		env.SignalWorkflow(SignalPerformAction, ActionRequest{Action: ActionReject, Comment: "second"})
	}, time.Minute)

	env.ExecuteWorkflow(Workflow, reviewParams())

	res := taskResult(t, env)
	assert.Equal(t, ActionApprove, res.PerformedAction)
	assert.Equal(t, "first", res.Comment)
	assert.Equal(t, "Refund $100 to the customer.", res.FinalWork)
}
