package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	testWorkflowType = "Support Agent:Default Workflow - Conversational"
	testWorkflowID   = "acme:Support Agent:Default Workflow - Conversational:user-7"
)

type routerFixture struct {
	server *conversationServer
	svc    *Service
	reg    *executor.Registry
	engine *fakeEngine
}

func newRouterFixture(t *testing.T, withEngine bool) *routerFixture {
	t.Helper()
	srv := newConversationServer(t)
	tc, err := transport.New(srv.URL, transport.WithAPIKey("test-key"), transport.WithTenant("acme"))
	require.NoError(t, err)

	fx := &routerFixture{server: srv, reg: executor.NewRegistry()}
	var fc *flow.Client
	if withEngine {
		fx.engine = &fakeEngine{}
		fc = newFakeFlowClient(t, fx.engine)
	}
	svc, err := New(Options{Transport: tc, Flow: fc, Registry: fx.reg})
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

// newEnv builds a workflow test environment that looks like one of our
// conversational executions: identity in the memo, id per the tenant scheme,
// and the service activities registered.
func (fx *routerFixture) newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: testWorkflowID})
	require.NoError(t, env.SetMemoOnStart(map[string]any{
		flow.MemoTenantID:     "acme",
		flow.MemoUserID:       "user-7",
		flow.MemoAgentName:    "Support Agent",
		flow.MemoSystemScoped: "false",
	}))
	fx.reg.Apply(env)
	return env
}

// registerDispatchWorkflow registers a workflow that handles exactly one
// inbound signal through the router.
func registerDispatchWorkflow(env *testsuite.TestWorkflowEnvironment, router *Router) {
	wf := func(wctx workflow.Context) error {
		var msg InboundMessage
		workflow.GetSignalChannel(wctx, SignalInbound).Receive(wctx, &msg)
		return router.Dispatch(wctx, msg)
	}
	env.RegisterWorkflowWithOptions(wf, workflow.RegisterOptions{Name: testWorkflowType})
}

func chatMessage(text string) InboundMessage {
	return InboundMessage{Payload: Payload{
		ParticipantID: "user-7",
		ThreadID:      "thread-1",
		RequestID:     "req-1",
		Text:          text,
		Type:          TypeChat,
	}}
}

func TestRouterDispatchChatAutoReplies(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			return "You said: " + mc.Text(), nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("hello"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	out := sent[0]
	assert.Equal(t, "You said: hello", out.Text)
	assert.Equal(t, "Support Agent", out.Agent)
	assert.Equal(t, testWorkflowID, out.WorkflowID)
	assert.Equal(t, testWorkflowType, out.WorkflowType)
	assert.Equal(t, "user-7", out.ParticipantID)
	assert.Equal(t, "thread-1", out.ThreadID)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, "acme", out.TenantID)
}

func TestRouterDispatchSkipResponse(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			mc.SkipResponse()
			return "discarded", nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("hello"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Empty(t, fx.server.sent())
}

func TestRouterDispatchHandlerErrorRepliesToUser(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(*Context) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("hello"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "handler failures must not fail the workflow")

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Error: backend unavailable", sent[0].Text)
}

func TestRouterDispatchDataHandler(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnData: func(mc *Context) (string, error) {
			var order struct {
				Order int `json:"order"`
			}
			if err := mc.DecodeData(&order); err != nil {
				return "", err
			}
			return fmt.Sprintf("processing order %d", order.Order), nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, InboundMessage{Payload: Payload{
			ParticipantID: "user-7",
			Data:          json.RawMessage(`{"order":112}`),
			Type:          TypeData,
		}})
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "processing order 112", sent[0].Text)
}

func TestRouterDispatchFileHandler(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnFile: func(_ *Context, file *FileAttachment) (string, error) {
			return fmt.Sprintf("received %s (%d bytes, %s)", file.FileName, len(file.Content), file.ContentType), nil
		},
	}))

	data, err := json.Marshal(filePayload{
		Content:     "JVBERi0xLjc=",
		FileName:    "report.pdf",
		ContentType: "application/pdf",
	})
	require.NoError(t, err)

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, InboundMessage{Payload: Payload{
			ParticipantID: "user-7",
			Data:          data,
			Type:          TypeFile,
		}})
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "received report.pdf (8 bytes, application/pdf)", sent[0].Text)
}

func TestRouterDispatchFileDecodeFailureRepliesToUser(t *testing.T) {
	fx := newRouterFixture(t, false)
	handled := false
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnFile: func(*Context, *FileAttachment) (string, error) {
			handled = true
			return "", nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, InboundMessage{Payload: Payload{
			ParticipantID: "user-7",
			Data:          json.RawMessage(`{"content":"not base64!!!","fileName":"x.bin"}`),
			Type:          TypeFile,
		}})
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.False(t, handled, "the handler must not see an undecodable file")

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Error:")
	assert.Contains(t, sent[0].Text, "base64")
}

func TestRouterDispatchDropsUnroutableMessages(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(*Context) (string, error) { return "handled", nil },
	}))

	cases := []struct {
		name string
		msg  InboundMessage
	}{
		{"unknown type", InboundMessage{Payload: Payload{ParticipantID: "user-7", Type: "video"}}},
		{"no handler for type", InboundMessage{Payload: Payload{ParticipantID: "user-7", Type: TypeData}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := fx.newEnv(t)
			registerDispatchWorkflow(env, router)
			env.RegisterDelayedCallback(func() {
				env.SignalWorkflow(SignalInbound, tc.msg)
			}, 0)

			env.ExecuteWorkflow(testWorkflowType)
			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())
			assert.Empty(t, fx.server.sent())
		})
	}
}

func TestRouterDispatchUnregisteredWorkflowType(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("hello"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Empty(t, fx.server.sent())
}

func TestRouterContextPromptHistory(t *testing.T) {
	fx := newRouterFixture(t, false)
	fx.server.seedHistory(
		HistoryMessage{Direction: DirectionIncoming, Text: "hello"},
		HistoryMessage{Direction: DirectionOutgoing, Text: "Welcome!"},
		HistoryMessage{Direction: DirectionIncoming, Text: "hi"},
	)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			prompt, err := mc.PromptHistory(10)
			if err != nil {
				return "", err
			}
			parts := make([]string, len(prompt))
			for i, p := range prompt {
				parts[i] = p.Role + "=" + p.Content
			}
			return strings.Join(parts, ";"), nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("hello"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "user=hi;assistant=Welcome!", sent[0].Text,
		"current message is deduplicated and history is oldest first")

	q := fx.server.lastHistoryQuery()
	assert.Equal(t, "Support Agent", q.Get("agent"))
	assert.Equal(t, testWorkflowType, q.Get("workflowType"))
	assert.Equal(t, "user-7", q.Get("participantId"))
}

func TestRouterContextSendsToOtherAgent(t *testing.T) {
	fx := newRouterFixture(t, true)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			if err := mc.SendChatToBuiltIn("Billing Agent", "Conversational", "escalate: "+mc.Text()); err != nil {
				return "", err
			}
			targetID, targetType, ok := mc.A2ATarget()
			if !ok {
				return "", errors.New("expected a tracked dispatch target")
			}
			return targetID + "|" + targetType, nil
		},
	}))

	env := fx.newEnv(t)
	registerDispatchWorkflow(env, router)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("refund order 112"))
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	starts := fx.engine.recorded()
	require.Len(t, starts, 1)
	rec := starts[0]
	assert.Equal(t, "acme:Billing Agent:Default Workflow - Conversational:user-7", rec.workflowID)
	assert.Equal(t, SignalInbound, rec.signalName)

	signal, ok := rec.signal.(InboundMessage)
	require.True(t, ok)
	assert.Equal(t, "escalate: refund order 112", signal.Payload.Text)
	assert.Equal(t, "Support Agent", signal.SourceAgent)
	assert.Equal(t, testWorkflowID, signal.SourceWorkflowID)
	assert.Equal(t, testWorkflowType, signal.SourceWorkflowType)

	sent := fx.server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "acme:Billing Agent:Default Workflow - Conversational:user-7|Billing Agent:Default Workflow - Conversational", sent[0].Text)
}

func TestRouterLoopServesUntilCanceled(t *testing.T) {
	fx := newRouterFixture(t, false)
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			return "You said: " + mc.Text(), nil
		},
	}))

	env := fx.newEnv(t)
	env.RegisterWorkflowWithOptions(router.Loop, workflow.RegisterOptions{Name: testWorkflowType})
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("first"))
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalInbound, chatMessage("second"))
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Minute)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	assert.True(t, temporal.IsCanceledError(env.GetWorkflowError()))

	sent := fx.server.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "You said: first", sent[0].Text)
	assert.Equal(t, "You said: second", sent[1].Text)
}

func TestRouterLoopContinuesAsNewAndDrains(t *testing.T) {
	fx := newRouterFixture(t, false)
	handled := 0
	router := NewRouter(fx.svc)
	require.NoError(t, router.Register(testWorkflowType, Handlers{
		OnChat: func(mc *Context) (string, error) {
			handled++
			mc.SkipResponse()
			return "", nil
		},
	}))

	env := fx.newEnv(t)
	env.RegisterWorkflowWithOptions(router.Loop, workflow.RegisterOptions{Name: testWorkflowType})
	env.RegisterDelayedCallback(func() {
		for i := 0; i < maxTurnsPerRun+1; i++ {
			env.SignalWorkflow(SignalInbound, chatMessage("bulk"))
		}
	}, 0)

	env.ExecuteWorkflow(testWorkflowType)
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
	assert.Equal(t, maxTurnsPerRun+1, handled, "buffered signals are drained before rolling over")
	assert.Empty(t, fx.server.sent())
}

func TestRouterRegisterValidation(t *testing.T) {
	router := NewRouter(nil)
	require.Error(t, router.Register("", Handlers{}))
	require.NoError(t, router.Register(testWorkflowType, Handlers{}))
	require.Error(t, router.Register(testWorkflowType, Handlers{}))
	assert.True(t, router.HasHandlers(testWorkflowType))
	assert.False(t, router.HasHandlers("Other Agent:Chat"))
}
