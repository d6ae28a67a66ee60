package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/workflow"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/messaging"
)

func TestRegisterValidation(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))

	cases := []struct {
		name    string
		cfg     AgentConfig
		wantErr error
	}{
		{"empty name", AgentConfig{Name: "  "}, ErrInvalidConfig},
		{"name with separator", AgentConfig{Name: "Support:Agent"}, ErrInvalidConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Agents.Register(tc.cfg)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))

	_, err := p.Agents.Register(AgentConfig{Name: "Support Agent"})
	require.NoError(t, err)

	_, err = p.Agents.Register(AgentConfig{Name: "Support Agent"})
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestRegisterAddsTaskWorkflow(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))

	agent, err := p.Agents.Register(AgentConfig{Name: "Support Agent"})
	require.NoError(t, err)

	defs := agent.Workflows.Definitions()
	require.Len(t, defs, 1)
	def := defs[0]
	assert.Equal(t, flow.TaskWorkflowName, def.DisplayName)
	assert.Equal(t, "Support Agent:Task Workflow", def.WorkflowType)
	assert.True(t, def.Builtin)
	assert.True(t, def.Activable)
	assert.Equal(t, 1, def.Workers)
	assert.Equal(t, "acme:Support Agent:Task Workflow", def.Queue())
}

func TestDefineBuiltIn(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Support Agent"})
	require.NoError(t, err)

	def, err := agent.Workflows.DefineBuiltIn(KindConversational)
	require.NoError(t, err)
	assert.Equal(t, "Default Workflow - Conversational", def.DisplayName)
	assert.Equal(t, "Support Agent:Default Workflow - Conversational", def.WorkflowType)
	assert.Equal(t, "acme:Support Agent:Default Workflow - Conversational", def.Queue())
	assert.True(t, def.Builtin)
	assert.True(t, def.Activable)
	assert.Equal(t, 1, def.Workers)

	_, err = agent.Workflows.DefineBuiltIn(KindConversational)
	require.Error(t, err, "kind defined twice")

	_, err = agent.Workflows.DefineBuiltIn("Analytical")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefineBuiltInKinds(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Kind Agent"})
	require.NoError(t, err)

	for _, kind := range []string{KindConversational, KindSupervisor, KindIntegrator, KindWeb, KindFileUpload} {
		def, err := agent.Workflows.DefineBuiltIn(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, "Default Workflow - "+kind, def.DisplayName)
	}
}

func TestDefineCustom(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Reporting Agent"})
	require.NoError(t, err)

	fn := func(workflow.Context, string) error { return nil }
	def, err := agent.Workflows.DefineCustom("Report Workflow", fn,
		WithWorkers(3),
		WithIDPostfix("main"),
		WithDescription("Builds the nightly report."),
	)
	require.NoError(t, err)
	assert.Equal(t, "Reporting Agent:Report Workflow", def.WorkflowType)
	assert.False(t, def.Builtin)
	assert.Equal(t, 3, def.Workers)
	assert.Equal(t, "Builds the nightly report.", def.Description)
	assert.Equal(t, "acme:Reporting Agent:Report Workflow:main", def.DefaultWorkflowID())

	background, err := agent.Workflows.DefineCustom("Background Workflow", fn, WithActivable(false))
	require.NoError(t, err)
	assert.False(t, background.Activable)
}

func TestDefineCustomValidation(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Reporting Agent"})
	require.NoError(t, err)

	fn := func(workflow.Context) error { return nil }

	_, err = agent.Workflows.DefineCustom("", fn)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = agent.Workflows.DefineCustom("Bad:Name", fn)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = agent.Workflows.DefineCustom("Report Workflow", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = agent.Workflows.DefineCustom("Report Workflow", fn)
	require.NoError(t, err)
	_, err = agent.Workflows.DefineCustom("Report Workflow", fn)
	assert.ErrorIs(t, err, ErrInvalidConfig, "duplicate display name")
}

func TestSystemScopedAgentQueues(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Scheduler", SystemScoped: true})
	require.NoError(t, err)

	def, err := agent.Workflows.DefineBuiltIn(KindIntegrator)
	require.NoError(t, err)
	assert.True(t, def.SystemScoped, "agent scope carries into the definition")
	assert.Equal(t, def.WorkflowType, def.Queue(), "system scoped queues drop the tenant prefix")
}

func TestDefinitionsSortedByType(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Support Agent"})
	require.NoError(t, err)

	_, err = agent.Workflows.DefineBuiltIn(KindWeb)
	require.NoError(t, err)
	_, err = agent.Workflows.DefineBuiltIn(KindConversational)
	require.NoError(t, err)

	var types []string
	for _, def := range agent.Workflows.Definitions() {
		types = append(types, def.WorkflowType)
	}
	assert.Equal(t, []string{
		"Support Agent:Default Workflow - Conversational",
		"Support Agent:Default Workflow - Web",
		"Support Agent:Task Workflow",
	}, types)
}

func TestDefinitionHandleBindsRouter(t *testing.T) {
	p := newTestPlatform(t, newPlatformServer(t))
	agent, err := p.Agents.Register(AgentConfig{Name: "Support Agent"})
	require.NoError(t, err)
	def, err := agent.Workflows.DefineBuiltIn(KindConversational)
	require.NoError(t, err)

	require.False(t, p.Router().HasHandlers(def.WorkflowType))
	require.NoError(t, def.Handle(messaging.Handlers{
		OnChat: func(mc *messaging.Context) (string, error) { return "ok", nil },
	}))
	assert.True(t, p.Router().HasHandlers(def.WorkflowType))
}
