package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xiansaiplatform/sdk-go/runtime/flow"
	"github.com/xiansaiplatform/sdk-go/runtime/messaging"
	"github.com/xiansaiplatform/sdk-go/runtime/task"
)

// Built-in workflow kinds. Each expands to the display name
// "Default Workflow - {kind}" and is hosted by the SDK's conversation loop.
const (
	KindConversational = "Conversational"
	KindSupervisor     = "Supervisor"
	KindIntegrator     = "Integrator"
	KindWeb            = "Web"
	KindFileUpload     = "File Upload"
)

// defaultWorkers is the worker count a definition gets when none is chosen.
const defaultWorkers = 1

type (
	// AgentConfig describes an agent to register. Name is required and
	// unique within the tenant; system scoped agents are unique globally
	// and their queues drop the tenant prefix.
	AgentConfig struct {
		Name         string
		Description  string
		Version      string
		Author       string
		SystemScoped bool
		IsTemplate   bool
	}

	// AgentRegistry holds the agents this process hosts. Registration is
	// open until RunAll starts workers, read-only after.
	AgentRegistry struct {
		platform *Platform

		mu     sync.Mutex
		agents map[string]*Agent
		order  []string
		closed bool
	}

	// Agent is a registered agent with its workflow definitions and
	// schedules.
	Agent struct {
		// Workflows holds the agent's workflow definitions.
		Workflows *WorkflowSet
		// Schedules creates and manages periodic starts of the agent's
		// workflows.
		Schedules *ScheduleSet

		platform *Platform
		config   AgentConfig
	}

	// WorkflowSet collects the workflow definitions of one agent.
	WorkflowSet struct {
		agent *Agent

		mu     sync.Mutex
		defs   []*Definition
		byName map[string]*Definition
	}

	// Definition is one workflow an agent exposes: its engine identity plus
	// the function workers host. Fields are fixed at definition time.
	Definition struct {
		// Agent is the owning agent name.
		Agent string
		// DisplayName is the human-readable workflow name.
		DisplayName string
		// WorkflowType is the engine type "{agent}:{displayName}".
		WorkflowType string
		// Builtin reports whether the SDK provides the workflow body.
		Builtin bool
		// Activable definitions get a worker pool in RunAll.
		Activable bool
		// Workers is the worker count started for the definition.
		Workers int
		// SystemScoped mirrors the agent scope into queue derivation.
		SystemScoped bool
		// Description is carried in the definition upload.
		Description string
		// IDPostfix pins the default activation id for scheduled and
		// singleton starts.
		IDPostfix string

		tenantID string
		fn       any
		platform *Platform
	}

	// DefinitionOption tweaks a Definition at define time.
	DefinitionOption func(*Definition)
)

// WithWorkers sets the worker count started for the definition.
func WithWorkers(n int) DefinitionOption {
	return func(d *Definition) { d.Workers = n }
}

// WithActivable controls whether RunAll starts workers for the definition.
// Non-activable definitions are still uploaded so other processes can host
// them.
func WithActivable(on bool) DefinitionOption {
	return func(d *Definition) { d.Activable = on }
}

// WithIDPostfix pins the activation postfix of the definition's default
// workflow id.
func WithIDPostfix(postfix string) DefinitionOption {
	return func(d *Definition) { d.IDPostfix = postfix }
}

// WithDescription attaches a description to the definition upload.
func WithDescription(desc string) DefinitionOption {
	return func(d *Definition) { d.Description = desc }
}

func newAgentRegistry(p *Platform) *AgentRegistry {
	return &AgentRegistry{platform: p, agents: make(map[string]*Agent)}
}

// Register adds an agent. The name must be non-empty, free of the id
// separator and unused within the tenant. Every agent automatically carries
// the human task workflow so its tasks run on the agent's own queues.
func (r *AgentRegistry) Register(cfg AgentConfig) (*Agent, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: agent name is required", ErrInvalidConfig)
	}
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("%w: agent name %q must not contain %q", ErrInvalidConfig, name, ":")
	}
	cfg.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistrationClosed
	}
	if _, exists := r.agents[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateAgent, name)
	}

	a := &Agent{platform: r.platform, config: cfg}
	a.Workflows = &WorkflowSet{agent: a, byName: make(map[string]*Definition)}
	a.Schedules = &ScheduleSet{agent: a}
	if _, err := a.Workflows.define(flow.TaskWorkflowName, task.Workflow, true,
		WithDescription("Hosts human tasks: draft review, actions and timeouts.")); err != nil {
		return nil, err
	}
	r.agents[name] = a
	r.order = append(r.order, name)
	return a, nil
}

// Get returns the registered agent by name.
func (r *AgentRegistry) Get(name string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[name]
	return a, ok
}

// All returns the registered agents in registration order.
func (r *AgentRegistry) All() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// close stops further registration; RunAll invokes it before starting
// workers so the definition set workers host is fixed.
func (r *AgentRegistry) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.config.Name }

// Config returns the registration config.
func (a *Agent) Config() AgentConfig { return a.config }

// DefineBuiltIn adds an SDK-hosted workflow of the given kind. The display
// name becomes "Default Workflow - {kind}" and the workflow body is the
// conversation loop, so handlers bound via Definition.Handle drive it.
func (s *WorkflowSet) DefineBuiltIn(kind string, opts ...DefinitionOption) (*Definition, error) {
	switch kind {
	case KindConversational, KindSupervisor, KindIntegrator, KindWeb, KindFileUpload:
	default:
		return nil, fmt.Errorf("%w: unknown built-in workflow kind %q", ErrInvalidConfig, kind)
	}
	return s.define(flow.BuiltinWorkflowName(kind), s.agent.platform.router.Loop, true, opts...)
}

// DefineCustom adds a workflow hosted by the given function. The function
// must follow the engine's workflow signature rules; it is registered under
// the type "{agent}:{name}".
func (s *WorkflowSet) DefineCustom(name string, fn any, opts ...DefinitionOption) (*Definition, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: workflow function is required", ErrInvalidConfig)
	}
	return s.define(name, fn, false, opts...)
}

func (s *WorkflowSet) define(displayName string, fn any, builtin bool, opts ...DefinitionOption) (*Definition, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: workflow name is required", ErrInvalidConfig)
	}
	if strings.Contains(displayName, ":") {
		return nil, fmt.Errorf("%w: workflow name %q must not contain %q", ErrInvalidConfig, displayName, ":")
	}

	p := s.agent.platform
	d := &Definition{
		Agent:        s.agent.config.Name,
		DisplayName:  displayName,
		WorkflowType: flow.WorkflowType(s.agent.config.Name, displayName),
		Builtin:      builtin,
		Activable:    true,
		Workers:      defaultWorkers,
		SystemScoped: s.agent.config.SystemScoped,
		tenantID:     p.tenantID,
		fn:           fn,
		platform:     p,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.Workers <= 0 {
		d.Workers = defaultWorkers
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[displayName]; exists {
		return nil, fmt.Errorf("%w: workflow %q already defined on agent %q", ErrInvalidConfig, displayName, s.agent.config.Name)
	}
	s.byName[displayName] = d
	s.defs = append(s.defs, d)
	return d, nil
}

// Definitions returns the agent's definitions sorted by workflow type.
func (s *WorkflowSet) Definitions() []*Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Definition, len(s.defs))
	copy(out, s.defs)
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowType < out[j].WorkflowType })
	return out
}

// Get returns the definition with the given display name.
func (s *WorkflowSet) Get(displayName string) (*Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byName[displayName]
	return d, ok
}

// Queue returns the engine task queue the definition's workers subscribe to.
func (d *Definition) Queue() string {
	return flow.TaskQueue(d.WorkflowType, d.SystemScoped, d.tenantID)
}

// DefaultWorkflowID returns the activation id used by scheduled and
// singleton starts: "{tenant}:{workflowType}[:{idPostfix}]".
func (d *Definition) DefaultWorkflowID() string {
	return flow.BuildWorkflowID(d.tenantID, d.WorkflowType, d.IDPostfix)
}

// Handle binds conversation handlers to the definition's workflow type.
// Built-in workflows do nothing without handlers; custom workflows may bind
// handlers too when they drain the inbound signal through the router.
func (d *Definition) Handle(h messaging.Handlers) error {
	return d.platform.router.Register(d.WorkflowType, h)
}
