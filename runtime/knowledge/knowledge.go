// Package knowledge resolves the named content blobs an agent owns: prompts,
// instructions, reference documents. Reads go through the central TTL cache
// and a pluggable provider, server backed in production and embedded assets
// in local mode. All operations run through the executor so workflow code can
// call them without breaking determinism.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiansaiplatform/sdk-go/runtime/cache"
	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// Executor dispatch names for the knowledge operations.
const (
	opGet    = "knowledge.get"
	opUpdate = "knowledge.update"
	opDelete = "knowledge.delete"
	opList   = "knowledge.list"
)

// systemTenant keys system scoped entries in cache and local storage.
const systemTenant = "system"

// defaultActivation keys entries that name no activation.
const defaultActivation = "default"

type (
	// Knowledge is one named content blob owned by an agent.
	Knowledge struct {
		// Name identifies the item within its scope.
		Name string `json:"name"`
		// Content is the blob itself.
		Content string `json:"content"`
		// Type describes the content format (markdown, text, json, yaml).
		Type string `json:"type"`
		// Agent is the owning agent name.
		Agent string `json:"agent"`
		// SystemScoped items are shared across tenants.
		SystemScoped bool `json:"systemScoped"`
		// TenantID is the owning tenant; empty for system scoped items.
		TenantID string `json:"tenantId,omitempty"`
	}

	// Scope addresses one knowledge item. An empty TenantID means system
	// scope; an empty Activation means the default activation.
	Scope struct {
		Name       string `json:"name"`
		Agent      string `json:"agent"`
		TenantID   string `json:"tenantId,omitempty"`
		Activation string `json:"activation,omitempty"`
	}

	// UpdateRequest carries an upsert through the executor.
	UpdateRequest struct {
		Scope   Scope  `json:"scope"`
		Content string `json:"content"`
		Type    string `json:"type"`
	}

	// Provider is the storage behind the service. Implementations must
	// return (nil, nil) from Get when the item does not exist.
	Provider interface {
		Get(ctx context.Context, scope Scope) (*Knowledge, error)
		Update(ctx context.Context, scope Scope, content, contentType string) error
		Delete(ctx context.Context, scope Scope) (bool, error)
		List(ctx context.Context, scope Scope) ([]Knowledge, error)
	}

	// Options configures the knowledge service.
	Options struct {
		// Provider resolves and stores items. Required.
		Provider Provider
		// Cache fronts provider reads under the knowledge aspect. Optional.
		Cache *cache.Cache
		// Registry receives the executor operations so workers can dispatch
		// them. Optional for pure client processes.
		Registry *executor.Registry
		// Logger reports misses and invalidations. Optional.
		Logger telemetry.Logger
	}

	// Service is the cached, executor-routed knowledge API.
	Service struct {
		provider Provider
		cache    *cache.Cache
		logger   telemetry.Logger
	}

	// View binds the service to one agent identity so callers address items
	// by name alone.
	View struct {
		svc          *Service
		agent        string
		tenant       string
		systemScoped bool
		activation   string
	}
)

// New constructs the knowledge service and registers its executor operations.
func New(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("knowledge: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Service{provider: opts.Provider, cache: opts.Cache, logger: logger}
	if opts.Registry != nil {
		for op, fn := range map[string]any{
			opGet:    s.get,
			opUpdate: s.update,
			opDelete: s.delete,
			opList:   s.list,
		} {
			if err := opts.Registry.Register(op, fn); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Get fetches the item addressed by req, or nil when it does not exist.
func (s *Service) Get(sc executor.Scope, req Scope) (*Knowledge, error) {
	return executor.Execute(sc, opGet, req, s.get)
}

// GetSystem fetches a system scoped item by name.
func (s *Service) GetSystem(sc executor.Scope, name, agent, activation string) (*Knowledge, error) {
	return s.Get(sc, Scope{Name: name, Agent: agent, Activation: activation})
}

// Update creates or replaces the item addressed by req.Scope and invalidates
// its cache entry.
func (s *Service) Update(sc executor.Scope, req UpdateRequest) error {
	_, err := executor.Execute(sc, opUpdate, req, s.update)
	return err
}

// Delete removes the item, reporting false when it did not exist.
func (s *Service) Delete(sc executor.Scope, req Scope) (bool, error) {
	return executor.Execute(sc, opDelete, req, s.delete)
}

// List returns the agent's items within the scope. Scope.Name is ignored.
func (s *Service) List(sc executor.Scope, req Scope) ([]Knowledge, error) {
	return executor.Execute(sc, opList, req, s.list)
}

// View binds the service to one agent identity.
func (s *Service) View(agent, tenant string, systemScoped bool) *View {
	return &View{svc: s, agent: agent, tenant: tenant, systemScoped: systemScoped}
}

// WithActivation returns a copy of the view addressing a named activation.
func (v *View) WithActivation(activation string) *View {
	copied := *v
	copied.activation = activation
	return &copied
}

// Get fetches the named item within the view's scope, or nil when missing.
func (v *View) Get(sc executor.Scope, name string) (*Knowledge, error) {
	return v.svc.Get(sc, v.scope(name))
}

// GetSystem fetches a system scoped item regardless of the view's tenant.
func (v *View) GetSystem(sc executor.Scope, name string) (*Knowledge, error) {
	return v.svc.GetSystem(sc, name, v.agent, v.activation)
}

// Update creates or replaces the named item within the view's scope.
func (v *View) Update(sc executor.Scope, name, content, contentType string) error {
	return v.svc.Update(sc, UpdateRequest{Scope: v.scope(name), Content: content, Type: contentType})
}

// Delete removes the named item, reporting false when it did not exist.
func (v *View) Delete(sc executor.Scope, name string) (bool, error) {
	return v.svc.Delete(sc, v.scope(name))
}

// List returns the agent's items within the view's scope.
func (v *View) List(sc executor.Scope) ([]Knowledge, error) {
	return v.svc.List(sc, v.scope(""))
}

func (v *View) scope(name string) Scope {
	tenant := v.tenant
	if v.systemScoped {
		tenant = ""
	}
	return Scope{Name: name, Agent: v.agent, TenantID: tenant, Activation: v.activation}
}

// get serves reads from the cache before the provider; misses are cached on
// the way out so repeated reads within the TTL hit the server once.
func (s *Service) get(ctx context.Context, req Scope) (*Knowledge, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}
	key := req.cacheKey()
	var cached Knowledge
	if s.cache.GetJSON(ctx, cache.AspectKnowledge, key, &cached) {
		return &cached, nil
	}
	item, err := s.provider.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	if item == nil {
		s.logger.Debug(ctx, "knowledge not found", "name", req.Name, "agent", req.Agent)
		return nil, nil
	}
	s.cache.SetJSON(ctx, cache.AspectKnowledge, key, item)
	return item, nil
}

func (s *Service) update(ctx context.Context, req UpdateRequest) (bool, error) {
	if err := req.Scope.validate(true); err != nil {
		return false, err
	}
	if err := s.provider.Update(ctx, req.Scope, req.Content, req.Type); err != nil {
		return false, err
	}
	s.cache.Delete(ctx, cache.AspectKnowledge, req.Scope.cacheKey())
	return true, nil
}

func (s *Service) delete(ctx context.Context, req Scope) (bool, error) {
	if err := req.validate(true); err != nil {
		return false, err
	}
	deleted, err := s.provider.Delete(ctx, req)
	if err != nil {
		return false, err
	}
	s.cache.Delete(ctx, cache.AspectKnowledge, req.cacheKey())
	return deleted, nil
}

func (s *Service) list(ctx context.Context, req Scope) ([]Knowledge, error) {
	if err := req.validate(false); err != nil {
		return nil, err
	}
	return s.provider.List(ctx, req)
}

// validate rejects scopes that cannot address an item. Named operations also
// require the item name.
func (s Scope) validate(named bool) error {
	if strings.TrimSpace(s.Agent) == "" {
		return fmt.Errorf("knowledge: agent is required")
	}
	if named && strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("knowledge: name is required")
	}
	return nil
}

// cacheKey encodes the full scope tuple so items never collide across
// tenants, agents or activations.
func (s Scope) cacheKey() string {
	return cache.Key(s.tenantKey(), s.Agent, s.activationKey(), s.Name)
}

func (s Scope) tenantKey() string {
	if s.TenantID == "" {
		return systemTenant
	}
	return s.TenantID
}

func (s Scope) activationKey() string {
	if s.Activation == "" {
		return defaultActivation
	}
	return s.Activation
}
