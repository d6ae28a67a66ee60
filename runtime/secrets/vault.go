// Package secrets is the agent's view on the server-side secret vault.
// Records live in a scope lattice (tenant, agent, user, each optional) and
// are addressed by key within their scope. Reads and writes run through the
// executor so workflow code stays deterministic; secret values are never
// cached on the client.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	basePath  = "/api/agent/secrets"
	fetchPath = "/api/agent/secrets/fetch"

	// maxKeyLength bounds secret keys on writes and fetches.
	maxKeyLength = 512
)

// Executor dispatch names for the vault operations.
const (
	opCreate = "secrets.create"
	opFetch  = "secrets.fetch"
	opList   = "secrets.list"
	opGet    = "secrets.get"
	opUpdate = "secrets.update"
	opDelete = "secrets.delete"
)

// ErrDuplicateKey reports a create with a key that already exists in scope.
var ErrDuplicateKey = errors.New("secrets: key already exists in scope")

type (
	// Secret is the full vault record. List responses omit Value; only
	// FetchByKey and GetByID return decrypted material.
	Secret struct {
		ID             string    `json:"id"`
		Key            string    `json:"key"`
		Value          string    `json:"value,omitempty"`
		AdditionalData string    `json:"additionalData,omitempty"`
		TenantID       string    `json:"tenantId,omitempty"`
		AgentName      string    `json:"agentName,omitempty"`
		UserID         string    `json:"userId,omitempty"`
		CreatedAt      time.Time `json:"createdAt,omitempty"`
		UpdatedAt      time.Time `json:"updatedAt,omitempty"`
	}

	// Value is the decrypted material FetchByKey returns.
	Value struct {
		Value          string `json:"value"`
		AdditionalData string `json:"additionalData,omitempty"`
	}

	// Options configures the vault.
	Options struct {
		// Transport is the authenticated server client. Required.
		Transport *transport.Client
		// Registry receives the executor operations. Optional for pure
		// client processes.
		Registry *executor.Registry
		// Logger reports lookups. Optional.
		Logger telemetry.Logger
	}

	// Vault is the executor-routed secret API. Narrow it with TenantScope,
	// AgentScope and UserScope before operating.
	Vault struct {
		transport *transport.Client
		logger    telemetry.Logger
	}

	// ScopedVault is a vault narrowed to a scope. Values are copies; builder
	// calls never mutate their receiver.
	ScopedVault struct {
		vault *Vault
		scope scopeRef
	}

	// scopeRef names the scope a record lives in. Empty fields widen the
	// scope.
	scopeRef struct {
		TenantID  string `json:"tenantId,omitempty"`
		AgentName string `json:"agentName,omitempty"`
		UserID    string `json:"userId,omitempty"`
	}

	createRequest struct {
		Scope          scopeRef `json:"scope"`
		Key            string   `json:"key"`
		Value          string   `json:"value"`
		AdditionalData string   `json:"additionalData,omitempty"`
	}

	fetchRequest struct {
		Scope scopeRef `json:"scope"`
		Key   string   `json:"key"`
	}

	listRequest struct {
		Scope scopeRef `json:"scope"`
	}

	idRequest struct {
		Scope scopeRef `json:"scope"`
		ID    string   `json:"id"`
	}

	updateRequest struct {
		Scope          scopeRef `json:"scope"`
		ID             string   `json:"id"`
		Value          string   `json:"value"`
		AdditionalData string   `json:"additionalData,omitempty"`
	}

	// secretPayload is the wire body for creates and updates.
	secretPayload struct {
		ID             string `json:"id,omitempty"`
		Key            string `json:"key,omitempty"`
		Value          string `json:"value,omitempty"`
		AdditionalData string `json:"additionalData,omitempty"`
		TenantID       string `json:"tenantId,omitempty"`
		AgentName      string `json:"agentName,omitempty"`
		UserID         string `json:"userId,omitempty"`
	}
)

// New constructs the vault and registers its executor operations.
func New(opts Options) (*Vault, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("secrets: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	v := &Vault{transport: opts.Transport, logger: logger}
	if opts.Registry != nil {
		for op, fn := range map[string]any{
			opCreate: v.create,
			opFetch:  v.fetch,
			opList:   v.list,
			opGet:    v.getByID,
			opUpdate: v.update,
			opDelete: v.delete,
		} {
			if err := opts.Registry.Register(op, fn); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// TenantScope starts a scope chain at the given tenant.
func (v *Vault) TenantScope(tenant string) *ScopedVault {
	return &ScopedVault{vault: v, scope: scopeRef{TenantID: tenant}}
}

// AgentScope starts a scope chain at the given agent.
func (v *Vault) AgentScope(agent string) *ScopedVault {
	return &ScopedVault{vault: v, scope: scopeRef{AgentName: agent}}
}

// UserScope starts a scope chain at the given user.
func (v *Vault) UserScope(user string) *ScopedVault {
	return &ScopedVault{vault: v, scope: scopeRef{UserID: user}}
}

// TenantScope returns a copy of the scope with the tenant set.
func (s *ScopedVault) TenantScope(tenant string) *ScopedVault {
	copied := *s
	copied.scope.TenantID = tenant
	return &copied
}

// AgentScope returns a copy of the scope with the agent set.
func (s *ScopedVault) AgentScope(agent string) *ScopedVault {
	copied := *s
	copied.scope.AgentName = agent
	return &copied
}

// UserScope returns a copy of the scope with the user set.
func (s *ScopedVault) UserScope(user string) *ScopedVault {
	copied := *s
	copied.scope.UserID = user
	return &copied
}

// Create stores a new secret in scope. A key that already exists in the same
// scope fails with ErrDuplicateKey.
func (s *ScopedVault) Create(sc executor.Scope, key, value, additionalData string) (*Secret, error) {
	req := createRequest{Scope: s.scope, Key: key, Value: value, AdditionalData: additionalData}
	return executor.Execute(sc, opCreate, req, s.vault.create)
}

// FetchByKey returns the decrypted material for the key, or nil when no
// record exists in scope.
func (s *ScopedVault) FetchByKey(sc executor.Scope, key string) (*Value, error) {
	return executor.Execute(sc, opFetch, fetchRequest{Scope: s.scope, Key: key}, s.vault.fetch)
}

// List returns the records in scope. Values are omitted.
func (s *ScopedVault) List(sc executor.Scope) ([]Secret, error) {
	return executor.Execute(sc, opList, listRequest{Scope: s.scope}, s.vault.list)
}

// GetByID returns the full record, or nil when it does not exist.
func (s *ScopedVault) GetByID(sc executor.Scope, id string) (*Secret, error) {
	return executor.Execute(sc, opGet, idRequest{Scope: s.scope, ID: id}, s.vault.getByID)
}

// Update replaces the value and additional data of an existing record.
func (s *ScopedVault) Update(sc executor.Scope, id, value, additionalData string) (*Secret, error) {
	req := updateRequest{Scope: s.scope, ID: id, Value: value, AdditionalData: additionalData}
	return executor.Execute(sc, opUpdate, req, s.vault.update)
}

// Delete removes the record, reporting false when it did not exist.
func (s *ScopedVault) Delete(sc executor.Scope, id string) (bool, error) {
	return executor.Execute(sc, opDelete, idRequest{Scope: s.scope, ID: id}, s.vault.delete)
}

func (v *Vault) create(ctx context.Context, req createRequest) (*Secret, error) {
	if err := validateKey(req.Key, true); err != nil {
		return nil, err
	}
	body := secretPayload{
		Key:            req.Key,
		Value:          req.Value,
		AdditionalData: req.AdditionalData,
		TenantID:       req.Scope.TenantID,
		AgentName:      req.Scope.AgentName,
		UserID:         req.Scope.UserID,
	}
	var out Secret
	if _, err := v.client(req.Scope).PostJSON(ctx, basePath, body, &out); err != nil {
		if transport.IsConflict(err) {
			return nil, fmt.Errorf("create %q: %w", req.Key, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("secrets: create %q: %w", req.Key, err)
	}
	return &out, nil
}

func (v *Vault) fetch(ctx context.Context, req fetchRequest) (*Value, error) {
	if err := validateKey(req.Key, false); err != nil {
		return nil, err
	}
	q := req.Scope.query()
	q.Set("key", req.Key)
	var out Value
	found, err := v.client(req.Scope).GetJSON(ctx, fetchPath, q, &out)
	if err != nil {
		return nil, fmt.Errorf("secrets: fetch %q: %w", req.Key, err)
	}
	if !found {
		v.logger.Debug(ctx, "secret not found", "key", req.Key)
		return nil, nil
	}
	return &out, nil
}

func (v *Vault) list(ctx context.Context, req listRequest) ([]Secret, error) {
	var out []Secret
	if _, err := v.client(req.Scope).GetJSON(ctx, basePath, req.Scope.query(), &out); err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}
	return out, nil
}

func (v *Vault) getByID(ctx context.Context, req idRequest) (*Secret, error) {
	q := req.Scope.query()
	q.Set("id", req.ID)
	var out Secret
	found, err := v.client(req.Scope).GetJSON(ctx, basePath, q, &out)
	if err != nil {
		return nil, fmt.Errorf("secrets: get %s: %w", req.ID, err)
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

func (v *Vault) update(ctx context.Context, req updateRequest) (*Secret, error) {
	body := secretPayload{
		ID:             req.ID,
		Value:          req.Value,
		AdditionalData: req.AdditionalData,
		TenantID:       req.Scope.TenantID,
		AgentName:      req.Scope.AgentName,
		UserID:         req.Scope.UserID,
	}
	var out Secret
	found, err := v.client(req.Scope).PutJSON(ctx, basePath, body, &out)
	if err != nil {
		return nil, fmt.Errorf("secrets: update %s: %w", req.ID, err)
	}
	if !found {
		return nil, fmt.Errorf("secrets: update %s: record not found", req.ID)
	}
	return &out, nil
}

func (v *Vault) delete(ctx context.Context, req idRequest) (bool, error) {
	q := req.Scope.query()
	q.Set("id", req.ID)
	deleted, err := v.client(req.Scope).Delete(ctx, basePath, q)
	if err != nil {
		return false, fmt.Errorf("secrets: delete %s: %w", req.ID, err)
	}
	return deleted, nil
}

// client narrows the transport to the scope's tenant when it differs from
// the default identity.
func (v *Vault) client(scope scopeRef) *transport.Client {
	if scope.TenantID != "" && scope.TenantID != v.transport.Tenant() {
		return v.transport.Scoped(scope.TenantID)
	}
	return v.transport
}

func (s scopeRef) query() url.Values {
	q := url.Values{}
	if s.TenantID != "" {
		q.Set("tenantId", s.TenantID)
	}
	if s.AgentName != "" {
		q.Set("agentName", s.AgentName)
	}
	if s.UserID != "" {
		q.Set("userId", s.UserID)
	}
	return q
}

// validateKey bounds key length everywhere and requires a key on writes.
func validateKey(key string, write bool) error {
	if write && strings.TrimSpace(key) == "" {
		return fmt.Errorf("secrets: key is required")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("secrets: key exceeds %d characters", maxKeyLength)
	}
	return nil
}
