package knowledge

import (
	"context"
	"fmt"
	"net/url"

	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	latestPath = "/api/agent/knowledge/latest"
	upsertPath = "/api/agent/knowledge"
	listPath   = "/api/agent/knowledge/list"
)

// ServerProvider stores knowledge on the agent server.
type ServerProvider struct {
	transport *transport.Client
}

// NewServerProvider wraps the authenticated server client.
func NewServerProvider(t *transport.Client) *ServerProvider {
	return &ServerProvider{transport: t}
}

// upsertRequest is the POST body for creates and updates.
type upsertRequest struct {
	Knowledge
	Activation string `json:"activation,omitempty"`
}

// Get fetches the latest version of the item, or nil on 404.
func (p *ServerProvider) Get(ctx context.Context, scope Scope) (*Knowledge, error) {
	var item Knowledge
	found, err := p.client(scope).GetJSON(ctx, latestPath, scope.query(), &item)
	if err != nil {
		return nil, fmt.Errorf("knowledge: fetch %q for agent %q: %w", scope.Name, scope.Agent, err)
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

// Update upserts the item on the server.
func (p *ServerProvider) Update(ctx context.Context, scope Scope, content, contentType string) error {
	body := upsertRequest{
		Knowledge: Knowledge{
			Name:         scope.Name,
			Content:      content,
			Type:         contentType,
			Agent:        scope.Agent,
			SystemScoped: scope.TenantID == "",
			TenantID:     scope.TenantID,
		},
		Activation: scope.Activation,
	}
	if _, err := p.client(scope).PostJSON(ctx, upsertPath, body, nil); err != nil {
		return fmt.Errorf("knowledge: update %q for agent %q: %w", scope.Name, scope.Agent, err)
	}
	return nil
}

// Delete removes the item, reporting false on 404.
func (p *ServerProvider) Delete(ctx context.Context, scope Scope) (bool, error) {
	deleted, err := p.client(scope).Delete(ctx, upsertPath, scope.query())
	if err != nil {
		return false, fmt.Errorf("knowledge: delete %q for agent %q: %w", scope.Name, scope.Agent, err)
	}
	return deleted, nil
}

// List returns the agent's items within the scope.
func (p *ServerProvider) List(ctx context.Context, scope Scope) ([]Knowledge, error) {
	var items []Knowledge
	if _, err := p.client(scope).GetJSON(ctx, listPath, scope.query(), &items); err != nil {
		return nil, fmt.Errorf("knowledge: list for agent %q: %w", scope.Agent, err)
	}
	return items, nil
}

// client narrows the transport to the scope's tenant when it differs from
// the default identity.
func (p *ServerProvider) client(scope Scope) *transport.Client {
	if scope.TenantID != "" && scope.TenantID != p.transport.Tenant() {
		return p.transport.Scoped(scope.TenantID)
	}
	return p.transport
}

// query encodes the scope for GET and DELETE calls.
func (s Scope) query() url.Values {
	q := url.Values{"agent": {s.Agent}}
	if s.Name != "" {
		q.Set("name", s.Name)
	}
	if s.Activation != "" {
		q.Set("activation", s.Activation)
	}
	if s.TenantID == "" {
		q.Set("systemScoped", "true")
	}
	return q
}
