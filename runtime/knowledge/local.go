package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// assetExtensions are tried in order when resolving an embedded asset.
var assetExtensions = []string{"md", "txt", "json", "yaml", "yml"}

type (
	// LocalProvider serves knowledge from embedded assets for offline and
	// test runs. Mutations never touch the assets: they live in an in-memory
	// overlay, with tombstones hiding deleted assets.
	LocalProvider struct {
		assets fs.FS
		logger telemetry.Logger

		mu      sync.Mutex
		entries map[localKey]Knowledge
		deleted map[localKey]bool
	}

	localKey struct {
		tenant     string
		agent      string
		activation string
		name       string
	}
)

// NewLocalProvider serves knowledge from the given asset tree. Assets are
// resolved by the naming rule "{Agent}.Knowledge.{Name}.{ext}".
func NewLocalProvider(assets fs.FS, logger telemetry.Logger) *LocalProvider {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &LocalProvider{
		assets:  assets,
		logger:  logger,
		entries: make(map[localKey]Knowledge),
		deleted: make(map[localKey]bool),
	}
}

// Get resolves the item from the overlay first, then the embedded assets.
func (p *LocalProvider) Get(ctx context.Context, scope Scope) (*Knowledge, error) {
	key := scope.localKey()

	p.mu.Lock()
	if p.deleted[key] {
		p.mu.Unlock()
		return nil, nil
	}
	if item, ok := p.entries[key]; ok {
		p.mu.Unlock()
		return &item, nil
	}
	p.mu.Unlock()

	return p.readAsset(ctx, scope)
}

// Update stores the item in the overlay, clearing any tombstone.
func (p *LocalProvider) Update(_ context.Context, scope Scope, content, contentType string) error {
	key := scope.localKey()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.deleted, key)
	p.entries[key] = Knowledge{
		Name:         scope.Name,
		Content:      content,
		Type:         contentType,
		Agent:        scope.Agent,
		SystemScoped: scope.TenantID == "",
		TenantID:     scope.TenantID,
	}
	return nil
}

// Delete removes an overlay entry or tombstones an embedded asset. It
// reports false when neither exists.
func (p *LocalProvider) Delete(ctx context.Context, scope Scope) (bool, error) {
	key := scope.localKey()

	p.mu.Lock()
	_, inMemory := p.entries[key]
	tombstoned := p.deleted[key]
	delete(p.entries, key)
	p.deleted[key] = true
	p.mu.Unlock()

	if inMemory {
		return true, nil
	}
	if tombstoned {
		return false, nil
	}
	item, err := p.readAsset(ctx, scope)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// List returns the overlay entries for the agent within the scope. Embedded
// assets are not enumerated.
func (p *LocalProvider) List(_ context.Context, scope Scope) ([]Knowledge, error) {
	want := scope.localKey()

	p.mu.Lock()
	defer p.mu.Unlock()
	var items []Knowledge
	for key, item := range p.entries {
		if key.agent != want.agent || key.tenant != want.tenant || key.activation != want.activation {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// readAsset resolves the item against the embedded assets, trying each
// supported extension in order.
func (p *LocalProvider) readAsset(ctx context.Context, scope Scope) (*Knowledge, error) {
	if p.assets == nil {
		return nil, nil
	}
	for _, ext := range assetExtensions {
		path := fmt.Sprintf("%s.Knowledge.%s.%s", scope.Agent, scope.Name, ext)
		content, err := fs.ReadFile(p.assets, path)
		if err != nil {
			continue
		}
		p.logger.Debug(ctx, "knowledge resolved from asset", "path", path)
		return &Knowledge{
			Name:         scope.Name,
			Content:      string(content),
			Type:         contentTypeForExt(ext),
			Agent:        scope.Agent,
			SystemScoped: scope.TenantID == "",
			TenantID:     scope.TenantID,
		}, nil
	}
	return nil, nil
}

func (s Scope) localKey() localKey {
	return localKey{
		tenant:     s.tenantKey(),
		agent:      s.Agent,
		activation: s.activationKey(),
		name:       s.Name,
	}
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "md":
		return "markdown"
	case "txt":
		return "text"
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	default:
		return ext
	}
}
