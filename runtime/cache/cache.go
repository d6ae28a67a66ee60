// Package cache provides the aspect-scoped TTL cache shared by the SDK
// subsystems. Knowledge, settings and workflow-definition lookups each get an
// independently tunable aspect; the storage backend is pluggable.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
)

// Aspect identifies an independently configurable cache domain.
type Aspect string

const (
	// AspectKnowledge caches knowledge reads.
	AspectKnowledge Aspect = "knowledge"
	// AspectSettings caches flow-server settings.
	AspectSettings Aspect = "settings"
	// AspectDefinitions caches workflow-definition upload markers.
	AspectDefinitions Aspect = "definitions"
)

const (
	// DefaultKnowledgeTTL bounds staleness of knowledge reads.
	DefaultKnowledgeTTL = 5 * time.Minute
	// DefaultSettingsTTL bounds staleness of flow-server settings.
	DefaultSettingsTTL = 5 * time.Minute
	// DefaultDefinitionsTTL bounds how long an upload marker suppresses
	// re-checking a workflow definition against the server.
	DefaultDefinitionsTTL = 60 * time.Minute
)

type (
	// Store is the storage backend contract. Implementations must be safe for
	// concurrent use and enforce per-entry absolute expiry.
	Store interface {
		// Get returns the raw entry and whether it was present and unexpired.
		Get(ctx context.Context, key string) ([]byte, bool, error)
		// Set stores value under key for the given TTL.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
		// Delete removes key. Deleting a missing key is not an error.
		Delete(ctx context.Context, key string) error
	}

	// AspectConfig carries the enable flag and TTL of one aspect.
	AspectConfig struct {
		// Enabled gates both reads and writes for the aspect.
		Enabled bool
		// TTL is the absolute expiry applied to new entries.
		TTL time.Duration
	}

	// Options configures a Cache.
	Options struct {
		// Enabled is the global switch. When false every aspect is bypassed.
		Enabled bool
		// Knowledge configures the knowledge aspect.
		Knowledge AspectConfig
		// Settings configures the settings aspect.
		Settings AspectConfig
		// Definitions configures the workflow-definitions aspect.
		Definitions AspectConfig
		// Logger reports backend failures. Optional.
		Logger telemetry.Logger
	}

	// Cache is the aspect-scoped facade over a Store. Backend failures are
	// logged and treated as misses so a degraded cache never breaks reads.
	// A nil *Cache is valid and behaves as fully disabled.
	Cache struct {
		opts   Options
		store  Store
		logger telemetry.Logger
	}
)

// DefaultOptions returns the production defaults: everything enabled with the
// documented per-aspect TTLs.
func DefaultOptions() Options {
	return Options{
		Enabled:     true,
		Knowledge:   AspectConfig{Enabled: true, TTL: DefaultKnowledgeTTL},
		Settings:    AspectConfig{Enabled: true, TTL: DefaultSettingsTTL},
		Definitions: AspectConfig{Enabled: true, TTL: DefaultDefinitionsTTL},
	}
}

// New constructs a Cache over the given store. Zero aspect TTLs are replaced
// with their defaults.
func New(store Store, opts Options) *Cache {
	if opts.Knowledge.TTL <= 0 {
		opts.Knowledge.TTL = DefaultKnowledgeTTL
	}
	if opts.Settings.TTL <= 0 {
		opts.Settings.TTL = DefaultSettingsTTL
	}
	if opts.Definitions.TTL <= 0 {
		opts.Definitions.TTL = DefaultDefinitionsTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Cache{opts: opts, store: store, logger: logger}
}

// Key builds a cache key from the scope tuple parts. Empty parts are kept so
// distinct tuples never collide.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Get returns the cached value for (aspect, key), reporting a miss when the
// aspect is disabled, the entry is absent or expired, or the backend fails.
func (c *Cache) Get(ctx context.Context, aspect Aspect, key string) ([]byte, bool) {
	ttl, ok := c.aspect(aspect)
	if !ok || ttl <= 0 {
		return nil, false
	}
	val, found, err := c.store.Get(ctx, c.scoped(aspect, key))
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", "aspect", string(aspect), "key", key, "err", err)
		return nil, false
	}
	return val, found
}

// Set stores value under (aspect, key) with the aspect TTL. Disabled aspects
// skip the write entirely.
func (c *Cache) Set(ctx context.Context, aspect Aspect, key string, value []byte) {
	ttl, ok := c.aspect(aspect)
	if !ok || ttl <= 0 {
		return
	}
	if err := c.store.Set(ctx, c.scoped(aspect, key), value, ttl); err != nil {
		c.logger.Warn(ctx, "cache write failed", "aspect", string(aspect), "key", key, "err", err)
	}
}

// Delete invalidates the exact (aspect, key) entry. Invalidation runs even
// when the aspect is disabled so stale entries cannot survive a config flip.
func (c *Cache) Delete(ctx context.Context, aspect Aspect, key string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, c.scoped(aspect, key)); err != nil {
		c.logger.Warn(ctx, "cache invalidation failed", "aspect", string(aspect), "key", key, "err", err)
	}
}

// GetJSON decodes the cached value into out, reporting a miss on absence or
// decode failure.
func (c *Cache) GetJSON(ctx context.Context, aspect Aspect, key string, out any) bool {
	if c == nil {
		return false
	}
	raw, ok := c.Get(ctx, aspect, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn(ctx, "cache entry corrupt, invalidating", "aspect", string(aspect), "key", key, "err", err)
		c.Delete(ctx, aspect, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under (aspect, key).
func (c *Cache) SetJSON(ctx context.Context, aspect Aspect, key string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn(ctx, "cache encode failed", "aspect", string(aspect), "key", key, "err", err)
		return
	}
	c.Set(ctx, aspect, key, raw)
}

// aspect resolves the TTL and effective enablement of an aspect.
func (c *Cache) aspect(a Aspect) (time.Duration, bool) {
	if c == nil || c.store == nil || !c.opts.Enabled {
		return 0, false
	}
	var cfg AspectConfig
	switch a {
	case AspectKnowledge:
		cfg = c.opts.Knowledge
	case AspectSettings:
		cfg = c.opts.Settings
	case AspectDefinitions:
		cfg = c.opts.Definitions
	default:
		return 0, false
	}
	if !cfg.Enabled {
		return 0, false
	}
	return cfg.TTL, true
}

// scoped prefixes keys with the aspect so aspects never collide in the store.
func (c *Cache) scoped(aspect Aspect, key string) string {
	return string(aspect) + "|" + key
}
