// Package cache persists resource snapshots with a schema version and a
// fixed expiry window. Reads never fail: anything unusable is a miss.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/metrics"
)

const (
	SchemaVersion = "1.0.0"
	DefaultExpiry = 5 * time.Minute
)

// Backend is the key-value store underneath the cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	DeleteAll(ctx context.Context) error
}

// SessionFlags tracks the one-shot fresh-load flag for the running session.
type SessionFlags interface {
	// ConsumeFresh reports true on the first call for the session only.
	ConsumeFresh(ctx context.Context) (bool, error)
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

type Options struct {
	Version string
	Expiry  time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

type Cache struct {
	backend Backend
	flags   SessionFlags
	version string
	expiry  time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func New(backend Backend, flags SessionFlags, opts Options) *Cache {
	if opts.Version == "" {
		opts.Version = SchemaVersion
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		backend: backend,
		flags:   flags,
		version: opts.Version,
		expiry:  opts.Expiry,
		now:     opts.Now,
		log:     opts.Logger,
	}
}

// Store overwrites key with payload stamped with the current time and version.
// Failures are logged and surface as a miss on the next Read.
func (c *Cache) Store(ctx context.Context, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache store: marshal payload")
		return
	}
	raw, err := json.Marshal(entry{
		Data:      data,
		Timestamp: c.now().UnixMilli(),
		Version:   c.version,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache store: marshal entry")
		return
	}
	if err := c.backend.Set(ctx, key, raw); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache store failed")
	}
}

// ReadRaw returns the payload stored under key if it is present, of the
// running schema version and no older than the expiry window.
// Stale entries are left in place.
func (c *Cache) ReadRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if !ok {
		metrics.RecordCacheLookup("miss")
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Data) == 0 {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry corrupt, treating as miss")
		metrics.RecordCacheLookup("corrupt")
		return nil, false
	}
	if e.Version != c.version {
		metrics.RecordCacheLookup("version")
		return nil, false
	}
	age := c.now().Sub(time.UnixMilli(e.Timestamp))
	if age > c.expiry {
		metrics.RecordCacheLookup("expired")
		return nil, false
	}

	metrics.RecordCacheLookup("hit")
	return e.Data, true
}

// Read decodes a valid payload into dest. A payload that does not decode
// into dest counts as corruption.
func (c *Cache) Read(ctx context.Context, key string, dest any) bool {
	data, ok := c.ReadRaw(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache payload corrupt, treating as miss")
		return false
	}
	return true
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate failed")
	}
}

func (c *Cache) InvalidateAll(ctx context.Context) {
	if err := c.backend.DeleteAll(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidate all failed")
	}
}

// IsFreshSessionLoad returns true exactly once per session. If the flag
// store is unreachable the cache is distrusted and true is returned.
func (c *Cache) IsFreshSessionLoad(ctx context.Context) bool {
	fresh, err := c.flags.ConsumeFresh(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("session flag unavailable, forcing fresh load")
		return true
	}
	return fresh
}
