package cache

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxEntries = 256

// MemoryBackend keeps entries in a bounded LRU. Contents are lost on restart.
type MemoryBackend struct {
	entries *lru.Cache[string, []byte]
}

func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c, _ := lru.New[string, []byte](maxEntries)
	return &MemoryBackend{entries: c}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Get(key)
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.entries.Add(key, value)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.entries.Remove(k)
	}
	return nil
}

func (m *MemoryBackend) DeleteAll(_ context.Context) error {
	m.entries.Purge()
	return nil
}

// MemoryFlags scopes the fresh-load flag to the process.
type MemoryFlags struct {
	consumed atomic.Bool
}

func (f *MemoryFlags) ConsumeFresh(context.Context) (bool, error) {
	return !f.consumed.Swap(true), nil
}
