package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(clock *fakeClock) (*Cache, *MemoryBackend) {
	backend := NewMemoryBackend(16)
	c := New(backend, &MemoryFlags{}, Options{Now: clock.Now, Logger: zerolog.Nop()})
	return c, backend
}

func TestCache_StoreAndRead(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, _ := newTestCache(clock)

	c.Store(ctx, "cameras", []string{"a", "b"})

	var got []string
	require.True(t, c.Read(ctx, "cameras", &got))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestCache_ExpiryWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, backend := newTestCache(clock)

	c.Store(ctx, "stats", map[string]int{"total": 3})

	clock.Advance(299 * time.Second)
	_, ok := c.ReadRaw(ctx, "stats")
	assert.True(t, ok, "entry must be valid at T+299s")

	clock.Advance(2 * time.Second)
	_, ok = c.ReadRaw(ctx, "stats")
	assert.False(t, ok, "entry must be invalid at T+301s")

	// stale entries are not evicted on read
	_, present, _ := backend.Get(ctx, "stats")
	assert.True(t, present)
}

func TestCache_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	backend := NewMemoryBackend(4)

	old := New(backend, &MemoryFlags{}, Options{Version: "0.9.0", Now: clock.Now, Logger: zerolog.Nop()})
	old.Store(ctx, "cameras", []int{1})

	current := New(backend, &MemoryFlags{}, Options{Now: clock.Now, Logger: zerolog.Nop()})
	_, ok := current.ReadRaw(ctx, "cameras")
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	c, backend := newTestCache(clock)

	require.NoError(t, backend.Set(ctx, "cameras", []byte("{not json")))
	_, ok := c.ReadRaw(ctx, "cameras")
	assert.False(t, ok)

	// well-formed envelope, payload of the wrong shape
	c.Store(ctx, "cameras", "a string")
	var dest []int
	assert.False(t, c.Read(ctx, "cameras", &dest))
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	c, _ := newTestCache(clock)

	c.Store(ctx, "a", 1)
	c.Store(ctx, "b", 2)

	c.Invalidate(ctx, "a")
	_, ok := c.ReadRaw(ctx, "a")
	assert.False(t, ok)
	_, ok = c.ReadRaw(ctx, "b")
	assert.True(t, ok)

	c.InvalidateAll(ctx)
	_, ok = c.ReadRaw(ctx, "b")
	assert.False(t, ok)
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("quota")
}
func (failingBackend) Set(context.Context, string, []byte) error { return errors.New("quota") }
func (failingBackend) Delete(context.Context, ...string) error  { return errors.New("quota") }
func (failingBackend) DeleteAll(context.Context) error          { return errors.New("quota") }

func TestCache_BackendFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c := New(failingBackend{}, &MemoryFlags{}, Options{Logger: zerolog.Nop()})

	assert.NotPanics(t, func() {
		c.Store(ctx, "k", 1)
		c.Invalidate(ctx, "k")
		c.InvalidateAll(ctx)
	})
	_, ok := c.ReadRaw(ctx, "k")
	assert.False(t, ok)
}

type brokenFlags struct{}

func (brokenFlags) ConsumeFresh(context.Context) (bool, error) { return false, errors.New("down") }

func TestCache_IsFreshSessionLoad(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(1), &MemoryFlags{}, Options{Logger: zerolog.Nop()})

	assert.True(t, c.IsFreshSessionLoad(ctx))
	assert.False(t, c.IsFreshSessionLoad(ctx))
	assert.False(t, c.IsFreshSessionLoad(ctx))

	broken := New(NewMemoryBackend(1), brokenFlags{}, Options{Logger: zerolog.Nop()})
	assert.True(t, broken.IsFreshSessionLoad(ctx))
}

func TestMemoryBackend_Bounded(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(2)
	require.NoError(t, b.Set(ctx, "a", []byte("1")))
	require.NoError(t, b.Set(ctx, "b", []byte("2")))
	require.NoError(t, b.Set(ctx, "c", []byte("3")))

	_, ok, _ := b.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = b.Get(ctx, "c")
	assert.True(t, ok)
}
