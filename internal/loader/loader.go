// Package loader fetches resource snapshots from the backend and lands
// them in the store and the resource cache.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/metrics"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

var ErrUnknownKind = errors.New("unknown resource kind")

// ResourceCache is the subset of cache.Cache the loader uses.
type ResourceCache interface {
	Store(ctx context.Context, key string, payload any)
	ReadRaw(ctx context.Context, key string) (json.RawMessage, bool)
	Invalidate(ctx context.Context, keys ...string)
	InvalidateAll(ctx context.Context)
	IsFreshSessionLoad(ctx context.Context) bool
}

type Limits struct {
	Anomalies       int
	RecentAnomalies int
}

type Options struct {
	Limits Limits
	Logger zerolog.Logger
	Now    func() time.Time
}

type Loader struct {
	cache     ResourceCache
	store     *store.Store
	resources map[data.Kind]resource
	log       zerolog.Logger
	now       func() time.Time

	flights singleflight.Group

	// mu serialises generation checks with store and cache writes
	mu  sync.Mutex
	gen map[data.Kind]uint64
}

func New(f Fetcher, c ResourceCache, s *store.Store, opts Options) *Loader {
	if opts.Limits.Anomalies <= 0 {
		opts.Limits.Anomalies = 100
	}
	if opts.Limits.RecentAnomalies <= 0 {
		opts.Limits.RecentAnomalies = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{
		cache:     c,
		store:     s,
		resources: buildResources(f, s, opts.Limits),
		log:       opts.Logger,
		now:       opts.Now,
		gen:       make(map[data.Kind]uint64),
	}
}

// LoadResource hydrates kind from the cache, or fetches it when the cache
// misses or this is the first load of the session. Concurrent calls for
// the same kind share one fetch. A failed fetch is recorded against kind
// in the store and returned; previously loaded data stays in place.
func (l *Loader) LoadResource(ctx context.Context, kind data.Kind) error {
	return l.load(ctx, kind, l.cache.IsFreshSessionLoad(ctx))
}

// Refresh invalidates kind and fetches it again. Any fetch for kind that
// started earlier and completes later is discarded.
func (l *Loader) Refresh(ctx context.Context, kind data.Kind) error {
	if _, ok := l.resources[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	l.mu.Lock()
	l.gen[kind]++
	l.mu.Unlock()

	l.cache.Invalidate(ctx, kind.CacheKey())
	return l.load(ctx, kind, true)
}

// RefreshAll refreshes each kind in parallel and returns per-kind errors.
func (l *Loader) RefreshAll(ctx context.Context, kinds ...data.Kind) map[data.Kind]error {
	return l.each(ctx, kinds, func(ctx context.Context, kind data.Kind) error {
		return l.Refresh(ctx, kind)
	})
}

// LoadAll loads every kind in parallel. The fresh-session flag is consumed
// once for the whole pass. One kind failing never blocks the others; the
// returned map holds the failures only.
func (l *Loader) LoadAll(ctx context.Context) map[data.Kind]error {
	fresh := l.cache.IsFreshSessionLoad(ctx)
	if fresh {
		l.log.Info().Msg("fresh session load, ignoring cached snapshots")
	}
	return l.each(ctx, data.AllKinds, func(ctx context.Context, kind data.Kind) error {
		return l.load(ctx, kind, fresh)
	})
}

// EndSession clears the store and the cache and supersedes every fetch
// still in flight, so nothing from the ended session lands afterwards.
func (l *Loader) EndSession(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, kind := range data.AllKinds {
		l.gen[kind]++
	}
	l.store.Reset()
	l.cache.InvalidateAll(ctx)
	l.log.Info().Msg("session data cleared")
}

func (l *Loader) each(ctx context.Context, kinds []data.Kind, fn func(context.Context, data.Kind) error) map[data.Kind]error {
	var (
		mu   sync.Mutex
		errs = make(map[data.Kind]error)
		g    errgroup.Group
	)
	for _, kind := range kinds {
		g.Go(func() error {
			if err := fn(ctx, kind); err != nil {
				mu.Lock()
				errs[kind] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (l *Loader) generation(kind data.Kind) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen[kind]
}

func (l *Loader) load(ctx context.Context, kind data.Kind, force bool) error {
	res, ok := l.resources[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	gen := l.generation(kind)
	if !force && l.hydrate(ctx, kind, res, gen) {
		return nil
	}

	key := fmt.Sprintf("%s#%d", kind, gen)

	// the fetch outlives a cancelled caller; other waiters still get its result
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.flights.DoChan(key, func() (any, error) {
		return nil, l.fetch(fetchCtx, kind, res, gen)
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) hydrate(ctx context.Context, kind data.Kind, res resource, gen uint64) bool {
	raw, ok := l.cache.ReadRaw(ctx, kind.CacheKey())
	if !ok {
		return false
	}
	v, err := res.decode(raw)
	if err != nil {
		l.log.Warn().Err(err).Str("kind", string(kind)).Msg("cached snapshot does not decode, refetching")
		return false
	}

	l.mu.Lock()
	current := l.gen[kind] == gen
	if current {
		res.apply(v, time.Time{})
	}
	l.mu.Unlock()
	if !current {
		return true
	}

	l.log.Debug().Str("kind", string(kind)).Msg("hydrated from cache")
	return true
}

func (l *Loader) fetch(ctx context.Context, kind data.Kind, res resource, gen uint64) error {
	issuedAt := l.now()
	start := time.Now()
	v, err := res.fetch(ctx)
	latency := float64(time.Since(start).Milliseconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen[kind] != gen {
		metrics.RecordDiscardedFetch(string(kind))
		l.log.Debug().Str("kind", string(kind)).Msg("discarding superseded fetch")
		return err
	}

	if err != nil {
		metrics.RecordFetch(string(kind), false, latency)
		l.log.Warn().Err(err).Str("kind", string(kind)).Msg("snapshot fetch failed")
		l.store.SetError(kind, err)
		return fmt.Errorf("load %s: %w", kind, err)
	}

	metrics.RecordFetch(string(kind), true, latency)
	res.apply(v, issuedAt)
	l.cache.Store(ctx, kind.CacheKey(), v)
	return nil
}

// Checkpoint writes the store's current view of each loaded kind to the
// cache so live merges survive a restart.
func (l *Loader) Checkpoint(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	written := 0
	for _, kind := range data.AllKinds {
		v, ok := l.resources[kind].view()
		if !ok {
			continue
		}
		l.cache.Store(ctx, kind.CacheKey(), v)
		written++
	}
	l.log.Debug().Int("kinds", written).Msg("checkpoint written")
}

// StartCheckpoints runs Checkpoint every interval until ctx is done.
func (l *Loader) StartCheckpoints(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Checkpoint(ctx)
			}
		}
	}()
}
