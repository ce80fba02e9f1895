package loader

import (
	"context"
	"sync"
	"time"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

const maxBackoff = 5 * time.Minute

type SchedulerConfig struct {
	Interval time.Duration
	// MaxAge is how old a kind may get before it is refetched.
	MaxAge time.Duration
	// Backoff is the first delay after a failed refetch; it doubles per
	// consecutive failure up to five minutes.
	Backoff time.Duration
}

// Scheduler refetches kinds whose data has gone stale while a session is
// active.
type Scheduler struct {
	cfg    SchedulerConfig
	loader *Loader
	active func() bool
	now    func() time.Time

	mu       sync.Mutex
	failures map[data.Kind]int
	lastTry  map[data.Kind]time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, l *Loader, active func() bool) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 60 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 60 * time.Second
	}
	if active == nil {
		active = func() bool { return true }
	}
	return &Scheduler{
		cfg:      cfg,
		loader:   l,
		active:   active,
		now:      time.Now,
		failures: make(map[data.Kind]int),
		lastTry:  make(map[data.Kind]time.Time),
		quit:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick refetches every due kind once and returns the kinds it tried.
func (s *Scheduler) Tick(ctx context.Context) []data.Kind {
	if !s.active() {
		return nil
	}
	due := s.Due()
	if len(due) == 0 {
		return nil
	}

	now := s.now()
	results := s.loader.RefreshAll(ctx, due...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range due {
		s.lastTry[kind] = now
		if results[kind] != nil {
			s.failures[kind]++
		} else {
			delete(s.failures, kind)
		}
	}
	s.loader.log.Debug().Int("kinds", len(due)).Msg("stale kinds refreshed")
	return due
}

// Due lists kinds that are older than MaxAge, or never loaded, and not
// backing off after a failure.
func (s *Scheduler) Due() []data.Kind {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []data.Kind
	for _, kind := range data.AllKinds {
		if s.shouldSkip(kind, now) {
			continue
		}
		loadedAt, ok := s.loader.store.LoadedAt(kind)
		if !ok || now.Sub(loadedAt) >= s.cfg.MaxAge {
			due = append(due, kind)
		}
	}
	return due
}

func (s *Scheduler) shouldSkip(kind data.Kind, now time.Time) bool {
	n := s.failures[kind]
	if n == 0 {
		return false
	}
	backoff := s.cfg.Backoff
	for i := 1; i < n && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return now.Sub(s.lastTry[kind]) < backoff
}
