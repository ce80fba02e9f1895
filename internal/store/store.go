// Package store holds the in-memory view of cameras, anomalies and
// dashboard stats. All mutations are synchronous and never touch the
// network; selectors recompute their result from current state on every call.
package store

import (
	"sync"
	"time"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

// Change describes a mutation. Version increases on every change.
type Change struct {
	Kind    data.Kind
	Version uint64
}

// ResourceError is the scoped failure of the last load for one kind.
type ResourceError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// maxConnectionErrors bounds the connection error history.
const maxConnectionErrors = 20

type liveEntry struct {
	anomaly    data.Anomaly
	receivedAt time.Time
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	cameras   *Collection[data.Camera]
	anomalies *Collection[data.Anomaly]
	// live holds pushed anomalies not yet seen in a snapshot, newest first
	live   []liveEntry
	recent []data.Anomaly

	dashboardStats *data.DashboardStats
	systemHealth   *data.SystemHealth
	cameraStats    *data.CameraStats
	anomalyStats   *data.AnomalyStats

	loadedAt   map[data.Kind]time.Time
	errors     map[data.Kind]ResourceError
	connection string
	connErrors []ResourceError
	lastAlert  *data.Anomaly
	version    uint64

	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

func New() *Store {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Store {
	s := &Store{now: now, subs: make(map[int]func(Change))}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.cameras = NewCollection[data.Camera]()
	s.anomalies = NewCollection[data.Anomaly]()
	s.live = nil
	s.recent = nil
	s.dashboardStats = nil
	s.systemHealth = nil
	s.cameraStats = nil
	s.anomalyStats = nil
	s.loadedAt = make(map[data.Kind]time.Time)
	s.errors = make(map[data.Kind]ResourceError)
	s.connection = ""
	s.connErrors = nil
	s.lastAlert = nil
}

// Reset drops all state. Called when the session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.reset()
	s.version++
	v := s.version
	s.mu.Unlock()
	s.notify(Change{Version: v})
}

// Subscribe registers fn for every change and returns its unsubscribe func.
// fn runs on the mutating goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// mutate runs fn under the write lock and notifies when fn reports a change.
func (s *Store) mutate(kind data.Kind, fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	var v uint64
	if changed {
		s.version++
		v = s.version
	}
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: kind, Version: v})
	}
	return changed
}

func (s *Store) markLoaded(kind data.Kind) {
	s.loadedAt[kind] = s.now()
	delete(s.errors, kind)
}

// Cameras

func (s *Store) SetCameras(items []data.Camera) {
	s.mutate(data.KindCameras, func() bool {
		s.cameras.SetAll(items)
		s.markLoaded(data.KindCameras)
		return true
	})
}

func (s *Store) UpsertCamera(c data.Camera) {
	s.mutate(data.KindCameras, func() bool {
		s.cameras.Upsert(c)
		return true
	})
}

func (s *Store) RemoveCamera(id string) bool {
	return s.mutate(data.KindCameras, func() bool {
		return s.cameras.Remove(id)
	})
}

// SetCameraStatus updates a known camera and reports whether it was found.
func (s *Store) SetCameraStatus(id string, status data.CameraStatus) bool {
	return s.mutate(data.KindCameras, func() bool {
		c, ok := s.cameras.Get(id)
		if !ok || c.Status == status {
			return false
		}
		c.Status = status
		s.cameras.Upsert(c)
		return true
	})
}

// Anomalies

// SetAnomalies replaces the snapshot collection with a snapshot whose
// request was issued at issuedAt. Live entries that the snapshot contains
// are dropped in favour of the snapshot. Live entries absent from it
// survive only if they were received after the request was issued.
func (s *Store) SetAnomalies(items []data.Anomaly, issuedAt time.Time) {
	s.mutate(data.KindAnomalies, func() bool {
		s.anomalies.SetAll(items)
		kept := s.live[:0]
		for _, e := range s.live {
			if s.anomalies.Has(e.anomaly.ID) {
				continue
			}
			if e.receivedAt.After(issuedAt) {
				kept = append(kept, e)
			}
		}
		s.live = kept
		s.markLoaded(data.KindAnomalies)
		return true
	})
}

// UpsertAnomaly merges a pushed anomaly. A known id is replaced in place;
// an unknown id is prepended to the live list. It reports whether the id
// was already present.
func (s *Store) UpsertAnomaly(a data.Anomaly) bool {
	var existed bool
	s.mutate(data.KindAnomalies, func() bool {
		existed = s.upsertAnomalyLocked(a)
		return true
	})
	return existed
}

func (s *Store) upsertAnomalyLocked(a data.Anomaly) bool {
	for i := range s.recent {
		if s.recent[i].ID == a.ID {
			s.recent[i] = a
		}
	}

	if s.anomalies.Has(a.ID) {
		s.anomalies.Upsert(a)
		return true
	}
	for i := range s.live {
		if s.live[i].anomaly.ID == a.ID {
			s.live[i].anomaly = a
			return true
		}
	}

	s.live = append([]liveEntry{{anomaly: a, receivedAt: s.now()}}, s.live...)
	return false
}

func (s *Store) RemoveAnomaly(id string) bool {
	return s.mutate(data.KindAnomalies, func() bool {
		removed := s.anomalies.Remove(id)
		for i := range s.live {
			if s.live[i].anomaly.ID == id {
				s.live = append(s.live[:i], s.live[i+1:]...)
				removed = true
				break
			}
		}
		for i := range s.recent {
			if s.recent[i].ID == id {
				s.recent = append(s.recent[:i], s.recent[i+1:]...)
				removed = true
				break
			}
		}
		return removed
	})
}

func (s *Store) SetRecentAnomalies(items []data.Anomaly) {
	s.mutate(data.KindRecentAnomalies, func() bool {
		s.recent = append([]data.Anomaly(nil), items...)
		s.markLoaded(data.KindRecentAnomalies)
		return true
	})
}

// SetLastAlert records the most recent anomaly:new notification.
func (s *Store) SetLastAlert(a data.Anomaly) {
	s.mutate(data.KindAnomalies, func() bool {
		s.lastAlert = &a
		return true
	})
}

// Stats

func (s *Store) SetDashboardStats(v data.DashboardStats) {
	s.mutate(data.KindDashboardStats, func() bool {
		s.dashboardStats = &v
		s.markLoaded(data.KindDashboardStats)
		return true
	})
}

func (s *Store) SetSystemHealth(v data.SystemHealth) {
	s.mutate(data.KindSystemHealth, func() bool {
		s.systemHealth = &v
		s.markLoaded(data.KindSystemHealth)
		return true
	})
}

func (s *Store) SetCameraStats(v data.CameraStats) {
	s.mutate(data.KindCameraStats, func() bool {
		s.cameraStats = &v
		s.markLoaded(data.KindCameraStats)
		return true
	})
}

func (s *Store) SetAnomalyStats(v data.AnomalyStats) {
	s.mutate(data.KindAnomalyStats, func() bool {
		s.anomalyStats = &v
		s.markLoaded(data.KindAnomalyStats)
		return true
	})
}

// Errors and connection

// SetError records a scoped load failure for kind. Loaded data is kept.
func (s *Store) SetError(kind data.Kind, err error) {
	if err == nil {
		return
	}
	s.mutate(kind, func() bool {
		s.errors[kind] = ResourceError{Message: err.Error(), At: s.now()}
		return true
	})
}

func (s *Store) SetConnectionState(state string) {
	s.mutate("", func() bool {
		if s.connection == state {
			return false
		}
		s.connection = state
		return true
	})
}

// AddConnectionError appends a server-reported channel error, newest first.
func (s *Store) AddConnectionError(msg string) {
	s.mutate("", func() bool {
		e := ResourceError{Message: msg, At: s.now()}
		s.connErrors = append([]ResourceError{e}, s.connErrors...)
		if len(s.connErrors) > maxConnectionErrors {
			s.connErrors = s.connErrors[:maxConnectionErrors]
		}
		return true
	})
}
