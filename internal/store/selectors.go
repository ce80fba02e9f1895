package store

import (
	"sort"
	"time"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

// byRecency orders anomalies by timestamp descending, id ascending on ties.
func byRecency(items []data.Anomaly) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}

func (s *Store) Cameras() []data.Camera {
	s.mu.RLock()
	out := s.cameras.Values()
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Camera(id string) (data.Camera, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cameras.Get(id)
}

func (s *Store) CamerasByStatus(status data.CameraStatus) []data.Camera {
	all := s.Cameras()
	out := all[:0]
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// CameraCounts returns the number of cameras per status.
func (s *Store) CameraCounts() map[data.CameraStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[data.CameraStatus]int{data.CameraOnline: 0, data.CameraOffline: 0}
	for _, c := range s.cameras.items {
		counts[c.Status]++
	}
	return counts
}

// Anomalies returns every anomaly, live and snapshot, sorted by recency.
func (s *Store) Anomalies() []data.Anomaly {
	s.mu.RLock()
	out := s.anomalies.Values()
	for _, e := range s.live {
		out = append(out, e.anomaly)
	}
	s.mu.RUnlock()

	byRecency(out)
	return out
}

// AnomalyFeed returns the live list ahead of the snapshot list, each sorted by recency.
func (s *Store) AnomalyFeed() []data.Anomaly {
	s.mu.RLock()
	live := make([]data.Anomaly, 0, len(s.live))
	for _, e := range s.live {
		live = append(live, e.anomaly)
	}
	snapshot := s.anomalies.Values()
	s.mu.RUnlock()

	byRecency(live)
	byRecency(snapshot)
	return append(live, snapshot...)
}

func (s *Store) LiveAnomalies() []data.Anomaly {
	s.mu.RLock()
	out := make([]data.Anomaly, 0, len(s.live))
	for _, e := range s.live {
		out = append(out, e.anomaly)
	}
	s.mu.RUnlock()

	byRecency(out)
	return out
}

func (s *Store) ActiveAnomalies() []data.Anomaly {
	all := s.Anomalies()
	out := all[:0]
	for _, a := range all {
		if a.Status == data.AnomalyActive {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Anomaly(id string) (data.Anomaly, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.anomalies.Get(id); ok {
		return a, true
	}
	for _, e := range s.live {
		if e.anomaly.ID == id {
			return e.anomaly, true
		}
	}
	return data.Anomaly{}, false
}

func (s *Store) RecentAnomalies() []data.Anomaly {
	s.mu.RLock()
	out := append([]data.Anomaly(nil), s.recent...)
	s.mu.RUnlock()

	byRecency(out)
	return out
}

func (s *Store) LastAlert() (data.Anomaly, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAlert == nil {
		return data.Anomaly{}, false
	}
	return *s.lastAlert, true
}

func (s *Store) DashboardStats() (data.DashboardStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dashboardStats == nil {
		return data.DashboardStats{}, false
	}
	return *s.dashboardStats, true
}

func (s *Store) SystemHealth() (data.SystemHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.systemHealth == nil {
		return data.SystemHealth{}, false
	}
	return *s.systemHealth, true
}

func (s *Store) CameraStats() (data.CameraStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cameraStats == nil {
		return data.CameraStats{}, false
	}
	return *s.cameraStats, true
}

func (s *Store) AnomalyStats() (data.AnomalyStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.anomalyStats == nil {
		return data.AnomalyStats{}, false
	}
	return *s.anomalyStats, true
}

func (s *Store) Error(kind data.Kind) (ResourceError, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.errors[kind]
	return e, ok
}

// LoadedAt reports when kind last landed from a fetch or the cache.
func (s *Store) LoadedAt(kind data.Kind) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.loadedAt[kind]
	return t, ok
}

func (s *Store) ConnectionState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

func (s *Store) ConnectionErrors() []ResourceError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ResourceError(nil), s.connErrors...)
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// View is a point-in-time copy of the store for serialisation.
type View struct {
	Version         uint64                      `json:"version"`
	Connection      string                      `json:"connection"`
	ConnErrors      []ResourceError             `json:"connection_errors,omitempty"`
	Cameras         []data.Camera               `json:"cameras"`
	CameraCounts    map[data.CameraStatus]int   `json:"camera_counts"`
	Anomalies       []data.Anomaly              `json:"anomalies"`
	LiveCount       int                         `json:"live_count"`
	RecentAnomalies []data.Anomaly              `json:"recent_anomalies"`
	DashboardStats  *data.DashboardStats        `json:"dashboard_stats,omitempty"`
	SystemHealth    *data.SystemHealth          `json:"system_health,omitempty"`
	CameraStats     *data.CameraStats           `json:"camera_stats,omitempty"`
	AnomalyStats    *data.AnomalyStats          `json:"anomaly_stats,omitempty"`
	LastAlert       *data.Anomaly               `json:"last_alert,omitempty"`
	Errors          map[data.Kind]ResourceError `json:"errors"`
	LoadedAt        map[data.Kind]time.Time     `json:"loaded_at"`
}

// Snapshot builds a View. Each selector takes its own read lock, so the
// parts may straddle a concurrent mutation.
func (s *Store) Snapshot() View {
	v := View{
		Cameras:         s.Cameras(),
		CameraCounts:    s.CameraCounts(),
		Anomalies:       s.AnomalyFeed(),
		RecentAnomalies: s.RecentAnomalies(),
	}
	if st, ok := s.DashboardStats(); ok {
		v.DashboardStats = &st
	}
	if st, ok := s.SystemHealth(); ok {
		v.SystemHealth = &st
	}
	if st, ok := s.CameraStats(); ok {
		v.CameraStats = &st
	}
	if st, ok := s.AnomalyStats(); ok {
		v.AnomalyStats = &st
	}
	if a, ok := s.LastAlert(); ok {
		v.LastAlert = &a
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v.Version = s.version
	v.Connection = s.connection
	v.ConnErrors = append([]ResourceError(nil), s.connErrors...)
	v.LiveCount = len(s.live)
	v.Errors = make(map[data.Kind]ResourceError, len(s.errors))
	for k, e := range s.errors {
		v.Errors[k] = e
	}
	v.LoadedAt = make(map[data.Kind]time.Time, len(s.loadedAt))
	for k, t := range s.loadedAt {
		v.LoadedAt[k] = t
	}
	return v
}
