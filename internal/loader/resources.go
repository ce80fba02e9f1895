package loader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

// Fetcher is the subset of the backend client the loader needs.
type Fetcher interface {
	ListCameras(ctx context.Context) ([]data.Camera, error)
	CameraStats(ctx context.Context) (data.CameraStats, error)
	ListAnomalies(ctx context.Context, limit int) ([]data.Anomaly, error)
	AnomalyStats(ctx context.Context) (data.AnomalyStats, error)
	RecentAnomalies(ctx context.Context, limit int) ([]data.Anomaly, error)
	DashboardStats(ctx context.Context) (data.DashboardStats, error)
	SystemHealth(ctx context.Context) (data.SystemHealth, error)
}

// resource binds one kind to its fetch, its cached decoding and the store
// entry point it lands in.
type resource struct {
	fetch  func(ctx context.Context) (any, error)
	decode func(raw json.RawMessage) (any, error)
	apply  func(v any, issuedAt time.Time)
	// view reads the current store value for checkpointing
	view func() (any, bool)
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func fetchAs[T any](fn func(ctx context.Context) (T, error)) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func buildResources(f Fetcher, s *store.Store, limits Limits) map[data.Kind]resource {
	loaded := func(kind data.Kind) bool {
		_, ok := s.LoadedAt(kind)
		return ok
	}

	return map[data.Kind]resource{
		data.KindCameras: {
			fetch:  fetchAs(f.ListCameras),
			decode: decodeAs[[]data.Camera],
			apply:  func(v any, _ time.Time) { s.SetCameras(v.([]data.Camera)) },
			view: func() (any, bool) {
				return s.Cameras(), loaded(data.KindCameras)
			},
		},
		data.KindCameraStats: {
			fetch:  fetchAs(f.CameraStats),
			decode: decodeAs[data.CameraStats],
			apply:  func(v any, _ time.Time) { s.SetCameraStats(v.(data.CameraStats)) },
			view:   func() (any, bool) { return s.CameraStats() },
		},
		data.KindAnomalies: {
			fetch: func(ctx context.Context) (any, error) {
				v, err := f.ListAnomalies(ctx, limits.Anomalies)
				if err != nil {
					return nil, err
				}
				return v, nil
			},
			decode: decodeAs[[]data.Anomaly],
			apply: func(v any, issuedAt time.Time) {
				s.SetAnomalies(v.([]data.Anomaly), issuedAt)
			},
			view: func() (any, bool) {
				return s.Anomalies(), loaded(data.KindAnomalies)
			},
		},
		data.KindAnomalyStats: {
			fetch:  fetchAs(f.AnomalyStats),
			decode: decodeAs[data.AnomalyStats],
			apply:  func(v any, _ time.Time) { s.SetAnomalyStats(v.(data.AnomalyStats)) },
			view:   func() (any, bool) { return s.AnomalyStats() },
		},
		data.KindRecentAnomalies: {
			fetch: func(ctx context.Context) (any, error) {
				v, err := f.RecentAnomalies(ctx, limits.RecentAnomalies)
				if err != nil {
					return nil, err
				}
				return v, nil
			},
			decode: decodeAs[[]data.Anomaly],
			apply:  func(v any, _ time.Time) { s.SetRecentAnomalies(v.([]data.Anomaly)) },
			view: func() (any, bool) {
				return s.RecentAnomalies(), loaded(data.KindRecentAnomalies)
			},
		},
		data.KindDashboardStats: {
			fetch:  fetchAs(f.DashboardStats),
			decode: decodeAs[data.DashboardStats],
			apply:  func(v any, _ time.Time) { s.SetDashboardStats(v.(data.DashboardStats)) },
			view:   func() (any, bool) { return s.DashboardStats() },
		},
		data.KindSystemHealth: {
			fetch:  fetchAs(f.SystemHealth),
			decode: decodeAs[data.SystemHealth],
			apply:  func(v any, _ time.Time) { s.SetSystemHealth(v.(data.SystemHealth)) },
			view:   func() (any, bool) { return s.SystemHealth() },
		},
	}
}
