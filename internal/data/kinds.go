package data

// Kind names a resource the loader fetches, caches and stores.
type Kind string

const (
	KindDashboardStats  Kind = "dashboard_stats"
	KindSystemHealth    Kind = "system_health"
	KindCameras         Kind = "cameras"
	KindCameraStats     Kind = "camera_stats"
	KindAnomalies       Kind = "anomalies"
	KindAnomalyStats    Kind = "anomaly_stats"
	KindRecentAnomalies Kind = "recent_anomalies"
)

// AllKinds lists every resource kind in load order.
var AllKinds = []Kind{
	KindDashboardStats,
	KindSystemHealth,
	KindCameras,
	KindCameraStats,
	KindAnomalies,
	KindAnomalyStats,
	KindRecentAnomalies,
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// CacheKey is the durable cache key for the kind.
func (k Kind) CacheKey() string {
	return "vms_monitor_" + string(k)
}
