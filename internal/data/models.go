package data

import (
	"encoding/json"
	"time"
)

type CameraStatus string

const (
	CameraOnline  CameraStatus = "Online"
	CameraOffline CameraStatus = "Offline"
)

type AnomalyStatus string

const (
	AnomalyActive       AnomalyStatus = "Active"
	AnomalyAcknowledged AnomalyStatus = "Acknowledged"
	AnomalyResolved     AnomalyStatus = "Resolved"
)

// Valid reports whether s is one of the known anomaly statuses.
func (s AnomalyStatus) Valid() bool {
	switch s {
	case AnomalyActive, AnomalyAcknowledged, AnomalyResolved:
		return true
	}
	return false
}

// Camera is a capture device as reported by the backend.
type Camera struct {
	ID        string       `json:"_id"`
	Name      string       `json:"name"`
	Location  string       `json:"location"`
	Status    CameraStatus `json:"status"`
	HTTPURL   string       `json:"httpUrl,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Key implements store.Keyed.
func (c Camera) Key() string { return c.ID }

// Anomaly is a detection event raised by the backend pipeline.
// CameraID always holds a bare identifier; see UnmarshalJSON.
type Anomaly struct {
	ID         string        `json:"_id"`
	Type       string        `json:"type"`
	Location   string        `json:"location"`
	Confidence float64       `json:"confidence"`
	Status     AnomalyStatus `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   float64       `json:"duration,omitempty"`
	ClipURL    string        `json:"clip_url,omitempty"`
	CameraID   string        `json:"camera_id"`
	CameraName string        `json:"camera_name,omitempty"`
}

func (a Anomaly) Key() string { return a.ID }

// CameraStatusChange is the payload of a camera:status push event.
type CameraStatusChange struct {
	ID     string       `json:"id"`
	Status CameraStatus `json:"status"`
}

type DashboardStats struct {
	TotalCameras          int       `json:"totalCameras"`
	ActiveCameras         int       `json:"activeCameras"`
	OfflineCameras        int       `json:"offlineCameras"`
	AnomaliesToday        int       `json:"anomaliesToday"`
	HighPriorityAnomalies int       `json:"highPriorityAnomalies"`
	SystemUptime          float64   `json:"systemUptime"`
	LastUpdate            time.Time `json:"lastUpdate"`
}

type SystemHealth struct {
	CPU         float64   `json:"cpu"`
	Memory      float64   `json:"memory"`
	Disk        float64   `json:"disk"`
	Network     float64   `json:"network"`
	Temperature float64   `json:"temperature"`
	Uptime      float64   `json:"uptime"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

type CameraStats struct {
	TotalCameras    int       `json:"totalCameras"`
	ActiveCameras   int       `json:"activeCameras"`
	OfflineCameras  int       `json:"offlineCameras"`
	TotalRecordings int       `json:"totalRecordings"`
	StorageUsed     float64   `json:"storageUsed"`
	StorageTotal    float64   `json:"storageTotal"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

type AnomalyStats struct {
	TotalAnomalies        int       `json:"totalAnomalies"`
	ActiveAnomalies       int       `json:"activeAnomalies"`
	AcknowledgedAnomalies int       `json:"acknowledgedAnomalies"`
	ResolvedAnomalies     int       `json:"resolvedAnomalies"`
	FalsePositives        int       `json:"falsePositives"`
	AnomaliesToday        int       `json:"anomaliesToday"`
	HighPriorityAnomalies int       `json:"highPriorityAnomalies"`
	LastUpdate            time.Time `json:"lastUpdate"`
}

// Envelope is the response wrapper used by every backend endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}
