package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) ListCameras(ctx context.Context) ([]data.Camera, error) {
	var out []data.Camera
	if err := c.do(ctx, http.MethodGet, "/cameras", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CameraStats(ctx context.Context) (data.CameraStats, error) {
	var out data.CameraStats
	err := c.do(ctx, http.MethodGet, "/cameras/stats", nil, nil, &out)
	return out, err
}

func (c *Client) ListAnomalies(ctx context.Context, limit int) ([]data.Anomaly, error) {
	var out []data.Anomaly
	if err := c.do(ctx, http.MethodGet, "/anomalies", limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AnomalyStats(ctx context.Context) (data.AnomalyStats, error) {
	var out data.AnomalyStats
	err := c.do(ctx, http.MethodGet, "/anomalies/stats", nil, nil, &out)
	return out, err
}

func (c *Client) RecentAnomalies(ctx context.Context, limit int) ([]data.Anomaly, error) {
	var out []data.Anomaly
	if err := c.do(ctx, http.MethodGet, "/anomalies/recent", limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DashboardStats(ctx context.Context) (data.DashboardStats, error) {
	var out data.DashboardStats
	err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &out)
	return out, err
}

func (c *Client) SystemHealth(ctx context.Context) (data.SystemHealth, error) {
	var out data.SystemHealth
	err := c.do(ctx, http.MethodGet, "/dashboard/health", nil, nil, &out)
	return out, err
}

// UpdateAnomalyStatus sets the status and returns the backend's copy.
func (c *Client) UpdateAnomalyStatus(ctx context.Context, id string, status data.AnomalyStatus) (data.Anomaly, error) {
	if !status.Valid() {
		return data.Anomaly{}, fmt.Errorf("invalid anomaly status %q", status)
	}
	var out data.Anomaly
	body := map[string]data.AnomalyStatus{"status": status}
	err := c.do(ctx, http.MethodPatch, "/anomalies/"+url.PathEscape(id)+"/status", nil, body, &out)
	return out, err
}

func (c *Client) DeleteAnomaly(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/anomalies/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) DeleteCamera(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cameras/"+url.PathEscape(id), nil, nil, nil)
}

// CameraUpdate carries the fields of a partial camera update; nil fields are left unchanged.
type CameraUpdate struct {
	Name     *string            `json:"name,omitempty"`
	Location *string            `json:"location,omitempty"`
	Status   *data.CameraStatus `json:"status,omitempty"`
	HTTPURL  *string            `json:"httpUrl,omitempty"`
}

// PatchCamera applies a partial update.
func (c *Client) PatchCamera(ctx context.Context, id string, update CameraUpdate) (data.Camera, error) {
	var out data.Camera
	err := c.do(ctx, http.MethodPatch, "/cameras/"+url.PathEscape(id), nil, update, &out)
	return out, err
}

// ReplaceCamera sends the full camera definition.
func (c *Client) ReplaceCamera(ctx context.Context, cam data.Camera) (data.Camera, error) {
	var out data.Camera
	err := c.do(ctx, http.MethodPut, "/cameras/"+url.PathEscape(cam.ID), nil, cam, &out)
	return out, err
}
