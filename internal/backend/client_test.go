package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-vms-monitor/internal/auth"
	"github.com/technosupport/ts-vms-monitor/internal/data"
)

func writeEnvelope(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, _ := json.Marshal(payload)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 400, "data": json.RawMessage(raw)})
}

func newTestClient(t *testing.T, handler http.Handler, token string) (*Client, *auth.Credentials) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := auth.NewCredentials(token)
	c, err := NewClient(srv.URL+"/api/", creds, Options{Timeout: 2 * time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c, creds
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient("/api", auth.NewCredentials(""), Options{})
	assert.Error(t, err)
}

func TestClient_ListAnomaliesSendsBearerAndLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/anomalies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"success":true,"data":[{"_id":"a1","type":"intrusion","status":"Active","camera_id":{"_id":"cam-9","name":"Gate"}}]}`)
	})
	c, _ := newTestClient(t, mux, "tok")

	got, err := c.ListAnomalies(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cam-9", got[0].CameraID)
}

func TestClient_Stats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dashboard/stats", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, data.DashboardStats{TotalCameras: 7, ActiveCameras: 5})
	})
	mux.HandleFunc("/api/dashboard/health", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, data.SystemHealth{CPU: 41.5})
	})
	c, _ := newTestClient(t, mux, "tok")

	stats, err := c.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalCameras)

	health, err := c.SystemHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41.5, health.CPU)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrServiceUnavailable)
			assert.False(t, IsNetwork(err))
		}},
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusNotFound, apiErr.Status)
			assert.Equal(t, "no such camera", apiErr.Message)
			assert.NotErrorIs(t, err, ErrServiceUnavailable)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"success":false,"message":"no such camera"}`)
			})
			c, _ := newTestClient(t, handler, "tok")
			_, err := c.ListCameras(context.Background())
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, auth.NewCredentials("tok"), Options{Timeout: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = c.ListCameras(context.Background())
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
}

func TestClient_SuccessFalseIsAPIError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"quota exceeded"}`)
	})
	c, _ := newTestClient(t, handler, "tok")

	_, err := c.CameraStats(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "quota exceeded", apiErr.Message)
}

func TestClient_RefreshOn401ThenRetry(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(w, http.StatusOK, []data.Camera{{ID: "c1", Name: "Gate"}})
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		refreshes.Add(1)
		writeEnvelope(w, http.StatusOK, map[string]string{"token": "fresh"})
	})
	c, creds := newTestClient(t, mux, "stale")

	cams, err := c.ListCameras(context.Background())
	require.NoError(t, err)
	assert.Len(t, cams, 1)
	assert.Equal(t, "fresh", creds.Token())
	assert.Equal(t, int32(1), refreshes.Load())
}

func expiringToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(exp)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestClient_RefreshesExpiredTokenBeforeSending(t *testing.T) {
	expired := expiringToken(t, time.Now().Add(-time.Minute))
	var refreshes, staleHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			staleHits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(w, http.StatusOK, []data.Camera{{ID: "c1"}})
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+expired, r.Header.Get("Authorization"))
		refreshes.Add(1)
		writeEnvelope(w, http.StatusOK, map[string]string{"token": "fresh"})
	})
	c, creds := newTestClient(t, mux, expired)

	cams, err := c.ListCameras(context.Background())
	require.NoError(t, err)
	assert.Len(t, cams, 1)
	assert.Equal(t, "fresh", creds.Token())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Zero(t, staleHits.Load(), "expired token never reaches the resource")
}

func TestClient_ValidTokenIsNotRefreshed(t *testing.T) {
	valid := expiringToken(t, time.Now().Add(time.Hour))
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []data.Camera{})
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
	})
	c, creds := newTestClient(t, mux, valid)

	_, err := c.ListCameras(context.Background())
	require.NoError(t, err)
	assert.Zero(t, refreshes.Load())
	assert.Equal(t, valid, creds.Token())
}

func TestClient_RefreshFailureRevokes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, creds := newTestClient(t, handler, "stale")

	var revoked []string
	creds.OnChange(func(token string) { revoked = append(revoked, token) })

	err := c.DeleteCamera(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "", creds.Token())
	assert.Equal(t, []string{""}, revoked)
}

func TestClient_Mutations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/anomalies/a1/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acknowledged", body["status"])
		writeEnvelope(w, http.StatusOK, map[string]any{"_id": "a1", "type": "motion", "status": body["status"], "camera_id": "c1"})
	})
	mux.HandleFunc("/api/anomalies/a1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/cameras/c1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, map[string]any{"status": "Online"}, body)
		case http.MethodPut:
			assert.Equal(t, "Gate", body["name"])
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"_id": "c1", "name": "Gate", "status": "Online"})
	})
	c, _ := newTestClient(t, mux, "tok")
	ctx := context.Background()

	a, err := c.UpdateAnomalyStatus(ctx, "a1", data.AnomalyAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, data.AnomalyAcknowledged, a.Status)

	_, err = c.UpdateAnomalyStatus(ctx, "a1", "Bogus")
	assert.Error(t, err)

	require.NoError(t, c.DeleteAnomaly(ctx, "a1"))

	online := data.CameraOnline
	cam, err := c.PatchCamera(ctx, "c1", CameraUpdate{Status: &online})
	require.NoError(t, err)
	assert.Equal(t, data.CameraOnline, cam.Status)

	_, err = c.ReplaceCamera(ctx, data.Camera{ID: "c1", Name: "Gate"})
	require.NoError(t, err)
}
