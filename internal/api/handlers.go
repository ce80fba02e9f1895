package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-vms-monitor/internal/anomalies"
	"github.com/technosupport/ts-vms-monitor/internal/backend"
	"github.com/technosupport/ts-vms-monitor/internal/cameras"
	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/loader"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service and backend errors onto HTTP statuses.
func statusFor(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, anomalies.ErrEmptyID),
		errors.Is(err, cameras.ErrEmptyID),
		errors.Is(err, cameras.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, loader.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"connection": s.deps.Store.ConnectionState(),
	})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Store.Snapshot())
}

// GET /v1/anomalies?status=Active
func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request) {
	items := s.deps.Store.AnomalyFeed()
	if q := r.URL.Query().Get("status"); q != "" {
		status := data.AnomalyStatus(q)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filtered := items[:0]
		for _, a := range items {
			if a.Status == status {
				filtered = append(filtered, a)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []data.Anomaly{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) acknowledgeAnomaly(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Anomalies.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) resolveAnomaly(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Anomalies.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAnomaly(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Anomalies.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cameraView struct {
	ID        string            `json:"_id"`
	Name      string            `json:"name"`
	Location  string            `json:"location"`
	Status    data.CameraStatus `json:"status"`
	StreamURL string            `json:"stream_url"`
}

// GET /v1/cameras?status=Online
func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Store.Cameras()
	if q := r.URL.Query().Get("status"); q != "" {
		status := data.CameraStatus(q)
		if status != data.CameraOnline && status != data.CameraOffline {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		list = s.deps.Store.CamerasByStatus(status)
	}

	out := make([]cameraView, 0, len(list))
	for _, c := range list {
		out = append(out, cameraView{
			ID:        c.ID,
			Name:      c.Name,
			Location:  c.Location,
			Status:    c.Status,
			StreamURL: s.deps.Cameras.StreamURL(c),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) streamLoaded(w http.ResponseWriter, r *http.Request) {
	sent, err := s.deps.Cameras.MarkStreamLoaded(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": sent})
}

func (s *Server) setCameraStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status data.CameraStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	cam, err := s.deps.Cameras.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cam)
}

func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cameras.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	s.deps.Channel.Reconnect()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	kind := data.Kind(chi.URLParam(r, "kind"))
	if err := s.deps.Loader.Refresh(r.Context(), kind); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "status": "refreshed"})
}

// POST /v1/refresh reloads every kind and reports per-kind failures.
func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	results := s.deps.Loader.RefreshAll(r.Context(), data.AllKinds...)
	out := make(map[data.Kind]string, len(results))
	failed := false
	for kind, err := range results {
		if err != nil {
			out[kind] = err.Error()
			failed = true
			continue
		}
		out[kind] = "ok"
	}
	status := http.StatusOK
	if failed {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, out)
}
