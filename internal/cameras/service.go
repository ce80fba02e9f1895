// Package cameras implements camera actions on top of the backend client:
// status changes, edits, deletion and the stream-load side effect.
package cameras

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/backend"
	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

type Client interface {
	PatchCamera(ctx context.Context, id string, update backend.CameraUpdate) (data.Camera, error)
	ReplaceCamera(ctx context.Context, cam data.Camera) (data.Camera, error)
	DeleteCamera(ctx context.Context, id string) error
}

// Refresher re-fetches resource kinds after a mutation.
type Refresher interface {
	RefreshAll(ctx context.Context, kinds ...data.Kind) map[data.Kind]error
}

type Service struct {
	client    Client
	store     *store.Store
	refresher Refresher
	streams   *StreamTracker
	subdomain string
	log       zerolog.Logger
}

func NewService(c Client, s *store.Store, r Refresher, streams *StreamTracker, subdomain string, log zerolog.Logger) *Service {
	if streams == nil {
		streams = NewStreamTracker(DefaultTrackerSize, 0)
	}
	return &Service{client: c, store: s, refresher: r, streams: streams, subdomain: subdomain, log: log}
}

func (s *Service) StreamURL(cam data.Camera) string {
	return StreamURL(s.subdomain, cam)
}

// MarkStreamLoaded marks the camera Online the first time its stream
// loads. It reports whether an update was sent. A failed update is not
// retried for the same id.
func (s *Service) MarkStreamLoaded(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if !s.streams.FirstLoad(id) {
		return false, nil
	}
	if cam, ok := s.store.Camera(id); ok && cam.Status == data.CameraOnline {
		return false, nil
	}

	if _, err := s.SetStatus(ctx, id, data.CameraOnline); err != nil {
		s.log.Warn().Err(err).Str("camera_id", id).Msg("failed to mark camera online after stream load")
		return false, err
	}
	s.log.Info().Str("camera_id", id).Msg("camera is now online and streaming")
	return true, nil
}

func (s *Service) SetStatus(ctx context.Context, id string, status data.CameraStatus) (data.Camera, error) {
	if status != data.CameraOnline && status != data.CameraOffline {
		return data.Camera{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	cam, err := s.Update(ctx, id, backend.CameraUpdate{Status: &status})
	if err != nil {
		return data.Camera{}, err
	}
	s.refresh(ctx, data.KindCameraStats)
	return cam, nil
}

// Update applies a partial update and merges the result into the store.
func (s *Service) Update(ctx context.Context, id string, update backend.CameraUpdate) (data.Camera, error) {
	if id == "" {
		return data.Camera{}, ErrEmptyID
	}
	cam, err := s.client.PatchCamera(ctx, id, update)
	if err != nil {
		return data.Camera{}, fmt.Errorf("update camera %s: %w", id, err)
	}
	cam = s.merge(id, cam, update)
	s.store.UpsertCamera(cam)
	return cam, nil
}

func (s *Service) Replace(ctx context.Context, cam data.Camera) (data.Camera, error) {
	if cam.ID == "" {
		return data.Camera{}, ErrEmptyID
	}
	out, err := s.client.ReplaceCamera(ctx, cam)
	if err != nil {
		return data.Camera{}, fmt.Errorf("replace camera %s: %w", cam.ID, err)
	}
	if out.ID == "" {
		out = cam
	}
	s.store.UpsertCamera(out)
	return out, nil
}

// Delete removes the camera on the backend, then from the store, and
// reloads the camera list and stats. Refresh failures are recorded per
// kind and do not fail the delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := s.client.DeleteCamera(ctx, id); err != nil {
		return fmt.Errorf("delete camera %s: %w", id, err)
	}
	s.store.RemoveCamera(id)
	s.streams.Forget(id)
	s.refresh(ctx, data.KindCameras, data.KindCameraStats)
	return nil
}

// merge fills in a backend reply that carried no camera from the stored
// copy with the update applied.
func (s *Service) merge(id string, got data.Camera, u backend.CameraUpdate) data.Camera {
	if got.ID != "" {
		return got
	}
	cam, ok := s.store.Camera(id)
	if !ok {
		cam = data.Camera{ID: id}
	}
	if u.Name != nil {
		cam.Name = *u.Name
	}
	if u.Location != nil {
		cam.Location = *u.Location
	}
	if u.Status != nil {
		cam.Status = *u.Status
	}
	if u.HTTPURL != nil {
		cam.HTTPURL = *u.HTTPURL
	}
	return cam
}

func (s *Service) refresh(ctx context.Context, kinds ...data.Kind) {
	for kind, err := range s.refresher.RefreshAll(ctx, kinds...) {
		if err != nil {
			s.log.Warn().Err(err).Str("kind", string(kind)).Msg("refresh after camera change failed")
		}
	}
}
