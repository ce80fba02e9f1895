// Package dispatch decodes inbound push frames, merges them into the store
// and fans the normalised payloads out to subscribers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/metrics"
	"github.com/technosupport/ts-vms-monitor/internal/realtime"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

// Notifier delivers a merged event to its subscribers.
type Notifier interface {
	Notify(ev realtime.Event)
}

type Dispatcher struct {
	store  *store.Store
	notify Notifier
	log    zerolog.Logger
}

func New(s *store.Store, n Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: s, notify: n, log: log}
}

// Run consumes frames until ctx ends or frames is closed.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan realtime.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			d.Handle(f)
		}
	}
}

// Handle processes one frame and reports whether it was applied.
// Malformed or unknown frames are dropped with a warning.
func (d *Dispatcher) Handle(f realtime.Frame) bool {
	payload, err := d.decode(f)
	if err != nil {
		reason := "malformed"
		switch {
		case errors.Is(err, ErrUnknownEvent):
			reason = "unknown_kind"
		case errors.Is(err, data.ErrMissingField):
			reason = "missing_field"
		case errors.Is(err, data.ErrInvalidStatus):
			reason = "invalid_status"
		}
		metrics.RecordDrop(f.Kind, reason)
		d.log.Warn().Err(err).Str("kind", f.Kind).Msg("dropping push event")
		return false
	}

	d.merge(f.Kind, payload)
	d.notify.Notify(realtime.Event{Kind: f.Kind, Payload: payload, ReceivedAt: f.ReceivedAt})
	return true
}

// decode resolves the payload of f. Updates to a known record are applied
// onto the stored copy, so a partial payload only changes the fields it
// carries.
func (d *Dispatcher) decode(f realtime.Frame) (any, error) {
	switch f.Kind {
	case CameraUpdated:
		if cur, ok := d.store.Camera(frameID(f.Data)); ok {
			return decodeCamera(f.Data, cur)
		}
	case AnomalyUpdated:
		if cur, ok := d.store.Anomaly(frameID(f.Data)); ok {
			return decodeAnomaly(f.Data, cur)
		}
	}
	return decode(f.Kind, f.Data)
}

func frameID(raw json.RawMessage) string {
	id, _ := data.DecodeID(raw)
	return id
}

func (d *Dispatcher) merge(kind string, payload any) {
	switch p := payload.(type) {
	case data.Anomaly:
		if existed := d.store.UpsertAnomaly(p); !existed && kind == AnomalyUpdated {
			d.log.Debug().Str("id", p.ID).Msg("update for unseen anomaly added to live list")
		}
	case data.Camera:
		d.store.UpsertCamera(p)
	case data.CameraStatusChange:
		if !d.store.SetCameraStatus(p.ID, p.Status) {
			d.log.Debug().Str("id", p.ID).Str("status", string(p.Status)).Msg("camera status unchanged or camera unknown")
		}
	case Removed:
		if kind == CameraDeleted {
			d.store.RemoveCamera(p.ID)
		} else {
			d.store.RemoveAnomaly(p.ID)
		}
	case ServerErrorPayload:
		// the dashboard flips its status to error here; the monitor keeps
		// the channel state, which only the channel itself owns
		d.log.Warn().Str("message", p.Message).Msg("live channel reported an error")
		d.store.AddConnectionError("WebSocket error: " + p.Message)
	}
}
