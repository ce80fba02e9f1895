package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/technosupport/ts-vms-monitor/internal/data"
)

// Push event names.
const (
	AnomalyNew     = "anomaly:new"
	AnomalyUpdated = "anomaly:updated"
	AnomalyDeleted = "anomaly:deleted"
	CameraStatus   = "camera:status"
	CameraAdded    = "camera:added"
	CameraUpdated  = "camera:updated"
	CameraDeleted  = "camera:deleted"
	ServerError    = "error"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// ServerErrorPayload is the payload of an "error" push event.
type ServerErrorPayload struct {
	Message string `json:"message"`
}

// Removed is the payload of the *:deleted events.
type Removed struct {
	ID string
}

// decode turns the raw data of kind into its typed payload. Payloads
// missing a required field fail with data.ErrMissingField.
func decode(kind string, raw json.RawMessage) (any, error) {
	switch kind {
	case AnomalyNew, AnomalyUpdated:
		return decodeAnomaly(raw, data.Anomaly{})

	case AnomalyDeleted, CameraDeleted:
		id, err := data.DecodeID(raw)
		if err != nil {
			return nil, err
		}
		return Removed{ID: id}, nil

	case CameraStatus:
		var c data.CameraStatusChange
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if c.ID == "" {
			return nil, fmt.Errorf("%w: id", data.ErrMissingField)
		}
		if c.Status != data.CameraOnline && c.Status != data.CameraOffline {
			return nil, fmt.Errorf("camera %s: %w %q", c.ID, data.ErrInvalidStatus, c.Status)
		}
		return c, nil

	case CameraAdded, CameraUpdated:
		return decodeCamera(raw, data.Camera{})

	case ServerError:
		var e ServerErrorPayload
		// some servers emit a bare string
		if err := json.Unmarshal(raw, &e); err != nil {
			var msg string
			if err2 := json.Unmarshal(raw, &msg); err2 != nil {
				return nil, err
			}
			e.Message = msg
		}
		if e.Message == "" {
			e.Message = "unspecified server error"
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
}

// decodeAnomaly applies raw onto base; fields raw does not carry keep the
// value from base.
func decodeAnomaly(raw json.RawMessage, base data.Anomaly) (data.Anomaly, error) {
	a := base
	if err := json.Unmarshal(raw, &a); err != nil {
		return data.Anomaly{}, err
	}
	if err := a.Validate(); err != nil {
		return data.Anomaly{}, err
	}
	return a, nil
}

func decodeCamera(raw json.RawMessage, base data.Camera) (data.Camera, error) {
	c := base
	if err := json.Unmarshal(raw, &c); err != nil {
		return data.Camera{}, err
	}
	if err := c.Validate(); err != nil {
		return data.Camera{}, err
	}
	return c, nil
}
