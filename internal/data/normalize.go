package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField marks a payload that lacks a required field.
var ErrMissingField = errors.New("missing required field")

var ErrInvalidStatus = errors.New("invalid status")

// UnmarshalJSON accepts both "_id" and "id" and flattens an expanded
// camera reference (in "camera_id" or "camera") to its bare identifier.
// Fields absent from b keep their current value, so decoding onto a
// stored copy applies a partial update.
func (a *Anomaly) UnmarshalJSON(b []byte) error {
	type plain Anomaly
	var wire struct {
		plain
		AltID    string          `json:"id"`
		CameraID json.RawMessage `json:"camera_id"`
		Camera   json.RawMessage `json:"camera"`
	}
	wire.plain = plain(*a)
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	cameraID, cameraName := a.CameraID, wire.CameraName
	*a = Anomaly(wire.plain)
	if a.ID == "" {
		a.ID = wire.AltID
	}

	if id, name := flattenRef(wire.CameraID); id != "" {
		cameraID = id
		if name != "" {
			cameraName = name
		}
	}
	if id, name := flattenRef(wire.Camera); id != "" && bytes.HasPrefix(bytes.TrimSpace(wire.Camera), []byte("{")) {
		cameraID = id
		if name != "" {
			cameraName = name
		}
	}
	a.CameraID, a.CameraName = cameraID, cameraName
	return nil
}

// Validate enforces the fields every stored anomaly must carry.
func (a Anomaly) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("anomaly: %w: id", ErrMissingField)
	case a.CameraID == "":
		return fmt.Errorf("anomaly %s: %w: camera_id", a.ID, ErrMissingField)
	case a.Type == "":
		return fmt.Errorf("anomaly %s: %w: type", a.ID, ErrMissingField)
	case a.Status != "" && !a.Status.Valid():
		return fmt.Errorf("anomaly %s: %w %q", a.ID, ErrInvalidStatus, a.Status)
	}
	return nil
}

// UnmarshalJSON accepts both "_id" and "id". Like Anomaly, absent fields
// keep their current value.
func (c *Camera) UnmarshalJSON(b []byte) error {
	type plain Camera
	var wire struct {
		plain
		AltID string `json:"id"`
	}
	wire.plain = plain(*c)
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*c = Camera(wire.plain)
	if c.ID == "" {
		c.ID = wire.AltID
	}
	return nil
}

func (c Camera) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("camera: %w: id", ErrMissingField)
	}
	return nil
}

// DecodeID reads a bare identifier from a payload that is either a JSON
// string, a number, or an object carrying "_id"/"id".
func DecodeID(raw json.RawMessage) (string, error) {
	id, _ := flattenRef(raw)
	if id == "" {
		return "", fmt.Errorf("%w: id", ErrMissingField)
	}
	return id, nil
}

func flattenRef(raw json.RawMessage) (id, name string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, ""
		}
	case '{':
		var obj struct {
			ID    json.RawMessage `json:"_id"`
			AltID json.RawMessage `json:"id"`
			Name  string          `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", ""
		}
		id, _ = flattenRef(obj.ID)
		if id == "" {
			id, _ = flattenRef(obj.AltID)
		}
		return id, obj.Name
	case '[', 'f':
		return "", ""
	default:
		// numbers and true are coerced to their literal text
		return string(raw), ""
	}
	return "", ""
}
