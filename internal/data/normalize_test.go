package data

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnomalyUnmarshal_CameraRef(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantID   string
		wantName string
	}{
		{"bare string", `{"_id":"a1","type":"intrusion","camera_id":"cam-1"}`, "cam-1", ""},
		{"expanded object", `{"_id":"a1","type":"intrusion","camera_id":{"_id":"cam-2","name":"Gate"}}`, "cam-2", "Gate"},
		{"object with id", `{"_id":"a1","type":"intrusion","camera_id":{"id":"cam-3"}}`, "cam-3", ""},
		{"numeric id", `{"_id":"a1","type":"intrusion","camera_id":42}`, "42", ""},
		{"camera object wins", `{"_id":"a1","type":"intrusion","camera_id":"stale","camera":{"_id":"cam-4","name":"Lobby"}}`, "cam-4", "Lobby"},
		{"missing", `{"_id":"a1","type":"intrusion"}`, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var a Anomaly
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &a))
			assert.Equal(t, "a1", a.ID)
			assert.Equal(t, tc.wantID, a.CameraID)
			assert.Equal(t, tc.wantName, a.CameraName)
		})
	}
}

func TestAnomalyUnmarshal_AltID(t *testing.T) {
	var a Anomaly
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x9","type":"motion","camera_id":"c"}`), &a))
	assert.Equal(t, "x9", a.ID)
}

func TestAnomalyRoundTripKeepsBareCameraID(t *testing.T) {
	in := `{"_id":"a1","type":"intrusion","status":"Active","camera_id":{"_id":"cam-2"}}`
	var a Anomaly
	require.NoError(t, json.Unmarshal([]byte(in), &a))

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"camera_id":"cam-2"`)

	var back Anomaly
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, a, back)
}

func TestAnomalyValidate(t *testing.T) {
	tests := []struct {
		name    string
		a       Anomaly
		wantErr bool
	}{
		{"complete", Anomaly{ID: "a", CameraID: "c", Type: "t"}, false},
		{"no id", Anomaly{CameraID: "c", Type: "t"}, true},
		{"no camera", Anomaly{ID: "a", Type: "t"}, true},
		{"no type", Anomaly{ID: "a", CameraID: "c"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.a.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrMissingField))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnomalyUnmarshal_KeepsCameraNameWithBareID(t *testing.T) {
	var a Anomaly
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"a1","type":"t","camera_id":"cam-2","camera_name":"Gate"}`), &a))
	assert.Equal(t, "cam-2", a.CameraID)
	assert.Equal(t, "Gate", a.CameraName)
}

func TestUnmarshal_OntoExistingKeepsAbsentFields(t *testing.T) {
	a := Anomaly{ID: "a1", Type: "fire", Location: "Dock", CameraID: "c1", CameraName: "Gate", Status: AnomalyActive}
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"a1","status":"Resolved"}`), &a))
	assert.Equal(t, Anomaly{ID: "a1", Type: "fire", Location: "Dock", CameraID: "c1", CameraName: "Gate", Status: AnomalyResolved}, a)

	c := Camera{ID: "c1", Name: "Gate", Location: "North", Status: CameraOnline}
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","status":"Offline"}`), &c))
	assert.Equal(t, Camera{ID: "c1", Name: "Gate", Location: "North", Status: CameraOffline}, c)
}

func TestAnomalyValidate_Status(t *testing.T) {
	a := Anomaly{ID: "a", CameraID: "c", Type: "t", Status: "Bogus"}
	assert.ErrorIs(t, a.Validate(), ErrInvalidStatus)

	a.Status = AnomalyResolved
	assert.NoError(t, a.Validate())
	a.Status = ""
	assert.NoError(t, a.Validate())
}

func TestDecodeID(t *testing.T) {
	id, err := DecodeID(json.RawMessage(`"cam-1"`))
	require.NoError(t, err)
	assert.Equal(t, "cam-1", id)

	id, err = DecodeID(json.RawMessage(`{"_id":"cam-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "cam-2", id)

	_, err = DecodeID(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrMissingField)
}
