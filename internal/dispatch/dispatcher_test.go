package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/realtime"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ev realtime.Event) {
	m.Called(ev)
}

func frame(kind, payload string) realtime.Frame {
	return realtime.Frame{Kind: kind, Data: json.RawMessage(payload), ReceivedAt: time.Now()}
}

func setup() (*Dispatcher, *store.Store, *MockNotifier) {
	s := store.New()
	n := new(MockNotifier)
	return New(s, n, zerolog.Nop()), s, n
}

func TestHandle_AnomalyNewFlattensCameraAndNotifiesAfterMerge(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Run(func(args mock.Arguments) {
		// the store already holds the anomaly when subscribers run
		_, ok := s.Anomaly("a1")
		assert.True(t, ok)
	}).Once()

	ok := d.Handle(frame(AnomalyNew, `{"_id":"a1","type":"intrusion","camera_id":{"_id":"cam-7","name":"Gate"}}`))
	require.True(t, ok)

	n.AssertExpectations(t)
	ev := n.Calls[0].Arguments.Get(0).(realtime.Event)
	assert.Equal(t, AnomalyNew, ev.Kind)
	a := ev.Payload.(data.Anomaly)
	assert.Equal(t, "cam-7", a.CameraID)

	live := s.LiveAnomalies()
	require.Len(t, live, 1)
	assert.Equal(t, "cam-7", live[0].CameraID)
}

func TestHandle_RepeatedAnomalyIsIdempotent(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()

	payload := `{"_id":"a1","type":"intrusion","camera_id":"cam-1"}`
	d.Handle(frame(AnomalyNew, payload))
	d.Handle(frame(AnomalyNew, payload))
	d.Handle(frame(AnomalyUpdated, `{"_id":"a1","type":"intrusion","camera_id":"cam-1","status":"Acknowledged"}`))

	feed := s.AnomalyFeed()
	require.Len(t, feed, 1)
	assert.Equal(t, data.AnomalyAcknowledged, feed[0].Status)
}

func TestHandle_DropsInvalidFrames(t *testing.T) {
	tests := []struct {
		name, kind, payload string
	}{
		{"anomaly without id", AnomalyNew, `{"type":"intrusion","camera_id":"cam-1"}`},
		{"anomaly without camera", AnomalyNew, `{"_id":"a1","type":"intrusion"}`},
		{"anomaly without type", AnomalyUpdated, `{"_id":"a1","camera_id":"cam-1"}`},
		{"anomaly not an object", AnomalyNew, `[1,2]`},
		{"delete without id", AnomalyDeleted, `{}`},
		{"camera without id", CameraAdded, `{"name":"Gate"}`},
		{"status without id", CameraStatus, `{"status":"Online"}`},
		{"status bogus", CameraStatus, `{"id":"c1","status":"Sleeping"}`},
		{"anomaly status bogus", AnomalyNew, `{"_id":"a1","type":"intrusion","camera_id":"cam-1","status":"Bogus"}`},
		{"unknown kind", "camera:moved", `{"id":"c1"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, s, n := setup()
			assert.False(t, d.Handle(frame(tc.kind, tc.payload)))
			n.AssertNotCalled(t, "Notify", mock.Anything)
			assert.Equal(t, uint64(0), s.Version())
		})
	}
}

func TestHandle_CameraEvents(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()

	require.True(t, d.Handle(frame(CameraAdded, `{"_id":"c1","name":"Gate","status":"Offline"}`)))
	require.True(t, d.Handle(frame(CameraStatus, `{"id":"c1","status":"Online"}`)))

	c, ok := s.Camera("c1")
	require.True(t, ok)
	assert.Equal(t, data.CameraOnline, c.Status)

	require.True(t, d.Handle(frame(CameraUpdated, `{"id":"c1","name":"North Gate","status":"Online"}`)))
	c, _ = s.Camera("c1")
	assert.Equal(t, "North Gate", c.Name)

	require.True(t, d.Handle(frame(CameraDeleted, `"c1"`)))
	_, ok = s.Camera("c1")
	assert.False(t, ok)
	n.AssertNumberOfCalls(t, "Notify", 4)
}

func TestHandle_PartialUpdatesKeepAbsentFields(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()

	require.True(t, d.Handle(frame(CameraAdded, `{"_id":"c1","name":"Gate","location":"North","status":"Online"}`)))
	require.True(t, d.Handle(frame(CameraUpdated, `{"id":"c1","status":"Offline"}`)))

	c, ok := s.Camera("c1")
	require.True(t, ok)
	assert.Equal(t, data.Camera{ID: "c1", Name: "Gate", Location: "North", Status: data.CameraOffline}, c)

	require.True(t, d.Handle(frame(AnomalyNew, `{"_id":"a1","type":"intrusion","location":"Dock","confidence":88,"camera_id":{"_id":"c1","name":"Gate"}}`)))
	require.True(t, d.Handle(frame(AnomalyUpdated, `{"_id":"a1","status":"Acknowledged"}`)))

	a, ok := s.Anomaly("a1")
	require.True(t, ok)
	assert.Equal(t, data.AnomalyAcknowledged, a.Status)
	assert.Equal(t, "intrusion", a.Type)
	assert.Equal(t, "Dock", a.Location)
	assert.Equal(t, 88.0, a.Confidence)
	assert.Equal(t, "c1", a.CameraID)
	assert.Equal(t, "Gate", a.CameraName)
}

func TestHandle_PartialUpdateForUnknownAnomalyIsDropped(t *testing.T) {
	d, s, n := setup()
	assert.False(t, d.Handle(frame(AnomalyUpdated, `{"_id":"a9","status":"Resolved"}`)))
	n.AssertNotCalled(t, "Notify", mock.Anything)
	_, ok := s.Anomaly("a9")
	assert.False(t, ok)
}

func TestHandle_AnomalyDeleted(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()
	s.SetAnomalies([]data.Anomaly{{ID: "a1", Type: "fire", CameraID: "c1"}}, time.Now())

	require.True(t, d.Handle(frame(AnomalyDeleted, `{"_id":"a1"}`)))

	_, ok := s.Anomaly("a1")
	assert.False(t, ok)
	ev := n.Calls[0].Arguments.Get(0).(realtime.Event)
	assert.Equal(t, Removed{ID: "a1"}, ev.Payload)
}

func TestHandle_ServerErrorKeepsConnectionState(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()
	s.SetConnectionState("connected")

	require.True(t, d.Handle(frame(ServerError, `{"message":"quota exceeded"}`)))
	require.True(t, d.Handle(frame(ServerError, `"bare message"`)))

	assert.Equal(t, "connected", s.ConnectionState())
	errs := s.ConnectionErrors()
	require.Len(t, errs, 2)
	assert.Equal(t, "WebSocket error: bare message", errs[0].Message)
	assert.Equal(t, "WebSocket error: quota exceeded", errs[1].Message)
}

func TestRun_ConsumesUntilClosed(t *testing.T) {
	d, s, n := setup()
	n.On("Notify", mock.Anything).Return()

	frames := make(chan realtime.Frame, 3)
	frames <- frame(CameraAdded, `{"_id":"c1"}`)
	frames <- frame("garbage", `{}`)
	frames <- frame(CameraAdded, `{"_id":"c2"}`)
	close(frames)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), frames)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Len(t, s.Cameras(), 2)
}
