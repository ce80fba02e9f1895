package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetConnectionState_SingleActive(t *testing.T) {
	all := []string{"disconnected", "connecting", "connected", "error"}

	SetConnectionState("connecting", all)
	SetConnectionState("connected", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("error")))
}

func TestRecordDrop(t *testing.T) {
	before := testutil.ToFloat64(EventsDroppedTotal.WithLabelValues("anomaly:new", "malformed"))
	RecordDrop("anomaly:new", "malformed")
	after := testutil.ToFloat64(EventsDroppedTotal.WithLabelValues("anomaly:new", "malformed"))
	assert.Equal(t, before+1, after)
}
