package app

import (
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/dispatch"
	"github.com/technosupport/ts-vms-monitor/internal/realtime"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

type subscriber interface {
	Subscribe(kind string, h realtime.Handler) func()
}

// AlertNotifier surfaces every new anomaly: it becomes the store's last
// alert and is logged at warn level.
type AlertNotifier struct {
	store *store.Store
	log   zerolog.Logger
}

func NewAlertNotifier(s *store.Store, log zerolog.Logger) *AlertNotifier {
	return &AlertNotifier{store: s, log: log}
}

func (n *AlertNotifier) Attach(sub subscriber) func() {
	return sub.Subscribe(dispatch.AnomalyNew, n.handle)
}

func (n *AlertNotifier) handle(ev realtime.Event) {
	a, ok := ev.Payload.(data.Anomaly)
	if !ok {
		return
	}
	n.store.SetLastAlert(a)
	n.log.Warn().
		Str("id", a.ID).
		Str("type", a.Type).
		Str("location", a.Location).
		Float64("confidence", a.Confidence).
		Str("camera_id", a.CameraID).
		Msg("new anomaly detected")
}
