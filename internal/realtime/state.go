package realtime

import (
	"encoding/json"
	"time"
)

// State is the live channel's connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Error        State = "error"
)

var AllStates = []string{string(Disconnected), string(Connecting), string(Connected), string(Error)}

// validTransition encodes the per-cycle ordering
// disconnected -> connecting -> {connected | error}; connected -> {disconnected | error}.
// Any state may fall back to disconnected on teardown, and a new cycle may
// start from error.
func validTransition(from, to State) bool {
	switch to {
	case Disconnected:
		return from != Disconnected
	case Connecting:
		return from == Disconnected || from == Error
	case Connected:
		return from == Connecting
	case Error:
		return from == Connecting || from == Connected
	}
	return false
}

// Frame is one inbound message as received on the wire.
type Frame struct {
	Kind       string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"-"`
}

// Event is a normalised event delivered to subscribers.
type Event struct {
	Kind       string
	Payload    any
	ReceivedAt time.Time
}

// Handler receives events of the kind it subscribed to.
type Handler func(Event)
