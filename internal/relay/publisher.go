// Package relay forwards normalised anomaly events to NATS.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/dispatch"
	"github.com/technosupport/ts-vms-monitor/internal/metrics"
	"github.com/technosupport/ts-vms-monitor/internal/realtime"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(kind string, h realtime.Handler) func()
}

// Message is the JSON body published for every forwarded event.
type Message struct {
	Event      string       `json:"event"`
	SessionID  string       `json:"session_id,omitempty"`
	Anomaly    data.Anomaly `json:"anomaly"`
	ReceivedAt time.Time    `json:"received_at"`
}

type Config struct {
	Subject    string
	SessionID  string
	MaxRetries int
	QueueSize  int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	Logger  zerolog.Logger
}

type Publisher struct {
	conn  Conn
	cfg   Config
	queue chan Message
	log   zerolog.Logger
}

func NewPublisher(conn Conn, cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &Publisher{
		conn:  conn,
		cfg:   cfg,
		queue: make(chan Message, cfg.QueueSize),
		log:   cfg.Logger,
	}
}

// Connect dials NATS with reconnect options suited to a long-running daemon.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Attach subscribes the publisher to anomaly:new and anomaly:updated and
// returns a func that detaches it.
func (p *Publisher) Attach(s Subscriber) func() {
	unsubs := []func(){
		s.Subscribe(dispatch.AnomalyNew, p.enqueue),
		s.Subscribe(dispatch.AnomalyUpdated, p.enqueue),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (p *Publisher) enqueue(ev realtime.Event) {
	a, ok := ev.Payload.(data.Anomaly)
	if !ok {
		return
	}
	msg := Message{Event: ev.Kind, SessionID: p.cfg.SessionID, Anomaly: a, ReceivedAt: ev.ReceivedAt}
	select {
	case p.queue <- msg:
	default:
		metrics.RecordDrop(ev.Kind, "relay_queue_full")
		p.log.Warn().Str("id", a.ID).Msg("relay queue full, dropping event")
	}
}

// Run publishes queued messages until ctx ends.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.Publish(ctx, msg); err != nil {
				p.log.Error().Err(err).Str("id", msg.Anomaly.ID).Msg("relay publish failed")
			}
		}
	}
}

// Publish sends msg, retrying up to MaxRetries times with linear backoff.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	for i := 0; i <= p.cfg.MaxRetries; i++ {
		if i > 0 {
			t := time.NewTimer(time.Duration(i) * p.cfg.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				metrics.RecordRelayPublish(false)
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = p.conn.Publish(p.cfg.Subject, body); err == nil {
			metrics.RecordRelayPublish(true)
			return nil
		}
	}

	metrics.RecordRelayPublish(false)
	return fmt.Errorf("publish failed after %d retries: %w", p.cfg.MaxRetries, err)
}
