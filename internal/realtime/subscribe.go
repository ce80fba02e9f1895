package realtime

import (
	"github.com/technosupport/ts-vms-monitor/internal/metrics"
)

// Subscribe registers h for events of kind and returns its unsubscribe func.
func (c *Channel) Subscribe(kind string, h Handler) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]Handler)
	}
	c.subs[kind][id] = h
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs[kind], id)
		c.subMu.Unlock()
	}
}

// Notify delivers ev to every subscriber of ev.Kind. A panicking handler is
// logged and does not affect the others.
func (c *Channel) Notify(ev Event) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[ev.Kind]))
	for _, h := range c.subs[ev.Kind] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

func (c *Channel) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerPanic(ev.Kind)
			c.log.Error().Interface("panic", r).Str("kind", ev.Kind).Msg("event handler panicked")
		}
	}()
	h(ev)
}
