// Package dispatcher implements the in-process pub/sub channel used to relay
// service calls and state updates to whoever is listening.
package dispatcher

import (
	"sync"
)

// Handler receives a payload published on a signal.
type Handler func(payload map[string]any)

// Dispatcher routes payloads to subscribers by signal name. Delivery is
// synchronous and in subscription order; sending on a signal without
// subscribers is a no-op.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription

	mirrors []Mirror
}

type subscription struct {
	id      int
	handler Handler
}

// Mirror receives a copy of every dispatched payload. Used to bridge signals
// onto external transports.
type Mirror interface {
	Relay(signal string, payload map[string]any)
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{subs: make(map[string][]subscription)}
}

// AttachMirror registers a mirror for all signals.
func (d *Dispatcher) AttachMirror(m Mirror) {
	d.mu.Lock()
	d.mirrors = append(d.mirrors, m)
	d.mu.Unlock()
}

// Subscribe registers a handler for a signal and returns its remove function.
func (d *Dispatcher) Subscribe(signal string, handler Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[signal] = append(d.subs[signal], subscription{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			subs := d.subs[signal]
			for i, sub := range subs {
				if sub.id == id {
					d.subs[signal] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(d.subs[signal]) == 0 {
				delete(d.subs, signal)
			}
		})
	}
}

// Send delivers the payload to every subscriber of the signal. Each handler
// receives its own shallow copy so one listener cannot mutate another's view.
func (d *Dispatcher) Send(signal string, payload map[string]any) {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs[signal]))
	copy(subs, d.subs[signal])
	mirrors := make([]Mirror, len(d.mirrors))
	copy(mirrors, d.mirrors)
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(clonePayload(payload))
	}
	for _, m := range mirrors {
		m.Relay(signal, clonePayload(payload))
	}
}

// SubscriberCount reports active subscriptions for a signal.
func (d *Dispatcher) SubscriberCount(signal string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[signal])
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
