// Package events is the in-process notification channel between the
// scheduler/dispatcher and whoever wants to observe them (log writers, the
// AMQP forwarder, tests). Delivery is fire-and-forget fan-out: emitters never
// learn whether anyone listened.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
)

type Bus struct {
	mu    sync.RWMutex
	sinks []domain.EventSink
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a sink for all subsequent events.
func (b *Bus) Subscribe(sink domain.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// SubscribeFunc registers a plain function as a sink.
func (b *Bus) SubscribeFunc(fn func(domain.Event)) {
	b.Subscribe(sinkFunc(fn))
}

// Emit delivers the event to every sink. A panicking sink is logged and does
// not affect the others or the emitter.
func (b *Bus) Emit(name string, fields map[string]any) {
	ev := domain.Event{Name: name, At: time.Now().UTC(), Fields: fields}

	b.mu.RLock()
	sinks := make([]domain.EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event sink panicked", "event", name, "panic", r)
				}
			}()
			s.Notify(ev)
		}()
	}
}

type sinkFunc func(domain.Event)

func (f sinkFunc) Notify(ev domain.Event) { f(ev) }
