package progress

import (
	"sync"

	"github.com/docforge/docforge/pkg/log"
)

// Sink receives progress events. Emit must never block the producer.
type Sink interface {
	Emit(Event)
}

// Nop discards every event. Useful when a caller does not care about
// progress, e.g. scheduled background sweeps.
type Nop struct{}

func (Nop) Emit(Event) {}

const defaultBuffer = 64

// Emitter is a buffered, single-consumer progress channel. Producers never
// block: when the consumer falls behind and the buffer fills up, events are
// dropped with a warning, which the stream contract allows (at-most-once, no
// replay).
type Emitter struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
}

func NewEmitter() *Emitter {
	return &Emitter{ch: make(chan Event, defaultBuffer)}
}

// Events returns the consumer side of the stream. The channel is closed by
// Close once the producer is finished.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		log.Warn("Progress consumer too slow, dropping %s event", ev.Type)
	}
}

// Close ends the stream. Emit calls after Close are ignored, so a producer
// racing with consumer shutdown is safe.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
