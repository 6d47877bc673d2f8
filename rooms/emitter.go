package rooms

import (
	"sync"

	"github.com/rs/zerolog"
)

// emitter is a listener registry owned by components that publish events,
// composed in rather than inherited. Listeners run in registration order;
// a panicking listener is isolated and logged so the remaining listeners
// still run.
type emitter[T any] struct {
	log zerolog.Logger

	mu   sync.Mutex
	next int
	subs []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

func newEmitter[T any](log zerolog.Logger) *emitter[T] {
	return &emitter[T]{log: log}
}

// on registers fn and returns its removal func.
func (e *emitter[T]) on(fn func(T)) (off func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.subs = append(e.subs, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.subs {
			if l.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// offAll removes every listener.
func (e *emitter[T]) offAll() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}

// emit delivers v to every listener in registration order.
func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	subs := make([]listener[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, l := range subs {
		e.call(l.fn, v)
	}
}

func (e *emitter[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn(v)
}
