package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultEventBuffer is the event channel capacity used by New.
const DefaultEventBuffer = 256

// EventEmitter fans orchestrator events out to a single buffered channel.
// It is safe for concurrent use; Emit after Close is a no-op.
type EventEmitter struct {
	mu           sync.RWMutex
	closed       bool
	events       chan Event
	droppedCount atomic.Uint64
	log          zerolog.Logger
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, log zerolog.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Emit sends an event. If the channel is full it waits briefly for the
// receiver to drain before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.log.Warn().Uint64("dropped", count).Str("type", string(event.Type)).
				Msg("event channel full, dropping event")
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the receive side of the channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the channel. It is safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
