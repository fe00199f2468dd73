package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/luma/keel/protocol"
)

// EventBufferSize is the channel depth handed to each listener. A
// listener that falls this far behind starts losing events.
const EventBufferSize = 255

// EventName selects one of the stream's event feeds.
type EventName string

const (
	// EventConnect fires when the socket reaches the Open state.
	EventConnect EventName = "connect"

	// EventClose fires when the socket closes, whether deliberately,
	// from a transport error or from the watchdog.
	EventClose EventName = "close"

	// EventError carries transport level failures, including watchdog
	// expiry. Errors are never returned synchronously from Open.
	EventError EventName = "error"

	// EventMessage carries every classified inbound frame.
	EventMessage EventName = "message"
)

// Event is a single occurrence on one of the feeds. Frame is set for
// message events, Err for error and close events.
type Event struct {
	Name  EventName
	Frame protocol.Frame
	Err   error
}

// listeners fans events out to any number of registered channels, one
// list per event name.
type listeners struct {
	mu    sync.Mutex
	chans map[EventName][]chan Event
	log   *zap.Logger
}

func newListeners(log *zap.Logger) *listeners {
	return &listeners{
		chans: make(map[EventName][]chan Event),
		log:   log,
	}
}

// listen registers and returns a new buffered channel on the named
// feed. Every registered channel receives every event independently.
func (l *listeners) listen(name EventName) <-chan Event {
	ch := make(chan Event, EventBufferSize)

	l.mu.Lock()
	l.chans[name] = append(l.chans[name], ch)
	l.mu.Unlock()

	return ch
}

// emit broadcasts an event to every listener on its feed. A listener
// with a full buffer loses the event; the read loop must never block on
// a slow consumer.
func (l *listeners) emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.chans[event.Name] {
		select {
		case ch <- event:
		default:
			l.log.Warn("listener too slow, dropping event",
				zap.String("event", string(event.Name)))
		}
	}
}
