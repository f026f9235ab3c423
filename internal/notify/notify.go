// Package notify fans state-change events out to the display side: the
// operator log, the MQTT bridge and anything else that subscribes.
package notify

import (
	"context"
	"time"

	"showctl/internal/logger"
)

// Kind names what changed.
type Kind string

const (
	KindDevice Kind = "device" // a device record changed (discovery, reload, reassign)
	KindTorch  Kind = "torch"  // torch on/off was commanded
	KindAudio  Kind = "audio"  // audio play/stop was commanded
	KindAck    Kind = "ack"    // a device acknowledged
	KindTap    Kind = "tap"    // a device sent a tap trigger
	KindStatus Kind = "status" // free form status text
)

// Event is one state change.
type Event struct {
	Kind Kind      `json:"kind"`
	Slot int       `json:"slot,omitempty"`
	On   bool      `json:"on"`
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at"`
}

// sendTimeout bounds how long a slow subscriber may hold up the fan-out.
const sendTimeout = 250 * time.Millisecond

// Hub relays published events to every subscriber. Subscribers that fail to
// take an event within sendTimeout miss it.
type Hub struct {
	log  *logger.Log
	inC  chan Event
	subC chan chan Event
	done chan struct{}
}

// NewHub starts the fan-out goroutine. It stops when ctx is done.
func NewHub(ctx context.Context, log *logger.Log) *Hub {
	h := &Hub{
		log:  log.Module("notify"),
		inC:  make(chan Event, 64),
		subC: make(chan chan Event),
		done: make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Publish queues ev for delivery. It never blocks; when the hub is saturated
// the event is dropped.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case h.inC <- ev:
	case <-h.done:
	default:
		h.log.Warnf("event dropped, hub saturated: %+v", ev)
	}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed when the hub stops.
func (h *Hub) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	select {
	case h.subC <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	var subs []chan Event
	defer func() {
		for _, ch := range subs {
			close(ch)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.subC:
			subs = append(subs, sub)
			h.log.Debugf("subscription added (%d)", len(subs))
		case ev := <-h.inC:
			for _, ch := range subs {
				select {
				case ch <- ev:
				case <-time.After(sendTimeout):
					h.log.Warnf("subscriber missed %s event", ev.Kind)
				}
			}
		}
	}
}
