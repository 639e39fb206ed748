package eventmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/mensbeam/Fork/engine"
)

// TypeDropped marks a synthesized notice standing in for events that
// were discarded because the destination could not keep up.
const TypeDropped = engine.EventType("dropped")

// Forwarder relays run events into a bounded channel without ever
// blocking the caller. When the destination is full the event is
// dropped and counted per task; once the channel has room again the
// gap is announced with a synthesized warning event so the consumer
// knows its view is incomplete.
type Forwarder struct {
	dst chan<- engine.Event

	mu    sync.Mutex
	drops map[string]int
}

// NewForwarder wraps dst. The channel stays owned by the caller.
func NewForwarder(dst chan<- engine.Event) *Forwarder {
	return &Forwarder{
		dst:   dst,
		drops: make(map[string]int),
	}
}

// Forward offers evt to the destination. A pending drop notice for the
// same task is delivered first so the consumer sees the gap in order.
func (f *Forwarder) Forward(evt engine.Event) {
	if !f.flushPending(evt.Key) {
		f.recordDrops(evt.Key, 1)
		return
	}
	if f.trySend(evt) {
		return
	}
	f.recordDrops(evt.Key, 1)
}

// Flush blocks until every outstanding drop notice has been delivered.
// Call it once the producer is done and the consumer is still draining.
func (f *Forwarder) Flush() {
	for key, count := range f.collectDrops() {
		f.dst <- dropNotice(key, count)
	}
}

func (f *Forwarder) flushPending(key string) bool {
	for {
		count := f.takeDrops(key)
		if count == 0 {
			return true
		}
		if f.trySend(dropNotice(key, count)) {
			continue
		}
		f.recordDrops(key, count)
		return false
	}
}

func (f *Forwarder) takeDrops(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := f.drops[key]
	if count != 0 {
		delete(f.drops, key)
	}
	return count
}

func (f *Forwarder) recordDrops(key string, count int) {
	if count <= 0 {
		return
	}
	f.mu.Lock()
	f.drops[key] += count
	f.mu.Unlock()
}

func (f *Forwarder) collectDrops() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drops) == 0 {
		return nil
	}
	pending := f.drops
	f.drops = make(map[string]int)
	return pending
}

func (f *Forwarder) trySend(evt engine.Event) bool {
	select {
	case f.dst <- evt:
		return true
	default:
		return false
	}
}

func dropNotice(key string, count int) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Key:       key,
		Type:      TypeDropped,
		Level:     "warn",
		Message:   fmt.Sprintf("dropped=%d", count),
	}
}
