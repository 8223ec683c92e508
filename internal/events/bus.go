// Package events provides a publish/subscribe bus for operational events.
// Components (message pipeline, confirmations, security guard, heartbeat)
// publish; the /v1/events WebSocket and the MQTT stats publisher
// subscribe. Publish on a nil *Bus is a no-op so components can be wired
// without one.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceBot       = "bot"
	SourceAction    = "action"
	SourceSecurity  = "security"
	SourceHeartbeat = "heartbeat"
	SourceHealth    = "health"
)

// Kinds. The Data keys each kind carries are listed alongside.
const (
	// KindMessageHandled: user_id, agent_type, success, elapsed_ms.
	KindMessageHandled = "message_handled"
	// KindAgentRouted: user_id, specialists, reasoning.
	KindAgentRouted = "agent_routed"

	// KindActionProposed: user_id, action_id, action_type.
	KindActionProposed = "action_proposed"
	// KindActionConfirmed: user_id, action_id, action_type, success.
	KindActionConfirmed = "action_confirmed"
	// KindActionCancelled: user_id, action_id, action_type.
	KindActionCancelled = "action_cancelled"

	// KindThreat: user_id, threat_type, severity, blocked.
	KindThreat = "threat"

	// KindNotification: user_id, type, key, text.
	KindNotification = "notification"
	// KindTick: users, sent.
	KindTick = "tick"

	// KindServiceDown: check, error.
	KindServiceDown = "service_down"
	// KindServiceUp: check.
	KindServiceUp = "service_up"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe accept the receive-only view handed
	// out by Subscribe.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends e to every subscriber, dropping it for subscribers whose
// buffer is full.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel receiving published events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
