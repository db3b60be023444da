package notification

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber channel capacity. A burst
// larger than this drops events for that subscriber instead of
// blocking the publisher.
const subscriberBuffer = 32

// Subscription is one subscriber's event feed. Receive from C.
// The channel is never closed; consumers should select on their own
// done signal and call Unsubscribe when finished.
type Subscription struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Manager manages subscriptions and broadcasts events to them.
// It implements Publisher.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	seqMu sync.Mutex
	seq   uint64
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*Subscription),
	}
}

// Subscribe adds a new subscription.
func (m *Manager) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{
		ID: uuid.New().String(),
		C:  ch,
		ch: ch,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Publish assigns the next sequence number and delivers the event to
// every subscriber without blocking. A subscriber whose buffer is full
// loses the event; playback must not stall on a slow observer.
func (m *Manager) Publish(typ Type, payload any) {
	m.seqMu.Lock()
	m.seq++
	event := Event{Seq: m.seq, Type: typ, Payload: payload}
	m.seqMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding the lock during sends
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			zlog.Debug().
				Str("subscription", sub.ID).
				Str("type", string(typ)).
				Uint64("seq", event.Seq).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions. Channels are left open; blocked
// receivers are expected to be driven by their own shutdown signal.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*Subscription)
}
