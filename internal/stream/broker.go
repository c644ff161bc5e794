package stream

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published for chat sessions.
const (
	EventItemAppended  = "item_appended"
	EventItemsSettled  = "items_settled"
	EventLoading       = "loading"
	EventStockSelected = "stock_selected"
	EventAgentUpdated  = "agent_updated"
	EventTyping        = "typing"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow subscribers
// lose events and are expected to reconnect with their last event ID.
const subscriberBuffer = 64

// Event is one published session change.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription receives events for one session.
type Subscription struct {
	ID        int64
	SessionID string
	C         <-chan Event

	ch     chan Event
	broker *Broker
	once   sync.Once
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.unsubscribe(s) })
}

// Broker publishes events to per-session subscribers.
type Broker struct {
	mu    sync.RWMutex
	subs  map[string]map[int64]*Subscription // sessionID -> subscription ID -> subscription
	queue *MessageQueue

	counterMu    sync.Mutex
	eventCounter int64
	subCounter   int64
}

// NewBroker creates a broker keeping replaySize events per session.
func NewBroker(replaySize int) *Broker {
	return &Broker{
		subs:  make(map[string]map[int64]*Subscription),
		queue: NewMessageQueue(replaySize),
	}
}

func (b *Broker) nextEventID() int64 {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	b.eventCounter++
	return b.eventCounter
}

// Publish records an event and delivers it to current subscribers.
func (b *Broker) Publish(sessionID, eventType string, data any) Event {
	ev := Event{
		ID:        b.nextEventID(),
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	b.queue.Enqueue(ev)
	b.fanOut(ev)
	return ev
}

// Emit delivers an event to current subscribers without recording it for
// replay. Used for transient frames such as typing animation.
func (b *Broker) Emit(sessionID, eventType string, data any) {
	ev := Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	b.fanOut(ev)
}

// fanOut never blocks. It runs under the read lock so unsubscribe cannot
// close a channel mid-send.
func (b *Broker) fanOut(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[ev.SessionID] {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("Subscriber buffer full, dropping event",
				"session_id", s.SessionID,
				"sub_id", s.ID,
				"event_id", ev.ID,
				"type", ev.Type)
		}
	}
}

// Subscribe registers a subscriber and returns the events it missed after
// afterEventID. Pass 0 to skip replay.
func (b *Broker) Subscribe(sessionID string, afterEventID int64) (*Subscription, []Event) {
	b.counterMu.Lock()
	b.subCounter++
	id := b.subCounter
	b.counterMu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{ID: id, SessionID: sessionID, C: ch, ch: ch, broker: b}

	b.mu.Lock()
	if _, ok := b.subs[sessionID]; !ok {
		b.subs[sessionID] = make(map[int64]*Subscription)
	}
	b.subs[sessionID][id] = sub
	b.mu.Unlock()

	var missed []Event
	if afterEventID > 0 {
		missed = b.queue.After(sessionID, afterEventID)
	}
	return sub, missed
}

func (b *Broker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[s.SessionID]; ok {
		if _, exists := subs[s.ID]; exists {
			delete(subs, s.ID)
			close(s.ch)
		}
		if len(subs) == 0 {
			delete(b.subs, s.SessionID)
		}
	}
}

// Forget closes all subscriptions of a session and drops its history.
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	for id, s := range b.subs[sessionID] {
		delete(b.subs[sessionID], id)
		close(s.ch)
	}
	delete(b.subs, sessionID)
	b.mu.Unlock()
	b.queue.Prune(sessionID)
}

// subscriberCount returns the number of live subscribers for a session.
func (b *Broker) subscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
