// Package stream fans chat session events out to live subscribers and keeps a
// short per-session history for reconnecting clients.
package stream

import (
	"container/list"
	"sync"
)

// MessageQueue buffers recent events, sharded per session.
// Each session gets its own bounded list so one session's burst cannot evict
// events belonging to another.
type MessageQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // sessionID -> events
	maxSize int
}

// NewMessageQueue creates a new per-session message queue.
func NewMessageQueue(maxSize int) *MessageQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &MessageQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue adds an event to its session's queue.
func (q *MessageQueue) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[ev.SessionID]
	if !ok {
		l = list.New()
		q.queues[ev.SessionID] = l
	}
	l.PushBack(ev)
	// Evict oldest events only within this session's queue.
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// After returns the session's events with an ID greater than afterEventID.
func (q *MessageQueue) After(sessionID string, afterEventID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var missed []Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterEventID {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Prune drops the queue for a session.
func (q *MessageQueue) Prune(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionID)
}
