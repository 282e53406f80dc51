package services

import (
	"sync"
	"time"
)

// Stage is one step of the request state machine:
// Received -> Classifying -> Retrieving -> Routing -> Generating ->
// Evaluating (optional) -> Done | Fallback.
type Stage string

const (
	StageReceived    Stage = "received"
	StageClassifying Stage = "classifying"
	StageRetrieving  Stage = "retrieving"
	StageRouting     Stage = "routing"
	StageGenerating  Stage = "generating"
	StageEvaluating  Stage = "evaluating"
	StageDone        Stage = "done"
	StageFallback    Stage = "fallback"
)

// ProgressEvent reports a request entering a stage.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	ProjectID string    `json:"project_id"`
	Stage     Stage     `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressBus fans progress events out to subscribers. Publishing never
// blocks the request path: events to slow subscribers are dropped.
type ProgressBus struct {
	mu     sync.Mutex
	subs   map[int]chan ProgressEvent
	nextID int
	closed bool
}

// NewProgressBus creates an empty bus.
func NewProgressBus() *ProgressBus {
	return &ProgressBus{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe returns a buffered event channel and an unsubscribe function.
// The channel is closed on unsubscribe or bus close.
func (b *ProgressBus) Subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan ProgressEvent)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan ProgressEvent, 32)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *ProgressBus) Publish(event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *ProgressBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
