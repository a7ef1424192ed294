// Package events carries perpetual task lifecycle events from the service
// layer to observers such as the audit log.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventTaskCreated EventType = "task_created"
	EventTaskReset   EventType = "task_reset"
	EventTaskDeleted EventType = "task_deleted"
	// EventDeploymentProcessed is published once per intake batch.
	EventDeploymentProcessed EventType = "deployment_processed"
)

// TaskEventTypes are the events an audit log records.
var TaskEventTypes = []EventType{
	EventTaskCreated,
	EventTaskReset,
	EventTaskDeleted,
	EventDeploymentProcessed,
}

// Well-known Data keys.
const (
	KeyAccountID      = "account_id"
	KeyTaskID         = "task_id"
	KeyTaskType       = "task_type"
	KeyInfraMappingID = "infra_mapping_id"
	KeyReason         = "reason"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus delivers events asynchronously through one buffered channel per
// subscriber. A full channel drops the event for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	wg          sync.WaitGroup
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType and returns its unsubscribe func.
// fn runs on a dedicated goroutine; panics in fn are recovered.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

func deliver(fn Subscriber, event Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// Publish sends an event to all subscribers of eventType without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close stops all subscriptions and waits for queued events to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
