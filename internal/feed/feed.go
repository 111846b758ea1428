// Package feed fan-outs acknowledgment events to live dashboard
// subscribers (SSE clients).
package feed

import (
	"context"
	"sync"
	"time"
)

// AckEvent describes one recorded acknowledgment for the live feed.
type AckEvent struct {
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	StaffID       string    `json:"staff_id"`
	StaffName     string    `json:"staff_name"`
	Version       int       `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
}

// Feed fan-outs events to all active subscribers.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan AckEvent
	next int
}

// New initialises an empty feed.
func New() *Feed {
	return &Feed{subs: make(map[int]chan AckEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan AckEvent {
	ch := make(chan AckEvent, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (f *Feed) Publish(evt AckEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
