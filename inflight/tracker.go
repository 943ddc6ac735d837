/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package inflight

import (
	"context"
	"sync"
)

// Listener is notified about busy/idle transitions.
type Listener func(busy bool)

type subscription struct {
	id       uint64
	listener Listener
}

// Tracker counts in-flight operations and notifies subscribers when the count
// crosses zero in either direction. The zero value is ready to use.
//
// Transitions are delivered in the order they happened, exactly once each.
// Listeners run synchronously in the goroutine that caused (or is currently delivering) the transition,
// so they should be fast. A listener may call Subscribe, unsubscribe, Begin, or End on the same Tracker.
type Tracker struct {
	mu          sync.Mutex
	count       int
	subscribers []subscription
	nextSubID   uint64

	pending    []bool
	publishing bool
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin registers the start of an operation.
func (t *Tracker) Begin() {
	t.mu.Lock()
	t.count++
	if t.count == 1 {
		t.pending = append(t.pending, true)
	}
	t.publishLocked()
}

// End registers the end of an operation. Calls without a matching Begin are ignored,
// so the count never goes below zero.
func (t *Tracker) End() {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		return
	}
	t.count--
	if t.count == 0 {
		t.pending = append(t.pending, false)
	}
	t.publishLocked()
}

// Track calls Begin, runs fn, and calls End when fn returns or panics.
// If ctx is already done, fn is not called and the context error is returned.
func (t *Tracker) Track(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Begin()
	defer t.End()
	return fn(ctx)
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function is idempotent. Listeners registered earlier are notified first,
// but callers should not rely on that.
func (t *Tracker) Subscribe(listener Listener) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSubID++
	id := t.nextSubID
	t.subscribers = append(t.subscribers, subscription{id: id, listener: listener})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

// Count returns the current number of in-flight operations.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Busy reports whether at least one operation is in flight.
func (t *Tracker) Busy() bool {
	return t.Count() > 0
}

func (t *Tracker) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.subscribers {
		if t.subscribers[i].id == id {
			// Build a new slice: snapshots taken for delivery must stay intact.
			subs := make([]subscription, 0, len(t.subscribers)-1)
			subs = append(subs, t.subscribers[:i]...)
			t.subscribers = append(subs, t.subscribers[i+1:]...)
			return
		}
	}
}

// publishLocked delivers pending transitions. It must be called with t.mu held and releases it.
// Only one goroutine delivers at a time; others just enqueue, so transitions are never reordered.
func (t *Tracker) publishLocked() {
	if t.publishing {
		t.mu.Unlock()
		return
	}
	t.publishing = true
	for len(t.pending) > 0 {
		busy := t.pending[0]
		t.pending = t.pending[1:]
		subs := t.subscribers
		t.mu.Unlock()
		t.deliver(subs, busy)
		t.mu.Lock()
	}
	t.publishing = false
	t.mu.Unlock()
}

func (t *Tracker) deliver(subs []subscription, busy bool) {
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.publishing = false
			t.mu.Unlock()
			panic(r)
		}
	}()
	for _, sub := range subs {
		sub.listener(busy)
	}
}
