package core

import (
	"context"
	"sync"
)

// Mailbox is an unbounded, thread-safe FIFO queue.
type Mailbox[T comparable] struct {
	mu    sync.Mutex
	items []T
	head  int

	// notify wakes one blocked Take after a Push
	notify chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T comparable]() *Mailbox[T] {
	return &Mailbox[T]{
		notify: make(chan struct{}, 1),
	}
}

// Push appends v to the tail. It never fails.
func (m *Mailbox[T]) Push(v T) {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.signal()
}

// PopFront removes and returns the head without blocking.
// ok is false when the mailbox is empty.
func (m *Mailbox[T]) PopFront() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.head >= len(m.items) {
		return v, false
	}

	v = m.items[m.head]
	var zero T
	m.items[m.head] = zero
	m.head++
	m.compact()

	return v, true
}

// Remove removes the first queued element equal to v.
// It returns false when v is no longer queued, e.g. because a worker
// already claimed it.
func (m *Mailbox[T]) Remove(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.head; i < len(m.items); i++ {
		if m.items[i] != v {
			continue
		}
		copy(m.items[i:], m.items[i+1:])
		var zero T
		m.items[len(m.items)-1] = zero
		m.items = m.items[:len(m.items)-1]
		m.compact()
		return true
	}

	return false
}

// RemoveFront removes the head if it equals v.
func (m *Mailbox[T]) RemoveFront(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.head >= len(m.items) || m.items[m.head] != v {
		return false
	}
	var zero T
	m.items[m.head] = zero
	m.head++
	m.compact()

	return true
}

// Size returns the current depth. Concurrent users must treat it as a hint.
func (m *Mailbox[T]) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

// Drain removes and returns every queued element in order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]T, len(m.items)-m.head)
	copy(out, m.items[m.head:])
	m.items = nil
	m.head = 0

	return out
}

// Take blocks until an element is available or ctx is done.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := m.PopFront(); ok {
			// Pass the wake-up on if more elements are waiting
			if m.Size() > 0 {
				m.signal()
			}
			return v, nil
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// compact reclaims the consumed prefix. Caller holds m.mu.
func (m *Mailbox[T]) compact() {
	if m.head == len(m.items) {
		m.items = m.items[:0]
		m.head = 0
		return
	}
	if m.head > 32 && m.head*2 >= len(m.items) {
		n := copy(m.items, m.items[m.head:])
		var zero T
		for i := n; i < len(m.items); i++ {
			m.items[i] = zero
		}
		m.items = m.items[:n]
		m.head = 0
	}
}
