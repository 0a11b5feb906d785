// Package mailbox is an unbounded single-consumer queue. Producers never
// block, which keeps group callbacks and actor loops from deadlocking on
// each other.
package mailbox

import "sync"

type Mailbox[T any] struct {
    mu     sync.Mutex
    items  []T
    ready  chan struct{}
    closed bool
}

func New[T any]() *Mailbox[T] { return &Mailbox[T]{ready: make(chan struct{}, 1)} }

// Push appends v. It reports false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
    m.mu.Lock()
    if m.closed { m.mu.Unlock(); return false }
    m.items = append(m.items, v)
    m.mu.Unlock()
    select {
    case m.ready <- struct{}{}:
    default:
    }
    return true
}

// Ready fires after one or more Push calls.
func (m *Mailbox[T]) Ready() <-chan struct{} { return m.ready }

// Drain takes every pending item in push order.
func (m *Mailbox[T]) Drain() []T {
    m.mu.Lock()
    out := m.items
    m.items = nil
    m.mu.Unlock()
    return out
}

func (m *Mailbox[T]) Len() int { m.mu.Lock(); defer m.mu.Unlock(); return len(m.items) }

// Close rejects further pushes. Pending items stay drainable.
func (m *Mailbox[T]) Close() { m.mu.Lock(); m.closed = true; m.mu.Unlock() }
