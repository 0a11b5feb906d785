package cluster

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventModeChanged     EventType = "mode_changed"
    EventActiveChanged   EventType = "active_changed"
    EventMemberJoin      EventType = "member_join"
    EventMemberLeave     EventType = "member_leave"
    EventRestartRequired EventType = "restart_required"
)

// Event is an application-consumable event describing node state changes.
// Only relevant fields for an event type are populated.
type Event struct {
    Type EventType
    At   time.Time
    // Old and New are protocol state labels for EventModeChanged.
    Old string
    New string
    // Node is the member or active the event is about.
    Node string
    Err  error
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) to avoid back-pressuring internals.
func (c *Cluster) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    c.eb.add(ch)
    go func() {
        <-ctx.Done()
        c.eb.remove(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

// remove unsubscribes and closes ch under the bus lock so that publish
// never sends on a closed channel.
func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if _, ok := e.subs[ch]; ok {
        delete(e.subs, ch)
        close(ch)
    }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}
