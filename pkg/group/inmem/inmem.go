// Package inmem is an in-process group for tests and single-binary demos.
// Every node gets its own ordered delivery goroutine.
package inmem

import (
    "context"
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/internal/mailbox"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Hub connects in-memory nodes. Links can be cut to simulate partitions.
type Hub struct {
    mu    sync.Mutex
    nodes map[state.NodeID]*Node
    cut   map[[2]state.NodeID]bool
}

func NewHub() *Hub {
    return &Hub{nodes: make(map[state.NodeID]*Node), cut: make(map[[2]state.NodeID]bool)}
}

// Node is one member of a Hub and implements group.Group.
type Node struct {
    hub  *Hub
    id   state.NodeID
    meta map[string]string
    slot group.HandlerSlot
    box  *mailbox.Mailbox[func(group.Handler)]
    done chan struct{}
}

var _ group.Group = (*Node)(nil)

// Join adds id to the hub and announces it to every reachable member.
func (h *Hub) Join(id state.NodeID, meta map[string]string) (*Node, error) {
    h.mu.Lock()
    if _, ok := h.nodes[id]; ok {
        h.mu.Unlock()
        return nil, fmt.Errorf("inmem: node %s already joined", id)
    }
    n := &Node{hub: h, id: id, meta: meta, box: mailbox.New[func(group.Handler)](), done: make(chan struct{})}
    h.nodes[id] = n
    peers := h.reachableLocked(id)
    h.mu.Unlock()
    go n.loop()
    for _, p := range peers {
        p.deliver(func(hd group.Handler) { hd.NodeJoined(id) })
    }
    return n, nil
}

// Leave removes id and announces the departure.
func (h *Hub) Leave(id state.NodeID) {
    h.mu.Lock()
    n, ok := h.nodes[id]
    if !ok { h.mu.Unlock(); return }
    peers := h.reachableLocked(id)
    delete(h.nodes, id)
    h.mu.Unlock()
    n.box.Close()
    close(n.done)
    for _, p := range peers {
        p.deliver(func(hd group.Handler) { hd.NodeLeft(id) })
    }
}

// Partition cuts the link between a and b in both directions and reports a
// leave on each side.
func (h *Hub) Partition(a, b state.NodeID) {
    h.mu.Lock()
    if h.cut[key(a, b)] { h.mu.Unlock(); return }
    h.cut[key(a, b)] = true
    na, nb := h.nodes[a], h.nodes[b]
    h.mu.Unlock()
    if na != nil { na.deliver(func(hd group.Handler) { hd.NodeLeft(b) }) }
    if nb != nil { nb.deliver(func(hd group.Handler) { hd.NodeLeft(a) }) }
}

// Heal restores the link between a and b.
func (h *Hub) Heal(a, b state.NodeID) {
    h.mu.Lock()
    if !h.cut[key(a, b)] { h.mu.Unlock(); return }
    delete(h.cut, key(a, b))
    na, nb := h.nodes[a], h.nodes[b]
    h.mu.Unlock()
    if na != nil && nb != nil {
        na.deliver(func(hd group.Handler) { hd.NodeJoined(b) })
        nb.deliver(func(hd group.Handler) { hd.NodeJoined(a) })
    }
}

func key(a, b state.NodeID) [2]state.NodeID {
    if a > b { a, b = b, a }
    return [2]state.NodeID{a, b}
}

func (h *Hub) reachableLocked(from state.NodeID) []*Node {
    var out []*Node
    for id, n := range h.nodes {
        if id == from || h.cut[key(from, id)] { continue }
        out = append(out, n)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
    return out
}

func (h *Hub) lookup(from, to state.NodeID) (*Node, error) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if _, ok := h.nodes[from]; !ok { return nil, group.ErrClosed }
    n, ok := h.nodes[to]
    if !ok || h.cut[key(from, to)] { return nil, fmt.Errorf("%w: %s", group.ErrUnknownNode, to) }
    return n, nil
}

func (n *Node) LocalID() state.NodeID { return n.id }

func (n *Node) Members() []group.Member {
    n.hub.mu.Lock()
    defer n.hub.mu.Unlock()
    out := []group.Member{{ID: n.id, Meta: n.meta}}
    for _, p := range n.hub.reachableLocked(n.id) {
        out = append(out, group.Member{ID: p.id, Meta: p.meta})
    }
    return out
}

func (n *Node) Peers() []state.NodeID { return group.PeerIDs(n.Members(), n.id) }

func (n *Node) SendTo(ctx context.Context, to state.NodeID, msg group.Message) error {
    if err := ctx.Err(); err != nil { return err }
    dst, err := n.hub.lookup(n.id, to)
    if err != nil { return err }
    dst.deliver(func(hd group.Handler) { hd.HandleMessage(msg) })
    return nil
}

func (n *Node) Broadcast(ctx context.Context, msg group.Message) error {
    if err := ctx.Err(); err != nil { return err }
    n.hub.mu.Lock()
    if _, ok := n.hub.nodes[n.id]; !ok { n.hub.mu.Unlock(); return group.ErrClosed }
    peers := n.hub.reachableLocked(n.id)
    n.hub.mu.Unlock()
    for _, p := range peers {
        p.deliver(func(hd group.Handler) { hd.HandleMessage(msg) })
    }
    return nil
}

func (n *Node) SetHandler(h group.Handler) {
    n.slot.Set(h)
    for _, p := range n.Peers() {
        id := p
        n.deliver(func(hd group.Handler) { hd.NodeJoined(id) })
    }
}

// Close leaves the hub.
func (n *Node) Close() error { n.hub.Leave(n.id); return nil }

func (n *Node) deliver(fn func(group.Handler)) { n.box.Push(fn) }

func (n *Node) loop() {
    for {
        select {
        case <-n.done:
            return
        case <-n.box.Ready():
            for _, fn := range n.box.Drain() {
                if h := n.slot.Get(); h != nil { fn(h) }
            }
        }
    }
}
