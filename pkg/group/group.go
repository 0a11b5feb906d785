// Package group is the boundary to the messaging and membership layer the
// election runs over: point-to-point send, broadcast and join/leave
// notifications.
package group

import (
    "context"
    "errors"
    "sync"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

var (
    ErrUnknownNode = errors.New("group: unknown node")
    ErrNotStarted  = errors.New("group: not started")
    ErrClosed      = errors.New("group: closed")
)

// Member is a node as seen by the group layer. Meta carries small
// auxiliary values such as the management address.
type Member struct {
    ID   state.NodeID      `json:"id"`
    Addr string            `json:"addr"`
    Meta map[string]string `json:"meta,omitempty"`
}

// Meta keys published by nodes.
const (
    MetaMgmtAddr  = "mgmt"
    MetaMgmtProto = "proto"
    MetaBootID    = "boot"
)

// Handler receives group traffic. Implementations must not block; the
// group calls them from its delivery goroutine.
type Handler interface {
    HandleMessage(msg Message)
    NodeJoined(id state.NodeID)
    NodeLeft(id state.NodeID)
}

// Group is what the election engine needs from the messaging layer.
type Group interface {
    LocalID() state.NodeID
    // Members includes the local node.
    Members() []Member
    // Peers are the currently reachable members, excluding the local node.
    Peers() []state.NodeID
    SendTo(ctx context.Context, to state.NodeID, msg Message) error
    Broadcast(ctx context.Context, msg Message) error
    // SetHandler installs h and replays a join for every peer already known.
    SetHandler(h Handler)
}

// Fanout forwards every callback to each handler in order.
type Fanout []Handler

func (f Fanout) HandleMessage(msg Message) { for _, h := range f { h.HandleMessage(msg) } }
func (f Fanout) NodeJoined(id state.NodeID) { for _, h := range f { h.NodeJoined(id) } }
func (f Fanout) NodeLeft(id state.NodeID)   { for _, h := range f { h.NodeLeft(id) } }

// HandlerSlot guards a Handler that may be installed after traffic starts.
type HandlerSlot struct {
    mu sync.RWMutex
    h  Handler
}

func (s *HandlerSlot) Set(h Handler) { s.mu.Lock(); s.h = h; s.mu.Unlock() }

func (s *HandlerSlot) Get() Handler { s.mu.RLock(); defer s.mu.RUnlock(); return s.h }

// PeerIDs lists member ids other than self.
func PeerIDs(members []Member, self state.NodeID) []state.NodeID {
    out := make([]state.NodeID, 0, len(members))
    for _, m := range members {
        if m.ID != self { out = append(out, m.ID) }
    }
    return out
}
