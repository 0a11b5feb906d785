// Package memberlist implements group.Group over HashiCorp memberlist.
// Membership and failure detection come from gossip; election messages
// travel point-to-point over memberlist's reliable (TCP) channel.
package memberlist

import (
    "context"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    json "github.com/goccy/go-json"
    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Options configures the memberlist-based group.
type Options struct {
    // NodeID is the unique node identifier.
    NodeID state.NodeID

    // Bind is the bind address in host:port form (e.g. ":7946" or "0.0.0.0:7946").
    Bind string

    // Advertise is the advertised address (host:port) that peers will use to reach this node.
    // If empty, memberlist derives it from Bind.
    Advertise string

    // Meta is optional metadata associated with the node.
    Meta map[string]string

    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// Group implements group.Group using HashiCorp memberlist.
type Group struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    slot   group.HandlerSlot
    logger *log.Logger
    closed bool
}

// ErrMetaTooLarge is returned by Start when the encoded metadata does not
// fit in a gossip alive message.
var ErrMetaTooLarge = errors.New("memberlist: node meta exceeds gossip limit")

var _ group.Group = (*Group)(nil)

// New constructs a memberlist-backed group. Call Start before use.
func New(opts Options) (*Group, error) {
    if opts.NodeID.IsNull() {
        return nil, fmt.Errorf("memberlist: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    return &Group{opts: opts, logger: logutil.OrDefault(opts.Logger)}, nil
}

// Start creates and launches the underlying memberlist instance.
func (g *Group) Start(ctx context.Context) error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.ml != nil {
        return nil
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = string(g.opts.NodeID)
    cfg.Logger = g.logger
    host, port, err := splitHostPort(g.opts.Bind)
    if err != nil {
        return fmt.Errorf("memberlist: invalid bind address %q: %w", g.opts.Bind, err)
    }
    cfg.BindAddr = host
    cfg.BindPort = port

    if g.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(g.opts.Advertise)
        if err != nil {
            return fmt.Errorf("memberlist: invalid advertise address %q: %w", g.opts.Advertise, err)
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }

    if g.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = g.opts.ProbeInterval
    }
    if g.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = g.opts.ProbeTimeout
    }
    if g.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = g.opts.SuspicionMult
    }

    cfg.Events = &eventDelegate{self: g.opts.NodeID, slot: &g.slot}
    metaBytes, err := json.Marshal(g.opts.Meta)
    if err != nil { return fmt.Errorf("memberlist: encode meta: %w", err) }
    if len(metaBytes) > memberlist.MetaMaxSize {
        return fmt.Errorf("%w: %d > %d bytes", ErrMetaTooLarge, len(metaBytes), memberlist.MetaMaxSize)
    }
    cfg.Delegate = &nodeDelegate{meta: metaBytes, slot: &g.slot, logger: g.logger}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    g.ml = ml

    go func() {
        <-ctx.Done()
        _ = g.Stop()
    }()
    return nil
}

// Join contacts the given seeds. It is a no-op without seeds.
func (g *Group) Join(seeds []string) error {
    ml := g.list()
    if ml == nil {
        return group.ErrNotStarted
    }
    if len(seeds) == 0 {
        return nil
    }
    _, err := ml.Join(seeds)
    return err
}

func (g *Group) LocalID() state.NodeID { return g.opts.NodeID }

// LocalAddr is the gossip address actually bound, useful with port 0.
func (g *Group) LocalAddr() string {
    ml := g.list()
    if ml == nil { return "" }
    n := ml.LocalNode()
    return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

func (g *Group) Members() []group.Member {
    ml := g.list()
    if ml == nil {
        return nil
    }
    nodes := ml.Members()
    out := make([]group.Member, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, toMember(n))
    }
    return out
}

func (g *Group) Peers() []state.NodeID { return group.PeerIDs(g.Members(), g.opts.NodeID) }

func (g *Group) SendTo(ctx context.Context, to state.NodeID, msg group.Message) error {
    if err := ctx.Err(); err != nil { return err }
    ml := g.list()
    if ml == nil { return group.ErrNotStarted }
    node := g.find(ml, to)
    if node == nil { return fmt.Errorf("%w: %s", group.ErrUnknownNode, to) }
    b, err := group.Encode(msg)
    if err != nil { return err }
    return ml.SendReliable(node, b)
}

// Broadcast sends msg to every peer concurrently and returns the first
// error seen, after all sends finished.
func (g *Group) Broadcast(ctx context.Context, msg group.Message) error {
    if err := ctx.Err(); err != nil { return err }
    ml := g.list()
    if ml == nil { return group.ErrNotStarted }
    b, err := group.Encode(msg)
    if err != nil { return err }
    var (
        wg    sync.WaitGroup
        mu    sync.Mutex
        first error
    )
    for _, n := range ml.Members() {
        if n.Name == string(g.opts.NodeID) { continue }
        wg.Add(1)
        go func(n *memberlist.Node) {
            defer wg.Done()
            if err := ml.SendReliable(n, b); err != nil {
                logutil.Debugf(g.logger, "memberlist: send %s to %s: %v", msg.Type, n.Name, err)
                mu.Lock()
                if first == nil { first = err }
                mu.Unlock()
            }
        }(n)
    }
    wg.Wait()
    return first
}

func (g *Group) SetHandler(h group.Handler) {
    g.slot.Set(h)
    for _, p := range g.Peers() {
        h.NodeJoined(p)
    }
}

// Leave announces a graceful departure.
func (g *Group) Leave() error {
    ml := g.list()
    if ml == nil {
        return nil
    }
    // best-effort: leave and give some time to broadcast
    _ = ml.Leave(time.Second)
    return nil
}

func (g *Group) Stop() error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.closed {
        return nil
    }
    g.closed = true
    if g.ml != nil {
        _ = g.ml.Shutdown()
        g.ml = nil
    }
    return nil
}

// HealthScore exposes memberlist's awareness score, or -1 when stopped.
func (g *Group) HealthScore() int {
    ml := g.list()
    if ml == nil {
        return -1
    }
    return ml.GetHealthScore()
}

func (g *Group) list() *memberlist.Memberlist {
    g.mu.RLock()
    defer g.mu.RUnlock()
    return g.ml
}

func (g *Group) find(ml *memberlist.Memberlist, id state.NodeID) *memberlist.Node {
    for _, n := range ml.Members() {
        if n.Name == string(id) { return n }
    }
    return nil
}

func toMember(n *memberlist.Node) group.Member {
    meta := map[string]string{}
    if len(n.Meta) > 0 {
        _ = json.Unmarshal(n.Meta, &meta)
    }
    return group.Member{ID: state.NodeID(n.Name), Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

// eventDelegate turns memberlist membership changes into handler calls.
type eventDelegate struct {
    self state.NodeID
    slot *group.HandlerSlot
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    if n == nil || state.NodeID(n.Name) == d.self { return }
    if h := d.slot.Get(); h != nil { h.NodeJoined(state.NodeID(n.Name)) }
}

// NotifyLeave covers both graceful leave and failure; memberlist conflates them.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if n == nil || state.NodeID(n.Name) == d.self { return }
    if h := d.slot.Get(); h != nil { h.NodeLeft(state.NodeID(n.Name)) }
}

func (d *eventDelegate) NotifyUpdate(*memberlist.Node) {}

// nodeDelegate publishes node metadata and receives election messages.
type nodeDelegate struct {
    meta   []byte
    slot   *group.HandlerSlot
    logger *log.Logger
}

// NodeMeta is used to retrieve meta-data about the current node when broadcasting
// an alive message. The returned byte slice will be truncated to the given limit,
// as it will be broadcast in gossip.
func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    if limit <= 0 { return nil }
    return d.meta[:limit]
}

// NotifyMsg decodes before returning; memberlist reuses buf afterwards.
func (d *nodeDelegate) NotifyMsg(buf []byte) {
    msg, err := group.Decode(buf)
    if err != nil {
        logutil.Warnf(d.logger, "memberlist: dropping message: %v", err)
        return
    }
    if h := d.slot.Get(); h != nil { h.HandleMessage(msg) }
}

func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, err }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 {
        return "", 0, fmt.Errorf("invalid port: %q", ps)
    }
    return host, p, nil
}
