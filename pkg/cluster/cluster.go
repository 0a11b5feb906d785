package cluster

import (
    "context"
    "log"
    "sort"
    "sync"
    "time"

    json "github.com/goccy/go-json"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/election"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// Facade exposes the high-level API for consumers.
type Facade interface {
    Start(ctx context.Context) error
    Status(ctx context.Context) (*Status, error)
    Allow(ctx context.Context) error
    Stop(ctx context.Context) error
    Fatal() <-chan error
}

// Cluster is one coordinator node: the election StateManager plus its group
// lifecycle, the management endpoint and an event bus for applications.
type Cluster struct {
    opts   Options
    logger *log.Logger
    self   state.NodeID
    grp    group.Group
    gate   consistency.ConsistencyManager
    sm     *election.StateManager
    rpcS   voter.Server
    rpcC   *voter.Client
    eb     eventBus

    mu  sync.Mutex
    run struct {
        started bool
        closed  bool
    }
    // activeMu guards lastActive; the election actor takes it from
    // onModeChange, so it is never held across calls into the election.
    activeMu   sync.Mutex
    lastActive state.NodeID
}

var (
    _ Facade        = (*Cluster)(nil)
    _ group.Handler = (*Cluster)(nil)
)

// New builds the StateManager and wires the cluster as its observer. It
// performs no network activity; call Start to launch the node.
func New(opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    c := &Cluster{
        opts:   opts,
        logger: logutil.OrDefault(opts.Logger),
        grp:    opts.Election.Group,
        gate:   opts.Election.Gate,
        rpcS:   opts.RPCServer,
        rpcC:   opts.RPCClient,
    }
    c.self = c.grp.LocalID()
    eo := opts.Election
    if eo.Logger == nil { eo.Logger = opts.Logger }
    eo.Observers = append(append([]group.Handler(nil), eo.Observers...), c)
    userFatal := eo.OnFatal
    eo.OnFatal = func(err error) {
        c.eb.publish(Event{Type: EventRestartRequired, Node: string(c.self), Err: err})
        if userFatal != nil { userFatal(err) }
    }
    sm, err := election.New(eo)
    if err != nil { return nil, err }
    c.sm = sm
    sm.RegisterForStateChangeEvents(c.onModeChange)
    return c, nil
}

// Close is a convenience alias for Stop with a background context.
func (c *Cluster) Close() error { return c.Stop(context.Background()) }

// Start launches the group, joins the configured peers, starts the
// management endpoint and begins the first election.
func (c *Cluster) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.started { return nil }
    c.run.started = true
    metrics.Register()

    if lc, ok := c.grp.(Lifecycle); ok {
        if err := lc.Start(ctx); err != nil { return err }
        seeds := topology.Seeds(c.opts.Topology, c.self)
        if c.opts.Seeder != nil { seeds = append(seeds, c.opts.Seeder.Seeds()...) }
        if len(seeds) > 0 {
            logutil.Infof(c.logger, "cluster: joining peers %v", seeds)
            if err := lc.Join(seeds); err != nil {
                // peers that are down now show up later through the group
                logutil.Warnf(c.logger, "cluster: join: %v", err)
            }
        }
    }
    if c.rpcS != nil {
        h := voter.Handlers{
            Status: c.statusJSON,
            Allow:  c.Allow,
            Voting: c.opts.Voting,
        }
        if err := c.rpcS.Start(ctx, h); err != nil { return err }
        logutil.Infof(c.logger, "cluster: management endpoint listening at %s", c.rpcS.Addr())
    }
    c.sm.InitializeAndStartElection()
    return nil
}

// WaitForActive blocks until an active is known and this node's own
// transition has settled.
func (c *Cluster) WaitForActive(ctx context.Context) error { return c.sm.WaitForDeclaredActive(ctx) }

// StateManager exposes the election engine.
func (c *Cluster) StateManager() *election.StateManager { return c.sm }

// Fatal delivers the RestartError that stopped this node. The process
// should exit and be restarted.
func (c *Cluster) Fatal() <-chan error { return c.sm.Fatal() }

// Done is closed once the election engine has stopped.
func (c *Cluster) Done() <-chan struct{} { return c.sm.Done() }

// Allow applies the operator override to the blocked transition.
func (c *Cluster) Allow(ctx context.Context) error {
    _, end := tracing.StartSpan(ctx, "cluster.Allow")
    defer end()
    if !c.gate.IsBlocked() && !c.gate.IsVoting() { return ErrNotBlocked }
    logutil.Warnf(c.logger, "cluster: operator allowed the last transition on %s", c.self)
    c.gate.AllowLastTransition()
    return nil
}

// Status returns the local view of the node.
func (c *Cluster) Status(ctx context.Context) (*Status, error) {
    _, end := tracing.StartSpan(ctx, "cluster.Status")
    defer end()
    sm := c.sm.StateMap()
    mode := c.sm.CurrentMode()
    active := c.sm.ActiveNodeID()
    members := c.grp.Members()
    sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
    s := &Status{
        Node:        string(c.self),
        Mode:        mode.String(),
        State:       mode.Label(),
        StartState:  stringOf(sm["startState"]),
        Active:      string(active),
        ActiveAddr:  c.lookupMgmtAddr(active),
        Members:     members,
        Consistency: c.gate.StateMap(),
    }
    if sb, ok := sm["standbys"].([]string); ok { s.Standbys = sb }
    visible := make(map[state.NodeID]struct{}, len(members))
    for _, m := range members { visible[m.ID] = struct{}{} }
    for _, id := range topology.IDs(c.opts.Topology) {
        if _, ok := visible[id]; !ok { s.Missing = append(s.Missing, string(id)) }
    }
    s.Healthy = !active.IsNull() && mode != state.Diagnostic && mode != state.Stop
    if mode == state.Diagnostic { s.Warnings = append(s.Warnings, "node is in DIAGNOSTIC and needs an operator") }
    if c.gate.IsBlocked() { s.Warnings = append(s.Warnings, "a transition is blocked waiting for quorum, votes or an operator") }
    if len(s.Missing) > 0 { s.Warnings = append(s.Warnings, "configured servers not visible") }
    return s, nil
}

// ActiveStatus fetches the status document served by the active.
func (c *Cluster) ActiveStatus(ctx context.Context) ([]byte, error) {
    active := c.sm.ActiveNodeID()
    if active.IsNull() { return nil, ErrNoActive }
    if active == c.self { return c.statusJSON(ctx) }
    if c.rpcC == nil { return nil, ErrNoRPCClient }
    addr := c.lookupMgmtAddr(active)
    if addr == "" { return nil, ErrUnreachable }
    return c.rpcC.GetStatus(ctx, addr)
}

// Stop shuts down the election, the group and the management server.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    if c.run.closed {
        c.mu.Unlock()
        return nil
    }
    c.run.closed = true
    c.mu.Unlock()

    c.sm.Shutdown()
    if lc, ok := c.grp.(Lifecycle); ok {
        _ = lc.Leave()
        _ = lc.Stop()
    }
    if c.rpcS != nil { _ = c.rpcS.Stop(ctx) }
    for _, cl := range c.opts.Closers {
        if err := cl.Close(); err != nil { logutil.Warnf(c.logger, "cluster: close: %v", err) }
    }
    return nil
}

// group.Handler; the cluster only observes membership.
func (c *Cluster) HandleMessage(group.Message) {}

func (c *Cluster) NodeJoined(id state.NodeID) {
    c.eb.publish(Event{Type: EventMemberJoin, Node: string(id)})
}

func (c *Cluster) NodeLeft(id state.NodeID) {
    c.eb.publish(Event{Type: EventMemberLeave, Node: string(id)})
}

// onModeChange runs on the election actor and must not block.
func (c *Cluster) onModeChange(ch election.StateChange) {
    c.eb.publish(Event{Type: EventModeChanged, At: ch.At, Old: ch.Old.Label(), New: ch.New.Label(), Node: string(c.self)})
    if c.opts.OnModeChange != nil { c.opts.OnModeChange(ch.Old.Label(), ch.New.Label()) }
    active := c.sm.ActiveNodeID()
    if ch.New == state.Active { active = c.self }
    c.activeMu.Lock()
    changed := active != c.lastActive && !active.IsNull()
    if changed { c.lastActive = active }
    c.activeMu.Unlock()
    if changed {
        c.eb.publish(Event{Type: EventActiveChanged, At: ch.At, Node: string(active)})
        if c.opts.OnActiveChange != nil { c.opts.OnActiveChange(string(active)) }
    }
}

func (c *Cluster) statusJSON(ctx context.Context) ([]byte, error) {
    st, err := c.Status(ctx)
    if err != nil { return nil, err }
    return json.Marshal(st)
}

// lookupMgmtAddr returns the management address a member publishes in its
// metadata, or its group address.
func (c *Cluster) lookupMgmtAddr(id state.NodeID) string {
    if id.IsNull() { return "" }
    if id == c.self && c.rpcS != nil { return c.rpcS.Addr() }
    for _, m := range c.grp.Members() {
        if m.ID != id { continue }
        if mgmt := m.Meta[group.MetaMgmtAddr]; mgmt != "" { return mgmt }
        return m.Addr
    }
    return ""
}

func stringOf(v any) string {
    s, _ := v.(string)
    return s
}

// waitTimeout bounds the helpers below when the caller has no deadline.
const waitTimeout = 30 * time.Second

// WaitForElections blocks until no election round is in flight on this node.
func (c *Cluster) WaitForElections(ctx context.Context) error {
    if _, ok := ctx.Deadline(); !ok {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, waitTimeout)
        defer cancel()
    }
    return c.sm.WaitForElectionsToFinish(ctx)
}
