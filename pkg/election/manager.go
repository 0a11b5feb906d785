package election

import (
    "context"
    "log"
    "sort"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/internal/mailbox"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/persistence"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// StateChange is delivered to listeners on every mode change.
type StateChange struct {
    Old state.ServerMode
    New state.ServerMode
    At  time.Time
}

// StateManager runs the election protocol and owns this node's ServerMode.
// All protocol handling happens on one actor goroutine; the exported
// methods either post events to it or read a published snapshot.
type StateManager struct {
    opts   Options
    self   state.NodeID
    logger *log.Logger
    gate   consistency.ConsistencyManager
    store  StateStore

    box     *mailbox.Mailbox[event]
    out     *mailbox.Mailbox[outbound]
    ctx     context.Context
    cancel  context.CancelFunc
    stopped chan struct{}
    fatal   chan error

    stopOnce  sync.Once
    fatalOnce sync.Once

    // snapshot, guarded by mu
    mu        sync.Mutex
    mode      state.ServerMode
    startMode state.ServerMode
    active    state.NodeID
    electing  bool
    pending   bool // start requested, not yet seen by the actor
    roundID   uint64
    standbys  map[state.NodeID]struct{}
    changed   chan struct{}
    listeners []func(StateChange)

    // actor-only
    a actorState
}

var _ group.Handler = (*StateManager)(nil)

// New builds a StateManager, installs it as the group handler and starts
// its actor. The election itself begins with InitializeAndStartElection.
func New(opts Options) (*StateManager, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.defaults()
    store := opts.Store
    if store == nil { store = persistence.NewInmem() }
    ctx, cancel := context.WithCancel(context.Background())
    sm := &StateManager{
        opts:      opts,
        self:      opts.Group.LocalID(),
        logger:    logutil.OrDefault(opts.Logger),
        gate:      opts.Gate,
        store:     store,
        box:       mailbox.New[event](),
        out:       mailbox.New[outbound](),
        ctx:       ctx,
        cancel:    cancel,
        stopped:   make(chan struct{}),
        fatal:     make(chan error, 1),
        mode:      state.Initial,
        startMode: store.StartMode(),
        standbys:  make(map[state.NodeID]struct{}),
        changed:   make(chan struct{}),
    }
    sm.a.mode = state.Initial
    metrics.SetMode(state.Initial)
    go sm.run()
    go sm.sendLoop()
    handlers := append(group.Fanout{sm}, opts.Observers...)
    opts.Group.SetHandler(handlers)
    return sm, nil
}

// group.Handler; every callback is queued for the actor.
func (sm *StateManager) HandleMessage(msg group.Message) { sm.box.Push(evMessage{msg: msg}) }
func (sm *StateManager) NodeJoined(id state.NodeID)      { sm.box.Push(evJoin{id: id}) }
func (sm *StateManager) NodeLeft(id state.NodeID)        { sm.box.Push(evLeave{id: id}) }

// InitializeAndStartElection moves the node to START and runs the first
// round. Later calls are ignored.
func (sm *StateManager) InitializeAndStartElection() {
    sm.mu.Lock()
    if sm.mode == state.Initial { sm.pending = true }
    sm.mu.Unlock()
    sm.box.Push(evStart{})
}

// WaitForDeclaredActive blocks until this node knows the active, which may
// be itself, and its own transition has settled.
func (sm *StateManager) WaitForDeclaredActive(ctx context.Context) error {
    if err := sm.waitFor(ctx, func() bool { return !sm.active.IsNull() || sm.mode == state.Active }); err != nil {
        return err
    }
    return sm.WaitForElectionsToFinish(ctx)
}

// WaitForElectionsToFinish blocks until no round, connect decision or
// retry is in flight for this node. A start that the actor has not yet
// picked up counts as in flight.
func (sm *StateManager) WaitForElectionsToFinish(ctx context.Context) error {
    return sm.waitFor(ctx, func() bool { return !sm.electing && !sm.pending })
}

// waitFor evaluates cond under mu until it holds, the node stops or ctx ends.
func (sm *StateManager) waitFor(ctx context.Context, cond func() bool) error {
    for {
        sm.mu.Lock()
        ok := cond()
        stopped := sm.mode == state.Stop
        ch := sm.changed
        sm.mu.Unlock()
        if ok { return nil }
        if stopped { return ErrStopped }
        select {
        case <-ch:
        case <-ctx.Done():
            return ctx.Err()
        }
    }
}

func (sm *StateManager) CurrentMode() state.ServerMode {
    sm.mu.Lock(); defer sm.mu.Unlock()
    return sm.mode
}

// ActiveNodeID returns the known active, or state.NullID.
func (sm *StateManager) ActiveNodeID() state.NodeID {
    sm.mu.Lock(); defer sm.mu.Unlock()
    return sm.active
}

func (sm *StateManager) IsActiveCoordinator() bool { return sm.CurrentMode() == state.Active }

func (sm *StateManager) LocalID() state.NodeID { return sm.self }

// PassiveStandbys lists the passives that agreed to follow this active.
func (sm *StateManager) PassiveStandbys() []state.NodeID {
    sm.mu.Lock()
    out := make([]state.NodeID, 0, len(sm.standbys))
    for id := range sm.standbys { out = append(out, id) }
    sm.mu.Unlock()
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

func (sm *StateManager) StateMap() map[string]any {
    sm.mu.Lock()
    m := map[string]any{
        "node":         string(sm.self),
        "startState":   sm.startMode.Label(),
        "currentState": sm.mode.Label(),
        "mode":         sm.mode.String(),
        "active":       string(sm.active),
        "electing":     sm.electing,
        "round":        sm.roundID,
    }
    sm.mu.Unlock()
    standbys := sm.PassiveStandbys()
    ids := make([]string, len(standbys))
    for i, id := range standbys { ids[i] = string(id) }
    m["standbys"] = ids
    m["consistency"] = sm.gate.StateMap()
    return m
}

// RegisterForStateChangeEvents adds fn to the listeners. Listeners run on
// the actor goroutine and must not block.
func (sm *StateManager) RegisterForStateChangeEvents(fn func(StateChange)) {
    sm.mu.Lock()
    sm.listeners = append(sm.listeners, fn)
    sm.mu.Unlock()
}

// MoveToPassiveSyncing records that synchronization from active has begun.
func (sm *StateManager) MoveToPassiveSyncing(active state.NodeID) { sm.box.Push(evSyncing{active: active}) }

// MoveToPassiveStandbyState records that synchronization has completed.
func (sm *StateManager) MoveToPassiveStandbyState() { sm.box.Push(evSynced{}) }

// MoveToDiagnosticMode parks the node until an operator intervenes.
func (sm *StateManager) MoveToDiagnosticMode() { sm.box.Push(evDiagnostic{}) }

// AdmitClient asks the gate whether an application client may attach. Only
// the active admits clients.
func (sm *StateManager) AdmitClient(ctx context.Context, client state.NodeID) bool {
    ctx, end := tracing.StartSpan(ctx, "election.AdmitClient", attribute.String("client", string(client)))
    defer end()
    mode := sm.CurrentMode()
    if mode != state.Active { return false }
    return sm.gate.RequestTransition(ctx, mode, client, state.AddClient)
}

// Fatal delivers at most one RestartError.
func (sm *StateManager) Fatal() <-chan error { return sm.fatal }

// Done is closed when the actor has stopped.
func (sm *StateManager) Done() <-chan struct{} { return sm.stopped }

// Shutdown stops the actor and in-flight gate requests and syncs.
func (sm *StateManager) Shutdown() {
    sm.stopOnce.Do(func() {
        sm.box.Push(evStop{})
        sm.cancel()
    })
    <-sm.stopped
}

func (sm *StateManager) verification() enrollment.Enrollment {
    return sm.gate.CreateVerificationEnrollment(sm.self, sm.opts.Factory)
}
