package consistency

import (
    "context"
    "errors"
    "log"
    "sort"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

// Options configures the quorum Manager.
type Options struct {
    // Self is the local node; it always counts towards its own majority.
    Self state.NodeID
    // Topology sizes the majority.
    Topology topology.Topology
    // View reports currently reachable peers. Nil means none are reachable.
    View PeerView
    // VoteCount is the number of external votes that substitute for a
    // missing majority; -1 disables gating, 0 leaves only the operator.
    VoteCount int
    // VoteTimeout bounds vote collection; defaults to 30s.
    VoteTimeout time.Duration
    // VoterTimeout expires voters that stopped heartbeating; defaults to 10s.
    VoterTimeout time.Duration
    // RecheckInterval re-evaluates visibility while votes are collected;
    // defaults to 500ms.
    RecheckInterval time.Duration
    // Store persists the term. Optional.
    Store  TermStore
    Logger *log.Logger
}

func (o Options) Validate() error {
    if o.Topology == nil { return ErrNilTopology }
    if o.Self.IsNull() { return errors.New("consistency: empty Self") }
    return nil
}

type voter struct {
    seen time.Time
    term int64
}

type decision struct {
    transition state.Transition
    term       int64
    done       chan struct{}
    granted    bool
    resolved   bool
}

// Manager is the quorum gate. A consistency-gated transition is granted
// immediately when this node sees a majority of the configured roster;
// otherwise the term advances and registered external voters decide.
type Manager struct {
    opts   Options
    logger *log.Logger
    now    func() time.Time

    // reqMu serializes decisions; mu guards the fields below.
    reqMu sync.Mutex
    mu    sync.Mutex

    term     int64
    voters   map[string]*voter
    votes    map[string]struct{}
    voting   bool
    blocked  bool
    pending  *decision
    override bool
    last     state.Transition
    lastOK   bool
}

var (
    _ ConsistencyManager = (*Manager)(nil)
    _ Voting             = (*Manager)(nil)
)

func New(opts Options) (*Manager, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.VoteTimeout <= 0 { opts.VoteTimeout = 30 * time.Second }
    if opts.VoterTimeout <= 0 { opts.VoterTimeout = 10 * time.Second }
    if opts.RecheckInterval <= 0 { opts.RecheckInterval = 500 * time.Millisecond }
    m := &Manager{
        opts:   opts,
        logger: logutil.OrDefault(opts.Logger),
        now:    time.Now,
        voters: make(map[string]*voter),
        votes:  make(map[string]struct{}),
    }
    if opts.Store != nil {
        t, err := opts.Store.LoadTerm()
        if err != nil { return nil, err }
        m.term = t
    }
    metrics.CurrentTerm.Set(float64(m.term))
    return m, nil
}

func (m *Manager) RequestTransition(ctx context.Context, mode state.ServerMode, node state.NodeID, t state.Transition) bool {
    ctx, end := tracing.StartSpan(ctx, "consistency.RequestTransition",
        attribute.String("transition", t.String()), attribute.String("mode", mode.String()), attribute.String("node", string(node)))
    defer end()
    granted := m.decide(ctx, t)
    tracing.Annotate(ctx, attribute.Bool("granted", granted))
    metrics.TransitionRequests.WithLabelValues(t.String(), metrics.Result(granted)).Inc()
    logutil.Debugf(m.logger, "consistency: %s for %s in %s -> %s", t, node, mode, metrics.Result(granted))
    return granted
}

func (m *Manager) decide(ctx context.Context, t state.Transition) bool {
    if !t.ConsistencyGated() { return true }
    m.reqMu.Lock()
    defer m.reqMu.Unlock()

    if m.hasMajority() { return m.settle(t, true) }

    m.mu.Lock()
    if m.override {
        m.override = false
        m.mu.Unlock()
        logutil.Warnf(m.logger, "consistency: %s granted by operator override", t)
        return m.settle(t, true)
    }
    if m.opts.VoteCount < 0 {
        m.mu.Unlock()
        return m.settle(t, true)
    }
    m.term++
    term := m.term
    d := &decision{transition: t, term: term, done: make(chan struct{})}
    m.pending = d
    m.votes = make(map[string]struct{})
    m.voting, m.blocked = true, true
    m.last = t
    m.mu.Unlock()
    m.persistTerm(term)
    m.publishGauges()
    logutil.Warnf(m.logger, "consistency: no majority for %s, collecting %d vote(s) in term %d", t, m.opts.VoteCount, term)

    deadline := time.NewTimer(m.opts.VoteTimeout)
    defer deadline.Stop()
    recheck := time.NewTicker(m.opts.RecheckInterval)
    defer recheck.Stop()
wait:
    for {
        select {
        case <-d.done:
            break wait
        case <-recheck.C:
            if m.hasMajority() {
                m.resolve(d, true)
                break wait
            }
        case <-deadline.C:
            break wait
        case <-ctx.Done():
            break wait
        }
    }

    m.mu.Lock()
    if !d.resolved { d.resolved = true }
    granted := d.granted
    m.pending = nil
    m.voting = false
    m.mu.Unlock()
    if !granted { logutil.Warnf(m.logger, "consistency: %s denied in term %d, waiting for quorum or operator", t, term) }
    return m.settle(t, granted)
}

// settle records the outcome; a denial leaves the gate blocked until the
// next grant or an operator override.
func (m *Manager) settle(t state.Transition, granted bool) bool {
    m.mu.Lock()
    m.last, m.lastOK = t, granted
    m.blocked = !granted
    m.mu.Unlock()
    m.publishGauges()
    return granted
}

func (m *Manager) resolve(d *decision, granted bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if d.resolved { return }
    d.resolved = true
    d.granted = granted
    close(d.done)
}

// hasMajority reports whether this node plus the peers it currently sees
// form more than half of the configured roster.
func (m *Manager) hasMajority() bool {
    roster := topology.IDs(m.opts.Topology)
    if len(roster) == 0 { return true }
    configured := make(map[state.NodeID]struct{}, len(roster))
    for _, id := range roster { configured[id] = struct{}{} }
    visible := 0
    if m.opts.View != nil {
        for _, p := range m.opts.View.Peers() {
            if p == m.opts.Self { continue }
            if _, ok := configured[p]; ok { visible++ }
        }
    }
    return 2*(visible+1) > len(roster)
}

func (m *Manager) CreateVerificationEnrollment(node state.NodeID, f *enrollment.Factory) enrollment.Enrollment {
    return f.CreateVerificationEnrollment(node, m.CurrentTerm())
}

func (m *Manager) IsVoting() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.voting }
func (m *Manager) IsBlocked() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.blocked }
func (m *Manager) CurrentTerm() int64 { m.mu.Lock(); defer m.mu.Unlock(); return m.term }

// SetCurrentTerm adopts a larger term learned from an active. Terms never
// move backwards.
func (m *Manager) SetCurrentTerm(term int64) {
    m.mu.Lock()
    if term <= m.term { m.mu.Unlock(); return }
    m.term = term
    m.mu.Unlock()
    m.persistTerm(term)
    metrics.CurrentTerm.Set(float64(term))
    logutil.Infof(m.logger, "consistency: adopted term %d", term)
}

// AllowLastTransition grants the outstanding decision. When the last
// decision was already denied the override is kept for the next request.
func (m *Manager) AllowLastTransition() {
    m.mu.Lock()
    d := m.pending
    if d == nil {
        if m.blocked {
            m.override = true
            logutil.Warnf(m.logger, "consistency: operator override armed for next %s", m.last)
        }
        m.mu.Unlock()
        return
    }
    m.mu.Unlock()
    logutil.Warnf(m.logger, "consistency: operator override for %s in term %d", d.transition, d.term)
    m.resolve(d, true)
}

func (m *Manager) StateMap() map[string]any {
    m.mu.Lock()
    defer m.mu.Unlock()
    ids := make([]string, 0, len(m.voters))
    for id := range m.voters { ids = append(ids, id) }
    sort.Strings(ids)
    return map[string]any{
        "type":           "consistency",
        "term":           m.term,
        "voteCount":      m.opts.VoteCount,
        "voting":         m.voting,
        "blocked":        m.blocked,
        "voters":         ids,
        "votes":          len(m.votes),
        "lastTransition": m.last.String(),
        "lastGranted":    m.lastOK,
    }
}

func (m *Manager) persistTerm(term int64) {
    metrics.CurrentTerm.Set(float64(term))
    if m.opts.Store == nil { return }
    if err := m.opts.Store.SaveTerm(term); err != nil {
        logutil.Errorf(m.logger, "consistency: persist term %d: %v", term, err)
    }
}

func (m *Manager) publishGauges() {
    m.mu.Lock()
    v, b := m.voting, m.blocked
    m.mu.Unlock()
    metrics.Voting.Set(metrics.Bool(v))
    metrics.Blocked.Set(metrics.Bool(b))
}
