package consistency

import (
    "context"
    "log"
    "sync"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// SafeStartupManager holds back the first promotion out of START until
// peerServers peers have joined, so that servers booting together cannot
// each form a one-node cluster. The gate is one-shot.
type SafeStartupManager struct {
    delegate          ConsistencyManager
    consistentStartup bool
    peerServers       int
    logger            *log.Logger

    mu          sync.Mutex
    joined      map[state.NodeID]struct{}
    satisfied   bool
    override    bool
    lastInStart bool
    blocked     bool
}

var (
    _ ConsistencyManager = (*SafeStartupManager)(nil)
    _ PeerObserver       = (*SafeStartupManager)(nil)
)

// NewSafeStartup wraps delegate. peerServers is the number of other servers
// that must be seen before the first MOVE_TO_ACTIVE out of START.
func NewSafeStartup(consistentStartup bool, peerServers int, delegate ConsistencyManager, logger *log.Logger) *SafeStartupManager {
    return &SafeStartupManager{
        delegate:          delegate,
        consistentStartup: consistentStartup,
        peerServers:       peerServers,
        logger:            logutil.OrDefault(logger),
        joined:            make(map[state.NodeID]struct{}),
        satisfied:         !consistentStartup || peerServers <= 0,
    }
}

func (s *SafeStartupManager) RequestTransition(ctx context.Context, mode state.ServerMode, node state.NodeID, t state.Transition) bool {
    if mode != state.Start || t != state.MoveToActive {
        s.mu.Lock()
        s.lastInStart = false
        s.mu.Unlock()
        return s.delegate.RequestTransition(ctx, mode, node, t)
    }
    s.mu.Lock()
    s.lastInStart = true
    if s.satisfied {
        s.mu.Unlock()
        return s.delegate.RequestTransition(ctx, mode, node, t)
    }
    joined := len(s.joined)
    if joined >= s.peerServers || s.override {
        if s.override {
            logutil.Warnf(s.logger, "startup: promotion allowed by operator with %d/%d peers", joined, s.peerServers)
        } else {
            logutil.Infof(s.logger, "startup: all %d peers joined, gate released", s.peerServers)
        }
        s.satisfied, s.override, s.blocked = true, false, false
        s.mu.Unlock()
        metrics.TransitionRequests.WithLabelValues(t.String(), metrics.Result(true)).Inc()
        return true
    }
    s.blocked = true
    s.mu.Unlock()
    metrics.TransitionRequests.WithLabelValues(t.String(), metrics.Result(false)).Inc()
    logutil.Infof(s.logger, "startup: %s held, %d/%d peers joined", t, joined, s.peerServers)
    return false
}

func (s *SafeStartupManager) NodeJoined(id state.NodeID) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.satisfied { return }
    s.joined[id] = struct{}{}
    metrics.PeersJoined.Set(float64(len(s.joined)))
}

func (s *SafeStartupManager) NodeLeft(id state.NodeID) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.satisfied { return }
    delete(s.joined, id)
    metrics.PeersJoined.Set(float64(len(s.joined)))
}

// AllowLastTransition releases the startup gate for the next request when
// the last request was held in START; otherwise it is passed through.
func (s *SafeStartupManager) AllowLastTransition() {
    s.mu.Lock()
    if s.lastInStart && !s.satisfied {
        s.override = true
        s.mu.Unlock()
        logutil.Warnf(s.logger, "startup: operator override armed")
        return
    }
    s.mu.Unlock()
    s.delegate.AllowLastTransition()
}

func (s *SafeStartupManager) CreateVerificationEnrollment(node state.NodeID, f *enrollment.Factory) enrollment.Enrollment {
    return s.delegate.CreateVerificationEnrollment(node, f)
}

func (s *SafeStartupManager) IsVoting() bool { return s.delegate.IsVoting() }

func (s *SafeStartupManager) IsBlocked() bool {
    s.mu.Lock()
    b := s.blocked && !s.satisfied
    s.mu.Unlock()
    return b || s.delegate.IsBlocked()
}

func (s *SafeStartupManager) CurrentTerm() int64        { return s.delegate.CurrentTerm() }
func (s *SafeStartupManager) SetCurrentTerm(term int64) { s.delegate.SetCurrentTerm(term) }

// Unwrap returns the wrapped gate.
func (s *SafeStartupManager) Unwrap() ConsistencyManager { return s.delegate }

func (s *SafeStartupManager) StateMap() map[string]any {
    out := make(map[string]any)
    for k, v := range s.delegate.StateMap() { out[k] = v }
    s.mu.Lock()
    peers := make([]string, 0, len(s.joined))
    for id := range s.joined { peers = append(peers, string(id)) }
    out["startup"] = map[string]any{
        "consistentStartup": s.consistentStartup,
        "peerServers":       s.peerServers,
        "joined":            peers,
        "satisfied":         s.satisfied,
        "overrideArmed":     s.override,
    }
    s.mu.Unlock()
    return out
}
