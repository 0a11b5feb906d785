package election

import (
    "fmt"
    "time"

    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

func (sm *StateManager) run() {
    defer close(sm.stopped)
    for {
        select {
        case <-sm.ctx.Done():
            sm.halt()
            return
        case <-sm.box.Ready():
            for _, ev := range sm.box.Drain() {
                sm.handle(ev)
                if sm.a.halted { break }
            }
            sm.publish()
            if sm.a.halted {
                sm.halt()
                return
            }
        }
    }
}

// halt parks the node in STOP and wakes every waiter.
func (sm *StateManager) halt() {
    sm.box.Close()
    sm.cancel()
    if sm.a.mode != state.Stop { sm.setMode(state.Stop) }
    sm.a.cur = nil
    sm.a.connecting = state.NullID
    sm.publish()
}

func (sm *StateManager) handle(ev event) {
    switch e := ev.(type) {
    case evStart:
        sm.onStart()
    case evStop:
        sm.a.halted = true
    case evDiagnostic:
        sm.toDiagnostic("operator request")
    case evMessage:
        sm.onMessage(e.msg)
    case evJoin:
        sm.onJoin(e.id)
    case evLeave:
        sm.onLeave(e.id)
    case evTimeout:
        sm.onTimeout(e.seq)
    case evRetry:
        if sm.a.waitingRetry && e.seq == sm.a.retrySeq { sm.retry() }
    case evGate:
        if e.transition == state.MoveToActive {
            sm.onMoveDecision(e)
            return
        }
        sm.onConnectDecision(e)
    case evSyncing:
        if sm.a.mode == state.PassiveUninitialized && sm.a.active == e.active { sm.setMode(state.Syncing) }
    case evSynced:
        sm.onSynced()
    case evSyncFail:
        if sm.a.active == e.active && (sm.a.mode == state.Syncing || sm.a.mode == state.PassiveUninitialized) {
            sm.zap(fmt.Sprintf("sync from %s failed: %v", e.active, e.err))
        }
    }
}

func (sm *StateManager) onStart() {
    if sm.a.started || sm.a.mode != state.Initial { return }
    sm.a.started = true
    logutil.Infof(sm.logger, "election: %s starting (previous run: %s)", sm.self, sm.startMode)
    sm.setMode(state.Start)
    sm.startElection(sm.a.round + 1)
}

// candidate is this node's Enrollment for a new round. Nodes that may not
// become active still take part with an ineligible candidacy.
func (sm *StateManager) candidate() enrollment.Enrollment {
    if sm.a.mode.CanBeActive() && sm.store.IsDBClean() {
        return sm.opts.Factory.CreateEnrollment(sm.self)
    }
    return enrollment.NewIneligible(sm.self, sm.opts.Factory.Size())
}

func (sm *StateManager) eligible(e enrollment.Enrollment) bool {
    return !e.SameWeights(enrollment.NewIneligible(e.NodeID(), e.Len()))
}

func (sm *StateManager) startElection(id uint64) {
    if !sm.a.mode.CanStartElection() { return }
    if id <= sm.a.round && sm.a.cur != nil { return }
    if id > sm.a.round { sm.a.round = id }
    sm.a.waitingRetry = false
    mine := sm.candidate()
    sm.a.cur = newRound(sm.a.round, mine)
    logutil.Debugf(sm.logger, "election: %s round %d with %s", sm.self, sm.a.round, mine)
    sm.broadcast(sm.message(group.Election, mine))
    sm.arm(sm.opts.ElectionTime)
}

func (sm *StateManager) endRound() { sm.a.cur = nil }

// arm schedules a timeout for the current round phase.
func (sm *StateManager) arm(d time.Duration) {
    sm.a.seq++
    seq := sm.a.seq
    if sm.a.cur != nil { sm.a.cur.seq = seq }
    time.AfterFunc(d, func() { sm.box.Push(evTimeout{seq: seq}) })
}

func (sm *StateManager) scheduleRetry() {
    sm.a.seq++
    seq := sm.a.seq
    sm.a.retrySeq = seq
    sm.a.waitingRetry = true
    time.AfterFunc(sm.opts.RetryInterval, func() { sm.box.Push(evRetry{seq: seq}) })
}

func (sm *StateManager) retry() {
    sm.a.waitingRetry = false
    if sm.a.cur != nil || !sm.a.active.IsNull() || !sm.a.connecting.IsNull() { return }
    sm.startElection(sm.a.round + 1)
}

func (sm *StateManager) onMessage(msg group.Message) {
    if msg.From == sm.self || !sm.a.started { return }
    switch msg.Type {
    case group.Election:
        sm.onElection(msg)
    case group.AbortElection, group.ElectionWon, group.ElectionWonAlready:
        sm.onDeclaration(msg)
    case group.ResultAgreed:
        if sm.a.mode == state.Active {
            sm.mu.Lock()
            sm.standbys[msg.From] = struct{}{}
            sm.mu.Unlock()
            logutil.Infof(sm.logger, "election: %s follows this active", msg.From)
        }
    case group.ResultConflict:
        logutil.Warnf(sm.logger, "election: %s refused to follow %s (%s)", msg.From, sm.self, msg.State)
    default:
        logutil.Warnf(sm.logger, "election: unknown message type %q from %s", msg.Type, msg.From)
    }
}

func (sm *StateManager) onElection(msg group.Message) {
    switch sm.a.mode {
    case state.Active:
        sm.sendTo(msg.From, sm.messageRound(group.AbortElection, sm.verification(), msg.Round))
        return
    case state.Diagnostic, state.Stop:
        return
    }
    cur := sm.a.cur
    if cur == nil {
        if !sm.a.active.IsNull() || !sm.a.connecting.IsNull() {
            // the active answers candidates itself
            return
        }
        if msg.Round <= sm.a.round {
            sm.startElection(sm.a.round + 1)
            return
        }
        sm.startElection(msg.Round)
        cur = sm.a.cur
        if cur == nil { return }
    }
    switch {
    case msg.Round < cur.id:
        sm.sendTo(msg.From, sm.message(group.Election, cur.mine))
        return
    case msg.Round > cur.id:
        sm.endRound()
        sm.startElection(msg.Round)
        if cur = sm.a.cur; cur == nil { return }
    }
    sm.consider(cur, msg.Enrollment)
}

// consider folds a peer candidacy into the round.
func (sm *StateManager) consider(cur *round, e enrollment.Enrollment) {
    if e.NodeID() == sm.self || e.Len() == 0 { return }
    cur.cands[e.NodeID()] = e
    switch {
    case cur.mine.Wins(e):
        sm.sendTo(e.NodeID(), sm.message(group.Election, cur.mine))
    case !e.Wins(cur.mine) && sm.eligible(e) && cur.phase == collecting:
        // equal weights are never accepted; draw again
        cur.setMine(sm.candidate())
        sm.broadcast(sm.message(group.Election, cur.mine))
    }
    cur.rank()
    if cur.phase == deciding && cur.best.NodeID() != sm.self { cur.lost = true }
}

func (sm *StateManager) onTimeout(seq uint64) {
    cur := sm.a.cur
    if cur == nil || cur.seq != seq { return }
    switch cur.phase {
    case collecting:
        if cur.best.NodeID() != sm.self {
            cur.phase = awaiting
            logutil.Debugf(sm.logger, "election: round %d lost to %s, waiting for declaration", cur.id, cur.best.NodeID())
            metrics.Elections.WithLabelValues("lost").Inc()
            sm.arm(sm.opts.ElectionTime)
            return
        }
        if !sm.eligible(cur.mine) || !sm.store.IsDBClean() {
            logutil.Warnf(sm.logger, "election: round %d has no eligible candidate, retrying", cur.id)
            metrics.Elections.WithLabelValues("ineligible").Inc()
            sm.endRound()
            sm.scheduleRetry()
            return
        }
        cur.phase = deciding
        sm.a.seq++
        cur.seq = sm.a.seq
        sm.requestGate(cur.seq, state.MoveToActive, sm.self, enrollment.Enrollment{})
    case awaiting:
        logutil.Warnf(sm.logger, "election: %s never declared after round %d, re-running", cur.best.NodeID(), cur.id)
        metrics.Elections.WithLabelValues("timeout").Inc()
        sm.endRound()
        sm.startElection(sm.a.round + 1)
    }
}

// requestGate asks the gate off the actor; the answer comes back as evGate.
func (sm *StateManager) requestGate(seq uint64, t state.Transition, target state.NodeID, claim enrollment.Enrollment) {
    mode := sm.a.mode
    go func() {
        ctx, end := tracing.StartSpan(sm.ctx, "election.requestTransition",
            attribute.String("transition", t.String()), attribute.String("target", string(target)))
        granted := sm.gate.RequestTransition(ctx, mode, sm.self, t)
        end()
        sm.box.Push(evGate{seq: seq, transition: t, target: target, claim: claim, granted: granted})
    }()
}

func (sm *StateManager) onMoveDecision(e evGate) {
    cur := sm.a.cur
    if cur == nil || cur.phase != deciding || cur.seq != e.seq { return }
    if cur.lost {
        cur.phase = awaiting
        sm.arm(sm.opts.ElectionTime)
        return
    }
    if !e.granted {
        sm.a.denials++
        metrics.Elections.WithLabelValues("denied").Inc()
        logutil.Warnf(sm.logger, "election: MOVE_TO_ACTIVE denied (%d in a row)", sm.a.denials)
        sm.endRound()
        if sm.opts.DiagnosticAfter > 0 && sm.a.denials >= sm.opts.DiagnosticAfter {
            sm.toDiagnostic(fmt.Sprintf("%d consecutive MOVE_TO_ACTIVE denials", sm.a.denials))
            return
        }
        sm.scheduleRetry()
        return
    }
    sm.a.denials = 0
    sm.a.waitingRetry = false
    sm.endRound()
    sm.setActive(sm.self)
    sm.setMode(state.Active)
    sm.persist(state.Active, true)
    metrics.Elections.WithLabelValues("won").Inc()
    logutil.Infof(sm.logger, "election: %s is the active coordinator (round %d, term %d)", sm.self, sm.a.round, sm.gate.CurrentTerm())
    sm.broadcast(sm.message(group.ElectionWon, sm.verification()))
}

// onDeclaration handles a peer claiming to be active.
func (sm *StateManager) onDeclaration(msg group.Message) {
    from := msg.From
    switch sm.a.mode {
    case state.Active:
        if sm.peerWins(msg.Enrollment) {
            sm.zap(fmt.Sprintf("found active %s with a winning claim", from))
            return
        }
        logutil.Warnf(sm.logger, "election: %s also claims active; its claim loses", from)
        sm.sendTo(from, sm.message(group.ElectionWonAlready, sm.verification()))
        return
    case state.Diagnostic, state.Stop:
        return
    }
    if from == sm.a.active || from == sm.a.connecting { return }
    if !sm.a.active.IsNull() {
        if sm.a.mode == state.Syncing || sm.a.mode == state.PassiveUninitialized {
            sm.zap(fmt.Sprintf("active changed from %s to %s before sync completed", sm.a.active, from))
            return
        }
        logutil.Warnf(sm.logger, "election: switching from active %s to %s", sm.a.active, from)
    }
    if sm.a.mode.IsStartup() && sm.startMode == state.Active && sm.store.IsDBClean() {
        sm.zap(fmt.Sprintf("previously active node found active %s; local data must be resynced", from))
        return
    }
    if sm.a.cur != nil {
        metrics.Elections.WithLabelValues("aborted").Inc()
        sm.endRound()
    }
    sm.a.waitingRetry = false
    sm.a.connecting = from
    sm.a.seq++
    sm.a.connectSeq = sm.a.seq
    sm.requestGate(sm.a.connectSeq, state.ConnectToActive, from, msg.Enrollment)
}

// peerWins settles a claim between two actives; exact ties go to the
// larger NodeID.
func (sm *StateManager) peerWins(claim enrollment.Enrollment) bool {
    mine := sm.verification()
    if claim.Wins(mine) { return true }
    if mine.Wins(claim) { return false }
    return claim.NodeID() > sm.self
}

func (sm *StateManager) onConnectDecision(e evGate) {
    if e.target != sm.a.connecting || e.seq != sm.a.connectSeq { return }
    sm.a.connecting = state.NullID
    if sm.a.mode == state.Active || sm.a.mode == state.Diagnostic { return }
    if !e.granted {
        logutil.Warnf(sm.logger, "election: CONNECT_TO_ACTIVE %s denied", e.target)
        sm.sendTo(e.target, sm.message(group.ResultConflict, sm.candidate()))
        sm.scheduleRetry()
        return
    }
    if term, ok := e.claim.Term(); ok { sm.gate.SetCurrentTerm(term) }
    sm.setActive(e.target)
    sm.sendTo(e.target, sm.message(group.ResultAgreed, sm.verification()))
    if sm.a.mode == state.Passive {
        logutil.Infof(sm.logger, "election: passive now follows %s", e.target)
        return
    }
    sm.setMode(state.PassiveUninitialized)
    sm.persist(state.PassiveUninitialized, false)
    active := e.target
    go func() {
        sm.MoveToPassiveSyncing(active)
        if err := sm.opts.Synchronizer.Sync(sm.ctx, active); err != nil {
            if sm.ctx.Err() != nil { return }
            sm.box.Push(evSyncFail{active: active, err: err})
            return
        }
        sm.MoveToPassiveStandbyState()
    }()
}

func (sm *StateManager) onSynced() {
    if sm.a.mode != state.Syncing { return }
    sm.setMode(state.Passive)
    sm.persist(state.Passive, true)
    logutil.Infof(sm.logger, "election: %s is a passive standby of %s", sm.self, sm.a.active)
}

func (sm *StateManager) onJoin(id state.NodeID) {
    if obs, ok := sm.gate.(consistency.PeerObserver); ok { obs.NodeJoined(id) }
    if !sm.a.started { return }
    switch {
    case sm.a.mode == state.Active:
        sm.sendTo(id, sm.message(group.ElectionWonAlready, sm.verification()))
    case sm.a.waitingRetry:
        sm.retry()
    }
}

func (sm *StateManager) onLeave(id state.NodeID) {
    if obs, ok := sm.gate.(consistency.PeerObserver); ok { obs.NodeLeft(id) }
    if !sm.a.started { return }
    sm.mu.Lock()
    _, standby := sm.standbys[id]
    delete(sm.standbys, id)
    sm.mu.Unlock()
    if standby && sm.a.mode == state.Active { go sm.removePassive(id) }

    if id == sm.a.connecting {
        sm.a.connecting = state.NullID
        sm.scheduleRetry()
    }
    if id == sm.a.active && id != sm.self {
        logutil.Warnf(sm.logger, "election: active %s left", id)
        sm.setActive(state.NullID)
        switch sm.a.mode {
        case state.Syncing, state.PassiveUninitialized:
            sm.zap(fmt.Sprintf("active %s left before sync completed", id))
        case state.Passive:
            sm.startElection(sm.a.round + 1)
        }
        return
    }
    cur := sm.a.cur
    if cur == nil { return }
    if _, ok := cur.cands[id]; !ok { return }
    awaited := cur.phase == awaiting && cur.best.NodeID() == id
    delete(cur.cands, id)
    cur.rank()
    if awaited {
        sm.endRound()
        sm.startElection(sm.a.round + 1)
    }
}

// removePassive runs off the actor; the gate may block on votes.
func (sm *StateManager) removePassive(id state.NodeID) {
    ctx, end := tracing.StartSpan(sm.ctx, "election.removePassive", attribute.String("passive", string(id)))
    defer end()
    if sm.gate.RequestTransition(ctx, state.Active, id, state.RemovePassive) {
        logutil.Infof(sm.logger, "election: passive %s removed", id)
        return
    }
    logutil.Warnf(sm.logger, "election: removal of passive %s not approved", id)
}

func (sm *StateManager) toDiagnostic(reason string) {
    if sm.a.mode == state.Diagnostic || sm.a.mode == state.Stop { return }
    logutil.Errorf(sm.logger, "election: entering DIAGNOSTIC: %s", reason)
    sm.endRound()
    sm.a.waitingRetry = false
    sm.a.connecting = state.NullID
    sm.setMode(state.Diagnostic)
}

// zap stops the node and reports the restart requirement. Local data can no
// longer be trusted.
func (sm *StateManager) zap(reason string) {
    err := &RestartError{Reason: reason}
    logutil.Errorf(sm.logger, "election: %v", err)
    metrics.FatalRestarts.Inc()
    if serr := sm.store.SetDBClean(false); serr != nil {
        logutil.Errorf(sm.logger, "election: mark data unclean: %v", serr)
    }
    sm.a.halted = true
    sm.fatalOnce.Do(func() {
        sm.fatal <- err
        if sm.opts.OnFatal != nil { go sm.opts.OnFatal(err) }
    })
}

func (sm *StateManager) persist(mode state.ServerMode, clean bool) {
    if err := sm.store.SetStartMode(mode); err != nil {
        logutil.Errorf(sm.logger, "election: persist mode: %v", err)
    }
    if err := sm.store.SetDBClean(clean); err != nil {
        logutil.Errorf(sm.logger, "election: persist clean flag: %v", err)
    }
    if clean {
        if _, err := sm.store.IncrementOperationCount(); err != nil {
            logutil.Errorf(sm.logger, "election: persist op count: %v", err)
        }
    }
}

func (sm *StateManager) setMode(m state.ServerMode) {
    old := sm.a.mode
    if old == m { return }
    sm.a.mode = m
    sm.mu.Lock()
    sm.mode = m
    if m != state.Active { sm.standbys = make(map[state.NodeID]struct{}) }
    listeners := append([]func(StateChange){}, sm.listeners...)
    sm.mu.Unlock()
    metrics.SetMode(m)
    logutil.Infof(sm.logger, "election: %s %s -> %s", sm.self, old.Label(), m.Label())
    ch := StateChange{Old: old, New: m, At: time.Now()}
    for _, fn := range listeners { fn(ch) }
    sm.publish()
}

func (sm *StateManager) setActive(id state.NodeID) {
    sm.a.active = id
    sm.mu.Lock()
    sm.active = id
    sm.mu.Unlock()
}

// publish copies the actor view into the snapshot and wakes waiters.
func (sm *StateManager) publish() {
    sm.mu.Lock()
    sm.mode = sm.a.mode
    sm.active = sm.a.active
    sm.electing = sm.a.cur != nil || !sm.a.connecting.IsNull() || (sm.a.waitingRetry && sm.a.active.IsNull())
    if sm.a.started || sm.a.mode != state.Initial { sm.pending = false }
    sm.roundID = sm.a.round
    close(sm.changed)
    sm.changed = make(chan struct{})
    sm.mu.Unlock()
}

func (sm *StateManager) message(t group.MessageType, e enrollment.Enrollment) group.Message {
    return sm.messageRound(t, e, sm.a.round)
}

func (sm *StateManager) messageRound(t group.MessageType, e enrollment.Enrollment, r uint64) group.Message {
    return group.Message{Type: t, From: sm.self, Round: r, Enrollment: e, State: sm.a.mode.Label()}
}

func (sm *StateManager) sendTo(to state.NodeID, msg group.Message) { sm.out.Push(outbound{to: to, msg: msg}) }

func (sm *StateManager) broadcast(msg group.Message) { sm.out.Push(outbound{msg: msg}) }

// sendLoop delivers outbound messages in order without blocking the actor.
func (sm *StateManager) sendLoop() {
    for {
        select {
        case <-sm.ctx.Done():
            return
        case <-sm.out.Ready():
            for _, o := range sm.out.Drain() {
                var err error
                if o.to.IsNull() {
                    err = sm.opts.Group.Broadcast(sm.ctx, o.msg)
                } else {
                    err = sm.opts.Group.SendTo(sm.ctx, o.to, o.msg)
                }
                if err != nil && sm.ctx.Err() == nil {
                    logutil.Debugf(sm.logger, "election: send %s to %q: %v", o.msg.Type, o.to, err)
                }
            }
        }
    }
}
