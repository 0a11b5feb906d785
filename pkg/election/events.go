package election

import (
    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

type event interface{}

type (
    evStart      struct{}
    evStop       struct{}
    evDiagnostic struct{}
    evMessage    struct{ msg group.Message }
    evJoin       struct{ id state.NodeID }
    evLeave      struct{ id state.NodeID }
    // evTimeout fires the round phase identified by seq.
    evTimeout struct{ seq uint64 }
    evRetry   struct{ seq uint64 }
    // evGate carries a gate decision made off the actor.
    evGate struct {
        seq        uint64
        transition state.Transition
        target     state.NodeID
        claim      enrollment.Enrollment
        granted    bool
    }
    evSyncing  struct{ active state.NodeID }
    evSynced   struct{}
    evSyncFail struct {
        active state.NodeID
        err    error
    }
)

// outbound is a queued send; a null target means broadcast.
type outbound struct {
    to  state.NodeID
    msg group.Message
}

type phase int

const (
    collecting phase = iota
    deciding
    awaiting
)

// round is one election attempt as seen by this node. cands holds the
// latest candidacy of every participant, this node included.
type round struct {
    id    uint64
    mine  enrollment.Enrollment
    best  enrollment.Enrollment
    cands map[state.NodeID]enrollment.Enrollment
    phase phase
    seq   uint64
    lost  bool
}

func newRound(id uint64, mine enrollment.Enrollment) *round {
    return &round{
        id:    id,
        mine:  mine,
        best:  mine,
        cands: map[state.NodeID]enrollment.Enrollment{mine.NodeID(): mine},
    }
}

// rank picks the best candidacy. Equal vectors, which only survive for
// ineligible candidates, fall back to the larger NodeID.
func (r *round) rank() {
    best := r.mine
    for _, c := range r.cands {
        if c.Wins(best) || (c.SameWeights(best) && c.NodeID() > best.NodeID()) {
            best = c
        }
    }
    r.best = best
}

func (r *round) setMine(e enrollment.Enrollment) {
    r.mine = e
    r.cands[e.NodeID()] = e
    r.rank()
}

type actorState struct {
    started      bool
    connectSeq   uint64
    retrySeq     uint64
    halted       bool
    mode         state.ServerMode
    active       state.NodeID
    round        uint64
    cur          *round
    seq          uint64
    connecting   state.NodeID
    waitingRetry bool
    denials      int
}
