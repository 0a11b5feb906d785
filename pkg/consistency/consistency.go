// Package consistency holds the safety gates that decide whether a role or
// membership transition may proceed without risking two actives.
package consistency

import (
    "context"
    "errors"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

var (
    ErrMissingFailoverConfig = errors.New("consistency: multi-server deployment requires a failover behavior")
    ErrInvalidFailover       = errors.New("consistency: unknown failover type")
    ErrInvalidVoteCount      = errors.New("consistency: consistency failover requires a non-negative vote count")
    ErrNilTopology           = errors.New("consistency: nil topology")
)

// ConsistencyManager is the gate contract shared by the quorum manager, the
// startup decorator and the availability strategy.
type ConsistencyManager interface {
    // RequestTransition may block until the decision is made. A false result
    // is a retryable denial, never an error.
    RequestTransition(ctx context.Context, mode state.ServerMode, node state.NodeID, t state.Transition) bool
    // CreateVerificationEnrollment builds the Enrollment this node uses to
    // validate, not contest, an active's claim.
    CreateVerificationEnrollment(node state.NodeID, f *enrollment.Factory) enrollment.Enrollment
    IsVoting() bool
    IsBlocked() bool
    CurrentTerm() int64
    SetCurrentTerm(term int64)
    // AllowLastTransition is the operator override for the most recent
    // blocked decision.
    AllowLastTransition()
    StateMap() map[string]any
}

// Voting is the external witness surface. Results follow the decimal
// conventions of the voter RPC: a negative term tells the voter to stop or
// re-register.
type Voting interface {
    RegisterVoter(id string) int64
    Heartbeat(id string) int64
    // Vote takes "voterId:term".
    Vote(idTerm string) int64
    DeregisterVoter(id string) bool
}

// PeerObserver receives group join/leave notifications. Gates that care
// about who is present implement it.
type PeerObserver interface {
    NodeJoined(id state.NodeID)
    NodeLeft(id state.NodeID)
}

// PeerView is the live membership view used for majority checks. Peers
// excludes the local node.
type PeerView interface {
    Peers() []state.NodeID
}

// TermStore persists the term across restarts.
type TermStore interface {
    LoadTerm() (int64, error)
    SaveTerm(term int64) error
}
