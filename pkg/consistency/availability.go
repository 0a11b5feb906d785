package consistency

import (
    "context"
    "log"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

// AvailabilityManager grants everything. It is chosen when the operator
// prefers staying up over split-brain protection.
type AvailabilityManager struct {
    logger *log.Logger
}

var (
    _ ConsistencyManager = (*AvailabilityManager)(nil)
    _ Voting             = (*AvailabilityManager)(nil)
)

func NewAvailability(logger *log.Logger) *AvailabilityManager {
    return &AvailabilityManager{logger: logutil.OrDefault(logger)}
}

func (a *AvailabilityManager) RequestTransition(_ context.Context, mode state.ServerMode, node state.NodeID, t state.Transition) bool {
    metrics.TransitionRequests.WithLabelValues(t.String(), metrics.Result(true)).Inc()
    logutil.Debugf(a.logger, "availability: %s for %s in %s granted", t, node, mode)
    return true
}

// CreateVerificationEnrollment returns an all-maximum vector.
func (a *AvailabilityManager) CreateVerificationEnrollment(node state.NodeID, f *enrollment.Factory) enrollment.Enrollment {
    return enrollment.NewTrump(node, f.Size())
}

func (a *AvailabilityManager) IsVoting() bool       { return false }
func (a *AvailabilityManager) IsBlocked() bool      { return false }
func (a *AvailabilityManager) CurrentTerm() int64   { return 0 }
func (a *AvailabilityManager) SetCurrentTerm(int64) {}
func (a *AvailabilityManager) AllowLastTransition() {}

func (a *AvailabilityManager) StateMap() map[string]any {
    return map[string]any{"type": "availability"}
}

// Voters are meaningless without terms; every call tells them to stop.
func (a *AvailabilityManager) RegisterVoter(string) int64    { return -1 }
func (a *AvailabilityManager) Heartbeat(string) int64        { return -1 }
func (a *AvailabilityManager) Vote(string) int64             { return -1 }
func (a *AvailabilityManager) DeregisterVoter(string) bool   { return false }
