package consistency

import (
    "fmt"
    "strings"
)

type FailoverType int

const (
    Availability FailoverType = iota
    Consistency
)

func (f FailoverType) String() string {
    if f == Consistency { return "consistency" }
    return "availability"
}

// FailoverBehavior is the operator's choice between availability and
// split-brain safety. VoteCount only applies to Consistency.
type FailoverBehavior struct {
    Type      FailoverType
    VoteCount int
}

// ParseFailover reads the configuration surface. An empty kind yields nil,
// which ParseVoteCount rejects for multi-server deployments.
func ParseFailover(kind string, voteCount int) (*FailoverBehavior, error) {
    switch strings.ToLower(strings.TrimSpace(kind)) {
    case "":
        return nil, nil
    case "availability":
        return &FailoverBehavior{Type: Availability}, nil
    case "consistency":
        if voteCount < 0 { return nil, ErrInvalidVoteCount }
        return &FailoverBehavior{Type: Consistency, VoteCount: voteCount}, nil
    default:
        return nil, fmt.Errorf("%w: %q", ErrInvalidFailover, kind)
    }
}

// ParseVoteCount returns the number of external votes that can substitute
// for a missing majority, or -1 when voting is disabled. A single server
// never votes. A multi-server deployment without a failover behavior is a
// fatal configuration error.
func ParseVoteCount(fb *FailoverBehavior, servers int) (int, error) {
    if servers <= 1 { return -1, nil }
    if fb == nil { return 0, ErrMissingFailoverConfig }
    if fb.Type == Availability { return -1, nil }
    if fb.VoteCount < 0 { return 0, ErrInvalidVoteCount }
    return fb.VoteCount, nil
}
