package enrollment

import (
    "fmt"
    "math"
    "strings"

    json "github.com/goccy/go-json"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Enrollment is a candidacy descriptor: the node and its ordered weights.
// Values are immutable; Weights returns a copy.
type Enrollment struct {
    node    state.NodeID
    weights []int64
}

// New builds an Enrollment from node and a copy of weights.
func New(node state.NodeID, weights []int64) Enrollment {
    return Enrollment{node: node, weights: append([]int64(nil), weights...)}
}

// NewTrump returns an Enrollment whose weights are all math.MaxInt64. It
// never loses a comparison and is used only to validate, never to contest.
func NewTrump(node state.NodeID, size int) Enrollment {
    return filled(node, size, math.MaxInt64)
}

// NewIneligible returns an Enrollment that loses to every regular one. Nodes
// that cannot be promoted still take part in rounds with it.
func NewIneligible(node state.NodeID, size int) Enrollment {
    return filled(node, size, math.MinInt64)
}

func filled(node state.NodeID, size int, v int64) Enrollment {
    w := make([]int64, size)
    for i := range w {
        w[i] = v
    }
    return Enrollment{node: node, weights: w}
}

func (e Enrollment) NodeID() state.NodeID { return e.node }

func (e Enrollment) Weights() []int64 { return append([]int64(nil), e.weights...) }

func (e Enrollment) Len() int { return len(e.weights) }

func (e Enrollment) IsZero() bool { return e.node.IsNull() && len(e.weights) == 0 }

// Wins reports whether e beats other. Weights are compared in priority order
// and the first differing position decides. On a common prefix the longer
// vector wins. Identical vectors never win, in either direction.
func (e Enrollment) Wins(other Enrollment) bool {
    n := len(e.weights)
    if len(other.weights) < n {
        n = len(other.weights)
    }
    for i := 0; i < n; i++ {
        if e.weights[i] != other.weights[i] {
            return e.weights[i] > other.weights[i]
        }
    }
    return len(e.weights) > len(other.weights)
}

// SameWeights reports whether neither side wins against the other.
func (e Enrollment) SameWeights(other Enrollment) bool {
    return !e.Wins(other) && !other.Wins(e)
}

// Equal reports node and weight equality.
func (e Enrollment) Equal(other Enrollment) bool {
    if e.node != other.node || len(e.weights) != len(other.weights) {
        return false
    }
    for i := range e.weights {
        if e.weights[i] != other.weights[i] {
            return false
        }
    }
    return true
}

// Term returns the last weight, which verification enrollments use to carry
// the consistency term. ok is false for empty or saturated vectors.
func (e Enrollment) Term() (term int64, ok bool) {
    if len(e.weights) == 0 {
        return 0, false
    }
    t := e.weights[len(e.weights)-1]
    if t <= 0 || t == math.MaxInt64 {
        return 0, false
    }
    return t, true
}

func (e Enrollment) String() string {
    parts := make([]string, len(e.weights))
    for i, w := range e.weights {
        parts[i] = fmt.Sprintf("%d", w)
    }
    return fmt.Sprintf("Enrollment[%s, weights=%s]", e.node, strings.Join(parts, ","))
}

type wire struct {
    Node    state.NodeID `json:"node"`
    Weights []int64      `json:"weights"`
}

func (e Enrollment) MarshalJSON() ([]byte, error) {
    return json.Marshal(wire{Node: e.node, Weights: e.weights})
}

func (e *Enrollment) UnmarshalJSON(b []byte) error {
    var w wire
    if err := json.Unmarshal(b, &w); err != nil {
        return err
    }
    e.node = w.Node
    e.weights = w.Weights
    return nil
}
