package enrollment

import (
    "errors"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

var ErrNoGenerators = errors.New("enrollment: factory needs at least one generator")

// Factory is a sealed, ordered set of weight generators. The order is agreed
// cluster-wide and the vector length never changes after construction.
type Factory struct {
    gens []WeightGenerator
}

// NewFactory seals gens in the given order.
func NewFactory(gens ...WeightGenerator) (*Factory, error) {
    if len(gens) == 0 {
        return nil, ErrNoGenerators
    }
    return &Factory{gens: append([]WeightGenerator(nil), gens...)}, nil
}

// NewTestingFactory returns a factory of n random generators.
func NewTestingFactory(n int) *Factory {
    if n < 1 {
        n = 1
    }
    gens := make([]WeightGenerator, n)
    for i := range gens {
        gens[i] = NewRandomGenerator()
    }
    return &Factory{gens: gens}
}

// Size is the weight vector length.
func (f *Factory) Size() int { return len(f.gens) }

// CreateEnrollment runs every generator in order for node.
func (f *Factory) CreateEnrollment(node state.NodeID) Enrollment {
    w := make([]int64, len(f.gens))
    for i, g := range f.gens {
        w[i] = g.Weight()
    }
    return Enrollment{node: node, weights: w}
}

// CreateVerificationEnrollment returns the reproducible part of node's
// weights with term as the last component. Volatile components are zeroed.
func (f *Factory) CreateVerificationEnrollment(node state.NodeID, term int64) Enrollment {
    w := make([]int64, len(f.gens))
    for i, g := range f.gens {
        if _, skip := g.(volatile); skip {
            continue
        }
        w[i] = g.Weight()
    }
    w[len(w)-1] = term
    return Enrollment{node: node, weights: w}
}
