package enrollment

import (
    "math/rand/v2"
    "sync"
    "time"
)

// WeightGenerator produces one component of an Enrollment's weight vector.
type WeightGenerator interface {
    Weight() int64
}

// Func adapts a plain function to WeightGenerator.
type Func func() int64

func (f Func) Weight() int64 { return f() }

// volatile marks generators whose output changes from call to call.
// Verification enrollments zero them so that two nodes comparing claims
// see the same vectors.
type volatile interface {
    volatile()
}

// RandomGenerator is the final tiebreaker component.
type RandomGenerator struct {
    mu  sync.Mutex
    rng *rand.Rand
}

func NewRandomGenerator() *RandomGenerator {
    seed := uint64(time.Now().UnixNano())
    return &RandomGenerator{rng: rand.New(rand.NewPCG(seed, seed>>7|1))}
}

func (g *RandomGenerator) Weight() int64 {
    g.mu.Lock()
    defer g.mu.Unlock()
    return g.rng.Int64()
}

func (g *RandomGenerator) volatile() {}

// FreshnessGenerator ranks nodes that already hold clean, synced data above
// fresh or dirty ones.
type FreshnessGenerator struct {
    HasData func() bool
}

func (g FreshnessGenerator) Weight() int64 {
    if g.HasData != nil && g.HasData() {
        return 1
    }
    return 0
}

// CounterGenerator exposes a persisted operation counter; larger means the
// node has seen more of the cluster's history.
type CounterGenerator struct {
    Count func() int64
}

func (g CounterGenerator) Weight() int64 {
    if g.Count == nil {
        return 0
    }
    return g.Count()
}

// TopologyGenerator prefers the node that currently sees the most peers.
type TopologyGenerator struct {
    Visible func() int
}

func (g TopologyGenerator) Weight() int64 {
    if g.Visible == nil {
        return 0
    }
    return int64(g.Visible())
}

func (g TopologyGenerator) volatile() {}

// UptimeGenerator prefers the node that has been running longest.
type UptimeGenerator struct {
    Since time.Time
}

func (g UptimeGenerator) Weight() int64 { return time.Since(g.Since).Milliseconds() }

func (g UptimeGenerator) volatile() {}
