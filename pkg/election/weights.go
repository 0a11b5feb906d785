package election

import (
    "time"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/persistence"
)

// NewFactory seals the standard weight order: data freshness, persisted
// operation count, visible peers, uptime, then a random tiebreaker.
func NewFactory(store *persistence.Store, visiblePeers func() int, started time.Time) (*enrollment.Factory, error) {
    return enrollment.NewFactory(
        enrollment.FreshnessGenerator{HasData: func() bool { return store.StartMode().ContainsData() && store.IsDBClean() }},
        enrollment.CounterGenerator{Count: store.OperationCount},
        enrollment.TopologyGenerator{Visible: visiblePeers},
        enrollment.UptimeGenerator{Since: started},
        enrollment.NewRandomGenerator(),
    )
}
