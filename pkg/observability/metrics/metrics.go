package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

var (
    once sync.Once

    ServerMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Name:      "server_mode",
        Help:      "1 for the mode this node is currently in, 0 for the others",
    }, []string{"mode"})

    IsActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Name:      "is_active",
        Help:      "1 if this node is the active coordinator, else 0",
    })

    Elections = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "l2coord",
        Name:      "elections_total",
        Help:      "Election rounds finished by this node, by outcome",
    }, []string{"result"})

    CurrentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "consistency",
        Name:      "current_term",
        Help:      "Current consistency term",
    })

    Voting = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "consistency",
        Name:      "voting",
        Help:      "1 while a gated decision is collecting votes",
    })

    Blocked = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "consistency",
        Name:      "blocked",
        Help:      "1 while a gated transition is blocked waiting for quorum or an operator",
    })

    TransitionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "l2coord",
        Subsystem: "consistency",
        Name:      "transition_requests_total",
        Help:      "Transition requests decided by the gate",
    }, []string{"transition", "result"})

    RegisteredVoters = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "voter",
        Name:      "registered",
        Help:      "Number of registered external voters",
    })

    Votes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "l2coord",
        Subsystem: "voter",
        Name:      "votes_total",
        Help:      "Votes received from external voters, by result",
    }, []string{"result"})

    PeersJoined = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "startup",
        Name:      "peers_joined",
        Help:      "Peers observed joining while the startup gate is engaged",
    })

    FatalRestarts = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "l2coord",
        Name:      "fatal_restarts_total",
        Help:      "Unrecoverable conditions that required a process restart",
    })

    RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "l2coord",
        Subsystem: "rpc",
        Name:      "requests_total",
        Help:      "Management and voter RPCs served, by protocol and operation",
    }, []string{"proto", "op"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "l2coord",
        Subsystem: "rpc",
        Name:      "grpc_conn_dials_total",
        Help:      "gRPC client connections dialed",
    })

    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "l2coord",
        Subsystem: "rpc",
        Name:      "grpc_conn_active",
        Help:      "Cached gRPC client connections",
    })

    WitnessVotes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "l2coord",
        Subsystem: "witness",
        Name:      "votes_cast_total",
        Help:      "Votes cast by this witness, by result",
    }, []string{"result"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ServerMode)
        prometheus.MustRegister(IsActive)
        prometheus.MustRegister(Elections)
        prometheus.MustRegister(CurrentTerm)
        prometheus.MustRegister(Voting)
        prometheus.MustRegister(Blocked)
        prometheus.MustRegister(TransitionRequests)
        prometheus.MustRegister(RegisteredVoters)
        prometheus.MustRegister(Votes)
        prometheus.MustRegister(PeersJoined)
        prometheus.MustRegister(FatalRestarts)
        prometheus.MustRegister(RPCRequests)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnActive)
        prometheus.MustRegister(WitnessVotes)
    })
}

// SetMode flips the mode gauge so that only m reads 1.
func SetMode(m state.ServerMode) {
    for _, x := range state.AllModes {
        v := 0.0
        if x == m { v = 1 }
        ServerMode.WithLabelValues(x.String()).Set(v)
    }
    if m == state.Active { IsActive.Set(1) } else { IsActive.Set(0) }
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
    if b { return 1 }
    return 0
}

// Result labels a granted/denied decision.
func Result(granted bool) string {
    if granted { return "granted" }
    return "denied"
}
