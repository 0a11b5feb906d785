package state

import "strings"

// NodeID identifies a group member. It is opaque to this module and supplied
// by the group layer (memberlist node name, in-memory hub id).
type NodeID string

// NullID is the zero NodeID, used when no active is known.
const NullID NodeID = ""

func (n NodeID) IsNull() bool   { return n == NullID }
func (n NodeID) String() string { return string(n) }

// ServerMode is the externally observable lifecycle state of one node.
type ServerMode int

const (
    Initial ServerMode = iota
    Start
    Syncing
    PassiveUninitialized
    Passive
    Active
    Diagnostic
    Stop
)

// Protocol state labels. These travel on the wire inside election messages and
// are mapped back onto ServerMode with Convert.
const (
    BootstrapState       = "BOOTSTRAP"
    StartState           = "START-STATE"
    PassiveSyncingState  = "PASSIVE-SYNCING"
    PassiveUninitState   = "PASSIVE-UNINITIALIZED"
    PassiveStandbyState  = "PASSIVE-STANDBY"
    ActiveCoordinator    = "ACTIVE-COORDINATOR"
    DiagnosticState      = "DIAGNOSTIC"
    StopState            = "STOP-STATE"
)

var labels = map[ServerMode]string{
    Initial:              BootstrapState,
    Start:                StartState,
    Syncing:              PassiveSyncingState,
    PassiveUninitialized: PassiveUninitState,
    Passive:              PassiveStandbyState,
    Active:               ActiveCoordinator,
    Diagnostic:           DiagnosticState,
    Stop:                 StopState,
}

var names = map[ServerMode]string{
    Initial:              "INITIAL",
    Start:                "START",
    Syncing:              "SYNCING",
    PassiveUninitialized: "PASSIVE_UNINITIALIZED",
    Passive:              "PASSIVE",
    Active:               "ACTIVE",
    Diagnostic:           "DIAGNOSTIC",
    Stop:                 "STOP",
}

// AllModes lists every mode in declaration order.
var AllModes = []ServerMode{Initial, Start, Syncing, PassiveUninitialized, Passive, Active, Diagnostic, Stop}

func (m ServerMode) String() string {
    if s, ok := names[m]; ok {
        return s
    }
    return "UNKNOWN"
}

// Label returns the protocol state label for m.
func (m ServerMode) Label() string { return labels[m] }

// Convert maps a protocol state label onto the reported ServerMode. Unknown
// labels map to Initial. Mode names (e.g. "ACTIVE") are accepted as well.
func Convert(label string) ServerMode {
    for m, l := range labels {
        if l == label {
            return m
        }
    }
    up := strings.ToUpper(strings.TrimSpace(label))
    for m, n := range names {
        if n == up {
            return m
        }
    }
    return Initial
}

// IsStartup reports whether no election has concluded for this process yet.
func (m ServerMode) IsStartup() bool { return m == Initial || m == Start }

// CanStartElection reports whether a node in mode m may run an election.
func (m ServerMode) CanStartElection() bool {
    switch m {
    case Initial, Start, PassiveUninitialized, Syncing, Passive:
        return true
    }
    return false
}

// CanBeActive reports whether a node in mode m may be promoted to Active.
// Partially synced nodes hold incomplete data and never qualify.
func (m ServerMode) CanBeActive() bool {
    switch m {
    case Initial, Start, Passive:
        return true
    }
    return false
}

// ContainsData reports whether a node that last ran in mode m holds data.
func (m ServerMode) ContainsData() bool { return m == Active || m == Passive }

// RequiresElection reports whether entering m must wait for the election
// machinery to be started.
func (m ServerMode) RequiresElection() bool {
    return m == Active || m == PassiveUninitialized || m == Passive
}
