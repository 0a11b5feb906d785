package state

// Transition enumerates the role/membership changes that need a safety
// decision from a gate.
type Transition int

const (
    ConnectToActive Transition = iota
    MoveToActive
    AddClient
    RemovePassive
)

func (t Transition) String() string {
    switch t {
    case ConnectToActive:
        return "CONNECT_TO_ACTIVE"
    case MoveToActive:
        return "MOVE_TO_ACTIVE"
    case AddClient:
        return "ADD_CLIENT"
    case RemovePassive:
        return "REMOVE_PASSIVE"
    }
    return "UNKNOWN"
}

// ConsistencyGated reports whether t requires a quorum decision. Admitting a
// client is never a split-brain risk.
func (t Transition) ConsistencyGated() bool { return t != AddClient }
