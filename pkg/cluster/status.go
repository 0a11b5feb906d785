package cluster

import "github.com/amirimatin/go-l2coord/pkg/group"

// Status is a JSON-serializable snapshot of one node, served at /status.
type Status struct {
    // Healthy is true when an active is known and this node is neither
    // stopped nor in DIAGNOSTIC.
    Healthy bool `json:"healthy"`
    Node    string `json:"node"`
    // Mode is the ServerMode name, State its protocol label.
    Mode       string `json:"mode"`
    State      string `json:"state"`
    StartState string `json:"startState"`
    Active     string `json:"active,omitempty"`
    // ActiveAddr is the management address of the active, if known.
    ActiveAddr string `json:"activeAddr,omitempty"`
    Standbys   []string `json:"standbys,omitempty"`
    Members    []group.Member `json:"members"`
    // Missing lists configured servers that are not currently visible.
    Missing     []string `json:"missing,omitempty"`
    Consistency map[string]any `json:"consistency"`
    Warnings    []string `json:"warnings,omitempty"`
}
