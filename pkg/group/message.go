package group

import (
    "fmt"

    json "github.com/goccy/go-json"

    "github.com/amirimatin/go-l2coord/pkg/enrollment"
    "github.com/amirimatin/go-l2coord/pkg/state"
)

type MessageType string

const (
    // Election carries a candidacy for a round.
    Election MessageType = "ELECTION"
    // AbortElection is an active's answer to a candidacy.
    AbortElection MessageType = "ABORT_ELECTION"
    // ElectionWon is the winner's declaration after committing to active.
    ElectionWon MessageType = "ELECTION_WON"
    // ElectionWonAlready is an active announcing itself to a newcomer.
    ElectionWonAlready MessageType = "ELECTION_WON_ALREADY"
    ResultAgreed       MessageType = "RESULT_AGREED"
    ResultConflict     MessageType = "RESULT_CONFLICT"
)

// Message is the election wire message. State is the sender's protocol
// state label.
type Message struct {
    Type       MessageType           `json:"type"`
    From       state.NodeID          `json:"from"`
    Round      uint64                `json:"round"`
    Enrollment enrollment.Enrollment `json:"enrollment"`
    State      string                `json:"state"`
}

// IsDeclaration reports whether m announces an active.
func (m Message) IsDeclaration() bool {
    return m.Type == AbortElection || m.Type == ElectionWon || m.Type == ElectionWonAlready
}

func (m Message) String() string {
    return fmt.Sprintf("%s from=%s round=%d state=%s %s", m.Type, m.From, m.Round, m.State, m.Enrollment)
}

func Encode(m Message) ([]byte, error) { return json.Marshal(m) }

func Decode(b []byte) (Message, error) {
    var m Message
    if err := json.Unmarshal(b, &m); err != nil { return Message{}, fmt.Errorf("group: decode: %w", err) }
    if m.Type == "" || m.From.IsNull() { return Message{}, fmt.Errorf("group: decode: incomplete message") }
    return m, nil
}
