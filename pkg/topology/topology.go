package topology

import (
    "errors"
    "fmt"
    "sort"
    "strings"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Member is one configured server: its NodeID and, optionally, the group
// address other servers use to reach it.
type Member struct {
    ID   state.NodeID
    Addr string
}

func (m Member) String() string {
    if m.Addr == "" { return string(m.ID) }
    return string(m.ID) + "@" + m.Addr
}

// Topology is the read-only view of the expected server roster. It sizes the
// quorum and the startup rendezvous; it never moves messages.
type Topology interface {
    Members() []Member
}

var ErrEmptyMember = errors.New("topology: empty member entry")

// ParseMember reads "id@host:port" or a bare "id".
func ParseMember(s string) (Member, error) {
    s = strings.TrimSpace(s)
    if s == "" { return Member{}, ErrEmptyMember }
    id, addr, _ := strings.Cut(s, "@")
    id = strings.TrimSpace(id)
    if id == "" { return Member{}, fmt.Errorf("topology: missing id in %q", s) }
    return Member{ID: state.NodeID(id), Addr: strings.TrimSpace(addr)}, nil
}

// ParseList reads a comma-separated member list. Empty entries are skipped,
// duplicate ids are rejected, and the result is sorted by id.
func ParseList(csv string) ([]Member, error) {
    var out []Member
    seen := make(map[state.NodeID]struct{})
    for _, p := range strings.Split(csv, ",") {
        if strings.TrimSpace(p) == "" { continue }
        m, err := ParseMember(p)
        if err != nil { return nil, err }
        if _, dup := seen[m.ID]; dup { return nil, fmt.Errorf("topology: duplicate member %q", m.ID) }
        seen[m.ID] = struct{}{}
        out = append(out, m)
    }
    Sort(out)
    return out, nil
}

func Sort(ms []Member) { sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID }) }

// IDs returns the roster's NodeIDs.
func IDs(t Topology) []state.NodeID {
    ms := t.Members()
    out := make([]state.NodeID, len(ms))
    for i, m := range ms { out[i] = m.ID }
    return out
}

// Contains reports whether id is a configured server.
func Contains(t Topology, id state.NodeID) bool {
    for _, m := range t.Members() {
        if m.ID == id { return true }
    }
    return false
}

// Seeds returns the addresses of every member except self, for joining the
// group.
func Seeds(t Topology, self state.NodeID) []string {
    var out []string
    for _, m := range t.Members() {
        if m.ID != self && m.Addr != "" { out = append(out, m.Addr) }
    }
    return out
}

// Seeder supplies extra group join addresses, for rosters whose members
// carry no address.
type Seeder interface {
    Seeds() []string
}
