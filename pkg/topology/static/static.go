package static

import (
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

type staticRoster struct {
    members []topology.Member
}

func (s *staticRoster) Members() []topology.Member { return append([]topology.Member(nil), s.members...) }

// New returns a Topology that always reports the given members.
func New(members ...topology.Member) topology.Topology {
    cleaned := make([]topology.Member, 0, len(members))
    for _, m := range members {
        if !m.ID.IsNull() {
            cleaned = append(cleaned, m)
        }
    }
    topology.Sort(cleaned)
    return &staticRoster{members: cleaned}
}

// Parse builds a static Topology from "id@addr,id@addr".
func Parse(csv string) (topology.Topology, error) {
    ms, err := topology.ParseList(csv)
    if err != nil { return nil, err }
    return &staticRoster{members: ms}, nil
}
