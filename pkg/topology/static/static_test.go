package static

import (
    "testing"

    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

func TestParse(t *testing.T) {
    cases := []struct{
        in   string
        want []string
    }{
        {"", nil},
        {"a@h:1", []string{"a@h:1"}},
        {" b@h:2 , a ", []string{"a", "b@h:2"}},
        {",,a@h:1, ,b@h:2,", []string{"a@h:1", "b@h:2"}},
    }
    for _, c := range cases {
        topo, err := Parse(c.in)
        if err != nil { t.Fatalf("parse %q: %v", c.in, err) }
        got := topo.Members()
        if len(got) != len(c.want) {
            t.Fatalf("len mismatch for %q: got %d want %d", c.in, len(got), len(c.want))
        }
        for i := range got {
            if got[i].String() != c.want[i] {
                t.Fatalf("[%q] item %d: got %q want %q", c.in, i, got[i], c.want[i])
            }
        }
    }
}

func TestParse_RejectsDuplicates(t *testing.T) {
    if _, err := Parse("a@h:1,a@h:2"); err == nil {
        t.Fatalf("expected duplicate error")
    }
}

func TestNew(t *testing.T) {
    topo := New(topology.Member{ID: "b", Addr: "h:2"}, topology.Member{}, topology.Member{ID: "a", Addr: "h:1"})
    got := topo.Members()
    if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
        t.Fatalf("unexpected members: %#v", got)
    }
    // Ensure returned slice is a copy
    got[0].ID = "x"
    if topo.Members()[0].ID != "a" {
        t.Fatalf("expected defensive copy")
    }
    seeds := topology.Seeds(topo, state.NodeID("a"))
    if len(seeds) != 1 || seeds[0] != "h:2" {
        t.Fatalf("unexpected seeds: %#v", seeds)
    }
    if !topology.Contains(topo, "b") || topology.Contains(topo, "z") {
        t.Fatalf("contains mismatch")
    }
}
