package cluster

import (
    "context"
    "net"
    "testing"
    "time"

    json "github.com/goccy/go-json"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/election"
    "github.com/amirimatin/go-l2coord/pkg/group"
    "github.com/amirimatin/go-l2coord/pkg/group/inmem"
    "github.com/amirimatin/go-l2coord/pkg/persistence"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
    "github.com/amirimatin/go-l2coord/pkg/topology/static"
    "github.com/amirimatin/go-l2coord/pkg/voter"
    "github.com/amirimatin/go-l2coord/pkg/voter/httpjson"
)

func freeAddr(t *testing.T) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    addr := ln.Addr().String()
    require.NoError(t, ln.Close())
    return addr
}

func roster(ids ...state.NodeID) topology.Topology {
    ms := make([]topology.Member, len(ids))
    for i, id := range ids { ms[i] = topology.Member{ID: id} }
    return static.New(ms...)
}

type node struct {
    c    *Cluster
    g    *inmem.Node
    addr string
}

func newNode(t *testing.T, hub *inmem.Hub, id state.NodeID, top topology.Topology, gate consistency.ConsistencyManager) *node {
    t.Helper()
    addr := freeAddr(t)
    g, err := hub.Join(id, map[string]string{group.MetaMgmtAddr: addr})
    require.NoError(t, err)
    store := persistence.NewInmem()
    factory, err := election.NewFactory(store, func() int { return len(g.Peers()) }, time.Now())
    require.NoError(t, err)
    if gate == nil { gate = consistency.NewAvailability(nil) }
    var voting voter.Service
    if v, ok := gate.(voter.Service); ok { voting = v }
    c, err := New(Options{
        Election: election.Options{
            Group:        g,
            Gate:         gate,
            Factory:      factory,
            Store:        store,
            ElectionTime: 100 * time.Millisecond,
        },
        Topology:  top,
        RPCServer: httpjson.NewServer(addr, nil),
        RPCClient: voter.NewClient(httpjson.NewClient(2 * time.Second)),
        Voting:    voting,
    })
    require.NoError(t, err)
    t.Cleanup(func() {
        _ = c.Stop(context.Background())
        _ = g.Close()
    })
    return &node{c: c, g: g, addr: addr}
}

func TestOptions_Validate(t *testing.T) {
    _, err := New(Options{})
    require.Error(t, err)

    hub := inmem.NewHub()
    g, err := hub.Join("a", nil)
    require.NoError(t, err)
    defer g.Close()
    factory, err := election.NewFactory(persistence.NewInmem(), func() int { return 0 }, time.Now())
    require.NoError(t, err)
    _, err = New(Options{Election: election.Options{Group: g, Gate: consistency.NewAvailability(nil), Factory: factory}})
    require.Error(t, err)
}

func TestCluster_TwoNodes(t *testing.T) {
    hub := inmem.NewHub()
    top := roster("a", "b")
    a := newNode(t, hub, "a", top, nil)
    b := newNode(t, hub, "b", top, nil)

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    events := a.c.Subscribe(ctx)

    require.NoError(t, a.c.Start(ctx))
    require.NoError(t, b.c.Start(ctx))
    require.NoError(t, a.c.WaitForActive(ctx))
    require.NoError(t, b.c.WaitForActive(ctx))

    active := a.c.StateManager().ActiveNodeID()
    require.Equal(t, active, b.c.StateManager().ActiveNodeID())

    st, err := a.c.Status(ctx)
    require.NoError(t, err)
    assert.Equal(t, "a", st.Node)
    assert.Equal(t, string(active), st.Active)
    assert.NotEmpty(t, st.ActiveAddr)
    assert.Empty(t, st.Missing)
    assert.Len(t, st.Members, 2)

    // b reads the active's document over the management endpoint
    require.Eventually(t, func() bool {
        doc, err := b.c.ActiveStatus(ctx)
        if err != nil { return false }
        var remote Status
        if json.Unmarshal(doc, &remote) != nil { return false }
        return remote.Node == string(active) && remote.State == state.Active.Label()
    }, 5*time.Second, 50*time.Millisecond)

    var sawMode, sawActive bool
    timeout := time.After(2 * time.Second)
    for !(sawMode && sawActive) {
        select {
        case ev := <-events:
            switch ev.Type {
            case EventModeChanged:
                sawMode = true
            case EventActiveChanged:
                sawActive = ev.Node == string(active)
            }
        case <-timeout:
            t.Fatalf("events: mode=%v active=%v", sawMode, sawActive)
        }
    }

    assert.ErrorIs(t, a.c.Allow(ctx), ErrNotBlocked)
}

func TestCluster_MissingServersAndAllow(t *testing.T) {
    hub := inmem.NewHub()
    top := roster("a", "b", "c")
    gate, err := consistency.New(consistency.Options{
        Self:            "a",
        Topology:        top,
        VoteCount:       0,
        VoteTimeout:     100 * time.Millisecond,
        RecheckInterval: 10 * time.Millisecond,
    })
    require.NoError(t, err)
    a := newNode(t, hub, "a", top, consistency.NewSafeStartup(false, 2, gate, nil))

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    require.NoError(t, a.c.Start(ctx))

    // alone among three servers: the move to active is denied
    require.Eventually(t, gate.IsBlocked, 5*time.Second, 10*time.Millisecond)
    st, err := a.c.Status(ctx)
    require.NoError(t, err)
    assert.ElementsMatch(t, []string{"b", "c"}, st.Missing)
    assert.False(t, st.Healthy)
    assert.NotEmpty(t, st.Warnings)

    tr := httpjson.NewClient(2 * time.Second)
    require.NoError(t, voter.NewClient(tr).Allow(ctx, a.addr))
    require.NoError(t, a.c.WaitForActive(ctx))
    assert.Equal(t, state.Active, a.c.StateManager().CurrentMode())
}

func TestCluster_StopIsIdempotent(t *testing.T) {
    hub := inmem.NewHub()
    a := newNode(t, hub, "a", roster("a"), nil)
    ctx := context.Background()
    require.NoError(t, a.c.Start(ctx))
    require.NoError(t, a.c.Stop(ctx))
    require.NoError(t, a.c.Close())
    select {
    case <-a.c.Done():
    case <-time.After(time.Second):
        t.Fatal("election still running")
    }
}

func TestCluster_StopActiveReturns(t *testing.T) {
    hub := inmem.NewHub()
    a := newNode(t, hub, "a", roster("a"), nil)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    require.NoError(t, a.c.Start(ctx))
    require.NoError(t, a.c.WaitForActive(ctx))
    require.Equal(t, state.Active, a.c.StateManager().CurrentMode())

    events := a.c.Subscribe(ctx)

    done := make(chan error, 1)
    go func() { done <- a.c.Stop(context.Background()) }()
    select {
    case err := <-done:
        require.NoError(t, err)
    case <-time.After(3 * time.Second):
        t.Fatal("Stop did not return")
    }
    assert.Equal(t, state.Stop, a.c.StateManager().CurrentMode())

    // the STOP transition still reaches subscribers
    deadline := time.After(time.Second)
    for {
        select {
        case ev := <-events:
            if ev.Type == EventModeChanged && ev.New == state.Stop.Label() { return }
        case <-deadline:
            t.Fatal("no STOP event")
        }
    }
}
