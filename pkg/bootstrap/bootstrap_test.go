package bootstrap

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/persistence"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
    cfg, err := WithDefaults(Config{NodeID: "a", MgmtProto: "grpc", ElectionTime: time.Second})
    require.NoError(t, err)
    assert.Equal(t, "grpc", cfg.MgmtProto)
    assert.Equal(t, time.Second, cfg.ElectionTime)
    assert.Equal(t, "static", cfg.TopologyKind)
    assert.Equal(t, 30*time.Second, cfg.VoteTimeout)
    assert.NotNil(t, cfg.Logger)
}

func TestConfig_Topology(t *testing.T) {
    top, err := Config{ServersCSV: "b@127.0.0.1:2,a@127.0.0.1:1"}.Topology()
    require.NoError(t, err)
    assert.Equal(t, []state.NodeID{"a", "b"}, topology.IDs(top))

    _, err = Config{TopologyKind: "file"}.Topology()
    assert.Error(t, err)
    _, err = Config{TopologyKind: "consul"}.Topology()
    assert.Error(t, err)
}

func TestConfig_Seeder(t *testing.T) {
    assert.Nil(t, Config{}.Seeder())
    s := Config{SeedDNS: "10.0.0.1:7946"}.Seeder()
    require.NotNil(t, s)
    assert.Equal(t, []string{"10.0.0.1:7946"}, s.Seeds())
}

func TestNewGate(t *testing.T) {
    three, err := Config{ServersCSV: "a,b,c"}.Topology()
    require.NoError(t, err)
    store := persistence.NewInmem()

    _, _, err = newGate(Config{}, "a", three, nil, store)
    assert.ErrorIs(t, err, consistency.ErrMissingFailoverConfig)

    gate, voting, err := newGate(Config{Failover: "availability"}, "a", three, nil, store)
    require.NoError(t, err)
    assert.IsType(t, &consistency.SafeStartupManager{}, gate)
    assert.IsType(t, &consistency.AvailabilityManager{}, voting)

    gate, voting, err = newGate(Config{Failover: "consistency", VoteCount: 1, VoteTimeout: time.Second}, "a", three, nil, store)
    require.NoError(t, err)
    m, ok := voting.(*consistency.Manager)
    require.True(t, ok)
    assert.Same(t, m, gate.(*consistency.SafeStartupManager).Unwrap())
    assert.EqualValues(t, 0, m.RegisterVoter("w1"))
    assert.EqualValues(t, -1, m.RegisterVoter("w2"), "registry holds VoteCount voters")

    _, _, err = newGate(Config{Failover: "majority"}, "a", three, nil, store)
    assert.ErrorIs(t, err, consistency.ErrInvalidFailover)
}

func TestNewVoterClient(t *testing.T) {
    c, closer, err := NewVoterClient("http", Config{}.TLS(), time.Second)
    require.NoError(t, err)
    assert.NotNil(t, c)
    assert.Nil(t, closer)

    c, closer, err = NewVoterClient("grpc", Config{}.TLS(), time.Second)
    require.NoError(t, err)
    assert.NotNil(t, c)
    require.NotNil(t, closer)
    assert.NoError(t, closer.Close())

    _, _, err = NewVoterClient("smtp", Config{}.TLS(), time.Second)
    assert.ErrorIs(t, err, ErrUnknownProto)
}

func TestBuild(t *testing.T) {
    _, err := Build(Config{})
    assert.Error(t, err, "empty node id")

    _, err = Build(Config{NodeID: "a", ServersCSV: "a,b,c", MemBind: "127.0.0.1:0", MgmtAddr: "127.0.0.1:0"})
    assert.ErrorIs(t, err, consistency.ErrMissingFailoverConfig)

    _, err = Build(Config{NodeID: "a", ServersCSV: "a", MgmtProto: "smtp", MemBind: "127.0.0.1:0", MgmtAddr: "127.0.0.1:0"})
    assert.ErrorIs(t, err, ErrUnknownProto)

    cl, err := Build(Config{NodeID: "a", ServersCSV: "a", MemBind: "127.0.0.1:0", MgmtAddr: "127.0.0.1:0", DataDir: t.TempDir()})
    require.NoError(t, err)
    assert.Equal(t, state.Initial, cl.StateManager().CurrentMode())
    require.NoError(t, cl.Close())
}
