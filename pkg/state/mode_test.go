package state

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestConvert_ActiveCoordinator(t *testing.T) {
    assert.Equal(t, Active, Convert(ActiveCoordinator))
}

func TestConvert_RoundTripsLabels(t *testing.T) {
    for _, m := range AllModes {
        assert.Equal(t, m, Convert(m.Label()), "label %q", m.Label())
    }
    assert.Equal(t, Passive, Convert("passive"))
    assert.Equal(t, Initial, Convert("no-such-state"))
}

func TestModePredicates(t *testing.T) {
    assert.True(t, Start.CanBeActive())
    assert.True(t, Passive.CanBeActive())
    assert.False(t, Syncing.CanBeActive())
    assert.False(t, PassiveUninitialized.CanBeActive())
    assert.False(t, Active.CanStartElection())
    assert.False(t, Diagnostic.CanStartElection())
    assert.True(t, Initial.IsStartup())
    assert.False(t, Passive.IsStartup())
}

func TestTransition_ConsistencyGated(t *testing.T) {
    assert.False(t, AddClient.ConsistencyGated())
    for _, tr := range []Transition{ConnectToActive, MoveToActive, RemovePassive} {
        assert.True(t, tr.ConsistencyGated(), tr.String())
    }
}
