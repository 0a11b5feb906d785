package persistence

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

func exercise(t *testing.T, s *Store) {
    t.Helper()
    assert.Equal(t, state.Initial, s.StartMode())
    assert.True(t, s.IsDBClean())
    assert.EqualValues(t, 0, s.OperationCount())
    term, err := s.LoadTerm()
    require.NoError(t, err)
    assert.EqualValues(t, 0, term)

    require.NoError(t, s.SetStartMode(state.Passive))
    require.NoError(t, s.SetDBClean(false))
    n, err := s.IncrementOperationCount()
    require.NoError(t, err)
    assert.EqualValues(t, 1, n)
    require.NoError(t, s.SaveTerm(5))

    assert.Equal(t, state.Passive, s.StartMode())
    assert.False(t, s.IsDBClean())
    assert.EqualValues(t, 1, s.OperationCount())
    term, err = s.LoadTerm()
    require.NoError(t, err)
    assert.EqualValues(t, 5, term)
    assert.Error(t, s.SaveTerm(-1))
}

func TestInmemStore(t *testing.T) {
    exercise(t, NewInmem())
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
    dir := t.TempDir()
    s, err := Open(dir)
    require.NoError(t, err)
    exercise(t, s)
    require.NoError(t, s.Close())

    s2, err := Open(dir)
    require.NoError(t, err)
    defer s2.Close()
    assert.Equal(t, state.Passive, s2.StartMode())
    assert.False(t, s2.IsDBClean())
    term, err := s2.LoadTerm()
    require.NoError(t, err)
    assert.EqualValues(t, 5, term)
}

func TestOpen_RequiresDir(t *testing.T) {
    _, err := Open("")
    assert.Error(t, err)
}
