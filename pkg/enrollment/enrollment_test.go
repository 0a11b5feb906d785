package enrollment

import (
    "math"
    "testing"
    "time"

    json "github.com/goccy/go-json"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

func TestWins_FirstDifferingPositionDecides(t *testing.T) {
    a := New("a", []int64{1, 5, 0})
    b := New("b", []int64{1, 4, 99})
    assert.True(t, a.Wins(b))
    assert.False(t, b.Wins(a))
}

func TestWins_IrreflexiveAndConsistent(t *testing.T) {
    f := NewTestingFactory(3)
    for i := 0; i < 200; i++ {
        a := f.CreateEnrollment("a")
        b := f.CreateEnrollment("b")
        assert.False(t, a.Wins(a))
        if a.SameWeights(b) {
            continue
        }
        // exactly one side wins, regardless of who evaluates
        assert.NotEqual(t, a.Wins(b), b.Wins(a))
    }
}

func TestWins_EqualVectorsNeitherWins(t *testing.T) {
    a := New("a", []int64{3, 3})
    b := New("b", []int64{3, 3})
    assert.False(t, a.Wins(b))
    assert.False(t, b.Wins(a))
    assert.True(t, a.SameWeights(b))
    assert.False(t, a.Equal(b))
}

func TestTrump_BeatsRegularEnrollments(t *testing.T) {
    f := NewTestingFactory(2)
    trump := NewTrump("v", f.Size())
    for i := 0; i < 100; i++ {
        e := f.CreateEnrollment("x")
        if e.Weights()[0] == math.MaxInt64 && e.Weights()[1] == math.MaxInt64 {
            continue
        }
        assert.True(t, trump.Wins(e))
    }
}

func TestIneligible_LosesToRegular(t *testing.T) {
    e := New("x", []int64{0, -5})
    assert.True(t, e.Wins(NewIneligible("y", 2)))
}

func TestWeights_IsCopy(t *testing.T) {
    w := []int64{1, 2}
    e := New("a", w)
    w[0] = 9
    got := e.Weights()
    got[1] = 9
    assert.Equal(t, []int64{1, 2}, e.Weights())
}

func TestFactory_VerificationIsReproducible(t *testing.T) {
    var counter int64 = 42
    f, err := NewFactory(
        FreshnessGenerator{HasData: func() bool { return true }},
        CounterGenerator{Count: func() int64 { return counter }},
        NewRandomGenerator(),
    )
    require.NoError(t, err)
    require.Equal(t, 3, f.Size())

    v1 := f.CreateVerificationEnrollment("n1", 7)
    v2 := f.CreateVerificationEnrollment("n1", 7)
    assert.True(t, v1.Equal(v2))
    assert.Equal(t, []int64{1, 42, 7}, v1.Weights())
    term, ok := v1.Term()
    assert.True(t, ok)
    assert.EqualValues(t, 7, term)
}

func TestFactory_RequiresGenerator(t *testing.T) {
    _, err := NewFactory()
    assert.ErrorIs(t, err, ErrNoGenerators)
}

func TestJSONRoundTrip(t *testing.T) {
    e := New(state.NodeID("n2"), []int64{1, -2, math.MaxInt64})
    b, err := json.Marshal(e)
    require.NoError(t, err)
    var got Enrollment
    require.NoError(t, json.Unmarshal(b, &got))
    assert.True(t, e.Equal(got))
}

func TestFactory_VerificationSkipsVolatile(t *testing.T) {
    peers := 1
    f, err := NewFactory(
        TopologyGenerator{Visible: func() int { return peers }},
        UptimeGenerator{Since: time.Now().Add(-time.Hour)},
        CounterGenerator{Count: func() int64 { return 3 }},
        NewRandomGenerator(),
    )
    require.NoError(t, err)
    e := f.CreateEnrollment("n")
    assert.EqualValues(t, 1, e.Weights()[0])
    assert.Greater(t, e.Weights()[1], int64(0))
    peers = 2
    assert.Equal(t, []int64{0, 0, 3, 9}, f.CreateVerificationEnrollment("n", 9).Weights())
}
