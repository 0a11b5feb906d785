package mailbox

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestPushDrainOrder(t *testing.T) {
    m := New[int]()
    for i := 0; i < 5; i++ { assert.True(t, m.Push(i)) }
    <-m.Ready()
    assert.Equal(t, []int{0, 1, 2, 3, 4}, m.Drain())
    assert.Empty(t, m.Drain())
}

func TestClosedRejects(t *testing.T) {
    m := New[string]()
    m.Push("a")
    m.Close()
    assert.False(t, m.Push("b"))
    assert.Equal(t, 1, m.Len())
    assert.Equal(t, []string{"a"}, m.Drain())
}
