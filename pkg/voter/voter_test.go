package voter

import (
    "context"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type stubService struct{ last string }

func (s *stubService) RegisterVoter(id string) int64  { s.last = id; return 7 }
func (s *stubService) Heartbeat(id string) int64      { s.last = id; return -1 }
func (s *stubService) Vote(idTerm string) int64       { s.last = idTerm; return 0 }
func (s *stubService) DeregisterVoter(id string) bool { s.last = id; return true }

func TestDispatch(t *testing.T) {
    svc := &stubService{}
    cases := []struct {
        op   Op
        arg  string
        want string
    }{
        {OpRegister, "w1", "7"},
        {OpHeartbeat, "w1", "-1"},
        {OpVote, "w1:7", "0"},
        {OpDeregister, "w1", "true"},
    }
    for _, c := range cases {
        got, err := Dispatch(svc, c.op, c.arg)
        require.NoError(t, err)
        assert.Equal(t, c.want, got, string(c.op))
        assert.Equal(t, c.arg, svc.last)
    }

    _, err := Dispatch(svc, Op("bogus"), "")
    assert.ErrorIs(t, err, ErrUnknownOp)
    _, err = Dispatch(nil, OpRegister, "w1")
    assert.ErrorIs(t, err, ErrUnsupported)
}

// loopback answers Call by dispatching to a local service.
type loopback struct{ svc Service }

func (l loopback) GetStatus(context.Context, string) ([]byte, error) { return []byte(`{}`), nil }
func (l loopback) Allow(context.Context, string) error             { return nil }
func (l loopback) Call(_ context.Context, _ string, op Op, arg string) (string, error) {
    return Dispatch(l.svc, op, arg)
}

func TestClient_DecodesResults(t *testing.T) {
    svc := &stubService{}
    c := NewClient(loopback{svc: svc})
    ctx := context.Background()

    term, err := c.RegisterVoter(ctx, "x", "w1")
    require.NoError(t, err)
    assert.EqualValues(t, 7, term)

    term, err = c.Heartbeat(ctx, "x", "w1")
    require.NoError(t, err)
    assert.EqualValues(t, -1, term)

    term, err = c.Vote(ctx, "x", "w1", 7)
    require.NoError(t, err)
    assert.EqualValues(t, 0, term)
    assert.Equal(t, "w1:7", svc.last)

    ok, err := c.DeregisterVoter(ctx, "x", "w1")
    require.NoError(t, err)
    assert.True(t, ok)
}

func TestParseTerm(t *testing.T) {
    v, err := ParseTerm("-12")
    require.NoError(t, err)
    assert.EqualValues(t, -12, v)
    _, err = ParseTerm("twelve")
    assert.Error(t, err)
}
