// Package voter is the RPC boundary of a node: the four witness voting
// operations plus the management endpoints used by operators. Terms and
// flags cross the wire as decimal strings.
package voter

import (
    "context"
    "errors"
    "fmt"
    "strconv"
)

var (
    ErrUnknownOp   = errors.New("voter: unknown operation")
    ErrUnsupported = errors.New("voter: operation not supported by this node")
)

// Op names one voter operation.
type Op string

const (
    OpRegister   Op = "register"
    OpHeartbeat  Op = "heartbeat"
    OpVote       Op = "vote"
    OpDeregister Op = "deregister"
)

// Ops lists the voter operations in protocol order.
var Ops = []Op{OpRegister, OpHeartbeat, OpVote, OpDeregister}

// Service is the server side of the voter protocol. consistency.Manager
// implements it.
type Service interface {
    RegisterVoter(id string) int64
    Heartbeat(id string) int64
    // Vote takes "voterId:term".
    Vote(idTerm string) int64
    DeregisterVoter(id string) bool
}

// StatusFunc returns the JSON status document of the node.
type StatusFunc func(ctx context.Context) ([]byte, error)

// AllowFunc applies the operator override to the last blocked transition.
type AllowFunc func(ctx context.Context) error

// Handlers binds a server to the node. Nil members are reported as
// unsupported.
type Handlers struct {
    Status StatusFunc
    Allow  AllowFunc
    Voting Service
}

// Request carries the single string argument of a voter operation.
type Request struct {
    Arg string `json:"arg"`
}

// Response carries the decimal result of a voter operation.
type Response struct {
    Result string `json:"result"`
    Error  string `json:"error,omitempty"`
}

// AllowResponse reports the outcome of an operator override.
type AllowResponse struct {
    Allowed bool   `json:"allowed"`
    Error   string `json:"error,omitempty"`
}

// Dispatch runs op on svc and encodes the result.
func Dispatch(svc Service, op Op, arg string) (string, error) {
    if svc == nil { return "", ErrUnsupported }
    switch op {
    case OpRegister:
        return FormatTerm(svc.RegisterVoter(arg)), nil
    case OpHeartbeat:
        return FormatTerm(svc.Heartbeat(arg)), nil
    case OpVote:
        return FormatTerm(svc.Vote(arg)), nil
    case OpDeregister:
        return strconv.FormatBool(svc.DeregisterVoter(arg)), nil
    }
    return "", fmt.Errorf("%w: %q", ErrUnknownOp, op)
}

func FormatTerm(t int64) string { return strconv.FormatInt(t, 10) }

func ParseTerm(s string) (int64, error) {
    t, err := strconv.ParseInt(s, 10, 64)
    if err != nil { return 0, fmt.Errorf("voter: bad term %q: %w", s, err) }
    return t, nil
}

// VoteArg builds the "voterId:term" argument of a vote.
func VoteArg(id string, term int64) string { return id + ":" + FormatTerm(term) }

// Server exposes Handlers over one RPC protocol.
type Server interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// Transport is the client side of one RPC protocol.
type Transport interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    Allow(ctx context.Context, addr string) error
    Call(ctx context.Context, addr string, op Op, arg string) (string, error)
}

// Client decodes voter results received over a Transport.
type Client struct {
    Transport
}

func NewClient(t Transport) *Client { return &Client{Transport: t} }

func (c *Client) RegisterVoter(ctx context.Context, addr, id string) (int64, error) {
    return c.term(ctx, addr, OpRegister, id)
}

func (c *Client) Heartbeat(ctx context.Context, addr, id string) (int64, error) {
    return c.term(ctx, addr, OpHeartbeat, id)
}

func (c *Client) Vote(ctx context.Context, addr, id string, term int64) (int64, error) {
    return c.term(ctx, addr, OpVote, VoteArg(id, term))
}

func (c *Client) DeregisterVoter(ctx context.Context, addr, id string) (bool, error) {
    s, err := c.Call(ctx, addr, OpDeregister, id)
    if err != nil { return false, err }
    b, err := strconv.ParseBool(s)
    if err != nil { return false, fmt.Errorf("voter: bad flag %q: %w", s, err) }
    return b, nil
}

func (c *Client) term(ctx context.Context, addr string, op Op, arg string) (int64, error) {
    s, err := c.Call(ctx, addr, op, arg)
    if err != nil { return 0, err }
    return ParseTerm(s)
}
