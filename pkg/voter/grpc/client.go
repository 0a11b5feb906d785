package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// Client implements voter.Transport over gRPC with cached connections.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config

    once sync.Once
    cm   *ConnManager
}

var _ voter.Transport = (*Client)(nil)

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// invoke calls method on addr and drops the cached connection on failure.
func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    c.once.Do(func() { c.cm = NewConnManager(30*time.Second, c.dialCtx) })
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return err }
    err = cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
    rel()
    if err != nil { c.cm.Drop(addr) }
    return err
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "GetStatus", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) Allow(ctx context.Context, addr string) error {
    var out voter.AllowResponse
    if err := c.invoke(ctx, addr, "Allow", &empty{}, &out); err != nil { return err }
    if out.Error != "" { return errors.New(out.Error) }
    return nil
}

func (c *Client) Call(ctx context.Context, addr string, op voter.Op, arg string) (string, error) {
    var method string
    for name, o := range methodOps {
        if o == op { method = name }
    }
    if method == "" { return "", voter.ErrUnknownOp }
    var out voter.Response
    if err := c.invoke(ctx, addr, method, &voter.Request{Arg: arg}, &out); err != nil { return "", err }
    if out.Error != "" { return "", errors.New(out.Error) }
    return out.Result, nil
}

// Close releases cached connections.
func (c *Client) Close() error {
    if c.cm != nil { c.cm.Close() }
    return nil
}
