package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    json "github.com/goccy/go-json"

    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// Client is a thin HTTP client for the management and voter API. It supports
// optional TLS and retries with backoff.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

var _ voter.Transport = (*Client)(nil)

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    var out []byte
    err := c.retry(ctx, func() error {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
        if err != nil { return err }
        resp, err := c.httpc.Do(req)
        if err != nil { return err }
        defer resp.Body.Close()
        b, err := io.ReadAll(resp.Body)
        if err != nil { return err }
        if resp.StatusCode != http.StatusOK { return fmt.Errorf("status %d: %s", resp.StatusCode, string(b)) }
        out = b
        return nil
    })
    return out, err
}

func (c *Client) Allow(ctx context.Context, addr string) error {
    var out voter.AllowResponse
    return c.retry(ctx, func() error {
        code, b, err := c.post(ctx, addr, "/allow", struct{}{}, &out)
        if err != nil { return err }
        if code != http.StatusOK || !out.Allowed {
            if out.Error != "" { return errors.New(out.Error) }
            return fmt.Errorf("allow status %d: %s", code, string(b))
        }
        return nil
    })
}

func (c *Client) Call(ctx context.Context, addr string, op voter.Op, arg string) (string, error) {
    var out voter.Response
    err := c.retry(ctx, func() error {
        out = voter.Response{}
        code, b, err := c.post(ctx, addr, "/voter/"+string(op), voter.Request{Arg: arg}, &out)
        if err != nil { return err }
        if code != http.StatusOK {
            if out.Error != "" { return errors.New(out.Error) }
            return fmt.Errorf("%s status %d: %s", op, code, string(b))
        }
        return nil
    })
    return out.Result, err
}

func (c *Client) post(ctx context.Context, addr, path string, in, out any) (int, []byte, error) {
    body, err := json.Marshal(in)
    if err != nil { return 0, nil, err }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, path), bytes.NewReader(body))
    if err != nil { return 0, nil, err }
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.httpc.Do(req)
    if err != nil { return 0, nil, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return resp.StatusCode, nil, err }
    _ = json.Unmarshal(b, out)
    return resp.StatusCode, b, nil
}

// retry runs fn up to c.attempts times with exponential backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        if lastErr = fn(); lastErr == nil { return nil }
        if attempt == c.attempts-1 { break }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}
