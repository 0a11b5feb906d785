//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "testing"
    "time"

    "github.com/amirimatin/go-l2coord/pkg/bootstrap"
    "github.com/amirimatin/go-l2coord/pkg/cluster"
    "github.com/amirimatin/go-l2coord/pkg/voter"
    "github.com/amirimatin/go-l2coord/pkg/voter/httpjson"
)

const servers = "n1@127.0.0.1:7946,n2@127.0.0.1:8946,n3@127.0.0.1:9946"

var mgmt = map[string]string{
    "n1": "127.0.0.1:17946",
    "n2": "127.0.0.1:18946",
    "n3": "127.0.0.1:19946",
}

type status struct {
    Healthy  bool     `json:"healthy"`
    Node     string   `json:"node"`
    State    string   `json:"state"`
    Active   string   `json:"active"`
    Standbys []string `json:"standbys"`
    Missing  []string `json:"missing"`
    Members  []struct {
        ID string `json:"id"`
    } `json:"members"`
}

func TestFailover_OnActiveStopElectNewActive(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
    defer cancel()

    nodes := mustStartThreeNodes(t, ctx, func(*bootstrap.Config) {})
    cli := voter.NewClient(httpjson.NewClient(3 * time.Second))

    var active string
    waitUntil(t, 15*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, mgmt["n1"])
        if err != nil { return err }
        if !s.Healthy || s.Active == "" { return errNotYet }
        active = s.Active
        return nil
    })

    // Stop the active to force a new election among the passives
    _ = nodes[active].Close()

    waitUntil(t, 20*time.Second, func() error {
        for id := range nodes {
            if id == active { continue }
            s, err := fetchStatus(ctx, cli, mgmt[id])
            if err != nil { return err }
            if s.Active == "" || s.Active == active { return errNotYet }
        }
        return nil
    })
}

// Helpers

func mustStartThreeNodes(t *testing.T, ctx context.Context, tweak func(*bootstrap.Config)) map[string]*cluster.Cluster {
    t.Helper()
    binds := map[string]string{"n1": "127.0.0.1:7946", "n2": "127.0.0.1:8946", "n3": "127.0.0.1:9946"}
    out := make(map[string]*cluster.Cluster, 3)
    for _, id := range []string{"n1", "n2", "n3"} {
        cfg := bootstrap.Config{
            NodeID:       id,
            MemBind:      binds[id],
            MgmtAddr:     mgmt[id],
            ServersCSV:   servers,
            Failover:     "consistency",
            VoteCount:    1,
            ElectionTime: time.Second,
            VoteTimeout:  5 * time.Second,
        }
        tweak(&cfg)
        c, err := bootstrap.Run(ctx, cfg)
        if err != nil { t.Fatalf("%s: %v", id, err) }
        t.Cleanup(func() { _ = c.Close() })
        out[id] = c
    }
    return out
}

var errNotYet = &temporaryError{}
type temporaryError struct{}
func (e *temporaryError) Error() string { return "not yet" }

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if err := fn(); err == nil {
            return
        } else {
            last = err
        }
        time.Sleep(200 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for condition: %v", last)
}

func fetchStatus(ctx context.Context, cli *voter.Client, addr string) (status, error) {
    var s status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    if err := json.Unmarshal(b, &s); err != nil { return s, err }
    return s, nil
}
