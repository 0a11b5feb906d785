//go:build integration

package integration

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-l2coord/pkg/bootstrap"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/voter"
    "github.com/amirimatin/go-l2coord/pkg/voter/grpc"
)

func TestThreeNodes_OneActiveTwoStandbys(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    mustStartThreeNodes(t, ctx, func(c *bootstrap.Config) { c.MgmtProto = "grpc" })
    tr := grpc.NewClient(3 * time.Second)
    defer tr.Close()
    cli := voter.NewClient(tr)

    waitUntil(t, 15*time.Second, func() error {
        seen := make(map[string]status, len(mgmt))
        for id, addr := range mgmt {
            s, err := fetchStatus(ctx, cli, addr)
            if err != nil { return err }
            if s.Active == "" || len(s.Missing) > 0 { return errNotYet }
            seen[id] = s
        }
        active := seen["n1"].Active
        for id, s := range seen {
            if s.Active != active { return errNotYet }
            if id == active && len(s.Standbys) != 2 { return errNotYet }
            if id != active && s.State != state.PassiveStandbyState { return errNotYet }
        }
        return nil
    })
}
