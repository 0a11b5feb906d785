package cli

import (
    "context"
    "fmt"
    "log"
    "strings"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-l2coord/pkg/voter"
    "github.com/amirimatin/go-l2coord/pkg/voter/witness"
)

// NewVoterCmd returns the "voter" command group, which issues single voter
// RPCs against one server. Results are printed as the server returns them.
func NewVoterCmd() *cobra.Command {
    parent := &cobra.Command{Use: "voter", Short: "Issue voter RPCs against a node"}
    for _, op := range voter.Ops {
        parent.AddCommand(newVoterOpCmd(op))
    }
    return parent
}

func newVoterOpCmd(op voter.Op) *cobra.Command {
    var (
        c    clientFlags
        term int64
    )
    use := string(op) + " VOTER_ID"
    cmd := &cobra.Command{
        Use:   use,
        Short: "Send " + string(op) + " for a voter",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, closer, err := c.client()
            if err != nil { return err }
            defer closer()
            ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
            defer cancel()
            arg := args[0]
            if op == voter.OpVote {
                if term <= 0 { return fmt.Errorf("vote needs --term") }
                arg = voter.VoteArg(arg, term)
            }
            res, err := cli.Call(ctx, c.addr, op, arg)
            if err != nil { return fmt.Errorf("%s error: %w", op, err) }
            fmt.Println(res)
            return nil
        },
    }
    if op == voter.OpVote { cmd.Flags().Int64Var(&term, "term", 0, "term to vote for (required)") }
    c.register(cmd)
    return cmd
}

// NewWitnessCmd returns the "witness" command group.
func NewWitnessCmd() *cobra.Command {
    parent := &cobra.Command{Use: "witness", Short: "External tie-breaking voter"}
    parent.AddCommand(NewWitnessRunCmd())
    return parent
}

// NewWitnessRunCmd runs a witness voter until interrupted.
func NewWitnessRunCmd() *cobra.Command {
    var (
        c                 clientFlags
        id, servers       string
        heartbeat, window time.Duration
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Register with every server and vote during partitions",
        RunE: func(cmd *cobra.Command, args []string) error {
            var addrs []string
            for _, s := range strings.Split(servers, ",") {
                if s = strings.TrimSpace(s); s != "" { addrs = append(addrs, s) }
            }
            cli, closer, err := c.client()
            if err != nil { return err }
            defer closer()
            w, err := witness.New(witness.Options{
                ID:                id,
                Servers:           addrs,
                Client:            cli,
                HeartbeatInterval: heartbeat,
                VoteWindow:        window,
                Logger:            log.Default(),
            })
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            fmt.Printf("witness %s running. Press Ctrl+C to exit.\n", w.ID())
            return w.Run(ctx)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "voter id (random when empty)")
    cmd.Flags().StringVar(&servers, "servers", "", "comma-separated management addresses of the servers (required)")
    cmd.Flags().DurationVar(&heartbeat, "heartbeat", time.Second, "heartbeat interval; keep below the servers' voter timeout")
    cmd.Flags().DurationVar(&window, "vote-window", 10*time.Second, "no vote for a second server inside this window")
    c.register(cmd)
    _ = cmd.Flags().MarkHidden("addr")
    return cmd
}
