package main

import (
    "errors"
    "log"
    "os"

    "github.com/spf13/cobra"

    l2cli "github.com/amirimatin/go-l2coord/pkg/cli"
)

// exitRestart tells a supervisor that the node stopped itself and must be
// started again.
const exitRestart = 3

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Print(err)
        if errors.Is(err, l2cli.ErrRestartRequired) { os.Exit(exitRestart) }
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "l2coordctl",
        Short:         "active coordinator election and safety gate",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all node commands from pkg/cli for reuse in services
    l2cli.AddAll(root)
    return root
}
