package main

import (
    "log"

    l2cli "github.com/amirimatin/go-l2coord/pkg/cli"
)

func main() {
    root := l2cli.NewWitnessRunCmd()
    root.Use = "witness"
    root.SilenceUsage = true
    if err := root.Execute(); err != nil {
        log.Fatal(err)
    }
}
