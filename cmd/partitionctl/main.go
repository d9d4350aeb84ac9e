package main

import (
    "log"

    "github.com/spf13/cobra"

    partitioncli "github.com/amirimatin/go-partition/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "partitionctl",
        Short:         "go-partition replica and management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all partition commands from pkg/cli for reuse in services
    partitioncli.AddAll(root)
    return root
}
