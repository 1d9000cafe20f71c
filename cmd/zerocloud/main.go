package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/ulfberto/zerocloud/cmd/bench"
	"github.com/ulfberto/zerocloud/cmd/node"
)

func main() {
	root := &cobra.Command{
		Use:          "zerocloud",
		Short:        "Peer-to-peer compute cluster node",
		SilenceUsage: true,
	}
	root.AddCommand(node.New(), bench.New())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
