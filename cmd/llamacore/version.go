package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"llamacore/internal/engine/llama"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "llamacore %s (%s) %s llama=%t\n", version, commit, runtime.Version(), llama.Built)
			return err
		},
	}
}
