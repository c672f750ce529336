// Package cli assembles the dockscreen command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, injected at link time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// NewRootCommand builds the root command with its subcommands attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "dockscreen",
		Short: "Batch ligand pose prediction against a receptor",
		Long: `dockscreen screens a multi-molecule SDF file against a receptor using a
remote docking model, corrects each predicted pose onto valid geometry,
scores it, and writes resumable result files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dockscreen %s (commit %s, built %s)\n",
				Version, GitCommit, BuildDate)
		},
	}
}
