// Package cli implements the hotpath command line tool.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "hotpath",
	Short:         "Work with exported hotpath profiling reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newRenderCmd())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
