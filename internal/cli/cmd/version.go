package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the taptik version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taptik %s (commit %s, built %s)\n",
				version.Version(), version.Commit(), version.BuildDate())
		},
	}
}
