// Package cmd builds the taptik command tree.
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/version"
)

// NewRootCommand creates the taptik root command. Commands that touch the
// pipeline get the app initialized in PersistentPreRunE, after flags are
// parsed.
func NewRootCommand(a *cli.App) *cobra.Command {
	var configPath string
	var local bool

	rootCmd := &cobra.Command{
		Use:   "taptik",
		Short: "Publish IDE configuration packages to the taptik registry",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "taptik", "version", "help":
				return nil
			}
			return a.Init(configPath, local)
		},
		Run: func(cmd *cobra.Command, args []string) {
			color.Green("taptik %s", version.Version())
			fmt.Println()
			fmt.Println("Use \"taptik --help\" for more information about a command.")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&local, "local", false, "publish to the local filesystem registry")

	rootCmd.AddCommand(
		NewPublishCommand(a),
		NewQueueCommand(a),
		NewStatusCommand(a),
		NewCancelCommand(a),
		NewListCommand(a),
		NewVersionCommand(),
	)
	return rootCmd
}
