package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// NewPublishCommand creates the publish command.
func NewPublishCommand(a *cli.App) *cobra.Command {
	var opts domain.PublishOptions
	var platform, visibility string
	var enqueue, yes bool

	publishCmd := &cobra.Command{
		Use:   "publish [package-file]",
		Short: "Publish a configuration package to the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			opts.Platform = domain.Platform(platform)
			opts.Visibility = domain.Visibility(visibility)
			path := args[0]

			if enqueue {
				jobID, err := a.Pipeline.Enqueue(path, opts)
				if err != nil {
					return renderError(err)
				}
				color.Green("Queued %s for upload", path)
				fmt.Println("Job ID:", jobID)
				fmt.Println("Run 'taptik queue run' to process the queue.")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			meta, err := runPublish(ctx, a, path, opts)
			if err != nil {
				var perr *domain.PipelineError
				if errors.As(err, &perr) && perr.Code == domain.CodeSensitiveDataDetected && !yes {
					forced, confirmErr := confirmForcedPublish(perr)
					if confirmErr != nil {
						return confirmErr
					}
					if forced {
						opts.Force = true
						meta, err = runPublish(ctx, a, path, opts)
					}
				}
			}
			if err != nil {
				return renderError(err)
			}

			color.Green("Published %s@%s", meta.Name, meta.Version)
			fmt.Println("Platform:  ", meta.Platform)
			fmt.Println("Visibility:", meta.Visibility)
			fmt.Println("URL:       ", meta.StorageURL)
			return nil
		},
	}

	publishCmd.Flags().StringVar(&opts.Title, "title", "", "human-readable package title")
	publishCmd.Flags().StringVar(&opts.Description, "description", "", "package description")
	publishCmd.Flags().StringVar(&opts.Version, "version", "", "package version (semver, defaults to 1.0.0)")
	publishCmd.Flags().StringVar(&platform, "platform", "", "target platform (claude-code, kiro, cursor, windsurf, universal)")
	publishCmd.Flags().StringVar(&visibility, "visibility", "", "package visibility (public or private)")
	publishCmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "user tag, repeatable")
	publishCmd.Flags().StringVar(&opts.TeamID, "team", "", "team id to publish under")
	publishCmd.Flags().BoolVar(&opts.Force, "force", false, "publish even when sensitive data is detected")
	publishCmd.Flags().BoolVarP(&enqueue, "queue", "q", false, "add to the offline queue instead of uploading now")
	publishCmd.Flags().BoolVarP(&yes, "yes", "y", false, "never prompt; fail instead of asking")

	return publishCmd
}

func runPublish(ctx context.Context, a *cli.App, path string, opts domain.PublishOptions) (*domain.PackageMetadata, error) {
	display := cli.NewProgressDisplay()
	display.Start()
	meta, err := a.Pipeline.Publish(ctx, path, opts, display.Report)
	display.Stop()
	return meta, err
}

func confirmForcedPublish(perr *domain.PipelineError) (bool, error) {
	color.Yellow(perr.UserMessage())
	if high, ok := perr.Context["high"]; ok {
		fmt.Printf("High-severity findings: %v\n", high)
	}

	proceed := false
	prompt := &survey.Confirm{
		Message: "Publish anyway with the flagged values redacted?",
		Default: false,
	}
	if err := survey.AskOne(prompt, &proceed); err != nil {
		return false, fmt.Errorf("survey failed: %w", err)
	}
	return proceed, nil
}

// renderError prints the human-readable message and suggestion for a pipeline
// error, then returns a bare error so cobra sets the exit code without
// repeating the text.
func renderError(err error) error {
	perr := domain.AsPipelineError(err)
	color.Red(perr.UserMessage())
	if s := perr.Suggestion(); s != "" {
		fmt.Println(s)
	}
	return fmt.Errorf("%s", perr.Code)
}
