package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(a *cli.App) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the state of a queued upload, or a queue summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			if len(args) == 1 {
				job, err := a.Pipeline.JobStatus(args[0])
				if err != nil {
					return renderError(err)
				}
				printJob(job)
				return nil
			}

			jobs := a.Pipeline.Status()
			counts := map[domain.UploadStatus]int{}
			for _, job := range jobs {
				counts[job.Status]++
			}
			fmt.Printf("Queued uploads: %d\n", len(jobs))
			fmt.Printf("  pending:   %d\n", counts[domain.StatusPending])
			fmt.Printf("  uploading: %d\n", counts[domain.StatusUploading])
			fmt.Printf("  completed: %d\n", counts[domain.StatusCompleted])
			fmt.Printf("  failed:    %d\n", counts[domain.StatusFailed])
			return nil
		},
	}
}

func printJob(job domain.QueuedUpload) {
	fmt.Println("Job ID:  ", job.ID)
	fmt.Println("File:    ", job.FilePath)
	fmt.Println("Status:  ", statusLabel(job.Status))
	fmt.Println("Attempts:", job.Attempts)
	if !job.NextRetry.IsZero() && job.Status == domain.StatusPending && job.Attempts > 0 {
		fmt.Println("Next try:", job.NextRetry.Local().Format("2006-01-02 15:04:05"))
	}
	if job.LastError != "" {
		color.Red("Last error: %s", job.LastError)
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(a *cli.App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Cancel a queued upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			if err := a.Pipeline.Cancel(args[0]); err != nil {
				if errors.Is(err, domain.ErrJobNotCancellable) {
					color.Red("That upload is already in flight and cannot be cancelled.")
					return fmt.Errorf("not cancellable")
				}
				return renderError(err)
			}
			color.Green("Cancelled %s", args[0])
			return nil
		},
	}
}
