package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(a *cli.App) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the offline upload queue",
	}
	queueCmd.AddCommand(
		newQueueAddCommand(a),
		newQueueListCommand(a),
		newQueueRunCommand(a),
		newQueueClearCommand(a),
	)
	return queueCmd
}

func newQueueAddCommand(a *cli.App) *cobra.Command {
	var opts domain.PublishOptions
	var platform, visibility string

	addCmd := &cobra.Command{
		Use:   "add [package-file]",
		Short: "Add a package to the upload queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			opts.Platform = domain.Platform(platform)
			opts.Visibility = domain.Visibility(visibility)

			jobID, err := a.Pipeline.Enqueue(args[0], opts)
			if err != nil {
				return renderError(err)
			}
			color.Green("Queued %s", args[0])
			fmt.Println("Job ID:", jobID)
			return nil
		},
	}

	addCmd.Flags().StringVar(&opts.Title, "title", "", "human-readable package title")
	addCmd.Flags().StringVar(&opts.Version, "version", "", "package version (semver, defaults to 1.0.0)")
	addCmd.Flags().StringVar(&platform, "platform", "", "target platform")
	addCmd.Flags().StringVar(&visibility, "visibility", "", "package visibility (public or private)")
	addCmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "user tag, repeatable")
	addCmd.Flags().BoolVar(&opts.Force, "force", false, "publish even when sensitive data is detected")

	return addCmd
}

func newQueueListCommand(a *cli.App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			jobs := a.Pipeline.Status()
			if len(jobs) == 0 {
				fmt.Println("The queue is empty.")
				return nil
			}
			printJobs(jobs)
			return nil
		},
	}
}

func newQueueRunCommand(a *cli.App) *cobra.Command {
	var watch bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process due uploads from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				fmt.Println("Processing the queue in the background. Press Ctrl+C to stop.")
				done := a.Pipeline.StartBackgroundSync(ctx)
				<-done
				return nil
			}

			processed, failed := a.Pipeline.RunQueueOnce(ctx)
			color.Green("Processed %d upload(s), %d failed", processed, failed)
			if failed > 0 {
				fmt.Println("Failed uploads stay queued and retry with backoff; see 'taptik queue list'.")
			}
			return nil
		},
	}

	runCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and retry on an interval")
	return runCmd
}

func newQueueClearCommand(a *cli.App) *cobra.Command {
	var clearFailed, clearCompleted bool
	var olderThanDays int

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed or stale failed uploads from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			if !clearFailed && !clearCompleted {
				clearCompleted = true
			}
			removed := 0
			if clearCompleted {
				removed += a.Pipeline.ClearCompleted()
			}
			if clearFailed {
				removed += a.Pipeline.ClearFailed(olderThanDays)
			}
			color.Green("Removed %d queue entries", removed)
			return nil
		},
	}

	clearCmd.Flags().BoolVar(&clearFailed, "failed", false, "also remove failed uploads")
	clearCmd.Flags().BoolVar(&clearCompleted, "completed", false, "remove completed uploads (default)")
	clearCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "only remove failed uploads older than this many days")
	return clearCmd
}

func printJobs(jobs []domain.QueuedUpload) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tFILE\tLAST ERROR")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			job.ID, statusLabel(job.Status), job.Attempts, job.FilePath, job.LastError)
	}
	_ = w.Flush()
}

func statusLabel(status domain.UploadStatus) string {
	switch status {
	case domain.StatusCompleted:
		return color.GreenString(string(status))
	case domain.StatusFailed:
		return color.RedString(string(status))
	case domain.StatusUploading:
		return color.CyanString(string(status))
	default:
		return color.YellowString(string(status))
	}
}
