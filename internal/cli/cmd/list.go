package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/bytesize"
)

// NewListCommand creates the list command.
func NewListCommand(a *cli.App) *cobra.Command {
	var platform, visibility string
	var includeArchived bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your published packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = a.Close() }()

			session, err := a.Sessions.Session(cmd.Context())
			if err != nil {
				return renderError(err)
			}
			if session == nil {
				return renderError(domain.NewError(domain.CodeAuthRequired, "no active session"))
			}

			packages, err := a.Registry.ListByUser(cmd.Context(), session.UserID, out.ListFilters{
				Platform:        domain.Platform(platform),
				Visibility:      domain.Visibility(visibility),
				IncludeArchived: includeArchived,
			})
			if err != nil {
				return renderError(err)
			}
			if len(packages) == 0 {
				fmt.Println("No published packages.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tPLATFORM\tVISIBILITY\tSIZE\tPUBLISHED")
			for _, pkg := range packages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					pkg.Name, pkg.Version, pkg.Platform, pkg.Visibility,
					bytesize.Format(pkg.PackageSize),
					pkg.CreatedAt.Local().Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	listCmd.Flags().StringVar(&platform, "platform", "", "filter by target platform")
	listCmd.Flags().StringVar(&visibility, "visibility", "", "filter by visibility")
	listCmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived packages")

	return listCmd
}
