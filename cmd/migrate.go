package cmd

import (
	"github.com/spf13/cobra"

	"github.com/paperharvest/paperharvest/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Migrate(cmd.Context())
			})
		},
	}
}
