package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/app"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload unsynced artifacts to cloud storage and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if a.Uploader == nil {
					return fmt.Errorf("cloud sync is not enabled in configuration")
				}
				n, err := a.Uploader.Sync(cmd.Context())
				if err != nil {
					return err
				}
				a.Logger.Info("sync finished", zap.Int("synced", n))
				return nil
			})
		},
	}
}
