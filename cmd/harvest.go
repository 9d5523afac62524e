package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/app"
	"github.com/paperharvest/paperharvest/internal/paper"
)

func newHarvestCmd() *cobra.Command {
	var startDateFlag string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run one harvest pass across all enabled sources.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				startDate, err := resolveStartDate(paper.Mode(a.Cfg.Mode), startDateFlag)
				if err != nil {
					return err
				}

				if a.Server != nil {
					go func() {
						if err := a.Server.Start(); err != nil {
							a.Logger.Error("status api stopped", zap.Error(err))
						}
					}()
					defer func() {
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						a.Server.Shutdown(ctx)
					}()
				}

				if err := a.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate schema: %w", err)
				}

				results, err := a.Harvest(cmd.Context(), startDate)
				if err != nil {
					return err
				}
				for name, outcome := range results {
					if outcome.State != paper.StateCompleted {
						a.Logger.Warn("source did not complete",
							zap.String("source", name),
							zap.String("state", string(outcome.State)),
							zap.String("error", outcome.ErrorText))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&startDateFlag, "start-date", "",
		"publication date floor, YYYY-MM-DD (required for BACKFILL, defaults to yesterday for DAILY)")
	return cmd
}

// resolveStartDate picks the publication floor per mode. TESTING never
// filters by date.
func resolveStartDate(mode paper.Mode, flag string) (time.Time, error) {
	if flag != "" {
		t, err := time.Parse("2006-01-02", flag)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --start-date: %w", err)
		}
		return t.UTC(), nil
	}
	switch mode {
	case paper.ModeBackfill:
		return time.Time{}, fmt.Errorf("--start-date is required in BACKFILL mode")
	case paper.ModeDaily:
		return time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour), nil
	default:
		return time.Time{}, nil
	}
}
