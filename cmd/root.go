// Package cmd wires the paperharvest CLI.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperharvest/paperharvest/internal/app"
	"github.com/paperharvest/paperharvest/internal/config"
)

var (
	cfgFile  string
	modeFlag string
)

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if modeFlag != "" {
		cfg.Mode = modeFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paperharvest",
		Short: "Research paper metadata aggregator.",
		Long: `paperharvest discovers research papers across configured sources,
filters out aggregator and marketing noise, deduplicates sightings into
canonical records, and keeps a consistent store even when individual
sources fail.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "run mode override (TESTING, DAILY, BACKFILL)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSyncCmd())
	return cmd
}

// ExecuteContext runs the CLI under the given context.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
