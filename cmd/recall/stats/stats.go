// Package statscmder implements "recall stats": print the aggregate
// pool/cache/index snapshot as JSON.
package statscmder

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
)

func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print a pool/cache/index snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}

			log := logger.NewLoggerWithWriters(cfg.Log.Level, cmd.ErrOrStderr())
			defer log.Sync() //nolint:errcheck

			svc := memory.NewService(memory.Options{
				Database:   cfg.Database,
				Cache:      cfg.Cache,
				Dimensions: cfg.Vector.Dimensions,
				Logger:     log,
			})

			ctx := cmd.Context()
			if err := svc.Initialize(ctx); err != nil {
				return err
			}
			defer svc.Shutdown(ctx) //nolint:errcheck

			stats, err := svc.GetStats(ctx)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(stats)
		},
	}
}
