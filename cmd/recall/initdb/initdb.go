// Package initdbcmder implements "recall init": open the configured
// database and bring its schema to the current version.
package initdbcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database",
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
				return fmt.Errorf("initializing database: %w", err)
			}
			defer svc.Shutdown(ctx) //nolint:errcheck

			fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", cfg.Database.URL)
			return nil
		},
	}
}
