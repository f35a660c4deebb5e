// Package searchcmder implements "recall search": a one-shot semantic
// search with a query vector supplied as a JSON array file (or "-" for
// stdin). The command stores no embeddings; it exercises the read path.
package searchcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

func NewSearchCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
		projectID string
		channelID string
		tier      int
	)

	cmd := &cobra.Command{
		Use:   "search <vector.json>",
		Short: "Run a one-shot semantic search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			q, err := readVector(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

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

			opts := storage.DefaultSearchOptions()
			if limit > 0 {
				opts.Limit = limit
			}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = threshold
			}
			opts.ProjectID = projectID
			opts.ChannelID = channelID
			opts.Tier = tier

			results, err := svc.SemanticSearch(ctx, q, opts)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(results)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.7, "Minimum similarity score")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Restrict search to one project's docs")
	cmd.Flags().StringVar(&channelID, "channel-id", "", "Restrict search to one channel's refs")
	cmd.Flags().IntVar(&tier, "tier", 0, "Restrict search to rules of one tier")

	return cmd
}

// readVector decodes a JSON float array from path, or from stdin when path
// is "-".
func readVector(path string, stdin io.Reader) ([]float32, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening vector file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var q []float32
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return nil, fmt.Errorf("decoding query vector: %w", err)
	}
	return q, nil
}
