// Package recallcmder
package recallcmder

import (
	"github.com/spf13/cobra"

	initdbcmder "github.com/papercomputeco/recall/cmd/recall/initdb"
	searchcmder "github.com/papercomputeco/recall/cmd/recall/search"
	statscmder "github.com/papercomputeco/recall/cmd/recall/stats"
)

const recallLongDesc string = `Recall is an embedded memory store for agent runtimes.

It persists rules, project documents, and references, each optionally
annotated with an embedding vector, and serves exact semantic similarity
search across the whole corpus.

Common commands:
  recall init      Create or migrate the database
  recall search    Run a one-shot semantic search
  recall stats     Print a pool/cache/index snapshot`

const recallShortDesc string = "Recall - Agent Memory Store"

func NewRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: recallShortDesc,
		Long:  recallLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "Config directory containing config.toml")
	cmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error, fatal)")

	// Add subcommands
	cmd.AddCommand(initdbcmder.NewInitCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())

	return cmd
}
