package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ticketctl",
		Short: "Manage the support ticket graph",
		Long:  `ticketctl ingests ticket exports into the graph, refreshes stale embeddings and queries tickets and analytics from the command line.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storeAdapter, "store", "", "Graph store adapter (pgx, neo4j, memory), overrides STORE_ADAPTER")

	rootCmd.AddCommand(
		newSchemaCommand(),
		newIngestCommand(),
		newReembedCommand(),
		newSearchCommand(),
		newAskCommand(),
		newDashboardCommand(),
		newAnalyticsCommand(),
		newStatsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
