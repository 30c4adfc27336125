package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	"github.com/OFFIS-RIT/ticketgraph/internal/storage"
	"github.com/OFFIS-RIT/ticketgraph/internal/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/analytics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/extract"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader"
	lio "github.com/OFFIS-RIT/ticketgraph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/ticketgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger/console"

	"github.com/spf13/cobra"
)

var (
	debug        bool
	storeAdapter string

	enrich  bool
	maskPII bool
	limit   int
	topK    int
	topN    int
)

// withApp loads the configuration, connects and runs fn. The context is
// cancelled on SIGINT and SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	util.LoadEnv()

	cfg := bootstrap.LoadConfig()
	if debug {
		cfg.Debug = true
	}
	if storeAdapter != "" {
		cfg.Store.Adapter = storeAdapter
	}

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "ticketctl",
	}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create constraints and the vector index",
		Long:  `Ensure the graph schema exists and record the configured embedding model. Fails if the graph was built with a different model.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				spec, err := app.Store.EmbeddingSpec(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, spec)
			})
		},
	}
}

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file|s3://bucket/key>",
		Short: "Ingest a CSV, JSON or JSONL ticket export",
		Long:  `Load a ticket export from disk or S3, optionally classify each description, and merge the tickets into the graph. Failing records are reported and never abort the run.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				file, err := ticketFile(ctx, app, args[0])
				if err != nil {
					return err
				}
				records, err := file.Records(ctx, loader.Options{MaskPII: maskPII})
				if err != nil {
					return err
				}
				logger.Info("Loaded tickets", "path", args[0], "count", len(records))

				if enrich {
					records = extract.Records(app.Extractor.EnrichBatch(ctx, records))
				}

				report := app.Graph.IngestBatch(ctx, records)
				app.Analytics.Invalidate(ctx)

				for _, f := range report.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", f.TicketID, f.Err)
				}
				return printJSON(cmd, map[string]int{
					"total":     report.Total,
					"succeeded": len(report.Succeeded),
					"stale":     report.StaleCount(),
					"failed":    len(report.Failed),
				})
			})
		},
	}

	cmd.Flags().BoolVar(&enrich, "enrich", false, "Classify root cause, sentiment and summary with the extraction model")
	cmd.Flags().BoolVar(&maskPII, "mask-pii", true, "Mask customer emails before storing them")

	return cmd
}

func ticketFile(ctx context.Context, app *bootstrap.App, path string) (loader.TicketFile, error) {
	if !strings.HasPrefix(path, "s3://") {
		return loader.NewTicketFile(path, lio.NewIOFileLoader())
	}

	bucket, key, ok := s3loader.ParseURI(path)
	if !ok {
		return loader.TicketFile{}, fmt.Errorf("invalid s3 uri %q", path)
	}
	if app.S3Loader != nil && app.Uploads.Bucket() == bucket {
		return loader.NewTicketFile(key, app.S3Loader)
	}

	s3cfg := app.Config.S3
	s3cfg.Bucket = bucket
	client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		return loader.TicketFile{}, err
	}
	return loader.NewTicketFile(key, s3loader.NewS3FileLoaderWithClient(bucket, client))
}

func newReembedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Refresh stale ticket embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				n := limit
				if n <= 0 {
					n = app.Config.Sweep.Batch
				}
				updated, err := queue.SweepStale(ctx, app.Locker, app.Graph, n)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"updated": updated})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of tickets to refresh (default REEMBED_BATCH)")

	return cmd
}

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find the tickets most similar to a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				hits, err := app.Query.Retrieve(ctx, strings.Join(args, " "), topK)
				if err != nil {
					return err
				}
				return printJSON(cmd, hits)
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "k", "k", 5, "Number of tickets to return")

	return cmd
}

func newAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question grounded in similar tickets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				answer, err := app.Query.QueryLocal(ctx, []ai.ChatMessage{{Role: "user", Message: strings.Join(args, " ")}})
				if err != nil {
					return err
				}
				return printJSON(cmd, answer)
			})
		},
	}
}

func newDashboardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the KPI dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				d, err := app.Analytics.Dashboard(ctx, topN)
				if err != nil {
					return err
				}
				return printJSON(cmd, d)
			})
		},
	}

	cmd.Flags().IntVar(&topN, "top", 10, "Number of products to list")

	return cmd
}

func newAnalyticsCommand() *cobra.Command {
	views := make([]string, 0, len(analytics.Views))
	for name := range analytics.Views {
		views = append(views, name)
	}
	slices.Sort(views)

	cmd := &cobra.Command{
		Use:       "analytics <view>",
		Short:     "Print one aggregate",
		Long:      `Print one aggregate over the graph. Views: ` + strings.Join(views, ", ") + `.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: views,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := analytics.ParseView(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Analytics.Aggregate(ctx, common.AggregateQuery{Kind: kind, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of groups for grouped views (default 10)")

	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count nodes, edges and stale embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stats, err := app.Store.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}
