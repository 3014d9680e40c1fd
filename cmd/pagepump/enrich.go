package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pagepump/pagepump/pkg/job"
	"github.com/pagepump/pagepump/pkg/logging"
	"github.com/pagepump/pagepump/pkg/request"
	"github.com/pagepump/pagepump/pkg/sink"
	"github.com/pagepump/pagepump/pkg/walker"
)

func newEnrichCmd() *cobra.Command {
	var (
		transport transportFlags
		dest      sinkFlags

		placeholder string
		keyColumn   string
		maxKeys     int
		batchSize   int
		redisAddr   string
	)

	cmd := &cobra.Command{
		Use:   "enrich <invocation-template>",
		Short: "Fetch one detail record per sheet key and merge results back",
		Long: `Enrich reads keys from a sheet column, substitutes each into the
request template, fetches the detail record, flattens it, and merges
the rows back into the sheet by key. Interrupted runs can be resumed
with the resume command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("enrich")

			template, err := request.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse invocation: %w", err)
			}
			if dest.sheetURL == "" {
				return fmt.Errorf("enrich requires --sheet-url (keys are read from the sheet)")
			}
			sheet, err := sink.NewSheetSink(dest.sheetURL, nil, logger)
			if err != nil {
				return err
			}
			store, err := checkpointStore(redisAddr, logger)
			if err != nil {
				return err
			}

			source := &job.SheetKeySource{Sink: sheet, Sheet: dest.sheetName, Column: keyColumn}
			enrich, err := job.NewEnrichJob(template, source, sheet,
				transport.governor(logger), walker.NewHTTPTransport(nil, logger), store,
				job.EnrichOptions{
					Placeholder: placeholder,
					KeyColumn:   keyColumn,
					SheetName:   dest.sheetName,
					MaxKeys:     maxKeys,
					BatchSize:   batchSize,
				}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := enrich.Start(ctx); err != nil {
				return err
			}

			snap := enrich.Snapshot()
			fmt.Printf("Processed %d/%d keys (%d skipped, %d errors)\n",
				snap.ProcessedCount, snap.TotalKeys, snap.SkippedCount, len(snap.Errors))
			if snap.ProcessedCount < snap.TotalKeys {
				fmt.Printf("Run interrupted; resume with: pagepump resume %s\n", enrich.ID())
			}
			return nil
		},
	}

	transport.register(cmd)
	dest.register(cmd)
	cmd.Flags().StringVar(&placeholder, "placeholder", "{id}", "token in the template replaced by each key")
	cmd.Flags().StringVar(&keyColumn, "key-column", "id", "sheet column holding the keys")
	cmd.Flags().IntVar(&maxKeys, "max-keys", 0, "cap on keys to process (0 = all)")
	cmd.Flags().IntVar(&batchSize, "batch-size", job.DefaultBatchSize, "rows per merge delivery")
	cmd.Flags().StringVar(&redisAddr, "redis", getEnv("REDIS_URL", ""), "redis address for resumable checkpoints")
	return cmd
}
