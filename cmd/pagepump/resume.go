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

func newResumeCmd() *cobra.Command {
	var (
		transport transportFlags
		dest      sinkFlags

		placeholder string
		keyColumn   string
		batchSize   int
		redisAddr   string
	)

	cmd := &cobra.Command{
		Use:   "resume <job-id> <invocation-template>",
		Short: "Resume an interrupted enrichment from its checkpoint",
		Long: `Resume loads the checkpoint written by an interrupted enrich run
and continues from the key after the last processed one. The key list
comes from the checkpoint; the sheet's key column is not re-read.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("resume")
			jobID, invocation := args[0], args[1]

			template, err := request.Parse(invocation)
			if err != nil {
				return fmt.Errorf("parse invocation: %w", err)
			}
			if dest.sheetURL == "" {
				return fmt.Errorf("resume requires --sheet-url")
			}
			if redisAddr == "" {
				return fmt.Errorf("resume requires --redis (checkpoints live there)")
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
					BatchSize:   batchSize,
				}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := enrich.Resume(ctx, jobID); err != nil {
				return err
			}

			snap := enrich.Snapshot()
			fmt.Printf("Processed %d/%d keys (%d skipped, %d errors)\n",
				snap.ProcessedCount, snap.TotalKeys, snap.SkippedCount, len(snap.Errors))
			return nil
		},
	}

	transport.register(cmd)
	dest.register(cmd)
	cmd.Flags().StringVar(&placeholder, "placeholder", "{id}", "token in the template replaced by each key")
	cmd.Flags().StringVar(&keyColumn, "key-column", "id", "sheet column holding the keys")
	cmd.Flags().IntVar(&batchSize, "batch-size", job.DefaultBatchSize, "rows per merge delivery")
	cmd.Flags().StringVar(&redisAddr, "redis", getEnv("REDIS_URL", ""), "redis address holding the checkpoint")
	return cmd
}
