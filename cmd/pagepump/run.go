package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagepump/pagepump/pkg/job"
	"github.com/pagepump/pagepump/pkg/logging"
	"github.com/pagepump/pagepump/pkg/paginate"
	"github.com/pagepump/pagepump/pkg/request"
	"github.com/pagepump/pagepump/pkg/walker"
)

func newRunCmd() *cobra.Command {
	var (
		transport transportFlags
		dest      sinkFlags

		maxPages    int
		dateField   string
		dateFrom    string
		dateTo      string
		newestFirst bool
	)

	cmd := &cobra.Command{
		Use:   "run <invocation>",
		Short: "Walk every page of an API and deliver items to a sink",
		Long: `Run parses a curl-style invocation, infers the API's pagination
contract from it, and walks all pages sequentially, delivering each
page's items to the configured sink.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("run")

			d, err := request.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse invocation: %w", err)
			}
			state := paginate.InferFromRequest(d)
			logger.Info().
				Str("mode", string(state.Mode)).
				Str("url", d.URL).
				Msg("Pagination contract inferred")

			s, err := dest.build(logger)
			if err != nil {
				return err
			}

			opts := job.BulkOptions{SheetName: dest.sheetName}
			if maxPages > 0 {
				opts.Mode = job.ModeMaxPages
				opts.MaxPages = maxPages
			}
			if dateField != "" {
				opts.Mode = job.ModeDateWindow
				opts.DateField = dateField
				opts.NewestFirst = newestFirst
				if opts.DateFrom, err = parseDateFlag(dateFrom); err != nil {
					return fmt.Errorf("--date-from: %w", err)
				}
				if opts.DateTo, err = parseDateFlag(dateTo); err != nil {
					return fmt.Errorf("--date-to: %w", err)
				}
			}

			w := walker.New(d, state, transport.governor(logger),
				walker.NewHTTPTransport(nil, logger), logger)
			bulk, err := job.NewBulkJob(w, s, opts, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := bulk.Start(ctx); err != nil {
				return err
			}

			snap := bulk.Snapshot()
			fmt.Printf("Delivered %d items across %d pages (%d errors)\n",
				snap.ItemsDelivered, snap.PagesDelivered, len(snap.Errors))
			return nil
		},
	}

	transport.register(cmd)
	dest.register(cmd)
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = exhaustive)")
	cmd.Flags().StringVar(&dateField, "date-field", "", "item field holding the date for window filtering")
	cmd.Flags().StringVar(&dateFrom, "date-from", "", "inclusive window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&dateTo, "date-to", "", "inclusive window end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&newestFirst, "newest-first", false, "API returns newest items first; stop once past the window")
	return cmd
}

func parseDateFlag(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", v)
	}
	return &ts, nil
}
