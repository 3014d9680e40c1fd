package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pagepump/pagepump/pkg/checkpoint"
	"github.com/pagepump/pagepump/pkg/ratelimit"
	"github.com/pagepump/pagepump/pkg/sink"
)

// transportFlags are shared by every command that talks to an upstream API.
type transportFlags struct {
	minDelay time.Duration
	retries  int
}

func (f *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.minDelay, "min-delay", 200*time.Millisecond, "minimum spacing between requests")
	cmd.Flags().IntVar(&f.retries, "retries", 3, "retry budget for 429s and network failures")
}

func (f *transportFlags) governor(logger zerolog.Logger) *ratelimit.Governor {
	return ratelimit.New(ratelimit.Config{
		MinDelay:    f.minDelay,
		RetryBudget: f.retries,
	}, logger)
}

// sinkFlags select and build the delivery destination.
type sinkFlags struct {
	sheetURL   string
	webhookURL string
	sheetName  string
}

func (f *sinkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheetURL, "sheet-url", "", "spreadsheet receiver endpoint")
	cmd.Flags().StringVar(&f.webhookURL, "webhook-url", "", "workflow webhook endpoint")
	cmd.Flags().StringVar(&f.sheetName, "sheet", "Export", "target sheet name")
}

func (f *sinkFlags) build(logger zerolog.Logger) (sink.Sink, error) {
	switch {
	case f.sheetURL != "" && f.webhookURL != "":
		return nil, fmt.Errorf("choose one of --sheet-url or --webhook-url")
	case f.sheetURL != "":
		return sink.NewSheetSink(f.sheetURL, nil, logger)
	case f.webhookURL != "":
		return sink.NewWebhookSink(f.webhookURL, "pagepump", nil, logger)
	default:
		return nil, fmt.Errorf("a sink is required: --sheet-url or --webhook-url")
	}
}

// checkpointStore builds the resume-state store: Redis when an address is
// configured, in-process memory otherwise.
func checkpointStore(addr string, logger zerolog.Logger) (checkpoint.Store, error) {
	if addr == "" {
		return checkpoint.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return checkpoint.NewRedisStore(client, checkpoint.DefaultTTL, logger), nil
}
