// pagepump transports paginated API data to spreadsheets and webhooks.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pagepump/pagepump/pkg/logging"
)

var version = "0.1.0"

func main() {
	// A missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") != "",
		Output: os.Stderr,
	})

	root := &cobra.Command{
		Use:           "pagepump",
		Short:         "Transport paginated API data to spreadsheets and webhooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newEnrichCmd(), newResumeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pagepump version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pagepump %s\n", version)
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
