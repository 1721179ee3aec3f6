package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "flyer-extractor",
	Short: "Turn retail flyer PDFs into structured, deduplicated offer datasets",
	Long: `flyer-extractor renders every page of a retailer flyer, asks a multimodal model
for the product offers on each page, normalizes prices, dates and names, and
tags every offer with a stable productHash. A ledger keyed by file content makes
repeated runs skip flyers that were already handled.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
		setupLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(gcp.GetEnv("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
