package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/flyerextract/internal/services"
	"github.com/spf13/cobra"
)

var (
	runInputDir    string
	runOutputDir   string
	runLedgerPath  string
	runConcurrency int
	runRetryFailed bool
	runPolicy      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract offers from every flyer in the input directory",
	Long: `Run discovers RETAILER_YYYY-MM-DD_SaleTitle.pdf files in the input directory,
skips the ones already recorded in the ledger and writes one JSON dataset per
processed flyer. Flags override the matching environment variables.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInputDir, "input", "i", "", "directory with flyer PDFs (INPUT_DIR)")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "directory for per-flyer datasets (OUTPUT_DIR)")
	runCmd.Flags().StringVar(&runLedgerPath, "ledger", "", "path of the JSONL ledger (LEDGER_PATH)")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "n", 0, "flyers processed in parallel (MAX_CONCURRENCY)")
	runCmd.Flags().BoolVar(&runRetryFailed, "retry-failed", false, "process flyers whose last outcome was a failure (LEDGER_RETRY_FAILED)")
	runCmd.Flags().StringVar(&runPolicy, "offer-errors", "", "drop or flag offers with unparsable fields (OFFER_ERROR_POLICY)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := services.LoadPipelineConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}

	files, err := services.DiscoverFlyers(cfg.InputDir, cfg.ValidityDays)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No flyer PDFs found in %s\n", cfg.InputDir)
		return nil
	}

	ledger, closeLedger, err := services.OpenLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer closeLedger()

	runtime, err := services.NewRuntime(ctx, cfg, ledger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	report, runErr := runtime.Pipeline.Run(ctx, files)
	report.Print(cmd.OutOrStdout())
	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, cfg *services.PipelineConfig) error {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir = runInputDir
	}
	if flags.Changed("output") {
		cfg.OutputDir = runOutputDir
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = runLedgerPath
	}
	if flags.Changed("concurrency") {
		cfg.MaxConcurrency = runConcurrency
	}
	if flags.Changed("retry-failed") {
		cfg.RetryFailed = runRetryFailed
	}
	if flags.Changed("offer-errors") {
		policy, err := services.ParseOfferErrorPolicy(runPolicy)
		if err != nil {
			return err
		}
		cfg.OfferErrorPolicy = policy
	}
	return cfg.Validate()
}
