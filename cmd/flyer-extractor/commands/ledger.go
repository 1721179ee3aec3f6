package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/Lllllllleong/flyerextract/internal/services"
	"github.com/spf13/cobra"
)

var ledgerFailedOnly bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List the flyers recorded in the processed-file ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := services.LoadPipelineConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, closeLedger, err := services.OpenLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeLedger()

		entries, err := ledger.Entries(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROCESSED AT\tOUTCOME\tOFFERS\tFILE\tKEY")
		for _, e := range entries {
			if ledgerFailedOnly && e.Outcome != models.OutcomeFailure {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.12s\n", e.ProcessedAt.Local().Format(time.DateTime), e.Outcome, e.OfferCount, e.FileName, e.Key)
		}
		return w.Flush()
	},
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerFailedOnly, "failed", false, "only show failed flyers")
	rootCmd.AddCommand(ledgerCmd)
}
