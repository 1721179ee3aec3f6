package commands

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/gcp"
	"github.com/Lllllllleong/flyerextract/internal/services"
	"github.com/spf13/cobra"
)

var (
	mergeInputDir string
	mergeOutput   string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Combine all per-flyer datasets into one file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeInputDir == "" {
			mergeInputDir = gcp.GetEnv("OUTPUT_DIR", "extracted_json")
		}
		if mergeOutput == "" {
			mergeOutput = gcp.GetEnv("MERGED_OUTPUT", "merged_retail_data.json")
		}
		merged, err := services.MergeDatasets(mergeInputDir, time.Now(), mergeOutput)
		if err != nil {
			return err
		}
		if err := services.WriteMergedDataset(mergeOutput, merged); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d offers (%d unique products) from %d files to %s\n",
			merged.Metadata.TotalOffers, merged.Metadata.UniqueProducts, merged.Metadata.MergedFromFiles, mergeOutput)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeInputDir, "input", "i", "", "directory with per-flyer datasets (OUTPUT_DIR)")
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "merged output file (MERGED_OUTPUT)")
	rootCmd.AddCommand(mergeCmd)
}
