package cmd

import (
	"fmt"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var metadataRate float64

var metadataCmd = &cobra.Command{
	Use:   "metadata <input> <output>",
	Short: "Prepare the metadata of a resampled dataset",
	Long: `Writes every *_eeg.json of <input> to <output> with SamplingFrequency set,
drops the sample column from events.tsv tables and copies all other files
except .set and .fdt signal files.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate := cfg.Metadata.SamplingFrequency
		if cmd.Flags().Changed("sampling-frequency") {
			rate = metadataRate
		}
		if rate <= 0 {
			return fmt.Errorf("sampling frequency must be positive, got %g", rate)
		}

		out := cmd.OutOrStdout()
		banner(out, "Processing EEG-BIDS metadata")
		fmt.Fprintf(out, "Input:  %s\nOutput: %s\nSamplingFrequency: %g Hz\n\n", args[0], args[1], rate)

		res, err := bids.ProcessMetadata(cmd.Context(), args[0], args[1], bids.MetadataOptions{
			SamplingFrequency: rate,
			Log:               getLogger(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "eeg.json sidecars updated: %s\n", humanize.Comma(int64(res.Sidecars)))
		fmt.Fprintf(out, "events.tsv processed:      %s (sample column dropped in %s)\n",
			humanize.Comma(int64(res.EventTables)), humanize.Comma(int64(res.SampleDropped)))
		fmt.Fprintf(out, "other files copied:        %s\n", humanize.Comma(int64(res.Copied)))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  ERROR %s\n", e.Error())
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d files: %w", len(res.Errors), report.ErrFailures)
		}
		return nil
	},
}

func init() {
	metadataCmd.Flags().Float64Var(&metadataRate, "sampling-frequency", bids.DefaultSamplingFrequency, "SamplingFrequency written to *_eeg.json")
}
