package cmd

import (
	"fmt"

	"github.com/bzyfuzy/eegbids/pkg/convert"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var convertFormat string

var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Convert EEGLAB SET files to EDF or BDF",
	Long: `Converts every .set file under <input> to EDF (16-bit) or BDF (24-bit) at
the same relative path under <output>, writes a channels.tsv next to each
converted file and saves a JSON report under <output>/conversion_reports.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.Convert.Format
		if cmd.Flags().Changed("format") {
			name = convertFormat
		}
		format, err := edfparser.ParseFormat(name)
		if err != nil {
			return err
		}

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger(ledger)

		out := cmd.OutOrStdout()
		banner(out, fmt.Sprintf("SET to %s conversion", format))
		fmt.Fprintf(out, "Input:  %s\nOutput: %s\n\n", args[0], args[1])

		c := &convert.Converter{
			Input:  args[0],
			Output: args[1],
			Format: format,
			Log:    getLogger(),
			Ledger: ledger,
		}
		rep, path, err := c.Run(cmd.Context())
		if rep != nil {
			fmt.Fprintf(out, "Total files:  %s\n", humanize.Comma(int64(rep.TotalFiles)))
			fmt.Fprintf(out, "Successful:   %s\n", humanize.Comma(int64(rep.SuccessfulConversions)))
			fmt.Fprintf(out, "Failed:       %s\n", humanize.Comma(int64(rep.FailedConversions)))
			fmt.Fprintf(out, "Success rate: %.1f%%\n", rep.SuccessRate*100)
			fmt.Fprintf(out, "Average time: %s per file\n", rep.AverageSeconds())
		}
		if path != "" {
			fmt.Fprintf(out, "Report:       %s\n", path)
		}
		return err
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertFormat, "format", "bdf", "output format, edf or bdf")
}
