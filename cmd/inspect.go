package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var inspectData string

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.edf|file.bdf>",
	Short: "Print the header of an EDF or BDF file",
	Long: `Prints the main header and the signal headers of an EDF or BDF file. With
--data the header and every data record are streamed to a JSON file in
physical units.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		h, signals, err := edfparser.ReadHeader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "File:      %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
		fmt.Fprintf(out, "Format:    %s\n", h.Format)
		fmt.Fprintf(out, "Patient:   %s\n", h.PatientID)
		fmt.Fprintf(out, "Recording: %s\n", h.RecordingID)
		fmt.Fprintf(out, "Start:     %s %s\n", h.StartDate, h.StartTime)
		fmt.Fprintf(out, "Records:   %s x %gs\n", humanize.Comma(int64(h.NRecords)), h.RecordDuration)
		fmt.Fprintf(out, "Signals:   %d\n\n", h.NSignals)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tLABEL\tUNITS\tRATE\tPHYSICAL\tDIGITAL")
		for i, s := range signals {
			rate := 0.0
			if h.RecordDuration > 0 {
				rate = float64(s.NSamples) / h.RecordDuration
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%g Hz\t%g..%g\t%d..%d\n",
				i+1, s.Label, s.Units, rate, s.PhysicalMin, s.PhysicalMax, s.DigitalMin, s.DigitalMax)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if inspectData != "" {
			getLogger().Info("Streaming records to JSON", zap.String("input", path), zap.String("output", inspectData))
			if err := edfparser.StreamToJSON(path, inspectData); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nData written to %s\n", inspectData)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectData, "data", "", "stream header and data records to this JSON file")
}
