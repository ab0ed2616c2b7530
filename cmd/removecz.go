package cmd

import (
	"fmt"

	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/bzyfuzy/eegbids/pkg/reref"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	removeNoBackup bool
	removeDryRun   bool
	removeChannel  string
	removeExpected int
)

var removeCzCmd = &cobra.Command{
	Use:   "remove-cz <dataset>",
	Short: "Remove the reference channel from BDF files and channels.tsv",
	Long: `Drops the last channel, the recording reference, from every *_eeg.bdf of a
dataset that has the expected channel count, and removes its row from the
matching channels.tsv. Originals are kept as .backup files unless
--no-backup is given. A JSON report is saved in the dataset root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := reref.Options{
			Channel:  cfg.RemoveCz.Channel,
			Expected: cfg.RemoveCz.Expected,
			Backup:   cfg.RemoveCz.Backup && !removeNoBackup,
			DryRun:   removeDryRun,
			Log:      getLogger(),
		}
		if cmd.Flags().Changed("channel") {
			opts.Channel = removeChannel
		}
		if cmd.Flags().Changed("expected") {
			opts.Expected = removeExpected
		}

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger(ledger)
		opts.Ledger = ledger

		out := cmd.OutOrStdout()
		title := fmt.Sprintf("Removing %s channel from BDF files", opts.Channel)
		if opts.DryRun {
			title += " (dry run)"
		}
		banner(out, title)
		fmt.Fprintf(out, "Dataset: %s\nBackup:  %t\n\n", args[0], opts.Backup)

		rep, path, err := reref.Run(cmd.Context(), args[0], opts)
		if rep != nil && !rep.DryRun {
			fmt.Fprintf(out, "BDF files processed: %s\n", humanize.Comma(int64(rep.BDFFilesProcessed)))
			fmt.Fprintf(out, "Successful:          %s\n", humanize.Comma(int64(rep.BDFSuccessful)))
			fmt.Fprintf(out, "Failed or skipped:   %s\n", humanize.Comma(int64(rep.BDFFailed)))
			fmt.Fprintf(out, "channels.tsv updated: %s\n", humanize.Comma(int64(rep.TSVUpdated())))
			for _, r := range rep.BDFProcessing {
				if r.Status != report.StatusSuccess {
					msg := r.Message
					if r.Error != "" {
						msg = r.Error
					}
					fmt.Fprintf(out, "  %s %s: %s\n", r.Status, r.File, msg)
				}
			}
		}
		if rep != nil && rep.DryRun {
			fmt.Fprintf(out, "Dry run: %d BDF files would be processed\n", rep.BDFFilesProcessed)
		}
		if path != "" {
			fmt.Fprintf(out, "Report: %s\n", path)
		}
		return err
	},
}

func init() {
	f := removeCzCmd.Flags()
	f.BoolVar(&removeNoBackup, "no-backup", false, "do not keep .backup copies")
	f.BoolVar(&removeDryRun, "dry-run", false, "list the files without modifying them")
	f.StringVar(&removeChannel, "channel", reref.DefaultChannel, "label of the reference channel")
	f.IntVar(&removeExpected, "expected", reref.DefaultExpected, "channel count of files to process")
}
