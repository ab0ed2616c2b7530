package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fixEventsCmd = &cobra.Command{
	Use:   "fix-events [dataset...]",
	Short: "Replace empty cells of events.tsv files with n/a",
	Long: `Rewrites every *events.tsv under each dataset so that empty cells read
n/a. The onset column is left untouched and files without empty cells are
not rewritten. Without arguments the datasets listed under fix_events in the
configuration are processed and missing ones are reported and skipped. A
dataset named on the command line that does not exist fails the command
once the other datasets are done.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := getLogger()
		datasets := args
		explicit := len(args) > 0
		if !explicit {
			datasets = cfg.FixEvents.DatasetPaths()
		}

		out := cmd.OutOrStdout()
		banner(out, "Fixing ALL empty cells in events.tsv files by replacing with 'n/a'")

		var processed, changed, failed int
		var missing []string
		for _, root := range datasets {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nProcessing %s\n", root)
			res, err := bids.FixDataset(cmd.Context(), root, log)
			if errors.Is(err, os.ErrNotExist) {
				if explicit {
					log.Error("Dataset not found", zap.String("dataset", root))
					fmt.Fprintf(out, "  Dataset %s does not exist\n", root)
					missing = append(missing, root)
					continue
				}
				log.Warn("Dataset not found, skipping", zap.String("dataset", root))
				fmt.Fprintf(out, "  Dataset %s does not exist, skipping\n", root)
				continue
			}
			if err != nil {
				return err
			}
			processed++
			changed += res.Changed()
			failed += res.Failed()
			for _, f := range res.Files {
				switch {
				case f.Err != nil:
					fmt.Fprintf(out, "  ERROR %s: %v\n", f.Path, f.Err)
				case f.Changed:
					fmt.Fprintf(out, "  Fixed %s (%s cells in %v)\n", f.Path, humanize.Comma(int64(f.Total())), f.Columns())
				}
			}
			fmt.Fprintf(out, "  %s of %s events files fixed\n",
				humanize.Comma(int64(res.Changed())), humanize.Comma(int64(len(res.Files))))
		}

		fmt.Fprintln(out)
		banner(out, "Processing complete!")
		fmt.Fprintf(out, "Processed %d datasets\n", processed)
		fmt.Fprintf(out, "Fixed %s events.tsv files by replacing empty cells with 'n/a'\n", humanize.Comma(int64(changed)))
		if len(missing) > 0 {
			return fmt.Errorf("datasets %s: %w", strings.Join(missing, ", "), os.ErrNotExist)
		}
		if failed > 0 {
			return fmt.Errorf("%d events files: %w", failed, report.ErrFailures)
		}
		return nil
	},
}
