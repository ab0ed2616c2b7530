package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/spf13/cobra"
)

var completeFormats []string

var completeCmd = &cobra.Command{
	Use:   "complete <source> <target> [target...]",
	Short: "Copy missing BIDS metadata from the SET dataset into converted datasets",
	Long: `Copies root files, task sidecars, code/ and derivatives/ and the per-subject
events.tsv and *_eeg.json files from the source dataset into each converted
target, then records the conversion in dataset_description.json.

Give one --format per target, in order. Without it the format is taken from
the target directory name (for example hbn_bids_R5_bdf).`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, targets := args[0], args[1:]
		formats, err := targetFormats(targets, completeFormats)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		banner(out, "Completing BIDS datasets")
		fmt.Fprintf(out, "Source: %s\n", source)

		for i, target := range targets {
			res, err := bids.CompleteDataset(cmd.Context(), source, target, formats[i], bids.CompleteOptions{Log: getLogger()})
			if err != nil {
				return fmt.Errorf("completing %s: %w", target, err)
			}
			fmt.Fprintf(out, "\n%s dataset: %s\n", res.Format, res.Target)
			fmt.Fprintf(out, "  root files:        %d\n", res.RootFiles)
			fmt.Fprintf(out, "  task files:        %d\n", res.TaskFiles)
			fmt.Fprintf(out, "  code files:        %d\n", res.CodeFiles)
			fmt.Fprintf(out, "  derivative files:  %d\n", res.DerivativeFiles)
			fmt.Fprintf(out, "  events.tsv files:  %d\n", res.EventFiles)
			fmt.Fprintf(out, "  eeg.json sidecars: %d\n", res.SidecarFiles)
			fmt.Fprintf(out, "  description updated: %t\n", res.Description)
		}
		fmt.Fprintf(out, "\nAll %d target datasets completed.\n", len(targets))
		return nil
	},
}

func init() {
	completeCmd.Flags().StringSliceVar(&completeFormats, "format", nil, "EDF or BDF, once per target")
}

// targetFormats pairs every target with a format, from the flags when given,
// otherwise from an edf or bdf token in the directory name.
func targetFormats(targets, flags []string) ([]string, error) {
	if len(flags) > 0 && len(flags) != len(targets) {
		return nil, fmt.Errorf("got %d --format values for %d targets", len(flags), len(targets))
	}
	out := make([]string, len(targets))
	for i, t := range targets {
		if len(flags) > 0 {
			f, err := edfparser.ParseFormat(flags[i])
			if err != nil {
				return nil, err
			}
			out[i] = f.String()
			continue
		}
		name := strings.ToLower(filepath.Base(filepath.Clean(t)))
		hasEDF, hasBDF := strings.Contains(name, "edf"), strings.Contains(name, "bdf")
		switch {
		case hasEDF && !hasBDF:
			out[i] = edfparser.EDF.String()
		case hasBDF && !hasEDF:
			out[i] = edfparser.BDF.String()
		default:
			return nil, fmt.Errorf("cannot tell the format of %s, pass --format", t)
		}
	}
	return out, nil
}
