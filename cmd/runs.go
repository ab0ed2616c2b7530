package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the runs recorded in the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Ledger == "" {
			return fmt.Errorf("no ledger configured, pass --ledger or set ledger in the config")
		}
		l, err := report.OpenLedger(cfg.Ledger)
		if err != nil {
			return err
		}
		defer closeLedger(l)

		runs, err := l.Runs()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTOTAL\tOK\tFAILED\tENTRIES")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", r.ID, r.Kind, r.Total, r.Succeeded, r.Failed, r.Entries)
		}
		return tw.Flush()
	},
}
