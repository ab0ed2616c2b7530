package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var inventoryWithData bool

var inventoryCmd = &cobra.Command{
	Use:   "inventory <dataset> <db>",
	Short: "Index the EDF and BDF headers of a dataset into SQLite",
	Long: `Stores the header and signal headers of every .edf and .bdf file under
<dataset> in the SQLite database <db>. With --with-data every data record
is stored as well. Re-indexing a file replaces its rows.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := getLogger()
		root, dbPath := args[0], args[1]
		if !bids.IsDir(root) {
			return fmt.Errorf("dataset %s does not exist", root)
		}
		var files []string
		for _, pattern := range []string{"*.edf", "*.bdf"} {
			found, err := bids.FindFiles(root, pattern)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			return fmt.Errorf("%s: %w", root, report.ErrNoFiles)
		}

		db, err := edfparser.InitializeDB(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		failed := 0
		for _, f := range files {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if _, err := edfparser.IndexFile(db, f, inventoryWithData); err != nil {
				failed++
				log.Error("Index failed", zap.String("file", f), zap.Error(err))
				continue
			}
			log.Debug("Indexed", zap.String("file", f))
		}

		indexed, err := edfparser.ListIndexed(db)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FORMAT\tSIGNALS\tRECORDS\tDURATION\tPATH")
		for _, f := range indexed {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%.0fs\t%s\n", f.Format, f.Signals, humanize.Comma(int64(f.Records)), f.Duration, f.Path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s files indexed into %s\n", humanize.Comma(int64(len(files)-failed)), dbPath)
		if failed > 0 {
			return fmt.Errorf("%d files: %w", failed, report.ErrFailures)
		}
		return nil
	},
}

func init() {
	inventoryCmd.Flags().BoolVar(&inventoryWithData, "with-data", false, "also store every data record")
}
