// Package cmd wires the eegbids operations into a cobra command tree.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bzyfuzy/eegbids/pkg/config"
	"github.com/bzyfuzy/eegbids/pkg/logging"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	cfgFile    string
	verbose    bool
	logFile    string
	ledgerPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "eegbids",
	Short: "Post-process EEG datasets in BIDS layout",
	Long: `eegbids prepares EEG datasets stored in the BIDS layout.

It completes converted datasets with the metadata of their source, fixes
event tables, converts EEGLAB SET recordings to EDF or BDF, removes the
reference channel, rewrites metadata for resampled data and compares
recordings across formats.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logFile != "" {
			cfg.Logging.File = logFile
		}
		if ledgerPath != "" {
			cfg.Ledger = ledgerPath
		}
		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "SQLite database recording every run")

	rootCmd.AddCommand(
		completeCmd,
		fixEventsCmd,
		convertCmd,
		removeCzCmd,
		metadataCmd,
		compareCmd,
		inspectCmd,
		inventoryCmd,
		runsCmd,
	)
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func getLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// openLedger opens the configured run ledger; nil when none is configured.
func openLedger() (*report.Ledger, error) {
	if cfg == nil || cfg.Ledger == "" {
		return nil, nil
	}
	return report.OpenLedger(cfg.Ledger)
}

func closeLedger(l *report.Ledger) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		getLogger().Warn("Failed to close ledger", zap.Error(err))
	}
}

func banner(w io.Writer, title string) {
	line := strings.Repeat("=", 70)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, line)
}
