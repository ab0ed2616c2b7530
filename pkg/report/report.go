// Package report holds the plumbing shared by the per-run JSON reports.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Status of a single processed file.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// ErrFailures is returned by runs that finished with at least one failed file.
var ErrFailures = errors.New("one or more files failed")

// ErrNoFiles is returned when a run finds nothing to process.
var ErrNoFiles = errors.New("no input files found")

// Clock is swapped in tests.
var Clock = time.Now

// Now is the current time in ISO-8601 with microseconds, the format the
// reports have always used.
func Now() string {
	return Clock().Format("2006-01-02T15:04:05.000000")
}

// Stamp is the current time formatted for report file names.
func Stamp() string {
	return Clock().Format("20060102_150405")
}

// Failure describes a per-file error for a report entry.
type Failure struct {
	Message   string
	Traceback string
}

// Capture renders err for a report entry. The traceback holds the stack of
// the point where err was wrapped with errors.WithStack or errors.Wrap, or
// just the message when nothing recorded one.
func Capture(err error) Failure {
	if err == nil {
		return Failure{}
	}
	return Failure{
		Message:   err.Error(),
		Traceback: fmt.Sprintf("%+v", err),
	}
}

// Save writes v as two-space indented JSON, creating parent directories.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// Rate is succeeded/total, 0 for an empty run.
func Rate(succeeded, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}
