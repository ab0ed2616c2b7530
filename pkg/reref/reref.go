// Package reref removes the recorded reference channel from converted BDF
// files and from their channels.tsv sidecars.
package reref

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultChannel  = "Cz"
	DefaultExpected = 129
	BackupSuffix    = ".backup"
)

// Options configures a removal pass. The zero value is completed by
// withDefaults; Backup must be set explicitly.
type Options struct {
	Channel  string
	Expected int
	Backup   bool
	DryRun   bool
	Log      *zap.Logger
	Ledger   *report.Ledger
}

func (o Options) withDefaults() Options {
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.Expected <= 0 {
		o.Expected = DefaultExpected
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// FileResult is one report entry, for a BDF file or a channels.tsv.
type FileResult struct {
	File             string        `json:"file"`
	Status           report.Status `json:"status"`
	Message          string        `json:"message,omitempty"`
	OriginalChannels int           `json:"original_channels,omitempty"`
	FinalChannels    int           `json:"final_channels,omitempty"`
	RemovedChannel   string        `json:"removed_channel,omitempty"`
	Backup           string        `json:"backup,omitempty"`
	Error            string        `json:"error,omitempty"`
	Traceback        string        `json:"traceback,omitempty"`
	Timestamp        string        `json:"timestamp"`
}

func (r *FileResult) fail(err error) {
	f := report.Capture(err)
	r.Status = report.StatusError
	r.Error = f.Message
	r.Traceback = f.Traceback
}

// Report is saved in the dataset root after a non-dry run.
type Report struct {
	DatasetPath        string       `json:"dataset_path"`
	StartTime          string       `json:"start_time"`
	DryRun             bool         `json:"dry_run"`
	BDFProcessing      []FileResult `json:"bdf_processing"`
	ChannelsTSVUpdates []FileResult `json:"channels_tsv_updates"`
	EndTime            string       `json:"end_time"`
	BDFFilesProcessed  int          `json:"bdf_files_processed"`
	BDFSuccessful      int          `json:"bdf_successful"`
	BDFFailed          int          `json:"bdf_failed"`
}

// TSVUpdated counts successful channels.tsv rewrites.
func (r *Report) TSVUpdated() int {
	n := 0
	for _, u := range r.ChannelsTSVUpdates {
		if u.Status == report.StatusSuccess {
			n++
		}
	}
	return n
}

// FindBDFFiles returns every *_eeg.bdf under root, sorted.
func FindBDFFiles(root string) ([]string, error) {
	return bids.FindFiles(root, "*_eeg.bdf")
}

// backup copies path to path.backup unless that file already exists, so the
// first backup always holds the untouched original.
func backup(path string) (string, error) {
	dst := path + BackupSuffix
	if bids.Exists(dst) {
		return dst, nil
	}
	if err := bids.CopyFile(path, dst); err != nil {
		return "", fmt.Errorf("error creating backup: %w", err)
	}
	return dst, nil
}

// ProcessFile drops the last data signal of a BDF file when the file has
// the expected number of data signals, and rewrites it in place.
func ProcessFile(path string, opts Options) (res FileResult) {
	opts = opts.withDefaults()
	res.File = path
	defer func() { res.Timestamp = report.Now() }()

	rec, err := edfparser.ReadFile(path)
	if err != nil {
		res.fail(errors.WithStack(err))
		return res
	}
	data := rec.DataSignals()
	n := len(data)
	opts.Log.Debug("Loaded recording", zap.String("file", path), zap.Int("channels", n))
	if n != opts.Expected {
		res.Status = report.StatusSkipped
		res.Message = fmt.Sprintf("File has %d channels, expected %d", n, opts.Expected)
		return res
	}

	last := data[n-1]
	label := rec.Signals[last].Label
	if label != opts.Channel {
		opts.Log.Warn("Last channel is not the reference",
			zap.String("file", path), zap.String("label", label), zap.String("reference", opts.Channel))
	}

	if opts.Backup {
		if res.Backup, err = backup(path); err != nil {
			res.fail(errors.WithStack(err))
			return res
		}
	}
	if err := rec.DropSignal(last); err != nil {
		res.fail(errors.WithStack(err))
		return res
	}
	if err := rec.WriteFile(path); err != nil {
		res.fail(errors.WithStack(err))
		return res
	}

	res.Status = report.StatusSuccess
	res.OriginalChannels = n
	res.FinalChannels = len(rec.DataSignals())
	res.RemovedChannel = label
	return res
}

// UpdateChannelsTSV removes the reference rows from a channels table, sets
// the reference column for the remaining channels and marks them as EEG.
func UpdateChannelsTSV(path string, opts Options) (res FileResult) {
	opts = opts.withDefaults()
	res.File = path
	defer func() { res.Timestamp = report.Now() }()

	t, err := bids.ReadTable(path)
	if err != nil {
		res.fail(errors.WithStack(err))
		return res
	}
	nameIdx := t.Index("name")
	if nameIdx < 0 {
		res.fail(errors.Errorf("%s has no name column", filepath.Base(path)))
		return res
	}

	original := len(t.Rows)
	removed := t.FilterRows(func(row []string) bool { return row[nameIdx] != opts.Channel })
	if removed == 0 {
		res.Status = report.StatusSkipped
		res.Message = fmt.Sprintf("%s channel not found in channels.tsv", opts.Channel)
		return res
	}
	t.SetColumn("reference", opts.Channel)
	if t.Index("type") >= 0 {
		t.SetColumn("type", "EEG")
	}
	t.FillMissing()

	if opts.Backup {
		if res.Backup, err = backup(path); err != nil {
			res.fail(errors.WithStack(err))
			return res
		}
	}
	if err := t.WriteFile(path); err != nil {
		res.fail(errors.WithStack(err))
		return res
	}
	res.Status = report.StatusSuccess
	res.OriginalChannels = original
	res.FinalChannels = len(t.Rows)
	return res
}

// Run processes every BDF file of a dataset and, after a successful BDF
// rewrite, its channels.tsv. Skipped files count as failed. Dry runs only
// list the files and save no report.
func Run(ctx context.Context, dataset string, opts Options) (*Report, string, error) {
	opts = opts.withDefaults()
	log := opts.Log

	root, err := filepath.Abs(dataset)
	if err != nil {
		return nil, "", err
	}
	if !bids.IsDir(root) {
		return nil, "", fmt.Errorf("dataset %s: %w", root, os.ErrNotExist)
	}
	files, err := FindBDFFiles(root)
	if err != nil {
		return nil, "", err
	}
	log.Info("Scanned for BDF files", zap.String("dataset", root), zap.Int("files", len(files)))
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%s: %w", root, report.ErrNoFiles)
	}

	rep := &Report{
		DatasetPath:        root,
		StartTime:          report.Now(),
		DryRun:             opts.DryRun,
		BDFProcessing:      []FileResult{},
		ChannelsTSVUpdates: []FileResult{},
	}

	var run *report.Run
	if !opts.DryRun {
		if run, err = opts.Ledger.Begin("remove-"+opts.Channel, root, root); err != nil {
			log.Warn("Run ledger unavailable", zap.Error(err))
		}
	}

	var runErr error
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		log.Info("Processing", zap.String("file", filepath.Base(f)), zap.Int("index", i+1), zap.Int("total", len(files)))
		if opts.DryRun {
			log.Info("Dry run: would remove reference channel", zap.String("file", f))
			continue
		}

		res := ProcessFile(f, opts)
		rep.BDFProcessing = append(rep.BDFProcessing, res)
		recordEntry(log, run, res)
		if res.Status != report.StatusSuccess {
			rep.BDFFailed++
			log.Error("BDF not processed", zap.String("file", f), zap.String("status", string(res.Status)),
				zap.String("message", res.Message), zap.String("error", res.Error))
			continue
		}
		rep.BDFSuccessful++
		log.Info("Removed reference channel", zap.String("file", f),
			zap.Int("from", res.OriginalChannels), zap.Int("to", res.FinalChannels))

		tsv := bids.SidecarPath(f, "channels.tsv")
		if !bids.Exists(tsv) {
			log.Warn("No channels.tsv found", zap.String("path", tsv))
			continue
		}
		upd := UpdateChannelsTSV(tsv, opts)
		rep.ChannelsTSVUpdates = append(rep.ChannelsTSVUpdates, upd)
		recordEntry(log, run, upd)
		log.Info("Updated channels.tsv", zap.String("file", tsv), zap.String("status", string(upd.Status)),
			zap.Int("from", upd.OriginalChannels), zap.Int("to", upd.FinalChannels))
	}

	rep.EndTime = report.Now()
	rep.BDFFilesProcessed = len(files)
	if opts.DryRun {
		return rep, "", runErr
	}
	if err := run.Finish(len(files), rep.BDFSuccessful, rep.BDFFailed); err != nil {
		log.Warn("Failed to finish ledger run", zap.Error(err))
	}

	path := filepath.Join(root, fmt.Sprintf("%s_removal_report_%s.json", strings.ToLower(opts.Channel), report.Stamp()))
	if err := report.Save(path, rep); err != nil {
		return rep, "", err
	}
	log.Info("Saved removal report", zap.String("path", path))

	if runErr != nil {
		return rep, path, runErr
	}
	if rep.BDFFailed > 0 {
		return rep, path, fmt.Errorf("%d of %d BDF files: %w", rep.BDFFailed, len(files), report.ErrFailures)
	}
	return rep, path, nil
}

func recordEntry(log *zap.Logger, run *report.Run, res FileResult) {
	msg := res.Message
	if res.Error != "" {
		msg = res.Error
	}
	if err := run.Record(res.File, res.Status, msg, res); err != nil {
		log.Warn("Failed to record ledger entry", zap.Error(err))
	}
}
