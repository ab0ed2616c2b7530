// Package convert transcodes EEGLAB SET datasets into EDF or BDF files.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/eeglab"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EEGLAB stores data in microvolts.
const units = "uV"

// ReportDir is created under the output directory.
const ReportDir = "conversion_reports"

// Conversion is one entry of the conversion report.
type Conversion struct {
	InputFile        string         `json:"input_file"`
	OutputFile       string         `json:"output_file,omitempty"`
	Channels         []string       `json:"channels,omitempty"`
	NChannels        int            `json:"n_channels,omitempty"`
	SamplingRate     float64        `json:"sampling_rate,omitempty"`
	DurationSeconds  float64        `json:"duration_seconds,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ConversionStatus report.Status  `json:"conversion_status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorTraceback   string         `json:"error_traceback,omitempty"`
	Timestamp        string         `json:"timestamp"`
}

// Report is written as JSON at the end of a run.
type Report struct {
	ConversionType        string       `json:"conversion_type"`
	InputDirectory        string       `json:"input_directory"`
	OutputDirectory       string       `json:"output_directory"`
	StartTime             string       `json:"start_time"`
	TotalFiles            int          `json:"total_files"`
	Conversions           []Conversion `json:"conversions"`
	EndTime               string       `json:"end_time"`
	DurationSeconds       float64      `json:"duration_seconds"`
	SuccessfulConversions int          `json:"successful_conversions"`
	FailedConversions     int          `json:"failed_conversions"`
	SuccessRate           float64      `json:"success_rate"`
}

// Converter walks an input dataset and writes one signal file per SET file
// into the same relative location under Output.
type Converter struct {
	Input  string
	Output string
	Format edfparser.Format
	Log    *zap.Logger
	Ledger *report.Ledger
}

// FindSetFiles returns every .set file under root, sorted.
func FindSetFiles(root string) ([]string, error) {
	return bids.FindFiles(root, "*.set")
}

// OutputPath maps a SET file under root to its converted path under outDir.
func OutputPath(setPath, root, outDir string, format edfparser.Format) (string, error) {
	rel, err := filepath.Rel(root, setPath)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + format.Ext()
	return filepath.Join(outDir, rel), nil
}

func (c *Converter) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// ConvertFile converts one SET file to outPath and writes its channels.tsv
// next to it. Failures are reported in the returned entry.
func (c *Converter) ConvertFile(setPath, outPath string) Conversion {
	conv := Conversion{InputFile: setPath, OutputFile: outPath}
	if err := c.convert(setPath, outPath, &conv); err != nil {
		f := report.Capture(err)
		conv.ConversionStatus = report.StatusError
		conv.ErrorMessage = f.Message
		conv.ErrorTraceback = f.Traceback
	} else {
		conv.ConversionStatus = report.StatusSuccess
	}
	conv.Timestamp = report.Now()
	return conv
}

func (c *Converter) convert(setPath, outPath string, conv *Conversion) error {
	log := c.logger()
	log.Debug("Loading", zap.String("file", setPath))
	ds, err := eeglab.LoadSet(setPath)
	if err != nil {
		return errors.WithStack(err)
	}

	info := edfparser.RecordingInfo{
		PatientID:   bids.Entity(setPath, "sub"),
		RecordingID: bids.Entity(setPath, "task"),
		Start:       edfparser.DefaultStart,
		SampleRate:  ds.SampleRate,
	}
	channels := make([]edfparser.ChannelData, ds.NumChannels())
	for i := range channels {
		channels[i] = edfparser.ChannelData{
			Label:   ds.Labels[i],
			Units:   units,
			Samples: ds.Data[i],
		}
	}

	conv.Channels = ds.Labels
	conv.NChannels = ds.NumChannels()
	conv.SamplingRate = ds.SampleRate
	conv.DurationSeconds = ds.Duration()
	conv.Metadata = map[string]any{
		"setname":        ds.SetName,
		"trials":         ds.Trials,
		"n_samples":      ds.NumSamples(),
		"patient_id":     info.PatientID,
		"recording_id":   info.RecordingID,
		"source_format":  "EEGLAB SET",
		"physical_units": units,
	}

	rec, err := edfparser.NewRecording(c.Format, info, channels)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.Wrap(err, "error creating output directory")
	}
	log.Debug("Exporting", zap.String("file", outPath), zap.Stringer("format", c.Format))
	if err := rec.WriteFile(outPath); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(WriteChannelsTSV(bids.SidecarPath(outPath, "channels.tsv"), ds))
}

// WriteChannelsTSV writes the channels sidecar of a converted recording.
func WriteChannelsTSV(path string, ds *eeglab.Dataset) error {
	t := &bids.Table{Header: []string{"name", "type", "units"}}
	for i, label := range ds.Labels {
		t.Rows = append(t.Rows, []string{label, ds.Types[i], units})
	}
	t.FillMissing()
	return t.WriteFile(path)
}

// Run converts every SET file under Input and saves the report. The returned
// error wraps report.ErrNoFiles or report.ErrFailures when applicable; the
// report is still returned and saved in the latter case.
func (c *Converter) Run(ctx context.Context) (*Report, string, error) {
	log := c.logger()
	input, err := filepath.Abs(c.Input)
	if err != nil {
		return nil, "", err
	}
	output, err := filepath.Abs(c.Output)
	if err != nil {
		return nil, "", err
	}
	if !bids.IsDir(input) {
		return nil, "", fmt.Errorf("input directory %s: %w", input, os.ErrNotExist)
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return nil, "", fmt.Errorf("error creating output directory: %w", err)
	}

	files, err := FindSetFiles(input)
	if err != nil {
		return nil, "", err
	}
	log.Info("Scanned for SET files", zap.String("input", input), zap.Int("files", len(files)))
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%s: %w", input, report.ErrNoFiles)
	}

	run, err := c.Ledger.Begin("convert-"+strings.ToLower(c.Format.String()), input, output)
	if err != nil {
		log.Warn("Run ledger unavailable", zap.Error(err))
	}

	rep := &Report{
		ConversionType:  "SET_to_" + c.Format.String(),
		InputDirectory:  input,
		OutputDirectory: output,
		StartTime:       report.Now(),
		TotalFiles:      len(files),
		Conversions:     []Conversion{},
	}
	start := report.Clock()

	var runErr error
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		log.Info("Processing", zap.String("file", filepath.Base(f)), zap.Int("index", i+1), zap.Int("total", len(files)))

		outPath, err := OutputPath(f, input, output, c.Format)
		var conv Conversion
		if err != nil {
			fail := report.Capture(err)
			conv = Conversion{
				InputFile:        f,
				ConversionStatus: report.StatusError,
				ErrorMessage:     "Unexpected error: " + fail.Message,
				Timestamp:        report.Now(),
			}
		} else {
			conv = c.ConvertFile(f, outPath)
		}
		rep.Conversions = append(rep.Conversions, conv)

		if conv.ConversionStatus == report.StatusSuccess {
			rep.SuccessfulConversions++
			log.Info("Converted", zap.String("file", f), zap.Int("channels", conv.NChannels))
		} else {
			rep.FailedConversions++
			log.Error("Conversion failed", zap.String("file", f), zap.String("error", conv.ErrorMessage))
		}
		if err := run.Record(f, conv.ConversionStatus, conv.ErrorMessage, conv); err != nil {
			log.Warn("Failed to record ledger entry", zap.Error(err))
		}
	}

	rep.EndTime = report.Now()
	rep.DurationSeconds = report.Clock().Sub(start).Seconds()
	rep.SuccessRate = report.Rate(rep.SuccessfulConversions, rep.TotalFiles)
	if err := run.Finish(rep.TotalFiles, rep.SuccessfulConversions, rep.FailedConversions); err != nil {
		log.Warn("Failed to finish ledger run", zap.Error(err))
	}

	name := fmt.Sprintf("%s_conversion_report_%s.json", strings.ToLower(c.Format.String()), report.Stamp())
	path := filepath.Join(output, ReportDir, name)
	if err := report.Save(path, rep); err != nil {
		return rep, "", err
	}
	log.Info("Saved conversion report", zap.String("path", path))

	if runErr != nil {
		return rep, path, runErr
	}
	if rep.FailedConversions > 0 {
		return rep, path, fmt.Errorf("%d of %d conversions: %w", rep.FailedConversions, rep.TotalFiles, report.ErrFailures)
	}
	return rep, path, nil
}

// AverageSeconds is the mean wall time per file.
func (r *Report) AverageSeconds() time.Duration {
	if r.TotalFiles == 0 {
		return 0
	}
	return time.Duration(r.DurationSeconds / float64(r.TotalFiles) * float64(time.Second))
}
