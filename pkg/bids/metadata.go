package bids

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultSamplingFrequency is written to resampled sidecars.
const DefaultSamplingFrequency = 100

// SampleColumn holds sample indices that are meaningless after resampling.
const SampleColumn = "sample"

var (
	metadataSkipExt      = []string{".set", ".fdt"}
	metadataSkipPatterns = []string{"_eeg.json", "events.tsv"}
)

// MetadataOptions configures ProcessMetadata.
type MetadataOptions struct {
	SamplingFrequency float64
	Log               *zap.Logger
}

// FileError is a per-file failure that did not stop the pass.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

// MetadataResult counts the files handled by ProcessMetadata.
type MetadataResult struct {
	Sidecars      int
	EventTables   int
	SampleDropped int
	Copied        int
	Errors        []FileError
}

// ProcessMetadata prepares the metadata of a resampled dataset: *_eeg.json
// sidecars get the new SamplingFrequency, event tables lose the sample
// column, and every other non-signal file is copied as is. Per-file failures
// are collected in the result.
func ProcessMetadata(ctx context.Context, in, out string, opts MetadataOptions) (MetadataResult, error) {
	var res MetadataResult
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	freq := opts.SamplingFrequency
	if freq <= 0 {
		freq = DefaultSamplingFrequency
	}
	if !IsDir(in) {
		return res, fmt.Errorf("input directory %s: %w", in, fs.ErrNotExist)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return res, fmt.Errorf("error creating output directory: %w", err)
	}

	fail := func(path string, err error) {
		log.Error("Failed to process file", zap.String("file", path), zap.Error(err))
		res.Errors = append(res.Errors, FileError{Path: path, Err: err})
	}

	sidecars, err := FindFiles(in, "*_eeg.json")
	if err != nil {
		return res, err
	}
	for _, src := range sidecars {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, _ := filepath.Rel(in, src)
		old, had, err := Field(src, "SamplingFrequency")
		if err != nil {
			fail(rel, err)
			continue
		}
		if err := EditSidecar(src, filepath.Join(out, rel), SetField("SamplingFrequency", freq)); err != nil {
			fail(rel, err)
			continue
		}
		if had {
			log.Info("Updated sampling frequency", zap.String("file", rel), zap.String("from", old.Raw), zap.Float64("to", freq))
		} else {
			log.Info("Added sampling frequency", zap.String("file", rel), zap.Float64("to", freq))
		}
		res.Sidecars++
	}

	events, err := FindFiles(in, "*events.tsv")
	if err != nil {
		return res, err
	}
	for _, src := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, _ := filepath.Rel(in, src)
		t, err := ReadTable(src)
		if err != nil {
			fail(rel, err)
			continue
		}
		if t.DropColumn(SampleColumn) {
			res.SampleDropped++
			log.Info("Removed sample column", zap.String("file", rel))
		} else {
			log.Debug("No sample column", zap.String("file", rel))
		}
		t.FillMissing(OnsetColumn)
		if err := t.WriteFile(filepath.Join(out, rel)); err != nil {
			fail(rel, err)
			continue
		}
		res.EventTables++
	}

	err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skipMetadataCopy(d.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(in, path)
		if err := CopyFile(path, filepath.Join(out, rel)); err != nil {
			fail(rel, err)
			return nil
		}
		log.Debug("Copied", zap.String("file", rel))
		res.Copied++
		return nil
	})
	return res, err
}

func skipMetadataCopy(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range metadataSkipExt {
		if ext == e {
			return true
		}
	}
	for _, p := range metadataSkipPatterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
