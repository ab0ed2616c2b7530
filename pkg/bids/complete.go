package bids

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Root-level files copied verbatim when present in the source dataset.
var rootFiles = []string{
	"dataset_description.json",
	"participants.json",
	"participants.tsv",
	"README",
}

var taskPatterns = []string{"task-*_eeg.json", "task-*_events.json"}

var defaultNow = report.Now

const (
	defaultDatasetName = "EEG Dataset"
	conversionTool     = "eegbids"
)

// CompleteOptions configures CompleteDataset.
type CompleteOptions struct {
	// Now stamps ConversionDate; report.Now is used when nil.
	Now func() string
	Log *zap.Logger
}

// CompleteResult counts what a completion pass copied.
type CompleteResult struct {
	Target          string
	Format          string
	RootFiles       int
	TaskFiles       int
	CodeFiles       int
	DerivativeFiles int
	EventFiles      int
	SidecarFiles    int
	Description     bool
}

// CompleteDataset copies the metadata a converted dataset is missing from
// the source SET dataset, then marks dataset_description.json as converted.
// Subjects are taken from the target tree; session folders are followed.
func CompleteDataset(ctx context.Context, source, target, format string, opts CompleteOptions) (CompleteResult, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	res := CompleteResult{Target: target, Format: format}
	if !IsDir(source) {
		return res, fmt.Errorf("source dataset %s: %w", source, os.ErrNotExist)
	}
	if !IsDir(target) {
		return res, fmt.Errorf("target dataset %s: %w", target, os.ErrNotExist)
	}

	log.Info("Copying root-level metadata files")
	for _, name := range rootFiles {
		src := filepath.Join(source, name)
		if !Exists(src) {
			continue
		}
		if err := CopyFile(src, filepath.Join(target, name)); err != nil {
			return res, err
		}
		log.Debug("Copied", zap.String("file", name))
		res.RootFiles++
	}

	log.Info("Copying task-level metadata files")
	for _, pattern := range taskPatterns {
		matches, err := filepath.Glob(filepath.Join(source, pattern))
		if err != nil {
			return res, err
		}
		for _, src := range matches {
			if err := CopyFile(src, filepath.Join(target, filepath.Base(src))); err != nil {
				return res, err
			}
			res.TaskFiles++
		}
	}

	for _, dir := range []struct {
		name  string
		count *int
	}{{"code", &res.CodeFiles}, {"derivatives", &res.DerivativeFiles}} {
		src := filepath.Join(source, dir.name)
		if !IsDir(src) {
			continue
		}
		n, err := CopyTree(src, filepath.Join(target, dir.name))
		if err != nil {
			return res, fmt.Errorf("error copying %s directory: %w", dir.name, err)
		}
		*dir.count = n
		log.Info("Copied directory", zap.String("dir", dir.name), zap.Int("files", n))
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	eegDirs, err := subjectEEGDirs(target)
	if err != nil {
		return res, err
	}
	for _, rel := range eegDirs {
		src := filepath.Join(source, rel)
		if !IsDir(src) {
			continue
		}
		for _, kind := range []struct {
			pattern string
			count   *int
		}{{"*_events.tsv", &res.EventFiles}, {"*_eeg.json", &res.SidecarFiles}} {
			matches, err := filepath.Glob(filepath.Join(src, kind.pattern))
			if err != nil {
				return res, err
			}
			for _, f := range matches {
				if err := CopyFile(f, filepath.Join(target, rel, filepath.Base(f))); err != nil {
					return res, err
				}
				*kind.count++
			}
		}
	}
	log.Info("Copied subject-level files",
		zap.Int("events", res.EventFiles), zap.Int("sidecars", res.SidecarFiles))

	now := opts.Now
	if now == nil {
		now = defaultNow
	}
	updated, err := UpdateDatasetDescription(target, format, now())
	if err != nil {
		return res, err
	}
	res.Description = updated
	if updated {
		log.Info("Updated dataset_description.json", zap.String("format", format))
	}
	return res, nil
}

// subjectEEGDirs lists sub-*/eeg and sub-*/ses-*/eeg directories of a
// dataset, relative to its root.
func subjectEEGDirs(root string) ([]string, error) {
	var out []string
	subjects, err := filepath.Glob(filepath.Join(root, "sub-*"))
	if err != nil {
		return nil, err
	}
	for _, sub := range subjects {
		if !IsDir(sub) {
			continue
		}
		name := filepath.Base(sub)
		out = append(out, filepath.Join(name, "eeg"))
		sessions, err := filepath.Glob(filepath.Join(sub, "ses-*"))
		if err != nil {
			return nil, err
		}
		for _, ses := range sessions {
			if IsDir(ses) {
				out = append(out, filepath.Join(name, filepath.Base(ses), "eeg"))
			}
		}
	}
	return out, nil
}

// ConversionInfo is recorded in dataset_description.json of a converted
// dataset.
type ConversionInfo struct {
	OriginalFormat  string `json:"OriginalFormat"`
	ConvertedFormat string `json:"ConvertedFormat"`
	ConversionDate  string `json:"ConversionDate"`
	ConversionTool  string `json:"ConversionTool"`
}

// UpdateDatasetDescription appends "(<format> Converted)" to the dataset
// name and records ConversionInfo. It reports false when the dataset has
// no description file.
func UpdateDatasetDescription(root, format, date string) (bool, error) {
	path := filepath.Join(root, "dataset_description.json")
	if !Exists(path) {
		return false, nil
	}
	err := UpdateSidecar(path, func(doc []byte) ([]byte, error) {
		name := defaultDatasetName
		if v := gjson.GetBytes(doc, "Name"); v.Exists() && v.String() != "" {
			name = v.String()
		}
		doc, err := sjson.SetBytes(doc, "Name", fmt.Sprintf("%s (%s Converted)", name, format))
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(doc, "ConversionInfo", ConversionInfo{
			OriginalFormat:  "EEGLAB SET",
			ConvertedFormat: format,
			ConversionDate:  date,
			ConversionTool:  conversionTool,
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
