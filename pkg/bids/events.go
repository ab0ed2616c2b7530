package bids

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// OnsetColumn is never filled with n/a.
const OnsetColumn = "onset"

// FixResult describes one events.tsv pass.
type FixResult struct {
	Path    string
	Fixed   map[string]int
	Changed bool
	Err     error
}

// Total is the number of cells replaced.
func (r FixResult) Total() int {
	n := 0
	for _, c := range r.Fixed {
		n += c
	}
	return n
}

// Columns lists the fixed columns, sorted.
func (r FixResult) Columns() []string {
	cols := make([]string, 0, len(r.Fixed))
	for c := range r.Fixed {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// FixEventsFile rewrites empty cells of an events table as n/a, leaving the
// onset column alone. The file is only rewritten when a cell changed.
func FixEventsFile(path string) (FixResult, error) {
	res := FixResult{Path: path}
	t, err := ReadTable(path)
	if err != nil {
		return res, err
	}
	res.Fixed = t.FillMissing(OnsetColumn)
	if len(res.Fixed) == 0 {
		return res, nil
	}
	if err := t.WriteFile(path); err != nil {
		return res, err
	}
	res.Changed = true
	return res, nil
}

// DatasetFix summarises a dataset pass.
type DatasetFix struct {
	Root  string
	Files []FixResult
}

// Changed counts rewritten files.
func (d DatasetFix) Changed() int {
	n := 0
	for _, f := range d.Files {
		if f.Changed {
			n++
		}
	}
	return n
}

// Failed counts files that could not be processed.
func (d DatasetFix) Failed() int {
	n := 0
	for _, f := range d.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// FixDataset runs FixEventsFile on every *events.tsv under root. A failing
// file is recorded and the walk continues.
func FixDataset(ctx context.Context, root string, log *zap.Logger) (DatasetFix, error) {
	if log == nil {
		log = zap.NewNop()
	}
	out := DatasetFix{Root: root}
	if !IsDir(root) {
		return out, fmt.Errorf("dataset %s: %w", root, os.ErrNotExist)
	}
	files, err := FindFiles(root, "*events.tsv")
	if err != nil {
		return out, err
	}
	log.Info("Scanning events tables", zap.String("dataset", root), zap.Int("files", len(files)))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rel, _ := filepath.Rel(root, f)
		res, err := FixEventsFile(f)
		res.Err = err
		switch {
		case err != nil:
			log.Error("Failed to fix events table", zap.String("file", rel), zap.Error(err))
		case res.Changed:
			for _, col := range res.Columns() {
				log.Debug("Filled empty cells", zap.String("file", rel), zap.String("column", col), zap.Int("cells", res.Fixed[col]))
			}
			log.Info("Fixed events table", zap.String("file", rel), zap.Int("cells", res.Total()))
		default:
			log.Debug("No empty cells", zap.String("file", rel))
		}
		out.Files = append(out.Files, res)
	}
	return out, nil
}
