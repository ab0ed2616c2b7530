package bids

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable(strings.NewReader("\ufeffonset\tduration\tvalue\r\n1.0\t\tstart\r\n2.5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"onset", "duration", "value"}, tbl.Header)
	assert.Equal(t, [][]string{{"1.0", "", "start"}, {"2.5", "", ""}}, tbl.Rows)
	assert.Equal(t, []string{"1.0", "2.5"}, tbl.Column("onset"))
	assert.Nil(t, tbl.Column("sample"))

	_, err = ParseTable(strings.NewReader(""))
	assert.Error(t, err)
	_, err = ParseTable(strings.NewReader("a\tb\n1\t2\t3\n"))
	assert.ErrorContains(t, err, "row 1")
}

func TestTableEdits(t *testing.T) {
	tbl := &Table{
		Header: []string{"name", "type", "units"},
		Rows:   [][]string{{"E1", "EEG", ""}, {"Cz", "", "uV"}},
	}

	counts := tbl.FillMissing("units")
	assert.Equal(t, map[string]int{"type": 1}, counts)
	assert.Equal(t, "", tbl.Rows[0][2])

	assert.True(t, tbl.DropColumn("type"))
	assert.False(t, tbl.DropColumn("type"))
	assert.Equal(t, []string{"name", "units"}, tbl.Header)

	tbl.SetColumn("reference", "Cz")
	tbl.SetColumn("units", "uV")
	assert.Equal(t, [][]string{{"E1", "uV", "Cz"}, {"Cz", "uV", "Cz"}}, tbl.Rows)

	removed := tbl.FilterRows(func(row []string) bool { return row[0] != "Cz" })
	assert.Equal(t, 1, removed)
	assert.Len(t, tbl.Rows, 1)

	var buf bytes.Buffer
	require.NoError(t, tbl.Write(&buf))
	assert.Equal(t, "name\tunits\treference\nE1\tuV\tCz\n", buf.String())
}

func TestFixEventsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub-01_task-rest_events.tsv")
	writeFile(t, path, "onset\tduration\tvalue\tfeedback\n\t1\t\t\n2.0\t\tx\tn/a\n")

	res, err := FixEventsFile(path)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, map[string]int{"duration": 1, "value": 1, "feedback": 1}, res.Fixed)
	assert.Equal(t, 3, res.Total())
	assert.Equal(t, []string{"duration", "feedback", "value"}, res.Columns())
	assert.Equal(t, "onset\tduration\tvalue\tfeedback\n\t1\tn/a\tn/a\n2.0\tn/a\tx\tn/a\n", readFile(t, path))
}

func TestFixEventsFileUnchangedIsNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.tsv")
	writeFile(t, path, "onset\tduration\n1\t0.5\n")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	res, err := FixEventsFile(path)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

func TestFixDataset(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub-01", "eeg", "sub-01_task-a_events.tsv"), "onset\tvalue\n1\t\n")
	writeFile(t, filepath.Join(root, "sub-02", "eeg", "sub-02_task-a_events.tsv"), "onset\tvalue\n1\tok\n")
	writeFile(t, filepath.Join(root, "sub-03", "eeg", "sub-03_task-a_events.tsv"), "onset\n1\t2\t3\n")

	res, err := FixDataset(context.Background(), root, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	assert.Equal(t, 1, res.Changed())
	assert.Equal(t, 1, res.Failed())

	_, err = FixDataset(context.Background(), filepath.Join(root, "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyFileKeepsModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	writeFile(t, src, "hello")
	old := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, old, old))

	dst := filepath.Join(dir, "x", "y", "a.txt")
	require.NoError(t, CopyFile(src, dst))
	assert.Equal(t, "hello", readFile(t, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

func TestCopyTreeAndFindFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "code")
	writeFile(t, filepath.Join(src, "run.m"), "x")
	writeFile(t, filepath.Join(src, "lib", "util.m"), "y")
	dst := filepath.Join(dir, "out")
	writeFile(t, filepath.Join(dst, "keep.txt"), "z")

	n, err := CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dst, "keep.txt"))

	files, err := FindFiles(dir, "*.m")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(src, "lib", "util.m"),
		filepath.Join(src, "run.m"),
		filepath.Join(dst, "lib", "util.m"),
		filepath.Join(dst, "run.m"),
	}, files)
}

func TestUpdateSidecarKeepsKeyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x_eeg.json")
	writeFile(t, path, `{"TaskName":"rest","SamplingFrequency":500,"EEGReference":"Cz"}`)

	require.NoError(t, UpdateSidecar(path, SetField("SamplingFrequency", 100.0)))
	doc := readFile(t, path)
	assert.Equal(t, 100.0, gjson.Get(doc, "SamplingFrequency").Float())
	assert.Less(t, strings.Index(doc, "TaskName"), strings.Index(doc, "SamplingFrequency"))
	assert.Less(t, strings.Index(doc, "SamplingFrequency"), strings.Index(doc, "EEGReference"))
	assert.Contains(t, doc, "\n  \"TaskName\"")

	writeFile(t, path, "{not json")
	assert.ErrorIs(t, UpdateSidecar(path, SetField("a", 1)), ErrInvalidJSON)
}

func buildSource(t *testing.T) string {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "dataset_description.json"), `{"Name":"HBN R5","BIDSVersion":"1.8.0"}`)
	writeFile(t, filepath.Join(src, "participants.tsv"), "participant_id\nsub-01\n")
	writeFile(t, filepath.Join(src, "README"), "readme")
	writeFile(t, filepath.Join(src, "task-rest_eeg.json"), `{}`)
	writeFile(t, filepath.Join(src, "task-rest_events.json"), `{}`)
	writeFile(t, filepath.Join(src, "code", "convert.m"), "%")
	writeFile(t, filepath.Join(src, "derivatives", "qc", "report.html"), "<html/>")
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_events.tsv"), "onset\n1\n")
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_eeg.json"), `{"SamplingFrequency":500}`)
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_eeg.set"), "set")
	writeFile(t, filepath.Join(src, "sub-02", "ses-1", "eeg", "sub-02_ses-1_task-rest_events.tsv"), "onset\tsample\tvalue\n1\t500\t\n")
	return src
}

func TestCompleteDataset(t *testing.T) {
	src := buildSource(t)
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "sub-01", "eeg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "sub-02", "ses-1", "eeg"), 0o755))

	res, err := CompleteDataset(context.Background(), src, dst, "BDF", CompleteOptions{
		Now: func() string { return "2025-08-01T10:00:00.000000" },
	})
	require.NoError(t, err)
	assert.Equal(t, CompleteResult{
		Target: dst, Format: "BDF",
		RootFiles: 3, TaskFiles: 2, CodeFiles: 1, DerivativeFiles: 1,
		EventFiles: 2, SidecarFiles: 1, Description: true,
	}, res)

	assert.FileExists(t, filepath.Join(dst, "derivatives", "qc", "report.html"))
	assert.FileExists(t, filepath.Join(dst, "sub-02", "ses-1", "eeg", "sub-02_ses-1_task-rest_events.tsv"))
	assert.NoFileExists(t, filepath.Join(dst, "sub-01", "eeg", "sub-01_task-rest_eeg.set"))

	desc := readFile(t, filepath.Join(dst, "dataset_description.json"))
	assert.Equal(t, "HBN R5 (BDF Converted)", gjson.Get(desc, "Name").String())
	assert.Equal(t, "1.8.0", gjson.Get(desc, "BIDSVersion").String())
	assert.Equal(t, "EEGLAB SET", gjson.Get(desc, "ConversionInfo.OriginalFormat").String())
	assert.Equal(t, "BDF", gjson.Get(desc, "ConversionInfo.ConvertedFormat").String())
	assert.Equal(t, "2025-08-01T10:00:00.000000", gjson.Get(desc, "ConversionInfo.ConversionDate").String())

	// the source keeps its original description
	assert.Equal(t, "HBN R5", gjson.Get(readFile(t, filepath.Join(src, "dataset_description.json")), "Name").String())
}

func TestCompleteDatasetMissingTarget(t *testing.T) {
	_, err := CompleteDataset(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "nope"), "EDF", CompleteOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUpdateDatasetDescriptionDefaultName(t *testing.T) {
	root := t.TempDir()
	ok, err := UpdateDatasetDescription(root, "EDF", "now")
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"BIDSVersion":"1.8.0"}`)
	ok, err = UpdateDatasetDescription(root, "EDF", "now")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "EEG Dataset (EDF Converted)", gjson.Get(readFile(t, filepath.Join(root, "dataset_description.json")), "Name").String())
}

func TestProcessMetadata(t *testing.T) {
	src := buildSource(t)
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_eeg.fdt"), "fdt")
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_channels.tsv"), "name\nE1\n")
	out := filepath.Join(t.TempDir(), "L100")

	res, err := ProcessMetadata(context.Background(), src, out, MetadataOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Sidecars)
	assert.Equal(t, 2, res.EventTables)
	assert.Equal(t, 1, res.SampleDropped)

	sidecar := readFile(t, filepath.Join(out, "sub-01", "eeg", "sub-01_task-rest_eeg.json"))
	assert.Equal(t, 100.0, gjson.Get(sidecar, "SamplingFrequency").Float())

	events := readFile(t, filepath.Join(out, "sub-02", "ses-1", "eeg", "sub-02_ses-1_task-rest_events.tsv"))
	assert.Equal(t, "onset\tvalue\n1\tn/a\n", events)

	assert.FileExists(t, filepath.Join(out, "sub-01", "eeg", "sub-01_task-rest_channels.tsv"))
	assert.FileExists(t, filepath.Join(out, "README"))
	assert.FileExists(t, filepath.Join(out, "task-rest_events.json"))
	assert.NoFileExists(t, filepath.Join(out, "sub-01", "eeg", "sub-01_task-rest_eeg.set"))
	assert.NoFileExists(t, filepath.Join(out, "sub-01", "eeg", "sub-01_task-rest_eeg.fdt"))
	// task-rest_eeg.json matches the sidecar pattern and gets the new rate
	assert.Equal(t, 100.0, gjson.Get(readFile(t, filepath.Join(out, "task-rest_eeg.json")), "SamplingFrequency").Float())
}

func TestProcessMetadataCustomRate(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "sub-01", "eeg", "sub-01_task-rest_eeg.json"), `{"SamplingFrequency":500}`)
	out := t.TempDir()

	res, err := ProcessMetadata(context.Background(), src, out, MetadataOptions{SamplingFrequency: 250})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sidecars)
	assert.Equal(t, 250.0, gjson.Get(readFile(t, filepath.Join(out, "sub-01", "eeg", "sub-01_task-rest_eeg.json")), "SamplingFrequency").Float())

	_, err = ProcessMetadata(context.Background(), filepath.Join(src, "nope"), out, MetadataOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEntities(t *testing.T) {
	assert.Equal(t, "01", Entity("/d/sub-01/eeg/sub-01_task-rest_eeg.set", "sub"))
	assert.Equal(t, "rest", Entity("sub-01_task-rest_eeg.set", "task"))
	assert.Equal(t, "", Entity("sub-01_eeg.set", "task"))

	assert.Equal(t, filepath.Join("x", "sub-01_task-rest_channels.tsv"), SidecarPath(filepath.Join("x", "sub-01_task-rest_eeg.bdf"), "channels.tsv"))
	assert.Equal(t, "sub-01_task-rest_channels.tsv", SidecarPath("sub-01_task-rest.edf", "channels.tsv"))
}
