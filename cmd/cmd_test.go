package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bzyfuzy/eegbids/pkg/compare"
	"github.com/bzyfuzy/eegbids/pkg/eeglab/eeglabtest"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTargetFormats(t *testing.T) {
	got, err := targetFormats([]string{"/data/hbn_bids_R5_edf", "/data/hbn_bids_R5_bdf/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"EDF", "BDF"}, got)

	got, err = targetFormats([]string{"/data/a", "/data/b"}, []string{"bdf", "EDF"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BDF", "EDF"}, got)

	_, err = targetFormats([]string{"/data/a"}, nil)
	assert.Error(t, err)
	_, err = targetFormats([]string{"/data/a", "/data/b"}, []string{"bdf"})
	assert.Error(t, err)
	_, err = targetFormats([]string{"/data/a"}, []string{"gdf"})
	assert.Error(t, err)
}

func TestParseBandPass(t *testing.T) {
	bp, err := parseBandPass("")
	require.NoError(t, err)
	assert.Nil(t, bp)

	bp, err = parseBandPass("0.5, 40")
	require.NoError(t, err)
	assert.Equal(t, &compare.BandPass{Low: 0.5, High: 40}, bp)

	for _, bad := range []string{"40", "a,40", "0.5,b", "40,1", "0,40"} {
		_, err := parseBandPass(bad)
		assert.Error(t, err, bad)
	}
}

func writeEvents(t *testing.T, root string) string {
	t.Helper()
	events := filepath.Join(root, "sub-01", "eeg", "sub-01_task-rest_events.tsv")
	require.NoError(t, os.MkdirAll(filepath.Dir(events), 0o755))
	require.NoError(t, os.WriteFile(events, []byte("onset\tduration\tvalue\n1.0\t\tstart\n2.0\t0.5\t\n"), 0o644))
	return events
}

const fixedEvents = "onset\tduration\tvalue\n1.0\tn/a\tstart\n2.0\t0.5\tn/a\n"

func TestFixEventsCommand(t *testing.T) {
	root := t.TempDir()
	events := writeEvents(t, root)

	out, err := execute(t, "fix-events", root)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Processed 1 datasets")

	raw, err := os.ReadFile(events)
	require.NoError(t, err)
	assert.Equal(t, fixedEvents, string(raw))
}

func TestFixEventsCommandMissingArgument(t *testing.T) {
	root := t.TempDir()
	events := writeEvents(t, root)
	missing := filepath.Join(root, "missing")

	out, err := execute(t, "fix-events", missing, root)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, out, "does not exist")
	assert.Contains(t, out, "Processed 1 datasets")

	raw, err := os.ReadFile(events)
	require.NoError(t, err)
	assert.Equal(t, fixedEvents, string(raw))
}

func TestFixEventsCommandConfiguredDatasets(t *testing.T) {
	base := t.TempDir()
	events := writeEvents(t, filepath.Join(base, "R1_L100"))
	conf := filepath.Join(t.TempDir(), "eegbids.yaml")
	require.NoError(t, os.WriteFile(conf, []byte("fix_events:\n  base_path: "+base+"\n  datasets: [R1_L100, R2_L100]\n"), 0o644))
	t.Cleanup(func() { cfgFile = "" })

	out, err := execute(t, "fix-events", "--config", conf)
	require.NoError(t, err, out)
	assert.Contains(t, out, "does not exist, skipping")
	assert.Contains(t, out, "Processed 1 datasets")

	raw, err := os.ReadFile(events)
	require.NoError(t, err)
	assert.Equal(t, fixedEvents, string(raw))
}

func TestConvertCommandWithLedger(t *testing.T) {
	in, outDir := t.TempDir(), t.TempDir()
	set := filepath.Join(in, "sub-01", "eeg", "sub-01_task-rest_eeg.set")
	require.NoError(t, os.MkdirAll(filepath.Dir(set), 0o755))
	data := [][]float64{{1, 2, 3, 4, 5, 6}, {-1, -2, -3, -4, -5, -6}}
	require.NoError(t, eeglabtest.WriteSet(set, 2, []string{"E1", "Cz"}, data))
	ledger := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "convert", in, outDir, "--format", "edf", "--ledger", ledger)
	require.NoError(t, err, out)
	assert.Contains(t, out, "SET to EDF conversion")
	assert.Contains(t, out, "Successful:   1")
	assert.Contains(t, out, "Success rate: 100.0%")
	assert.FileExists(t, filepath.Join(outDir, "sub-01", "eeg", "sub-01_task-rest_eeg.edf"))

	out, err = execute(t, "runs", "--ledger", ledger)
	require.NoError(t, err)
	assert.Contains(t, out, "convert-edf")

	out, err = execute(t, "inspect", filepath.Join(outDir, "sub-01", "eeg", "sub-01_task-rest_eeg.edf"))
	require.NoError(t, err)
	assert.Contains(t, out, "Format:    EDF")
	assert.True(t, strings.Contains(out, "E1") && strings.Contains(out, "Cz"))
}

func TestConvertCommandNoFiles(t *testing.T) {
	_, err := execute(t, "convert", t.TempDir(), t.TempDir(), "--ledger", "")
	assert.ErrorIs(t, err, report.ErrNoFiles)
}
