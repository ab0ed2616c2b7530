package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T) {
	t.Helper()
	Clock = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 123456000, time.UTC) }
	t.Cleanup(func() { Clock = time.Now })
}

func TestTimestamps(t *testing.T) {
	fixedClock(t)
	assert.Equal(t, "2024-03-05T14:07:09.123456", Now())
	assert.Equal(t, "20240305_140709", Stamp())
}

func failingStep() error {
	return errors.WithStack(os.ErrNotExist)
}

func TestCapture(t *testing.T) {
	f := Capture(fmt.Errorf("loading: %w", os.ErrNotExist))
	assert.Equal(t, "loading: file does not exist", f.Message)
	assert.Equal(t, f.Message, f.Traceback)

	f = Capture(fmt.Errorf("loading: %w", failingStep()))
	assert.Equal(t, "loading: file does not exist", f.Message)
	assert.Contains(t, f.Traceback, "failingStep")

	assert.Equal(t, Failure{}, Capture(nil))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "r.json")
	require.NoError(t, Save(path, map[string]int{"a": 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(raw))

	var back map[string]int
	require.NoError(t, json.Unmarshal(raw, &back))
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(0, 0))
	assert.Equal(t, 0.75, Rate(3, 4))
}

func TestLedger(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	run, err := l.Begin("convert", "/in", "/out")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.NoError(t, run.Record("a.set", StatusSuccess, "", map[string]int{"n_channels": 129}))
	require.NoError(t, run.Record("b.set", StatusError, "boom", nil))
	require.NoError(t, run.Finish(2, 1, 1))

	runs, err := l.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunSummary{ID: run.ID, Kind: "convert", Total: 2, Succeeded: 1, Failed: 1, Entries: 2}, runs[0])
}

func TestNilLedgerIsNoop(t *testing.T) {
	var l *Ledger
	run, err := l.Begin("convert", "", "")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, run.Record("x", StatusSuccess, "", nil))
	assert.NoError(t, run.Finish(0, 0, 0))
	assert.NoError(t, l.Close())
}
