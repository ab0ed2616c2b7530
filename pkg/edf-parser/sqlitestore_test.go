package edfparser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexFile(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecording(BDF, RecordingInfo{SampleRate: 50}, testChannels(100))
	require.NoError(t, err)
	path := filepath.Join(dir, "sub-01_eeg.bdf")
	require.NoError(t, rec.WriteFile(path))

	db, err := InitializeDB(filepath.Join(dir, "inventory.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = IndexFile(db, path, true)
	require.NoError(t, err)
	// indexing twice replaces the first entry
	_, err = IndexFile(db, path, true)
	require.NoError(t, err)

	files, err := ListIndexed(db)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)
	assert.Equal(t, "BDF", files[0].Format)
	assert.Equal(t, 3, files[0].Signals)
	assert.Equal(t, 2, files[0].Records)
	assert.InDelta(t, 2.0, files[0].Duration, 1e-9)

	samples, err := LoadSignalData(db, path, "E2")
	require.NoError(t, err)
	assert.Equal(t, rec.Physical(1), samples)
}

func TestIndexFileHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecording(EDF, RecordingInfo{SampleRate: 10}, testChannels(10))
	require.NoError(t, err)
	path := filepath.Join(dir, "a.edf")
	require.NoError(t, rec.WriteFile(path))

	db, err := InitializeDB(filepath.Join(dir, "inventory.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = IndexFile(db, path, false)
	require.NoError(t, err)

	samples, err := LoadSignalData(db, path, "E1")
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestFloat64Blob(t *testing.T) {
	in := []float64{0, -1.5, 3.25, 1e-9}
	assert.Equal(t, in, bytesToFloat64Slice(float64SliceToBytes(in)))
}
