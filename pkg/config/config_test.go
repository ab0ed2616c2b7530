package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bdf", cfg.Convert.Format)
	assert.Equal(t, "Cz", cfg.RemoveCz.Channel)
	assert.Equal(t, 129, cfg.RemoveCz.Expected)
	assert.True(t, cfg.RemoveCz.Backup)
	assert.Equal(t, 100.0, cfg.Metadata.SamplingFrequency)
	assert.Equal(t, 10, cfg.Compare.NFiles)
	assert.Len(t, cfg.FixEvents.Datasets, 12)
	assert.Equal(t, "R1_L100", cfg.FixEvents.Datasets[0])
	assert.Equal(t, "R12_L100", cfg.FixEvents.Datasets[11])
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only what it sets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "eegbids.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
convert:
  format: edf
remove_cz:
  expected: 65
compare:
  bandpass: "0.5,40"
fix_events:
  base_path: /data/HBN
  datasets: [R5_L100, /abs/R6]
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "edf", cfg.Convert.Format)
		assert.Equal(t, 65, cfg.RemoveCz.Expected)
		assert.Equal(t, "Cz", cfg.RemoveCz.Channel)
		assert.Equal(t, "0.5,40", cfg.Compare.BandPass)
		assert.Equal(t, 10, cfg.Compare.NFiles)
		assert.Equal(t, []string{filepath.Join("/data/HBN", "R5_L100"), "/abs/R6"}, cfg.FixEvents.DatasetPaths())
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("convert: [\n"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("convert:\n  format: gdf\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "convert.format")
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EEGBIDS_LOG_LEVEL", "debug")
	t.Setenv("EEGBIDS_LEDGER", "/tmp/runs.db")
	t.Setenv("EEGBIDS_SAMPLING_FREQUENCY", "250")
	t.Setenv("EEGBIDS_SEED", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/runs.db", cfg.Ledger)
	assert.Equal(t, 250.0, cfg.Metadata.SamplingFrequency)
	assert.Equal(t, int64(7), cfg.Compare.Seed)

	t.Setenv("EEGBIDS_SEED", "seven")
	_, err = Load("")
	assert.ErrorContains(t, err, "EEGBIDS_SEED")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "eegbids.yaml")
	cfg := DefaultConfig()
	cfg.Ledger = "runs.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
