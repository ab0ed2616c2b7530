// Package config holds the defaults of every eegbids command, optionally
// overridden by a YAML file and EEGBIDS_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Ledger    string          `yaml:"ledger"` // optional SQLite run ledger
	FixEvents FixEventsConfig `yaml:"fix_events"`
	Convert   ConvertConfig   `yaml:"convert"`
	RemoveCz  RemoveCzConfig  `yaml:"remove_cz"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Compare   CompareConfig   `yaml:"compare"`
}

// LoggingConfig configures the console logger and the optional rotating
// log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FixEventsConfig lists the datasets fix-events walks when called without
// arguments. Relative dataset names are resolved against BasePath.
type FixEventsConfig struct {
	BasePath string   `yaml:"base_path"`
	Datasets []string `yaml:"datasets"`
}

type ConvertConfig struct {
	Format string `yaml:"format"`
}

type RemoveCzConfig struct {
	Channel  string `yaml:"channel"`
	Expected int    `yaml:"expected"`
	Backup   bool   `yaml:"backup"`
}

type MetadataConfig struct {
	SamplingFrequency float64 `yaml:"sampling_frequency"`
}

type CompareConfig struct {
	NFiles       int     `yaml:"n_files"`
	Seed         int64   `yaml:"seed"`
	Window       float64 `yaml:"window_seconds"`
	PlotChannels int     `yaml:"plot_channels"`
	BandPass     string  `yaml:"bandpass"` // "low,high" in Hz, empty for none
	ChartJSON    bool    `yaml:"chart_json"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	datasets := make([]string, 0, 12)
	for r := 1; r <= 12; r++ {
		datasets = append(datasets, fmt.Sprintf("R%d_L100", r))
	}
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		FixEvents: FixEventsConfig{
			BasePath: ".",
			Datasets: datasets,
		},
		Convert: ConvertConfig{Format: "bdf"},
		RemoveCz: RemoveCzConfig{
			Channel:  "Cz",
			Expected: 129,
			Backup:   true,
		},
		Metadata: MetadataConfig{SamplingFrequency: 100},
		Compare: CompareConfig{
			NFiles:       10,
			Seed:         42,
			Window:       10,
			PlotChannels: 4,
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("EEGBIDS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EEGBIDS_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("EEGBIDS_LEDGER"); v != "" {
		c.Ledger = v
	}
	if v := os.Getenv("EEGBIDS_BASE_PATH"); v != "" {
		c.FixEvents.BasePath = v
	}
	if v := os.Getenv("EEGBIDS_SAMPLING_FREQUENCY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EEGBIDS_SAMPLING_FREQUENCY: %w", err)
		}
		c.Metadata.SamplingFrequency = f
	}
	if v := os.Getenv("EEGBIDS_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EEGBIDS_SEED: %w", err)
		}
		c.Compare.Seed = seed
	}
	return nil
}

// Validate rejects values no command can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Convert.Format) {
	case "edf", "bdf":
	default:
		return fmt.Errorf("convert.format must be edf or bdf, got %q", c.Convert.Format)
	}
	if c.Metadata.SamplingFrequency <= 0 {
		return fmt.Errorf("metadata.sampling_frequency must be positive")
	}
	if c.RemoveCz.Channel == "" {
		return fmt.Errorf("remove_cz.channel is required")
	}
	if c.RemoveCz.Expected <= 0 {
		return fmt.Errorf("remove_cz.expected must be positive")
	}
	if c.Compare.NFiles <= 0 {
		return fmt.Errorf("compare.n_files must be positive")
	}
	return nil
}

// DatasetPaths resolves the fix-events datasets against the base path.
func (c *FixEventsConfig) DatasetPaths() []string {
	out := make([]string, len(c.Datasets))
	for i, d := range c.Datasets {
		if filepath.IsAbs(d) {
			out[i] = d
		} else {
			out[i] = filepath.Join(c.BasePath, d)
		}
	}
	return out
}
