// Package config loads the scheduler daemon's configuration: an optional
// YAML file merged with command-line flags, plus the memory-size string
// parser shared by the CLI and the daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the scheduler daemon's tunables. Fields that neither the
// config file nor a flag sets keep their Defaults() value; a zero set
// explicitly is used as given.
type Config struct {
	DataDir          string  `yaml:"data_dir"`
	TotalCPUs        int     `yaml:"total_cpus"`
	TotalMemMB       int64   `yaml:"total_mem_mb"`
	PollInterval     float64 `yaml:"poll_interval"`
	ElasticEnabled   bool    `yaml:"elastic_enabled"`
	ElasticThreshold float64 `yaml:"elastic_threshold"`
	TopologyConfig   string  `yaml:"topology_config"`
	MetricsAddr      string  `yaml:"metrics_addr"`
	LogLevel         string  `yaml:"log_level"`
	LogJSON          bool    `yaml:"log_json"`
}

// Defaults returns the built-in configuration used when neither a config
// file nor flags override a field.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:          filepath.Join(home, ".slurmlet"),
		TotalCPUs:        4,
		TotalMemMB:       8192,
		PollInterval:     1.0,
		ElasticEnabled:   true,
		ElasticThreshold: 50.0,
		LogLevel:         "info",
	}
}

// Load reads a YAML config file and overlays it onto Defaults(). A missing
// path is not an error; callers pass flags-only configuration this way.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LogPath returns the log directory under DataDir (job_<id>.out/.err).
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs")
}

// StorePath returns the bbolt database path under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "slurmlet.db")
}

// DefaultTopologyConfig returns the topology config path under DataDir used
// when none is given explicitly.
func (c *Config) DefaultTopologyConfig() string {
	return filepath.Join(c.DataDir, "topology.conf")
}

// ParseMemSize parses a memory size string: a bare integer or float
// mantissa, optionally suffixed M/MB/G/GB (case-insensitive), returned as
// whole megabytes (1 GB = 1024 MB).
func ParseMemSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory size")
	}
	upper := strings.ToUpper(s)

	unit := 1.0
	mantissa := upper
	switch {
	case strings.HasSuffix(upper, "GB"):
		mantissa = strings.TrimSuffix(upper, "GB")
		unit = 1024
	case strings.HasSuffix(upper, "G"):
		mantissa = strings.TrimSuffix(upper, "G")
		unit = 1024
	case strings.HasSuffix(upper, "MB"):
		mantissa = strings.TrimSuffix(upper, "MB")
		unit = 1
	case strings.HasSuffix(upper, "M"):
		mantissa = strings.TrimSuffix(upper, "M")
		unit = 1
	}

	mantissa = strings.TrimSpace(mantissa)
	value, err := strconv.ParseFloat(mantissa, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid memory size %q: negative", s)
	}
	return int64(value * unit), nil
}
