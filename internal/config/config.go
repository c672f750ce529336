// Package config defines the runtime configuration for a screening run and
// loads it from file, environment and defaults via viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/pipeline"
	"github.com/moltools/dockscreen/pkg/errors"
)

// ModelConfig locates the docking model service.
type ModelConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" json:"listen"`
}

// Config is the full runtime configuration.
type Config struct {
	// Ligands is the multi-molecule SDF file to screen.
	Ligands string `mapstructure:"ligands" yaml:"ligands" json:"ligands"`
	// Receptor is the receptor structure file the model docks against.
	Receptor string `mapstructure:"receptor" yaml:"receptor" json:"receptor"`
	// Output is the run directory receiving poses, logs and scores.
	Output string `mapstructure:"output" yaml:"output" json:"output"`

	BatchSize      int    `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	Resume         bool   `mapstructure:"resume" yaml:"resume" json:"resume"`
	RunCorrections bool   `mapstructure:"run_corrections" yaml:"run_corrections" json:"run_corrections"`
	Slice          string `mapstructure:"slice" yaml:"slice" json:"slice"`
	Seed           int64  `mapstructure:"seed" yaml:"seed" json:"seed"`

	Model   ModelConfig       `mapstructure:"model" yaml:"model" json:"model"`
	Metrics MetricsConfig     `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Log     logging.LogConfig `mapstructure:"log" yaml:"log" json:"log"`
}

// ApplyDefaults fills zero values with working defaults. It never
// overwrites anything the user set.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = pipeline.DefaultBatchSize
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Model.Endpoint == "" {
		c.Model.Endpoint = "http://127.0.0.1:8500"
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 120 * time.Second
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9108"
	}
	c.Log.ApplyDefaults()
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ligands) == "" {
		return errors.InvalidInput("ligands file is required")
	}
	if strings.TrimSpace(c.Receptor) == "" {
		return errors.InvalidInput("receptor file is required")
	}
	if strings.TrimSpace(c.Output) == "" {
		return errors.InvalidInput("output directory is required")
	}
	if c.BatchSize <= 0 {
		return errors.InvalidInput("batch_size must be positive")
	}
	if c.Model.Endpoint == "" {
		return errors.InvalidInput("model endpoint is required")
	}
	if _, err := c.LigandSlice(); err != nil {
		return err
	}
	return nil
}

// LigandSlice parses the optional "start,end" slice expression into the
// pipeline's half-open range. An empty expression means the whole input.
func (c *Config) LigandSlice() (*pipeline.Slice, error) {
	expr := strings.TrimSpace(c.Slice)
	if expr == "" {
		return nil, nil
	}
	parts := strings.Split(expr, ",")
	if len(parts) != 2 {
		return nil, errors.InvalidInput("slice must have the form start,end").
			WithDetail(fmt.Sprintf("got %q", expr))
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, errors.InvalidInput("slice start is not an integer").WithDetail(parts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, errors.InvalidInput("slice end is not an integer").WithDetail(parts[1])
	}
	if start < 0 || end < start {
		return nil, errors.InvalidInput("slice bounds must satisfy 0 <= start <= end").
			WithDetail(fmt.Sprintf("got %d:%d", start, end))
	}
	return &pipeline.Slice{Start: start, End: end}, nil
}
