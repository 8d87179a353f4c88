package datalogger

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"port" yaml:"port"`
	Baud           int           `mapstructure:"baud" yaml:"baud"`
	Settle         time.Duration `mapstructure:"settle" yaml:"settle"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Idle           time.Duration `mapstructure:"idle" yaml:"idle"`
	OutputDir      string        `mapstructure:"output_dir" yaml:"output_dir"`
	OutputFile     string        `mapstructure:"output_file" yaml:"output_file"`
	Schema         string        `mapstructure:"schema" yaml:"schema"`
	HeaderSentinel string        `mapstructure:"header_sentinel" yaml:"header_sentinel"`
	DataPrefix     string        `mapstructure:"data_prefix" yaml:"data_prefix"`
	ProgressEvery  int           `mapstructure:"progress_every" yaml:"progress_every"`
	Fsync          bool          `mapstructure:"fsync" yaml:"fsync"`
	Append         bool          `mapstructure:"append" yaml:"append"`
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	Catalog        string        `mapstructure:"catalog" yaml:"catalog"`
	Ambient        AmbientConfig `mapstructure:"ambient" yaml:"ambient"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
}

type AmbientConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// maxIdle keeps the idle sleep well under the device's 100 ms cadence.
const maxIdle = 10 * time.Millisecond

// SetDefaults registers the built-in values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("baud", DefaultBaud)
	v.SetDefault("settle", DefaultSettle)
	v.SetDefault("poll_timeout", time.Duration(0))
	v.SetDefault("idle", DefaultIdle)
	v.SetDefault("output_dir", ".")
	v.SetDefault("output_file", "dehumidifier_data.csv")
	v.SetDefault("schema", string(SchemaHeader))
	v.SetDefault("header_sentinel", DefaultHeaderSentinel)
	v.SetDefault("data_prefix", DefaultDataPrefix)
	v.SetDefault("progress_every", DefaultProgressEvery)
	v.SetDefault("fsync", true)
	v.SetDefault("append", false)
	v.SetDefault("ambient.interval", 5*time.Second)
	v.SetDefault("log_level", "info")
}

// LoadConfig decodes v into a Config and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Idle == 0 {
		c.Idle = DefaultIdle
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.OutputFile == "" {
		c.OutputFile = "dehumidifier_data.csv"
	}
	if c.Schema == "" {
		c.Schema = string(SchemaHeader)
	}
	if c.HeaderSentinel == "" {
		c.HeaderSentinel = DefaultHeaderSentinel
	}
	if c.DataPrefix == "" {
		c.DataPrefix = DefaultDataPrefix
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.Ambient.Interval == 0 {
		c.Ambient.Interval = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.Idle < 0 || c.Idle >= maxIdle {
		return fmt.Errorf("idle must be between 0 and %s, got %s", maxIdle, c.Idle)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll_timeout must not be negative")
	}
	if c.Settle < 0 {
		return fmt.Errorf("settle must not be negative")
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("progress_every must be positive")
	}
	if _, err := ParseSchema(c.Schema); err != nil {
		return err
	}
	if strings.TrimSpace(c.HeaderSentinel) == "" {
		return fmt.Errorf("header_sentinel is required")
	}
	return nil
}

// OutputPath is the destination CSV file.
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, c.OutputFile)
}

// Classifier builds the line classifier for the configured schema.
func (c *Config) Classifier() Classifier {
	schema, _ := ParseSchema(c.Schema)
	cl := NewClassifier(schema)
	cl.HeaderSentinel = c.HeaderSentinel
	if c.DataPrefix != "" {
		cl.DataPrefix = c.DataPrefix
	}
	return cl
}

// SessionConfig converts the settings into ingestion loop parameters.
func (c *Config) SessionConfig() SessionConfig {
	return SessionConfig{
		Baud:          c.Baud,
		Settle:        c.Settle,
		PollTimeout:   c.PollTimeout,
		Idle:          c.Idle,
		OutputPath:    c.OutputPath(),
		Resume:        c.Append,
		Fsync:         c.Fsync,
		ProgressEvery: c.ProgressEvery,
		Classifier:    c.Classifier(),
	}
}
