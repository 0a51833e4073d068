// Package config provides configuration loading and management.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/user/avcpull/pkg/multiplexer"
	"github.com/user/avcpull/pkg/ports"
	"github.com/user/avcpull/pkg/queue"
)

// Timestamp attribution orders.
const (
	OrderFIFO        = "fifo"
	OrderLowestFirst = "lowest-first"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig   = "AVCPULL_CONFIG"
	EnvFFmpeg   = "AVCPULL_FFMPEG"
	EnvLogLevel = "AVCPULL_LOG_LEVEL"
	EnvThreads  = "AVCPULL_THREADS"
)

// Config represents the full configuration for avcpull.
type Config struct {
	// Multiplexer
	MaxSources     int    `yaml:"max_sources"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	Backpressure   string `yaml:"backpressure"`
	PullMode       string `yaml:"pull_mode"`
	Eviction       string `yaml:"eviction"`
	StallThreshold int    `yaml:"stall_threshold"`
	TimestampOrder string `yaml:"timestamp_order"`

	Decoder DecoderConfig `yaml:"decoder"`
	Output  OutputConfig  `yaml:"output"`

	LogLevel string `yaml:"log_level"`
}

// DecoderConfig configures the ffmpeg-backed native decoder.
type DecoderConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"` // Empty means search PATH
	Threads    int    `yaml:"threads"`     // 0 lets ffmpeg decide
}

// OutputConfig configures where pulled frames are written.
type OutputConfig struct {
	Dir      string `yaml:"dir"`       // Empty disables frame output
	MaxWidth int    `yaml:"max_width"` // 0 keeps the decoded size
}

// Defaults returns a Config with default values.
func Defaults() Config {
	mc := multiplexer.DefaultConfig()
	return Config{
		MaxSources:     mc.MaxSources,
		QueueCapacity:  mc.QueueCapacity,
		Backpressure:   mc.Backpressure.String(),
		PullMode:       mc.PullMode.String(),
		Eviction:       mc.Eviction.String(),
		StallThreshold: mc.StallThreshold,
		TimestampOrder: OrderFIFO,

		Decoder: DecoderConfig{
			Threads: 1,
		},

		LogLevel: ports.LevelInfo.String(),
	}
}

// LoadFromFile loads configuration from a YAML file over Defaults.
// Unknown keys are rejected.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Load builds the runtime configuration: Defaults, then the YAML file at
// path (or $AVCPULL_CONFIG when path is empty), then environment variables.
// A .env file in the working directory is read first when present; it never
// overrides variables that are already set.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvFFmpeg); ok && v != "" {
		c.Decoder.FFmpegPath = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvThreads); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvThreads, err)
		}
		c.Decoder.Threads = n
	}
	return nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, err := c.ToMultiplexerConfig(); err != nil {
		return err
	}
	switch c.TimestampOrder {
	case OrderFIFO, OrderLowestFirst:
	default:
		return fmt.Errorf("config: unknown timestamp order %q", c.TimestampOrder)
	}
	if c.Decoder.Threads < 0 {
		return fmt.Errorf("config: decoder threads must not be negative, got %d", c.Decoder.Threads)
	}
	if c.Output.MaxWidth < 0 {
		return fmt.Errorf("config: output max width must not be negative, got %d", c.Output.MaxWidth)
	}
	if _, err := ports.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LowestFirst reports whether timestamps are attributed lowest first.
func (c Config) LowestFirst() bool {
	return c.TimestampOrder == OrderLowestFirst
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() ports.LogLevel {
	level, err := ports.ParseLogLevel(c.LogLevel)
	if err != nil {
		return ports.LevelInfo
	}
	return level
}

// ToMultiplexerConfig converts Config to multiplexer.Config.
func (c Config) ToMultiplexerConfig() (multiplexer.Config, error) {
	backpressure, err := queue.ParsePolicy(c.Backpressure)
	if err != nil {
		return multiplexer.Config{}, fmt.Errorf("config: %w", err)
	}
	pullMode, err := multiplexer.ParsePullMode(c.PullMode)
	if err != nil {
		return multiplexer.Config{}, fmt.Errorf("config: %w", err)
	}
	eviction, err := multiplexer.ParseEvictionPolicy(c.Eviction)
	if err != nil {
		return multiplexer.Config{}, fmt.Errorf("config: %w", err)
	}

	mc := multiplexer.Config{
		MaxSources:     c.MaxSources,
		QueueCapacity:  c.QueueCapacity,
		Backpressure:   backpressure,
		PullMode:       pullMode,
		Eviction:       eviction,
		StallThreshold: c.StallThreshold,
	}
	if err := mc.Validate(); err != nil {
		return multiplexer.Config{}, fmt.Errorf("config: %w", err)
	}
	return mc, nil
}
