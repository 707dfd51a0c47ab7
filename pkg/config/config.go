// Package config loads the optional defaults file for the cube command.
//
// The file is chosen by the --config flag or the CUBE_CONFIG environment
// variable. Values from the file replace the built-in defaults; command line
// flags given explicitly replace values from the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "CUBE_CONFIG"

// Config is the full set of defaults.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Extract ExtractConfig `yaml:"extract"`
	Pack    PackConfig    `yaml:"pack"`
}

// ExtractConfig holds defaults for the extract command.
type ExtractConfig struct {
	// BTI converts textures to PNG. Off by default since most games ship
	// thousands of them.
	BTI bool `yaml:"bti"`

	// BMG converts message archives to JSON.
	BMG bool `yaml:"bmg"`

	// SZSPreserveExtension keeps ".szs" in the name of the folder an
	// archive is extracted into.
	SZSPreserveExtension bool `yaml:"szs_preserve_extension"`

	// BTIScale upscales exported textures by an integer factor.
	BTIScale int `yaml:"bti_scale"`

	// Workers bounds the number of disc files extracted at once.
	// Zero uses one worker per CPU.
	Workers int `yaml:"workers"`
}

// PackConfig holds defaults for the pack command.
type PackConfig struct {
	DeleteOriginals bool   `yaml:"delete_originals"`
	Yaz0Compress    bool   `yaml:"yaz0_compress"`
	Yaz0Quality     int    `yaml:"yaz0_quality"`
	ArcExtension    string `yaml:"arc_extension"`
	Zstd            bool   `yaml:"zstd"`
	ZstdLevel       int    `yaml:"zstd_level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Extract: ExtractConfig{
			BMG:      true,
			BTIScale: 1,
		},
		Pack: PackConfig{
			Yaz0Compress: true,
			Yaz0Quality:  10,
			ZstdLevel:    3,
		},
	}
}

// Load reads the file named by CUBE_CONFIG, or returns the defaults when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a YAML config file on top of the defaults. Unknown keys
// are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Extract.BTIScale < 1 {
		return fmt.Errorf("extract.bti_scale must be at least 1, got %d", c.Extract.BTIScale)
	}
	if c.Extract.Workers < 0 {
		return fmt.Errorf("extract.workers must not be negative, got %d", c.Extract.Workers)
	}
	if c.Pack.Yaz0Quality < 0 || c.Pack.Yaz0Quality > 10 {
		return fmt.Errorf("pack.yaz0_quality must be between 0 and 10, got %d", c.Pack.Yaz0Quality)
	}
	if c.Pack.ZstdLevel < 1 || c.Pack.ZstdLevel > 22 {
		return fmt.Errorf("pack.zstd_level must be between 1 and 22, got %d", c.Pack.ZstdLevel)
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
