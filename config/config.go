// Package config loads worldhist settings from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Cache   CacheConfig   `yaml:"cache" toml:"cache"`
	History HistoryConfig `yaml:"history" toml:"history"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

type CacheConfig struct {
	// Dir holds blob cache session directories. Empty means the system
	// temporary directory.
	Dir        string   `yaml:"dir" toml:"dir"`
	RAMSize    int64    `yaml:"ram_size" toml:"ram_size"`
	StaleAfter Duration `yaml:"stale_after" toml:"stale_after"`
	Memory     bool     `yaml:"memory" toml:"memory"`
}

type HistoryConfig struct {
	// JournalDir enables the history journal when set.
	JournalDir  string `yaml:"journal_dir" toml:"journal_dir"`
	Compression int    `yaml:"compression" toml:"compression"`
	// DiskRevisions stores chunk revisions in the blob cache instead of RAM.
	DiskRevisions *bool `yaml:"disk_revisions" toml:"disk_revisions"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads the file at path, picking the format by extension (.toml, or
// YAML otherwise), and fills in defaults. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

type Format int

const (
	YAML Format = iota
	TOML
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOML
	}
	return YAML
}

// Parse decodes data and fills in defaults.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	var err error
	switch format {
	case TOML:
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	return &cfg, nil
}

// Duration is a time.Duration written as "90s", "168h" and so on.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
