// Package config handles configuration loading and validation for fragcheck.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/verify"
	"github.com/tunnelmesh/fragcheck/pkg/bytesize"
)

// Defaults applied by Load for fields left empty.
const (
	DefaultFooterLen       = fragment.DefaultFooterLen
	DefaultSavedSuffix     = "-moved"
	DefaultBlockSize       = bytesize.Size(64 * bytesize.KB)
	DefaultDisks           = 8
	DefaultDataFragments   = 5
	DefaultParityFragments = 2
	DefaultMaxObjectSize   = bytesize.Size(64 * bytesize.MB)
	DefaultLogLevel        = "info"
)

// DefaultExcludedSuffixes are skipped by the tree walk: backup stream output
// and legal-hold footer extension files.
var DefaultExcludedSuffixes = verify.DefaultExcludedSuffixes

// VerifyConfig holds configuration for the tree comparison.
type VerifyConfig struct {
	SavedSuffix      string        `yaml:"saved_suffix"`      // Suffix appended to the live root to find the saved tree
	ExcludedSuffixes []string      `yaml:"excluded_suffixes"` // File suffixes the walk skips
	BlockSize        bytesize.Size `yaml:"block_size"`        // Content comparison read size, e.g. "64KB"
	VerifyChecksums  bool          `yaml:"verify_checksums"`  // Also report footers whose checksum does not match
}

// StoreConfig holds configuration for the local fragment store.
type StoreConfig struct {
	Disks           int           `yaml:"disks"`
	DataFragments   int           `yaml:"data_fragments"`
	ParityFragments int           `yaml:"parity_fragments"`
	MaxObjectSize   bytesize.Size `yaml:"max_object_size"` // Also written as the footer chunk size
	LayoutMapID     int           `yaml:"layout_map_id"`
}

// Config is the top-level fragcheck configuration.
type Config struct {
	FooterLen   int          `yaml:"footer_len"`
	LogLevel    string       `yaml:"log_level"`
	MetricsFile string       `yaml:"metrics_file"` // Prometheus textfile written on exit (optional)
	Verify      VerifyConfig `yaml:"verify"`
	Store       StoreConfig  `yaml:"store"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FooterLen == 0 {
		c.FooterLen = DefaultFooterLen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.MetricsFile = expandHome(c.MetricsFile)

	if c.Verify.SavedSuffix == "" {
		c.Verify.SavedSuffix = DefaultSavedSuffix
	}
	// An explicit empty list in the file disables exclusions.
	if c.Verify.ExcludedSuffixes == nil {
		c.Verify.ExcludedSuffixes = append([]string(nil), DefaultExcludedSuffixes...)
	}
	if c.Verify.BlockSize == 0 {
		c.Verify.BlockSize = DefaultBlockSize
	}

	if c.Store.Disks == 0 {
		c.Store.Disks = DefaultDisks
	}
	if c.Store.DataFragments == 0 {
		c.Store.DataFragments = DefaultDataFragments
	}
	if c.Store.ParityFragments == 0 {
		c.Store.ParityFragments = DefaultParityFragments
	}
	if c.Store.MaxObjectSize == 0 {
		c.Store.MaxObjectSize = DefaultMaxObjectSize
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.FooterLen < fragment.LayoutSize {
		return fmt.Errorf("footer_len must be at least %d bytes, got %d", fragment.LayoutSize, c.FooterLen)
	}
	if c.Verify.SavedSuffix == "" || strings.ContainsRune(c.Verify.SavedSuffix, filepath.Separator) {
		return fmt.Errorf("verify.saved_suffix must be a non-empty name suffix")
	}
	for _, s := range c.Verify.ExcludedSuffixes {
		if s == "" {
			return fmt.Errorf("verify.excluded_suffixes must not contain empty entries")
		}
	}
	if c.Verify.BlockSize <= 0 {
		return fmt.Errorf("verify.block_size must be positive")
	}

	if c.Store.Disks < 1 {
		return fmt.Errorf("store.disks must be >= 1")
	}
	if c.Store.DataFragments < 1 || c.Store.ParityFragments < 1 {
		return fmt.Errorf("store.data_fragments and store.parity_fragments must be >= 1")
	}
	if c.Store.DataFragments+c.Store.ParityFragments > 256 {
		return fmt.Errorf("store.data_fragments + store.parity_fragments must be <= 256")
	}
	if c.Store.MaxObjectSize <= 0 || c.Store.MaxObjectSize > math.MaxInt32 {
		return fmt.Errorf("store.max_object_size must be between 1 byte and 2GB")
	}
	return nil
}
