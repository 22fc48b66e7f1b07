// Package config handles importer configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then WDGRAPH_* environment variables. Command-line flags are applied last
// by the CLI.
//
// Example Usage:
//
//	cfg, err := config.Load("./wdgraph.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Store:
//   - WDGRAPH_DATA_DIR="./data/graph"
//   - WDGRAPH_IN_MEMORY=false
//   - WDGRAPH_SYNC_WRITES=false
//   - WDGRAPH_LOW_MEMORY=false
//   - WDGRAPH_BATCH_SIZE=10000
//   - WDGRAPH_ENCRYPTION_ENABLED=false
//   - WDGRAPH_ENCRYPTION_PASSPHRASE=""
//
// Import:
//   - WDGRAPH_PROPERTY_DUMP="./data/properties.jsonl"
//   - WDGRAPH_ALIAS_SEPARATOR=";"
//   - WDGRAPH_PROGRESS_INTERVAL=100000
//   - WDGRAPH_SKIP_MALFORMED=true
//
// Keys:
//   - WDGRAPH_KEY_WIDTH=10
//   - WDGRAPH_KEY_PREFIX_DIGITS=1
//   - WDGRAPH_ITEM_PREFIX=1
//   - WDGRAPH_PROPERTY_PREFIX=2
//
// Logging:
//   - WDGRAPH_LOG_LEVEL=INFO (DEBUG, INFO, WARN, ERROR)
//   - WDGRAPH_LOG_FORMAT=text (text, json)
//   - WDGRAPH_LOG_OUTPUT=stderr (stdout, stderr, or a file path)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/wdgraph/pkg/storage"
	"github.com/orneryd/wdgraph/pkg/wikidata"
)

// Config holds all importer configuration.
type Config struct {
	Store   StoreConfig        `yaml:"store"`
	Import  ImportConfig       `yaml:"import"`
	Keys    wikidata.KeyScheme `yaml:"keys"`
	Logging LoggingConfig      `yaml:"logging"`
}

// StoreConfig holds node store settings.
type StoreConfig struct {
	// DataDir is the badger directory
	DataDir string `yaml:"data_dir"`
	// InMemory keeps the graph in RAM (dry runs)
	InMemory bool `yaml:"in_memory"`
	// SyncWrites forces fsync per write
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory shrinks badger caches
	LowMemory bool `yaml:"low_memory"`
	// BatchSize is the number of nodes per write batch
	BatchSize int `yaml:"batch_size"`
	// EncryptionEnabled turns on encryption at rest
	EncryptionEnabled bool `yaml:"encryption_enabled"`
	// EncryptionPassphrase derives the encryption key
	EncryptionPassphrase string `yaml:"encryption_passphrase"`
}

// ImportConfig holds import run settings.
type ImportConfig struct {
	// PropertyDumpPath is recreated on every run
	PropertyDumpPath string `yaml:"property_dump"`
	// AliasSeparator joins aliases of one locale
	AliasSeparator string `yaml:"alias_separator"`
	// ProgressInterval logs progress every N documents, 0 disables
	ProgressInterval int `yaml:"progress_interval"`
	// SkipMalformed skips documents failing to parse or encode instead of aborting
	SkipMalformed bool `yaml:"skip_malformed"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
	// Output (stdout, stderr, or file path)
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:   "./data/graph",
			BatchSize: storage.DefaultBatchSize,
		},
		Import: ImportConfig{
			PropertyDumpPath: "./data/properties.jsonl",
			AliasSeparator:   wikidata.DefaultAliasSeparator,
			ProgressInterval: 100000,
			SkipMalformed:    true,
		},
		Keys: wikidata.DefaultKeyScheme,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns the defaults overridden by environment variables.
func LoadFromEnv() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Store.DataDir = getEnv("WDGRAPH_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.InMemory = getEnvBool("WDGRAPH_IN_MEMORY", cfg.Store.InMemory)
	cfg.Store.SyncWrites = getEnvBool("WDGRAPH_SYNC_WRITES", cfg.Store.SyncWrites)
	cfg.Store.LowMemory = getEnvBool("WDGRAPH_LOW_MEMORY", cfg.Store.LowMemory)
	cfg.Store.BatchSize = getEnvInt("WDGRAPH_BATCH_SIZE", cfg.Store.BatchSize)
	cfg.Store.EncryptionEnabled = getEnvBool("WDGRAPH_ENCRYPTION_ENABLED", cfg.Store.EncryptionEnabled)
	cfg.Store.EncryptionPassphrase = getEnv("WDGRAPH_ENCRYPTION_PASSPHRASE", cfg.Store.EncryptionPassphrase)

	cfg.Import.PropertyDumpPath = getEnv("WDGRAPH_PROPERTY_DUMP", cfg.Import.PropertyDumpPath)
	cfg.Import.AliasSeparator = getEnv("WDGRAPH_ALIAS_SEPARATOR", cfg.Import.AliasSeparator)
	cfg.Import.ProgressInterval = getEnvInt("WDGRAPH_PROGRESS_INTERVAL", cfg.Import.ProgressInterval)
	cfg.Import.SkipMalformed = getEnvBool("WDGRAPH_SKIP_MALFORMED", cfg.Import.SkipMalformed)

	cfg.Keys.Width = getEnvInt("WDGRAPH_KEY_WIDTH", cfg.Keys.Width)
	cfg.Keys.PrefixDigits = getEnvInt("WDGRAPH_KEY_PREFIX_DIGITS", cfg.Keys.PrefixDigits)
	cfg.Keys.ItemPrefix = getEnvUint64("WDGRAPH_ITEM_PREFIX", cfg.Keys.ItemPrefix)
	cfg.Keys.PropertyPrefix = getEnvUint64("WDGRAPH_PROPERTY_PREFIX", cfg.Keys.PropertyPrefix)

	cfg.Logging.Level = getEnv("WDGRAPH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("WDGRAPH_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("WDGRAPH_LOG_OUTPUT", cfg.Logging.Output)
}

// Validate checks the configuration for logical errors and invalid values.
func (c *Config) Validate() error {
	if !c.Store.InMemory && c.Store.DataDir == "" {
		return fmt.Errorf("data directory required unless running in memory")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", c.Store.BatchSize)
	}
	if c.Store.EncryptionEnabled {
		if c.Store.InMemory {
			return fmt.Errorf("encryption requires an on-disk store")
		}
		if c.Store.EncryptionPassphrase == "" {
			return fmt.Errorf("encryption enabled but no passphrase provided")
		}
	}

	if c.Import.PropertyDumpPath == "" {
		return fmt.Errorf("property dump path required")
	}
	if c.Import.ProgressInterval < 0 {
		return fmt.Errorf("invalid progress interval: %d", c.Import.ProgressInterval)
	}

	if err := c.Keys.Validate(); err != nil {
		return fmt.Errorf("invalid key scheme: %w", err)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a representation safe for logging; the passphrase is never
// included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, BatchSize: %d, Encrypted: %v, PropertyDump: %s, Keys: %d/%d/%d/%d}",
		c.Store.DataDir, c.Store.InMemory, c.Store.BatchSize, c.Store.EncryptionEnabled,
		c.Import.PropertyDumpPath,
		c.Keys.Width, c.Keys.PrefixDigits, c.Keys.ItemPrefix, c.Keys.PropertyPrefix,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
