package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wdgraph/pkg/wikidata"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, wikidata.DefaultKeyScheme, cfg.Keys)
	assert.Equal(t, ";", cfg.Import.AliasSeparator)
	assert.True(t, cfg.Import.SkipMalformed)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WDGRAPH_DATA_DIR", "/var/lib/wdgraph")
	t.Setenv("WDGRAPH_BATCH_SIZE", "500")
	t.Setenv("WDGRAPH_IN_MEMORY", "yes")
	t.Setenv("WDGRAPH_ITEM_PREFIX", "3")
	t.Setenv("WDGRAPH_PROPERTY_PREFIX", "4")
	t.Setenv("WDGRAPH_SKIP_MALFORMED", "false")
	t.Setenv("WDGRAPH_LOG_FORMAT", "json")

	cfg := LoadFromEnv()
	assert.Equal(t, "/var/lib/wdgraph", cfg.Store.DataDir)
	assert.Equal(t, 500, cfg.Store.BatchSize)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, uint64(3), cfg.Keys.ItemPrefix)
	assert.Equal(t, uint64(4), cfg.Keys.PropertyPrefix)
	assert.False(t, cfg.Import.SkipMalformed)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_InvalidNumbersKeepDefaults(t *testing.T) {
	t.Setenv("WDGRAPH_BATCH_SIZE", "lots")
	t.Setenv("WDGRAPH_ITEM_PREFIX", "-1")

	cfg := LoadFromEnv()
	assert.Equal(t, Default().Store.BatchSize, cfg.Store.BatchSize)
	assert.Equal(t, uint64(1), cfg.Keys.ItemPrefix)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wdgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  data_dir: /srv/graph
  batch_size: 2000
import:
  property_dump: /srv/props.jsonl
  alias_separator: "|"
keys:
  width: 12
  prefix_digits: 2
  item_prefix: 11
  property_prefix: 22
logging:
  level: DEBUG
`), 0644))

	t.Setenv("WDGRAPH_BATCH_SIZE", "3000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/graph", cfg.Store.DataDir)
	assert.Equal(t, 3000, cfg.Store.BatchSize, "env overrides file")
	assert.Equal(t, "/srv/props.jsonl", cfg.Import.PropertyDumpPath)
	assert.Equal(t, "|", cfg.Import.AliasSeparator)
	assert.Equal(t, wikidata.KeyScheme{Width: 12, PrefixDigits: 2, ItemPrefix: 11, PropertyPrefix: 22}, cfg.Keys)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 100000, cfg.Import.ProgressInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no data dir", func(c *Config) { c.Store.DataDir = "" }},
		{"zero batch", func(c *Config) { c.Store.BatchSize = 0 }},
		{"encryption without passphrase", func(c *Config) { c.Store.EncryptionEnabled = true }},
		{"encryption in memory", func(c *Config) {
			c.Store.EncryptionEnabled = true
			c.Store.EncryptionPassphrase = "x"
			c.Store.InMemory = true
		}},
		{"no dump path", func(c *Config) { c.Import.PropertyDumpPath = "" }},
		{"negative progress", func(c *Config) { c.Import.ProgressInterval = -1 }},
		{"colliding prefixes", func(c *Config) { c.Keys.PropertyPrefix = c.Keys.ItemPrefix }},
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Store.DataDir = ""
	cfg.Store.InMemory = true
	assert.NoError(t, cfg.Validate(), "in-memory store needs no data dir")
}

func TestString_HidesPassphrase(t *testing.T) {
	cfg := Default()
	cfg.Store.EncryptionEnabled = true
	cfg.Store.EncryptionPassphrase = "hunter2"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "Encrypted: true")
}
