package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
addr: ":9000"
max_results: 5
idle_ttl: 90s
log_format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5, cfg.MaxResults)
	assert.Equal(t, 90*time.Second, cfg.IdleTTL)
	assert.Equal(t, "json", cfg.LogFormat)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultConfig().TileSize, cfg.TileSize)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "adr: \":9000\"\n"))
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "tile_size: 0\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "addr: \":9000\"\nmax_results: 5\n")

	cfg, err := Parse("geoclusters", []string{"-config", path, "-max-results", "7", "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 7, cfg.MaxResults)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseWithoutFile(t *testing.T) {
	cfg, err := Parse("geoclusters", []string{"-snapshot-dir", ""})
	require.NoError(t, err)
	assert.Empty(t, cfg.SnapshotDir)
	assert.Equal(t, DefaultConfig().Addr, cfg.Addr)

	_, err = Parse("geoclusters", []string{"-inbox-size", "-1"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
