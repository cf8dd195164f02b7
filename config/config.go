package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// SnapshotDir is where completed results are persisted. Empty disables
	// persistence.
	SnapshotDir string `yaml:"snapshot_dir"`
	// MaxResults bounds the results kept in memory.
	MaxResults int `yaml:"max_results"`
	// IdleTTL evicts results nobody read for this long.
	IdleTTL        time.Duration `yaml:"idle_ttl"`
	InboxSize      int           `yaml:"inbox_size"`
	TileSize       int           `yaml:"tile_size"`
	LogFormat      string        `yaml:"log_format"`
	LogLevel       string        `yaml:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		SnapshotDir:    "data",
		MaxResults:     50,
		IdleTTL:        30 * time.Minute,
		InboxSize:      16,
		TileSize:       256,
		LogFormat:      "text",
		LogLevel:       "info",
		RequestTimeout: 2 * time.Minute,
	}
}

// LoadConfig reads the YAML file at path over the defaults. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	case c.MaxResults <= 0:
		return fmt.Errorf("%w: max_results must be positive", ErrInvalidConfig)
	case c.IdleTTL <= 0:
		return fmt.Errorf("%w: idle_ttl must be positive", ErrInvalidConfig)
	case c.InboxSize < 0:
		return fmt.Errorf("%w: inbox_size must not be negative", ErrInvalidConfig)
	case c.TileSize <= 0:
		return fmt.Errorf("%w: tile_size must be positive", ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Parse reads the command line of a binary: -config names an optional YAML
// file, every other flag overrides the matching file value when given.
func Parse(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	def := DefaultConfig()
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", def.Addr, "HTTP listen address")
	snapshotDir := fs.String("snapshot-dir", def.SnapshotDir, "directory for result snapshots, empty to disable")
	maxResults := fs.Int("max-results", def.MaxResults, "maximum results kept in memory")
	idleTTL := fs.Duration("idle-ttl", def.IdleTTL, "evict results idle for this long")
	inboxSize := fs.Int("inbox-size", def.InboxSize, "requests buffered ahead of the worker")
	tileSize := fs.Int("tile-size", def.TileSize, "map tile size in pixels")
	logFormat := fs.String("log-format", def.LogFormat, "log format: json or text")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error, none")
	timeout := fs.Duration("request-timeout", def.RequestTimeout, "how long an HTTP request waits for its computation")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "snapshot-dir":
			cfg.SnapshotDir = *snapshotDir
		case "max-results":
			cfg.MaxResults = *maxResults
		case "idle-ttl":
			cfg.IdleTTL = *idleTTL
		case "inbox-size":
			cfg.InboxSize = *inboxSize
		case "tile-size":
			cfg.TileSize = *tileSize
		case "log-format":
			cfg.LogFormat = *logFormat
		case "log-level":
			cfg.LogLevel = *logLevel
		case "request-timeout":
			cfg.RequestTimeout = *timeout
		}
	})

	return cfg, cfg.Validate()
}
