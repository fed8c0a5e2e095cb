package main

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/arena"
	"github.com/vkngwrapper/mmalloc/segment"
	"golang.org/x/exp/slog"
)

// SegmentType selects where the arena's memory comes from
type SegmentType string

const (
	SegmentMapped SegmentType = "mapped" // Anonymous mmap reservation, committed page by page
	SegmentMemory SegmentType = "memory" // Fixed-capacity Go byte slice
)

// Config is the driver configuration, decoded from TOML
type Config struct {
	Segment       SegmentType `toml:"segment"`
	ReserveBytes  int         `toml:"reserve_bytes"`
	LogLevel      string      `toml:"log_level"`
	Synchronized  bool        `toml:"synchronized"`
	MaxArenaBytes int         `toml:"max_arena_bytes"`
}

// DefaultConfig returns the configuration used when no file is provided
func DefaultConfig() *Config {
	return &Config{
		Segment:      SegmentMapped,
		ReserveBytes: 16 * 1024 * 1024,
		LogLevel:     "info",
		Synchronized: true,
	}
}

// LoadConfig decodes the TOML file at path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("unknown config keys: %v", undecoded)
	}

	return config, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Segment {
	case SegmentMapped, SegmentMemory:
	default:
		return errors.Newf("invalid segment type: %q", c.Segment)
	}

	if c.ReserveBytes <= 0 {
		return errors.Newf("reserve_bytes must be positive, got %d", c.ReserveBytes)
	}

	if c.MaxArenaBytes < 0 {
		return errors.Newf("max_arena_bytes must not be negative, got %d", c.MaxArenaBytes)
	}

	_, err := c.Level()
	return err
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}

	return level, nil
}

// CreateOptions converts the configuration into the options for arena.New
func (c *Config) CreateOptions() arena.CreateOptions {
	var flags arena.CreateFlags
	if !c.Synchronized {
		flags |= arena.ArenaCreateExternallySynchronized
	}

	return arena.CreateOptions{
		Flags:         flags,
		MaxArenaBytes: c.MaxArenaBytes,
	}
}

// NewSegment creates the segment the configuration asks for. The returned close function
// must be called once the arena is no longer in use.
func (c *Config) NewSegment() (segment.Segment, func() error, error) {
	switch c.Segment {
	case SegmentMemory:
		return segment.NewMemory(segment.DefaultMemoryBase, c.ReserveBytes), func() error { return nil }, nil
	case SegmentMapped:
		mapped, err := segment.NewMapped(c.ReserveBytes)
		if err != nil {
			return nil, nil, err
		}
		return mapped, mapped.Close, nil
	}

	return nil, nil, errors.Newf("invalid segment type: %q", c.Segment)
}
