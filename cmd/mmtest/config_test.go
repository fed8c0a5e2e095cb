package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmalloc/arena"
	"github.com/vkngwrapper/mmalloc/segment"
	"golang.org/x/exp/slog"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "mmtest.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)
	require.NoError(t, config.Validate())

	level, err := config.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
	require.Equal(t, arena.CreateOptions{}, config.CreateOptions())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
segment = "memory"
reserve_bytes = 4096
log_level = "debug"
synchronized = false
max_arena_bytes = 2048
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, &Config{
		Segment:       SegmentMemory,
		ReserveBytes:  4096,
		LogLevel:      "debug",
		Synchronized:  false,
		MaxArenaBytes: 2048,
	}, config)
	require.NoError(t, config.Validate())

	level, err := config.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	require.Equal(t, arena.CreateOptions{
		Flags:         arena.ArenaCreateExternallySynchronized,
		MaxArenaBytes: 2048,
	}, config.CreateOptions())

	seg, closeSegment, err := config.NewSegment()
	require.NoError(t, err)
	require.IsType(t, &segment.Memory{}, seg)
	require.NoError(t, closeSegment())
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `log_level = "warn"`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, SegmentMapped, config.Segment)
	require.Equal(t, DefaultConfig().ReserveBytes, config.ReserveBytes)
	require.Equal(t, "warn", config.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `segment = `))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `reserve = 10`))
	require.ErrorContains(t, err, "unknown config keys")
}

func TestValidate(t *testing.T) {
	testCases := map[string]func(c *Config){
		"SegmentType":   func(c *Config) { c.Segment = "disk" },
		"ReserveBytes":  func(c *Config) { c.ReserveBytes = 0 },
		"MaxArenaBytes": func(c *Config) { c.MaxArenaBytes = -5 },
		"LogLevel":      func(c *Config) { c.LogLevel = "loud" },
	}

	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			mutate(config)
			require.Error(t, config.Validate())
		})
	}
}

func TestRunMemorySegment(t *testing.T) {
	path := writeConfig(t, `
segment = "memory"
reserve_bytes = 4096
log_level = "debug"
`)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(&stdout, &stderr, path, true))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "malloc sanity test successful!", lines[1])

	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &stats))
	require.Contains(t, stats, "General")
	require.Contains(t, stats, "Total")
	require.Contains(t, stats, "Arena")

	require.Contains(t, stderr.String(), "Arena::Allocate")
	require.NotContains(t, stderr.String(), "UNRELEASED MEMORY")
}

func TestRunFailsWhenArenaCannotGrow(t *testing.T) {
	path := writeConfig(t, `
segment = "memory"
reserve_bytes = 16
`)

	var stdout, stderr bytes.Buffer
	require.Error(t, run(&stdout, &stderr, path, false))
	require.NotContains(t, stdout.String(), "successful")
}
