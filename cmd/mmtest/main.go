package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/arena"
	"golang.org/x/exp/slog"
)

var (
	configPathFlag = flag.String("config", "", "Path to a TOML configuration file (defaults are used when empty)")
	statsFlag      = flag.Bool("stats", false, "Print the arena's JSON statistics before destroying it")
)

func main() {
	flag.Parse()

	err := run(os.Stdout, os.Stderr, *configPathFlag, *statsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "malloc sanity test failed: %+v\n", err)
		os.Exit(1)
	}
}

func run(stdout, stderr io.Writer, configPath string, printStats bool) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	err = config.Validate()
	if err != nil {
		return err
	}

	level, err := config.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	seg, closeSegment, err := config.NewSegment()
	if err != nil {
		return err
	}
	defer func() {
		closeErr := closeSegment()
		if closeErr != nil {
			logger.Error("failed to close segment", slog.Any("error", closeErr))
		}
	}()

	a, err := arena.New(logger, seg, config.CreateOptions())
	if err != nil {
		return err
	}

	err = sanityTest(a)
	if err != nil {
		return err
	}

	if printStats {
		fmt.Fprintln(stdout, a.BuildStatsString(true))
	}

	err = a.Destroy()
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, "malloc sanity test successful!")
	return nil
}

func storeInt(a *arena.Arena, h arena.Handle, value int32) error {
	data, err := a.Data(h)
	if err != nil {
		return err
	}
	if len(data) < 4 {
		return errors.Newf("allocation %s only holds %d bytes", h, len(data))
	}

	binary.LittleEndian.PutUint32(data, uint32(value))
	return nil
}

func loadInt(a *arena.Arena, h arena.Handle) (int32, error) {
	data, err := a.Data(h)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, errors.Newf("allocation %s only holds %d bytes", h, len(data))
	}

	return int32(binary.LittleEndian.Uint32(data)), nil
}

func expectInt(a *arena.Arena, h arena.Handle, expected int32) error {
	value, err := loadInt(a, h)
	if err != nil {
		return err
	}
	if value != expected {
		return errors.Newf("allocation %s holds %d, expected %d", h, value, expected)
	}

	return nil
}

// sanityTest allocates, writes, reallocates and releases a handful of small values, then checks that
// the last allocation reused a released chunk instead of growing the arena
func sanityTest(a *arena.Arena) error {
	data, err := a.Allocate(4)
	if err != nil {
		return err
	}
	data2, err := a.Allocate(8)
	if err != nil {
		return err
	}

	if err = storeInt(a, data, 1); err != nil {
		return err
	}
	if err = storeInt(a, data2, 4); err != nil {
		return err
	}

	data, err = a.Reallocate(data, 8)
	if err != nil {
		return err
	}
	if err = expectInt(a, data, 1); err != nil {
		return errors.Wrap(err, "reallocate lost the stored value")
	}

	if err = a.Release(data); err != nil {
		return err
	}
	if err = a.Release(data2); err != nil {
		return err
	}

	end := a.End()
	data3, err := a.Allocate(6)
	if err != nil {
		return err
	}
	if err = storeInt(a, data3, 3); err != nil {
		return err
	}
	if err = expectInt(a, data3, 3); err != nil {
		return err
	}
	if err = a.Release(data3); err != nil {
		return err
	}

	if a.End() != end {
		return errors.Newf("the arena grew from %#x to %#x instead of reusing a released chunk", uintptr(end), uintptr(a.End()))
	}

	return a.Validate()
}
