package arena

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/arena/internal/utils"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/memutils/metadata"
	"github.com/vkngwrapper/mmalloc/segment"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific arena behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	createFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	var unknown CreateFlags
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			unknown |= bit
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if unknown != 0 {
		names = append(names, "Unknown")
	}

	return strings.Join(names, "|")
}

const (
	// ArenaCreateExternallySynchronized ensures that the arena will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism, but performance may improve because the internal mutex is not used.
	ArenaCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	ArenaCreateExternallySynchronized.Register("ArenaCreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating an arena
type CreateOptions struct {
	// Flags indicates specific arena behaviors to activate or deactivate
	Flags CreateFlags

	// MaxArenaBytes can be left 0. If it is provided, the arena will refuse to grow past this many
	// bytes and will return memutils.ExhaustionError instead, even if the segment could have provided
	// the memory.
	MaxArenaBytes int
}

// New creates a new Arena. No memory is requested from the segment until the first
// allocation.
//
// logger - The logger that will receive debug output and reports of unreleased memory. If nil,
// slog.Default() is used
//
// seg - The segment that the arena grows into. The arena assumes it is the only user of the
// segment's break
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, seg segment.Segment, options CreateOptions) (*Arena, error) {
	if seg == nil {
		return nil, errors.New("arena.New requires a segment")
	}
	if options.MaxArenaBytes < 0 {
		return nil, errors.Wrapf(memutils.InvalidSizeError, "CreateOptions.MaxArenaBytes is %d", options.MaxArenaBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}

	useMutex := options.Flags&ArenaCreateExternallySynchronized == 0

	return &Arena{
		logger: logger,
		mutex: utils.OptionalRWMutex{
			UseMutex: useMutex,
		},
		createFlags:   options.Flags,
		maxArenaBytes: options.MaxArenaBytes,
		chunks:        metadata.NewChunkList(seg),
	}, nil
}
