package malloc

import (
	"io"
	"strings"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/brkalloc/malloc/internal/utils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/memutils/region"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateSynchronized guards every public method of the allocator with a mutex, so that it can be
	// shared between goroutines. Without it, the consumer must guarantee the allocator is used from only
	// one goroutine at a time.
	CreateSynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateSynchronized: "CreateSynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultRegionCapacity is the capacity of the region created for an allocator when none is
	// provided via CreateOptions. It is equal to 16Mb.
	DefaultRegionCapacity int = 16 * 1024 * 1024

	liveIndexInitialSize uint32 = 64
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Strategy is the fit strategy used to choose among free blocks. The zero value is metadata.FitFirst.
	Strategy metadata.FitStrategy
	// Region is the memory the allocator manages. It must be empty, and must not be extended by anyone
	// but the allocator for as long as the allocator is in use. If it is left nil, a region.SliceRegion of
	// DefaultRegionCapacity bytes is created.
	Region region.Grower
}

// New creates a new Allocator
//
// logger - Receives debug output for allocator operations and warnings when the region is exhausted.
// If it is nil, log output is discarded.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	finder, err := metadata.NewFinder(options.Strategy)
	if err != nil {
		return nil, err
	}

	grower := options.Region
	if grower == nil {
		grower, err = region.NewSliceRegion(DefaultRegionCapacity)
		if err != nil {
			return nil, err
		}
	}

	ledger, err := metadata.NewLedger(grower)
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&CreateSynchronized != 0,
		},
		logger:      logger,
		createFlags: options.Flags,

		ledger: ledger,
		finder: finder,
		live:   swiss.NewMap[Pointer, int](liveIndexInitialSize),
	}

	logger.Debug("Allocator::New",
		slog.String("Strategy", finder.Strategy().String()),
		slog.String("Flags", options.Flags.String()),
	)

	return allocator, nil
}
