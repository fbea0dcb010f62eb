package metadata

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// FitStrategy selects which free block satisfies an allocation when more than one is large enough.
type FitStrategy uint32

const (
	// FitFirst chooses the lowest-addressed free block that is large enough
	FitFirst FitStrategy = iota
	// FitBest chooses the smallest free block that is large enough, scanning the whole ledger. Ties go
	// to the lowest address. It leaves the smallest leftovers.
	FitBest
	// FitWorst chooses the largest free block, scanning the whole ledger. Ties go to the lowest address.
	// It leaves the largest leftovers, which stay usable for later large requests.
	FitWorst
	// FitNext resumes scanning after the block chosen by the previous successful search and stops at
	// the tail. It does not wrap around to the head: free blocks at or before the cursor are skipped, and a
	// request that finds nothing past the cursor grows the region instead.
	FitNext
)

var fitStrategyMapping = map[FitStrategy]string{
	FitFirst: "FitFirst",
	FitBest:  "FitBest",
	FitWorst: "FitWorst",
	FitNext:  "FitNext",
}

func (s FitStrategy) String() string {
	return fitStrategyMapping[s]
}

// ParseFitStrategy accepts a strategy name, either short ("first", "best", "worst", "next") or as
// produced by FitStrategy.String, case-insensitively
func ParseFitStrategy(name string) (FitStrategy, error) {
	normalized := strings.TrimPrefix(strings.ToLower(name), "fit")
	switch normalized {
	case "first":
		return FitFirst, nil
	case "best":
		return FitBest, nil
	case "worst":
		return FitWorst, nil
	case "next":
		return FitNext, nil
	}

	return FitFirst, errors.Newf("unknown fit strategy: %q", name)
}

// Finder searches a ledger for a free block of at least a given size
type Finder interface {
	// Strategy identifies the policy this finder implements
	Strategy() FitStrategy
	// FindFreeBlock returns a free block whose size is at least size, or NoBlock
	FindFreeBlock(ledger *Ledger, size int) BlockOffset
	// Forget is called when coalescing removes a block from the ledger, so that finders holding on to
	// a block can move to the block that absorbed it
	Forget(survivor, removed BlockOffset)
}

// NewFinder creates the Finder for a strategy
func NewFinder(strategy FitStrategy) (Finder, error) {
	switch strategy {
	case FitFirst:
		return firstFit{}, nil
	case FitBest:
		return bestFit{}, nil
	case FitWorst:
		return worstFit{}, nil
	case FitNext:
		return &NextFit{cursor: NoBlock}, nil
	}

	return nil, errors.Newf("unknown fit strategy: %d", strategy)
}

func fits(ledger *Ledger, block BlockOffset, size int) bool {
	return ledger.IsFree(block) && ledger.BlockSize(block) >= size
}

type stateless struct{}

func (stateless) Forget(survivor, removed BlockOffset) {}

type firstFit struct{ stateless }

func (firstFit) Strategy() FitStrategy { return FitFirst }

func (firstFit) FindFreeBlock(ledger *Ledger, size int) BlockOffset {
	for block := ledger.Head(); block != NoBlock; block = ledger.Next(block) {
		if fits(ledger, block, size) {
			return block
		}
	}

	return NoBlock
}

type bestFit struct{ stateless }

func (bestFit) Strategy() FitStrategy { return FitBest }

func (bestFit) FindFreeBlock(ledger *Ledger, size int) BlockOffset {
	best := NoBlock
	bestSize := 0

	for block := ledger.Head(); block != NoBlock; block = ledger.Next(block) {
		if !fits(ledger, block, size) {
			continue
		}

		blockSize := ledger.BlockSize(block)
		if best == NoBlock || blockSize < bestSize {
			best = block
			bestSize = blockSize
		}
	}

	return best
}

type worstFit struct{ stateless }

func (worstFit) Strategy() FitStrategy { return FitWorst }

func (worstFit) FindFreeBlock(ledger *Ledger, size int) BlockOffset {
	worst := NoBlock
	worstSize := 0

	for block := ledger.Head(); block != NoBlock; block = ledger.Next(block) {
		if !fits(ledger, block, size) {
			continue
		}

		blockSize := ledger.BlockSize(block)
		if worst == NoBlock || blockSize > worstSize {
			worst = block
			worstSize = blockSize
		}
	}

	return worst
}

// NextFit is the Finder for FitNext. It remembers the block chosen by its last successful search.
type NextFit struct {
	cursor BlockOffset
}

func (f *NextFit) Strategy() FitStrategy { return FitNext }

// Cursor returns the block chosen by the last successful search, or NoBlock if there has not been one
func (f *NextFit) Cursor() BlockOffset { return f.cursor }

func (f *NextFit) FindFreeBlock(ledger *Ledger, size int) BlockOffset {
	start := ledger.Head()
	if f.cursor != NoBlock {
		start = ledger.Next(f.cursor)
	}

	for block := start; block != NoBlock; block = ledger.Next(block) {
		if fits(ledger, block, size) {
			f.cursor = block
			return block
		}
	}

	return NoBlock
}

func (f *NextFit) Forget(survivor, removed BlockOffset) {
	if f.cursor == removed {
		f.cursor = survivor
	}
}
