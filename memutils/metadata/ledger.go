package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/region"
)

var (
	// ErrBlockAlreadyFree is returned when attempting to free a block that is already free
	ErrBlockAlreadyFree error = errors.New("block is already free")
	// ErrInvalidPayload is returned when a payload offset does not belong to any block in the ledger
	ErrInvalidPayload error = errors.New("payload offset does not belong to a block")
)

// Ledger is the address-ordered list of every block in a region. Blocks are strictly contiguous:
// each block's header starts exactly where the previous block's payload ends, and the tail's payload
// ends at the region's watermark. Blocks are appended only at the tail, and a split only ever inserts
// the remainder directly after the block being split.
type Ledger struct {
	region region.Grower

	head BlockOffset
	tail BlockOffset

	blockCount     int
	freeBlockCount int
}

// NewLedger creates a ledger over an empty region
func NewLedger(grower region.Grower) (*Ledger, error) {
	if grower == nil {
		return nil, errors.New("attempted to create a ledger without a region")
	}
	if grower.Size() != 0 {
		return nil, errors.Newf("a ledger must begin with an empty region, but the region already holds %d bytes", grower.Size())
	}

	return &Ledger{
		region: grower,
		head:   NoBlock,
		tail:   NoBlock,
	}, nil
}

// Head returns the lowest-addressed block, or NoBlock if the region is empty
func (l *Ledger) Head() BlockOffset { return l.head }

// Tail returns the highest-addressed block, or NoBlock if the region is empty
func (l *Ledger) Tail() BlockOffset { return l.tail }

// BlockCount returns the number of blocks in the ledger
func (l *Ledger) BlockCount() int { return l.blockCount }

// FreeBlockCount returns the number of blocks that are not handed out
func (l *Ledger) FreeBlockCount() int { return l.freeBlockCount }

// RegionSize returns the size in bytes of the region described by the ledger, headers included
func (l *Ledger) RegionSize() int { return l.region.Size() }

func checkRequestSize(size int) error {
	if size < 1 {
		return errors.Newf("invalid allocation size: %d", size)
	}
	if size%Alignment != 0 {
		return errors.Newf("allocation size %d is not a multiple of the alignment unit %d", size, Alignment)
	}
	return nil
}

// CreateAllocationRequest asks finder for a free block that can hold size bytes. If one is found, the
// returned AllocationRequest describes how it will be used and can be committed with Alloc. size must
// already be rounded up to Alignment.
func (l *Ledger) CreateAllocationRequest(size int, finder Finder) (bool, AllocationRequest, error) {
	var request AllocationRequest

	err := checkRequestSize(size)
	if err != nil {
		return false, request, err
	}

	memutils.DebugValidate(l)

	block := finder.FindFreeBlock(l, size)
	if block == NoBlock {
		return false, request, nil
	}

	request.Block = block
	request.Size = size
	request.Type = AllocationRequestReuse
	if l.canSplit(block, size) {
		request.Type = AllocationRequestSplit
	}

	return true, request, nil
}

// Alloc commits an AllocationRequest created by CreateAllocationRequest, marking the chosen block in use
// and carving off the free remainder if the request calls for a split.
func (l *Ledger) Alloc(request AllocationRequest) error {
	block := request.Block
	if block == NoBlock {
		return errors.New("allocation request does not refer to a block")
	}
	if !l.IsFree(block) {
		return errors.Newf("block at offset %d is no longer free", block)
	}
	if l.BlockSize(block) < request.Size {
		return errors.Newf("block at offset %d has size %d, which is too small for the requested %d", block, l.BlockSize(block), request.Size)
	}

	switch request.Type {
	case AllocationRequestReuse:
	case AllocationRequestSplit:
		if !l.canSplit(block, request.Size) {
			return errors.Newf("block at offset %d cannot be split to size %d", block, request.Size)
		}
		l.split(block, request.Size)
	default:
		return errors.Newf("unknown allocation request type: %s", request.Type.String())
	}

	l.setFree(block, false)
	l.freeBlockCount--

	return nil
}

// canSplit reports whether the leftover after carving size bytes out of block is large enough to hold
// a header of its own. Smaller leftovers stay with the block as internal fragmentation.
func (l *Ledger) canSplit(block BlockOffset, size int) bool {
	return l.BlockSize(block)-size > HeaderSize
}

// split shrinks block to size and inserts the remainder as a new free block directly after it
func (l *Ledger) split(block BlockOffset, size int) BlockOffset {
	originalSize := l.BlockSize(block)
	next := l.Next(block)

	remainder := BlockOffset(l.PayloadOffset(block) + size)
	l.writeHeader(remainder, originalSize-size-HeaderSize, next, true)

	l.setSize(block, size)
	l.setNext(block, remainder)
	if l.tail == block {
		l.tail = remainder
	}

	l.blockCount++
	l.freeBlockCount++

	return remainder
}

// Grow extends the region by exactly one header plus size bytes and appends the new space to the
// tail of the ledger as an in-use block. If the region cannot be extended, the error is returned and
// the ledger is unchanged.
func (l *Ledger) Grow(size int) (BlockOffset, error) {
	err := checkRequestSize(size)
	if err != nil {
		return NoBlock, err
	}

	watermark := l.region.Size()
	if size > MaxRegionSize-watermark-HeaderSize {
		return NoBlock, errors.Wrapf(region.ErrExhausted, "growing by %d bytes would exceed the maximum region size %d", HeaderSize+size, MaxRegionSize)
	}

	start, err := l.region.Extend(HeaderSize + size)
	if err != nil {
		return NoBlock, err
	}
	if start != watermark {
		panic(errors.AssertionFailedf("region grew at offset %d but its previous end was %d: the region was extended by another actor", start, watermark))
	}

	block := BlockOffset(start)
	l.writeHeader(block, size, NoBlock, false)

	if l.head == NoBlock {
		l.head = block
	} else {
		l.setNext(l.tail, block)
	}
	l.tail = block
	l.blockCount++

	return block, nil
}

// Shrink reduces an in-use block to size bytes in place, splitting off the remainder as a free block
// when it is large enough to hold a header. It returns true if a split took place.
func (l *Ledger) Shrink(block BlockOffset, size int) (bool, error) {
	err := checkRequestSize(size)
	if err != nil {
		return false, err
	}
	if l.IsFree(block) {
		return false, errors.Newf("block at offset %d is free and cannot be shrunk", block)
	}
	if size > l.BlockSize(block) {
		return false, errors.Newf("block at offset %d has size %d, which cannot be shrunk to %d", block, l.BlockSize(block), size)
	}

	if !l.canSplit(block, size) {
		return false, nil
	}

	l.split(block, size)
	return true, nil
}

// Free marks an in-use block as free. Neighbouring free blocks are not merged until Coalesce runs.
func (l *Ledger) Free(block BlockOffset) error {
	if l.IsFree(block) {
		return errors.Wrapf(ErrBlockAlreadyFree, "block at offset %d", block)
	}

	l.setFree(block, true)
	l.freeBlockCount++
	return nil
}

// Coalesce walks the whole ledger from the head and merges every pair of adjacent free blocks: the
// left block absorbs the right block's header and payload, and the right block leaves the ledger.
// A run of any length collapses into a single block in one pass. onMerge, if not nil, is called once
// per merge after the right block has been removed. The number of merges is returned.
func (l *Ledger) Coalesce(onMerge func(survivor, removed BlockOffset)) int {
	merges := 0

	for block := l.head; block != NoBlock; {
		next := l.Next(block)
		if next == NoBlock {
			break
		}

		if !l.IsFree(block) || !l.IsFree(next) {
			block = next
			continue
		}

		l.setSize(block, l.BlockSize(block)+HeaderSize+l.BlockSize(next))
		l.setNext(block, l.Next(next))
		if l.tail == next {
			l.tail = block
		}
		l.scrubHeader(next)

		l.blockCount--
		l.freeBlockCount--
		merges++

		if onMerge != nil {
			onMerge(block, next)
		}

		// Stay on block: its new neighbour may be free as well
	}

	memutils.DebugValidate(l)

	return merges
}

// BlockFromPayload resolves a payload offset back to the block that owns it. The offset must sit
// exactly one header past the start of a block that is part of the ledger.
func (l *Ledger) BlockFromPayload(payloadOffset int) (BlockOffset, error) {
	headerOffset := payloadOffset - HeaderSize
	if headerOffset < 0 || payloadOffset > l.region.Size() {
		return NoBlock, errors.Wrapf(ErrInvalidPayload, "offset %d is outside the region [%d, %d]", payloadOffset, HeaderSize, l.region.Size())
	}
	if payloadOffset%Alignment != 0 {
		return NoBlock, errors.Wrapf(ErrInvalidPayload, "offset %d is not aligned to %d", payloadOffset, Alignment)
	}

	block := BlockOffset(headerOffset)
	if !l.hasValidTag(block) {
		return NoBlock, errors.Wrapf(ErrInvalidPayload, "offset %d does not follow a block header", payloadOffset)
	}
	if payloadOffset+l.BlockSize(block) > l.region.Size() {
		return NoBlock, errors.Wrapf(ErrInvalidPayload, "block at offset %d claims size %d, past the end of the region", block, l.BlockSize(block))
	}

	return block, nil
}

// Validate performs a full consistency check of the ledger. It is expensive and should only be used
// for diagnostics and tests.
func (l *Ledger) Validate() error {
	if l.head == NoBlock {
		if l.tail != NoBlock {
			return errors.New("ledger has a tail but no head")
		}
		if l.blockCount != 0 || l.freeBlockCount != 0 {
			return errors.Newf("empty ledger reports %d blocks, %d free", l.blockCount, l.freeBlockCount)
		}
		if l.region.Size() != 0 {
			return errors.Newf("empty ledger describes a region of %d bytes", l.region.Size())
		}
		return nil
	}

	if l.head != 0 {
		return errors.Newf("the head block should have an offset of 0, but instead it has an offset of %d", l.head)
	}

	expectedOffset := 0
	var blockCount, freeCount int
	last := NoBlock

	for block := l.head; block != NoBlock; block = l.Next(block) {
		if int(block) != expectedOffset {
			return errors.Errorf("block at offset %d should start at offset %d, where the previous block ends", block, expectedOffset)
		}
		if int(block)+HeaderSize > l.region.Size() {
			return errors.Errorf("block at offset %d has a header past the end of the region", block)
		}
		if !l.hasValidTag(block) {
			return errors.Errorf("block at offset %d has a corrupt header tag", block)
		}

		size := l.BlockSize(block)
		if size%Alignment != 0 {
			return errors.Errorf("block at offset %d has size %d, which is not a multiple of %d", block, size, Alignment)
		}

		blockCount++
		if l.IsFree(block) {
			freeCount++
		}

		expectedOffset = l.PayloadOffset(block) + size
		last = block
	}

	if last != l.tail {
		return errors.Errorf("the ledger's tail is at offset %d, but the last block is at offset %d", l.tail, last)
	}
	if expectedOffset != l.region.Size() {
		return errors.Errorf("the blocks end at offset %d, but the region ends at offset %d", expectedOffset, l.region.Size())
	}
	if blockCount != l.blockCount {
		return errors.Errorf("the block count of the ledger is %d, but the blocks only added up to %d", l.blockCount, blockCount)
	}
	if freeCount != l.freeBlockCount {
		return errors.Errorf("the free block count of the ledger is %d, but there were only %d free blocks", l.freeBlockCount, freeCount)
	}

	return nil
}

// VisitAllRegions calls handleBlock once for each block in address order. Iteration stops at the
// first error, which is returned.
func (l *Ledger) VisitAllRegions(handleBlock func(block BlockOffset, size int, free bool) error) error {
	for block := l.head; block != NoBlock; block = l.Next(block) {
		err := handleBlock(block, l.BlockSize(block), l.IsFree(block))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this ledger's block statistics into the provided memutils.Statistics object
func (l *Ledger) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount += l.blockCount
	stats.HeaderBytes += l.blockCount * HeaderSize

	for block := l.head; block != NoBlock; block = l.Next(block) {
		size := l.BlockSize(block)
		stats.BlockBytes += size

		if !l.IsFree(block) {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
	}
}

// AddDetailedStatistics sums this ledger's block statistics, including free range and allocation
// size extremes, into the provided memutils.DetailedStatistics object
func (l *Ledger) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount += l.blockCount
	stats.HeaderBytes += l.blockCount * HeaderSize

	for block := l.head; block != NoBlock; block = l.Next(block) {
		size := l.BlockSize(block)
		stats.BlockBytes += size

		if l.IsFree(block) {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
	}
}

// BlockJsonData populates a json object with summary information about the ledger
func (l *Ledger) BlockJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	l.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(l.region.Size())
	json.Name("HeaderBytes").Int(stats.HeaderBytes)
	json.Name("UnusedBytes").Int(stats.BlockBytes - stats.AllocationBytes)
	json.Name("Blocks").Int(stats.BlockCount)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)
}

func (l *Ledger) String() string {
	return fmt.Sprintf("Ledger{blocks: %d, free: %d, region: %d bytes}", l.blockCount, l.freeBlockCount, l.region.Size())
}
