package malloc

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/brkalloc/malloc/internal/utils"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/memutils/region"
	"golang.org/x/exp/slog"
)

// Pointer identifies an allocation by the offset of its payload within the allocator's region
type Pointer uintptr

// Nil is the absent Pointer. It is returned whenever an allocation fails, and releasing it is a no-op.
// No payload can live at offset 0, because the first block's header does.
const Nil Pointer = 0

// Allocator hands out blocks of a single growable region. It is the context object for every
// operation: the block ledger, the fit strategy's state, and the running counters all live here.
type Allocator struct {
	mutex       utils.OptionalMutex
	logger      *slog.Logger
	createFlags CreateFlags

	ledger *metadata.Ledger
	finder metadata.Finder

	// live maps every outstanding Pointer to the size the caller asked for
	live     *swiss.Map[Pointer, int]
	counters memutils.Counters
}

// Allocate returns a Pointer to at least size bytes, or Nil if size is not positive or the region
// cannot be extended to satisfy the request. The payload is not initialized.
func (a *Allocator) Allocate(size int) Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size))

	p, err := a.allocate(size)
	if err != nil {
		a.logAllocationFailure(size, err)
		return Nil
	}

	return p
}

// AllocateZeroed returns a Pointer to at least count*elementSize bytes, all set to zero, or Nil if
// either argument is not positive or the allocation fails. The product is not checked for overflow.
func (a *Allocator) AllocateZeroed(count, elementSize int) Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::AllocateZeroed", slog.Int("Count", count), slog.Int("ElementSize", elementSize))

	if count <= 0 || elementSize <= 0 {
		return Nil
	}

	size := count * elementSize
	p, err := a.allocate(size)
	if err != nil {
		a.logAllocationFailure(size, err)
		return Nil
	}

	// A reused block may hold stale data past the requested size, so clear all of it
	clear(a.ledger.Payload(a.mustResolve(p)))
	return p
}

// Resize changes the size of the allocation at p and returns its new location.
//
// If p is Nil, Resize behaves like Allocate. If newSize is 0, Resize releases p and returns Nil. When the
// block is already large enough, it is shrunk in place and p is returned. Otherwise a new block is
// allocated, the old payload is copied into it, and the old block is released. If that allocation
// fails, Nil is returned and p is left untouched.
func (a *Allocator) Resize(p Pointer, newSize int) Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Resize", slog.Uint64("Pointer", uint64(p)), slog.Int("NewSize", newSize))

	if p == Nil {
		newPointer, err := a.allocate(newSize)
		if err != nil {
			a.logAllocationFailure(newSize, err)
			return Nil
		}
		return newPointer
	}

	if newSize == 0 {
		a.release(p)
		return Nil
	}

	block := a.mustResolveLive(p)
	if newSize < 0 {
		return Nil
	}

	roundedSize := memutils.AlignUp(newSize, metadata.Alignment)
	if roundedSize <= a.ledger.BlockSize(block) {
		split, err := a.ledger.Shrink(block, roundedSize)
		if err != nil {
			panic(errors.WithAssertionFailure(errors.Wrapf(err, "failed to shrink pointer %d in place", p)))
		}
		if split {
			a.counters.Splits++
			a.counters.Blocks++
		}

		a.live.Put(p, newSize)
		return p
	}

	newPointer, err := a.allocate(newSize)
	if err != nil {
		a.logAllocationFailure(newSize, err)
		return Nil
	}

	// The old block is still in use, so the new block cannot overlap it
	copy(a.ledger.Payload(a.mustResolve(newPointer)), a.ledger.Payload(block))
	a.release(p)

	return newPointer
}

// Release returns the allocation at p to the allocator and merges every run of adjacent free blocks.
// Releasing Nil is a no-op. Releasing a pointer twice, or a pointer this allocator did not return,
// panics.
func (a *Allocator) Release(p Pointer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Release", slog.Uint64("Pointer", uint64(p)))

	a.release(p)
}

// Bytes returns the payload of the allocation at p, which is UsableSize(p) bytes long. The slice
// aliases the allocator's region and must not be used after p is released.
func (a *Allocator) Bytes(p Pointer) []byte {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.ledger.Payload(a.mustResolveLive(p))
}

// UsableSize returns the number of bytes the caller may use at p. It is at least the size that was
// requested, rounded up to the alignment unit, and may be more when a free block was reused whole.
func (a *Allocator) UsableSize(p Pointer) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.ledger.BlockSize(a.mustResolveLive(p))
}

// Statistics returns a snapshot of the allocator's running counters
func (a *Allocator) Statistics() memutils.Counters {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.counters
}

// Strategy returns the fit strategy the allocator was created with
func (a *Allocator) Strategy() metadata.FitStrategy {
	return a.finder.Strategy()
}

// AddDetailedStatistics sums the current state of the region, block by block, into stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.ledger.AddDetailedStatistics(stats)
}

// Validate performs a full consistency check of the ledger and of the allocator's bookkeeping. It is
// expensive and should only be used for diagnostics and tests.
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.ledger.Validate()
	if err != nil {
		return err
	}

	inUse := a.ledger.BlockCount() - a.ledger.FreeBlockCount()
	if a.live.Count() != inUse {
		return errors.Errorf("the allocator tracks %d live pointers, but the ledger has %d blocks in use", a.live.Count(), inUse)
	}

	a.live.Iter(func(p Pointer, requested int) (stop bool) {
		block, resolveErr := a.ledger.BlockFromPayload(int(p))
		switch {
		case resolveErr != nil:
			err = errors.Wrapf(resolveErr, "live pointer %d", p)
		case a.ledger.IsFree(block):
			err = errors.Errorf("live pointer %d refers to a free block", p)
		case a.ledger.BlockSize(block) < requested:
			err = errors.Errorf("live pointer %d was requested with %d bytes, but its block only holds %d", p, requested, a.ledger.BlockSize(block))
		}
		return err != nil
	})
	if err != nil {
		return err
	}

	if a.counters.Blocks != a.ledger.BlockCount() {
		return errors.Errorf("the block counter is %d, but the ledger has %d blocks", a.counters.Blocks, a.ledger.BlockCount())
	}
	if a.counters.PeakRegionBytes != a.ledger.RegionSize() {
		return errors.Errorf("the peak region size is %d, but the region is %d bytes", a.counters.PeakRegionBytes, a.ledger.RegionSize())
	}

	return nil
}

func (a *Allocator) allocate(size int) (Pointer, error) {
	if size <= 0 {
		return Nil, errors.Newf("invalid allocation size: %d", size)
	}

	roundedSize := memutils.AlignUp(size, metadata.Alignment)
	if roundedSize <= 0 {
		return Nil, errors.Newf("allocation size %d overflows when rounded to %d", size, metadata.Alignment)
	}

	success, request, err := a.ledger.CreateAllocationRequest(roundedSize, a.finder)
	if err != nil {
		return Nil, err
	}

	var block metadata.BlockOffset
	if success {
		err = a.ledger.Alloc(request)
		if err != nil {
			panic(errors.WithAssertionFailure(errors.Wrapf(err, "failed to commit %s request", request.Type)))
		}

		block = request.Block
		a.counters.Reuses++
		if request.Type == metadata.AllocationRequestSplit {
			a.counters.Splits++
			a.counters.Blocks++
		}
	} else {
		block, err = a.ledger.Grow(roundedSize)
		if errors.Is(err, region.ErrExhausted) {
			return Nil, errors.Mark(err, memutils.ErrOutOfMemory)
		} else if err != nil {
			return Nil, err
		}

		a.counters.Grows++
		a.counters.Blocks++
		a.counters.PeakRegionBytes = max(a.counters.PeakRegionBytes, a.ledger.RegionSize())

		a.logger.Debug("  Grew region",
			slog.Int("Size", roundedSize),
			slog.Int("RegionBytes", a.ledger.RegionSize()),
		)
	}

	a.counters.Allocations++
	a.counters.RequestedBytes += roundedSize

	p := Pointer(a.ledger.PayloadOffset(block))
	a.live.Put(p, size)
	fillAllocation(a.ledger.Payload(block), memutils.CreatedFillPattern)

	return p, nil
}

func (a *Allocator) release(p Pointer) {
	if p == Nil {
		return
	}

	block := a.mustResolveLive(p)
	fillAllocation(a.ledger.Payload(block), memutils.DestroyedFillPattern)

	err := a.ledger.Free(block)
	if err != nil {
		panic(errors.WithAssertionFailure(errors.Wrapf(err, "failed to release pointer %d", p)))
	}
	a.live.Delete(p)
	a.counters.Frees++

	merges := a.ledger.Coalesce(a.finder.Forget)
	a.counters.Coalesces += merges
	a.counters.Blocks -= merges
}

// mustResolve finds the block behind a pointer, panicking if the pointer does not sit exactly
// one header past the start of a block in the ledger
func (a *Allocator) mustResolve(p Pointer) metadata.BlockOffset {
	block, err := a.ledger.BlockFromPayload(int(p))
	if err != nil {
		panic(errors.WithAssertionFailure(errors.Wrapf(err, "pointer %d was not returned by this allocator", p)))
	}

	return block
}

// mustResolveLive finds the block behind a pointer that is currently allocated, panicking if the
// block was released or the pointer was never handed out
func (a *Allocator) mustResolveLive(p Pointer) metadata.BlockOffset {
	block := a.mustResolve(p)
	if a.ledger.IsFree(block) {
		panic(errors.WithAssertionFailure(errors.Wrapf(metadata.ErrBlockAlreadyFree, "pointer %d has already been released", p)))
	}
	if !a.live.Has(p) {
		panic(errors.AssertionFailedf("pointer %d resolves to an in-use block that this allocator never handed out", p))
	}

	return block
}

func (a *Allocator) logAllocationFailure(size int, err error) {
	if errors.Is(err, memutils.ErrOutOfMemory) {
		a.logger.Warn("Allocator: region exhausted",
			slog.Int("Size", size),
			slog.Int("RegionBytes", a.ledger.RegionSize()),
			slog.Any("error", err),
		)
		return
	}

	a.logger.Debug("  Allocation FAILED", slog.Int("Size", size), slog.Any("error", err))
}
