package malloc_test

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/brkalloc/malloc"
	"github.com/vkngwrapper/brkalloc/memutils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/memutils/region"
	mock_region "github.com/vkngwrapper/brkalloc/memutils/region/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

var allStrategies = []metadata.FitStrategy{
	metadata.FitFirst,
	metadata.FitBest,
	metadata.FitWorst,
	metadata.FitNext,
}

func newAllocator(t *testing.T, strategy metadata.FitStrategy, capacity int) (*malloc.Allocator, *region.SliceRegion) {
	t.Helper()

	r, err := region.NewSliceRegion(capacity)
	require.NoError(t, err)

	allocator, err := malloc.New(nil, malloc.CreateOptions{
		Strategy: strategy,
		Region:   r,
	})
	require.NoError(t, err)
	require.Equal(t, strategy, allocator.Strategy())

	return allocator, r
}

func requireAssertionPanic(t *testing.T, f func()) error {
	t.Helper()

	var recovered any
	func() {
		defer func() {
			recovered = recover()
		}()
		f()
	}()

	require.NotNil(t, recovered, "expected a panic")
	err, ok := recovered.(error)
	require.True(t, ok, "expected the panic value to be an error, got %T", recovered)
	require.True(t, errors.HasAssertionFailure(err), "expected an assertion failure, got %+v", err)

	return err
}

func TestNewDefaults(t *testing.T) {
	allocator, err := malloc.New(nil, malloc.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, metadata.FitFirst, allocator.Strategy())

	p := allocator.Allocate(malloc.DefaultRegionCapacity / 2)
	require.NotEqual(t, malloc.Nil, p)
	require.Equal(t, malloc.Nil, allocator.Allocate(malloc.DefaultRegionCapacity/2))
}

func TestNewRejectsUsedRegion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	grower := mock_region.NewMockGrower(ctrl)
	grower.EXPECT().Size().Return(64).AnyTimes()

	_, err := malloc.New(nil, malloc.CreateOptions{Region: grower})
	require.Error(t, err)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := malloc.New(nil, malloc.CreateOptions{Strategy: metadata.FitStrategy(12)})
	require.Error(t, err)
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", malloc.CreateFlags(0).String())
	require.Equal(t, "CreateSynchronized", malloc.CreateSynchronized.String())
	require.Equal(t, "CreateSynchronized|Unknown", (malloc.CreateSynchronized | 4).String())
}

func TestAllocateReuse(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator, _ := newAllocator(t, strategy, 4096)

			p := allocator.Allocate(24)
			require.NotEqual(t, malloc.Nil, p)
			allocator.Release(p)

			before := allocator.Statistics()
			q := allocator.Allocate(24)
			after := allocator.Statistics()

			require.Equal(t, p, q)
			require.Equal(t, before.Reuses+1, after.Reuses)
			require.Equal(t, before.Grows, after.Grows)
			require.NoError(t, allocator.Validate())
		})
	}
}

func TestAllocateGrowthAccounting(t *testing.T) {
	allocator, r := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(100)
	require.NotEqual(t, malloc.Nil, p)
	regionBefore := r.Size()
	before := allocator.Statistics()

	q := allocator.Allocate(10)
	require.NotEqual(t, malloc.Nil, q)

	after := allocator.Statistics()
	require.Equal(t, regionBefore+metadata.HeaderSize+12, r.Size())
	require.Equal(t, before.Grows+1, after.Grows)
	require.Equal(t, before.Blocks+1, after.Blocks)
	require.Equal(t, 12, allocator.UsableSize(q))
	require.Len(t, allocator.Bytes(q), 12)
	require.Equal(t, r.Size(), after.PeakRegionBytes)

	require.Equal(t, memutils.Counters{
		Allocations:     2,
		Grows:           2,
		Blocks:          2,
		RequestedBytes:  112,
		PeakRegionBytes: 2*metadata.HeaderSize + 112,
	}, after)
}

func TestAllocateAlignment(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	for size := 1; size < 40; size++ {
		p := allocator.Allocate(size)
		require.NotEqual(t, malloc.Nil, p)
		require.Zero(t, uintptr(p)%uintptr(metadata.Alignment))
		require.GreaterOrEqual(t, allocator.UsableSize(p), size)
	}

	require.NoError(t, allocator.Validate())
}

func TestAllocateInvalidSize(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	require.Equal(t, malloc.Nil, allocator.Allocate(0))
	require.Equal(t, malloc.Nil, allocator.Allocate(-8))
	require.Equal(t, memutils.Counters{}, allocator.Statistics())
}

func TestAllocateExhausted(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	r, err := region.NewSliceRegion(64)
	require.NoError(t, err)

	allocator, err := malloc.New(logger, malloc.CreateOptions{Region: r})
	require.NoError(t, err)

	p := allocator.Allocate(40)
	require.NotEqual(t, malloc.Nil, p)
	before := allocator.Statistics()

	require.Equal(t, malloc.Nil, allocator.Allocate(8))
	require.Equal(t, before, allocator.Statistics())
	require.Equal(t, 56, r.Size())
	require.Contains(t, logs.String(), "region exhausted")
	require.NoError(t, allocator.Validate())

	// Memory released by the caller is usable again
	allocator.Release(p)
	q := allocator.Allocate(8)
	require.Equal(t, p, q)
	require.Equal(t, before.Splits+1, allocator.Statistics().Splits)
	require.NoError(t, allocator.Validate())
}

func TestAllocateSplit(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(100)
	guard := allocator.Allocate(4)
	allocator.Release(p)

	q := allocator.Allocate(40)
	require.Equal(t, p, q)
	require.Equal(t, 40, allocator.UsableSize(q))

	remainder := q + malloc.Pointer(40+metadata.HeaderSize)
	require.Equal(t, remainder+malloc.Pointer(100-40-metadata.HeaderSize+metadata.HeaderSize), guard)

	stats := allocator.Statistics()
	require.Equal(t, 1, stats.Splits)
	require.Equal(t, 3, stats.Blocks)

	// The remainder is free and can be handed out whole
	r := allocator.Allocate(100 - 40 - metadata.HeaderSize)
	require.Equal(t, remainder, r)
	require.NoError(t, allocator.Validate())
}

func TestAllocateNoSplitWhenLeftoverTooSmall(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(40)
	allocator.Allocate(4)
	allocator.Release(p)

	q := allocator.Allocate(24)
	require.Equal(t, p, q)
	require.Equal(t, 40, allocator.UsableSize(q))
	require.Equal(t, 0, allocator.Statistics().Splits)
	require.Equal(t, 2, allocator.Statistics().Blocks)
}

// fragment lays out free blocks of 50, 10 and 30 requested bytes in address order, each followed by
// a live 4-byte block
func fragment(t *testing.T, allocator *malloc.Allocator) (large, small, medium malloc.Pointer) {
	t.Helper()

	large = allocator.Allocate(50)
	allocator.Allocate(4)
	small = allocator.Allocate(10)
	allocator.Allocate(4)
	medium = allocator.Allocate(30)
	allocator.Allocate(4)

	allocator.Release(large)
	allocator.Release(small)
	allocator.Release(medium)
	require.Equal(t, 0, allocator.Statistics().Coalesces)

	return large, small, medium
}

func TestStrategyDifferentiation(t *testing.T) {
	testCases := map[metadata.FitStrategy]string{
		metadata.FitFirst: "large",
		metadata.FitBest:  "small",
		metadata.FitWorst: "large",
		metadata.FitNext:  "large",
	}

	for strategy, expected := range testCases {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator, _ := newAllocator(t, strategy, 4096)
			large, small, medium := fragment(t, allocator)
			blocks := map[string]malloc.Pointer{"large": large, "small": small, "medium": medium}

			grows := allocator.Statistics().Grows
			require.Equal(t, blocks[expected], allocator.Allocate(10))
			require.Equal(t, grows, allocator.Statistics().Grows)
			require.NoError(t, allocator.Validate())
		})
	}
}

func TestNextFitDoesNotWrap(t *testing.T) {
	allocator, r := newAllocator(t, metadata.FitNext, 4096)
	large, _, medium := fragment(t, allocator)

	require.Equal(t, large, allocator.Allocate(10))
	require.Equal(t, medium, allocator.Allocate(30))

	// The remainder of large could hold this, but it is behind the cursor
	before := allocator.Statistics()
	regionBefore := r.Size()
	p := allocator.Allocate(20)
	require.Equal(t, malloc.Pointer(regionBefore+metadata.HeaderSize), p)
	require.Equal(t, before.Grows+1, allocator.Statistics().Grows)

	// First fit takes the remainder instead
	first, _ := newAllocator(t, metadata.FitFirst, 4096)
	large, _, medium = fragment(t, first)
	require.Equal(t, large, first.Allocate(10))
	require.Equal(t, medium, first.Allocate(30))
	require.Equal(t, large+malloc.Pointer(12+metadata.HeaderSize), first.Allocate(20))
}

func TestReleaseNil(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	allocator.Release(malloc.Nil)
	require.Equal(t, memutils.Counters{}, allocator.Statistics())
}

func TestReleaseCoalesces(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	a := allocator.Allocate(20)
	b := allocator.Allocate(32)
	c := allocator.Allocate(12)

	allocator.Release(b)
	require.Equal(t, 0, allocator.Statistics().Coalesces)

	allocator.Release(a)
	stats := allocator.Statistics()
	require.Equal(t, 1, stats.Coalesces)
	require.Equal(t, 2, stats.Frees)
	require.Equal(t, 2, stats.Blocks)

	// c is untouched and a's block now spans b
	require.Equal(t, 12, allocator.UsableSize(c))
	require.Equal(t, a, allocator.Allocate(20+metadata.HeaderSize+32))
	require.NoError(t, allocator.Validate())
}

func TestReleaseChainedCoalesce(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	a := allocator.Allocate(20)
	b := allocator.Allocate(32)
	c := allocator.Allocate(12)
	allocator.Allocate(4)

	allocator.Release(a)
	allocator.Release(c)
	require.Equal(t, 0, allocator.Statistics().Coalesces)

	allocator.Release(b)
	stats := allocator.Statistics()
	require.Equal(t, 2, stats.Coalesces)
	require.Equal(t, 2, stats.Blocks)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	allocator.AddDetailedStatistics(&detailed)
	require.Equal(t, 1, detailed.UnusedRangeCount)
	require.Equal(t, 20+32+12+2*metadata.HeaderSize, detailed.UnusedRangeSizeMax)
	require.NoError(t, allocator.Validate())
}

func TestReleaseTwicePanics(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(16)
	allocator.Allocate(16)
	allocator.Release(p)

	err := requireAssertionPanic(t, func() {
		allocator.Release(p)
	})
	require.True(t, errors.Is(err, metadata.ErrBlockAlreadyFree))
	require.Equal(t, 1, allocator.Statistics().Frees)
}

func TestReleaseTwiceAfterCoalescePanics(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	a := allocator.Allocate(16)
	b := allocator.Allocate(16)
	allocator.Allocate(16)
	allocator.Release(a)
	allocator.Release(b)

	err := requireAssertionPanic(t, func() {
		allocator.Release(b)
	})
	require.True(t, errors.Is(err, metadata.ErrInvalidPayload))
}

func TestReleaseForeignPointerPanics(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(64)

	testCases := map[string]malloc.Pointer{
		"InsideHeader":  4,
		"Unaligned":     p + 1,
		"InsidePayload": p + 32,
		"PastRegion":    p + 4096,
	}

	for name, foreign := range testCases {
		t.Run(name, func(t *testing.T) {
			requireAssertionPanic(t, func() {
				allocator.Release(foreign)
			})
		})
	}

	require.NoError(t, allocator.Validate())
}

func TestBytesOfReleasedPointerPanics(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(8)
	allocator.Allocate(8)
	allocator.Release(p)

	requireAssertionPanic(t, func() {
		allocator.Bytes(p)
	})
	requireAssertionPanic(t, func() {
		allocator.UsableSize(p)
	})
}

func TestAllocateZeroed(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(32)
	payload := allocator.Bytes(p)
	for i := range payload {
		payload[i] = 0xFF
	}
	allocator.Release(p)

	q := allocator.AllocateZeroed(4, 8)
	require.Equal(t, p, q)
	require.Equal(t, make([]byte, 32), allocator.Bytes(q))
	require.Equal(t, 1, allocator.Statistics().Reuses)
}

func TestAllocateZeroedClearsWholeBlock(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	p := allocator.Allocate(40)
	allocator.Allocate(4)
	payload := allocator.Bytes(p)
	for i := range payload {
		payload[i] = 0xAB
	}
	allocator.Release(p)

	// 28 bytes leaves a 12 byte leftover, too small to split off
	q := allocator.AllocateZeroed(7, 4)
	require.Equal(t, p, q)
	require.Equal(t, 40, allocator.UsableSize(q))
	require.Equal(t, make([]byte, 40), allocator.Bytes(q))
}

func TestAllocateZeroedInvalid(t *testing.T) {
	allocator, _ := newAllocator(t, metadata.FitFirst, 4096)

	require.Equal(t, malloc.Nil, allocator.AllocateZeroed(0, 8))
	require.Equal(t, malloc.Nil, allocator.AllocateZeroed(8, 0))
	require.Equal(t, malloc.Nil, allocator.AllocateZeroed(-1, 8))
	require.Equal(t, memutils.Counters{}, allocator.Statistics())
}

func TestRandomWorkload(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator, _ := newAllocator(t, strategy, 4*1024*1024)
			random := rand.New(rand.NewSource(42))

			type allocation struct {
				pointer malloc.Pointer
				size    int
				fill    byte
			}
			var live []allocation

			for i := 0; i < 2000; i++ {
				op := random.Intn(10)

				switch {
				case op < 5 || len(live) == 0:
					size := 1 + random.Intn(256)
					var p malloc.Pointer
					if op == 0 {
						p = allocator.AllocateZeroed(size, 1)
					} else {
						p = allocator.Allocate(size)
					}
					require.NotEqual(t, malloc.Nil, p)

					fill := byte(i)
					payload := allocator.Bytes(p)
					for j := 0; j < size; j++ {
						payload[j] = fill
					}
					live = append(live, allocation{p, size, fill})
				case op < 8:
					index := random.Intn(len(live))
					a := live[index]
					require.Equal(t, bytes.Repeat([]byte{a.fill}, a.size), allocator.Bytes(a.pointer)[:a.size])

					allocator.Release(a.pointer)
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]
				default:
					index := random.Intn(len(live))
					a := live[index]
					newSize := 1 + random.Intn(512)

					p := allocator.Resize(a.pointer, newSize)
					require.NotEqual(t, malloc.Nil, p)

					preserved := min(a.size, newSize)
					require.Equal(t, bytes.Repeat([]byte{a.fill}, preserved), allocator.Bytes(p)[:preserved])

					payload := allocator.Bytes(p)
					for j := 0; j < newSize; j++ {
						payload[j] = a.fill
					}
					live[index] = allocation{p, newSize, a.fill}
				}

				if i%100 == 0 {
					require.NoError(t, allocator.Validate())
				}
			}

			for _, a := range live {
				allocator.Release(a.pointer)
			}
			require.NoError(t, allocator.Validate())

			stats := allocator.Statistics()
			require.Equal(t, stats.Allocations, stats.Frees)
			require.Equal(t, 1, stats.Blocks)
		})
	}
}

func TestSynchronized(t *testing.T) {
	allocator, err := malloc.New(nil, malloc.CreateOptions{
		Flags:    malloc.CreateSynchronized,
		Strategy: metadata.FitBest,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			var pointers []malloc.Pointer
			for i := 0; i < 200; i++ {
				pointers = append(pointers, allocator.Allocate(8+worker*4+i%32))
				if i%3 == 0 {
					allocator.Release(pointers[0])
					pointers = pointers[1:]
				}
			}
			for _, p := range pointers {
				allocator.Release(p)
			}
		}(worker)
	}
	wg.Wait()

	require.NoError(t, allocator.Validate())
	stats := allocator.Statistics()
	require.Equal(t, 8*200, stats.Allocations)
	require.Equal(t, stats.Allocations, stats.Frees)
	require.Equal(t, 1, stats.Blocks)
}
