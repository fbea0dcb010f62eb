package memutils

import "math"

// Statistics is a point-in-time view of a managed region, computed by walking its blocks.
type Statistics struct {
	// BlockCount is the number of blocks, free or in use, currently in the region
	BlockCount int
	// AllocationCount is the number of blocks currently handed out to callers
	AllocationCount int
	// BlockBytes is the total payload capacity of all blocks
	BlockBytes int
	// AllocationBytes is the payload capacity of the blocks currently handed out to callers
	AllocationBytes int
	// HeaderBytes is the number of bytes consumed by block headers
	HeaderBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
	s.HeaderBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
	s.HeaderBytes += other.HeaderBytes
}

// RegionBytes is the full size of the region the statistics were gathered from
func (s *Statistics) RegionBytes() int {
	return s.BlockBytes + s.HeaderBytes
}

// DetailedStatistics extends Statistics with size ranges for free and in-use blocks. Free blocks
// are reported as unused ranges; their distribution is the fragmentation picture of the region.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// Counters is the running tally of allocator operations. Every field only ever grows, except
// Blocks, which falls by one for each coalesce.
type Counters struct {
	// Allocations is the number of successful allocations
	Allocations int
	// Frees is the number of releases of a live pointer
	Frees int
	// Reuses is the number of allocations satisfied from an existing free block
	Reuses int
	// Grows is the number of times the region was extended
	Grows int
	// Splits is the number of times a block was carved into an in-use block and a free remainder
	Splits int
	// Coalesces is the number of merges of two adjacent free blocks
	Coalesces int
	// Blocks is the number of blocks in the region, net of merges
	Blocks int
	// RequestedBytes is the sum of all successful allocation sizes, after rounding to the alignment unit
	RequestedBytes int
	// PeakRegionBytes is the largest size the region has reached, headers included
	PeakRegionBytes int
}

// FreeBlocksReused is the share of allocations served without growing the region, in [0, 1].
func (c Counters) FreeBlocksReused() float64 {
	if c.Allocations == 0 {
		return 0
	}
	return float64(c.Reuses) / float64(c.Allocations)
}
