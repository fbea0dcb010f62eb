// Package malloc is a general-purpose allocator over a single growable region of memory. It offers the
// four familiar entry points (Allocate, AllocateZeroed, Resize, and Release) and hands out Pointer
// values, which are payload offsets into the region. Bytes resolves a Pointer to the memory behind it.
//
// Blocks are kept in an address-ordered ledger. An allocation is served from a free block chosen by the
// allocator's fit strategy, splitting the block when the leftover can hold a header of its own, and
// grows the region only when no free block is large enough. Every release walks the whole ledger and
// merges each run of adjacent free blocks into one.
//
// Failures that a caller can recover from, like a zero-size request or an exhausted region, are
// reported by returning Nil. Protocol violations, like releasing a pointer twice or releasing a pointer
// this allocator never returned, panic: continuing would silently corrupt the ledger.
//
// The allocator is not safe for concurrent use unless it is created with CreateSynchronized.
//
// Known limitation: AllocateZeroed does not check count*elementSize for overflow. A product that wraps
// to a non-positive value is rejected like any other invalid size; one that wraps to a small positive
// value is allocated at that smaller size.
package malloc
