// Package region supplies the growable, contiguous byte regions that block metadata is laid out in.
//
// A region only ever grows at its tail and never moves: every byte handed out by Extend keeps its
// offset for the lifetime of the region. Regions are not safe for concurrent use. Two actors
// extending the same region interleaved would break the contiguity every consumer relies on.
package region

import "github.com/cockroachdb/errors"

//go:generate mockgen -source region.go -destination ./mocks/grower.go -package mock_region

// ErrExhausted is returned from Extend when the host cannot make the region any larger
var ErrExhausted error = errors.New("region exhausted")

// Grower is a contiguous region of memory that can be extended at its tail.
type Grower interface {
	// Extend grows the region by size bytes and returns the offset of the first new byte, which
	// is always the previous value of Size. If the host denies the request, ErrExhausted (possibly
	// wrapped) is returned and the region is unchanged.
	Extend(size int) (int, error)
	// Bytes returns the whole region, from offset 0 to Size. The returned slice aliases the region
	// and stays valid after later calls to Extend.
	Bytes() []byte
	// Size is the current watermark of the region in bytes
	Size() int
}
