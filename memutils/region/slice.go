package region

import (
	"github.com/cockroachdb/errors"
)

// SliceRegion is a Grower backed by a single Go allocation of fixed capacity. Growth reslices
// within that capacity, so the backing array never moves.
type SliceRegion struct {
	buf []byte
}

var _ Grower = &SliceRegion{}

// NewSliceRegion creates a region that can grow up to capacity bytes
func NewSliceRegion(capacity int) (*SliceRegion, error) {
	if capacity <= 0 {
		return nil, errors.Newf("region capacity must be positive, but was %d", capacity)
	}

	return &SliceRegion{
		buf: make([]byte, 0, capacity),
	}, nil
}

func (r *SliceRegion) Extend(size int) (int, error) {
	if size <= 0 {
		return 0, errors.Newf("attempted to extend a region by %d bytes", size)
	}

	start := len(r.buf)
	if size > cap(r.buf)-start {
		return 0, errors.Wrapf(ErrExhausted, "requested %d bytes, %d of %d remain", size, cap(r.buf)-start, cap(r.buf))
	}

	r.buf = r.buf[:start+size]
	return start, nil
}

func (r *SliceRegion) Bytes() []byte { return r.buf }

func (r *SliceRegion) Size() int { return len(r.buf) }

// Capacity is the largest size this region can reach
func (r *SliceRegion) Capacity() int { return cap(r.buf) }
