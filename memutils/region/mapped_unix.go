//go:build unix

package region

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/brkalloc/memutils"
	"golang.org/x/sys/unix"
)

// MappedRegion is a Grower backed by anonymous memory from the operating system. The full
// reservation is mapped inaccessible up front, so the region's address never changes, and pages
// are made readable and writable as the watermark crosses them.
type MappedRegion struct {
	data      []byte
	size      int
	committed int
	pageSize  int
}

var _ Grower = &MappedRegion{}

// NewMappedRegion reserves reserve bytes of address space. The region can never grow past the
// reservation, rounded up to the system page size.
func NewMappedRegion(reserve int) (*MappedRegion, error) {
	if reserve <= 0 {
		return nil, errors.Newf("region reservation must be positive, but was %d", reserve)
	}

	pageSize := os.Getpagesize()
	memutils.DebugCheckPow2(pageSize, "pageSize")
	reserve = memutils.AlignUp(reserve, pageSize)

	data, err := unix.Mmap(-1, 0, reserve, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes of address space", reserve)
	}

	return &MappedRegion{
		data:     data,
		pageSize: pageSize,
	}, nil
}

func (r *MappedRegion) Extend(size int) (int, error) {
	if r.data == nil {
		return 0, errors.New("attempted to extend a region that has been closed")
	}
	if size <= 0 {
		return 0, errors.Newf("attempted to extend a region by %d bytes", size)
	}

	start := r.size
	if size > len(r.data)-start {
		return 0, errors.Wrapf(ErrExhausted, "requested %d bytes, %d of %d reserved remain", size, len(r.data)-start, len(r.data))
	}

	end := start + size
	if end > r.committed {
		commitEnd := memutils.AlignUp(end, r.pageSize)
		if commitEnd > len(r.data) {
			commitEnd = len(r.data)
		}

		err := unix.Mprotect(r.data[r.committed:commitEnd], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return 0, errors.Wrapf(ErrExhausted, "failed to commit pages [%d, %d): %v", r.committed, commitEnd, err)
		}
		r.committed = commitEnd
	}

	r.size = end
	return start, nil
}

func (r *MappedRegion) Bytes() []byte { return r.data[:r.size] }

func (r *MappedRegion) Size() int { return r.size }

// Capacity is the largest size this region can reach
func (r *MappedRegion) Capacity() int { return len(r.data) }

// Close returns the reservation to the operating system. Every slice previously returned
// from Bytes becomes invalid.
func (r *MappedRegion) Close() error {
	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		err = nil
	}

	r.data = nil
	r.size = 0
	r.committed = 0
	return err
}
