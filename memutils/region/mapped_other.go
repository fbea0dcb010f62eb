//go:build !unix

package region

// MappedRegion falls back to a Go allocation where anonymous mappings are not available.
type MappedRegion struct {
	SliceRegion
}

var _ Grower = &MappedRegion{}

// NewMappedRegion reserves reserve bytes for the region to grow into.
func NewMappedRegion(reserve int) (*MappedRegion, error) {
	slice, err := NewSliceRegion(reserve)
	if err != nil {
		return nil, err
	}

	return &MappedRegion{SliceRegion: *slice}, nil
}

// Close releases the reservation.
func (r *MappedRegion) Close() error {
	r.buf = nil
	return nil
}
