//go:build !debug_init_allocs

package malloc

const (
	// InitializeAllocs causes every new allocation to be filled with memutils.CreatedFillPattern and
	// every released allocation to be filled with memutils.DestroyedFillPattern. It is only active
	// when the debug_init_allocs build tag is present.
	InitializeAllocs bool = false
)

func fillAllocation(payload []byte, pattern uint8) {}
