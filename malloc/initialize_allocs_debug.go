//go:build debug_init_allocs

package malloc

const (
	// InitializeAllocs causes every new allocation to be filled with memutils.CreatedFillPattern and
	// every released allocation to be filled with memutils.DestroyedFillPattern. If you suspect that
	// reading uninitialized or released memory is causing a bug, you can activate this to help
	// diagnose the issue. It impacts performance and should generally be left deactivated.
	InitializeAllocs bool = true
)

func fillAllocation(payload []byte, pattern uint8) {
	for i := range payload {
		payload[i] = pattern
	}
}
