package engine

// AllocatorStrategy selects how sandbox linear memories are backed.
type AllocatorStrategy int

const (
	// AllocatorOnDemand grows instance memory with reallocations as the
	// guest executes memory.grow.
	AllocatorOnDemand AllocatorStrategy = iota

	// AllocatorPooling reserves each instance's maximum memory up front so
	// growth never reallocates. Cheap per request, expensive in virtual
	// address space.
	AllocatorPooling
)

func (s AllocatorStrategy) String() string {
	if s == AllocatorPooling {
		return "pooling"
	}
	return "on-demand"
}

// probeAddressBits is the virtual address space, as a bit width, that the
// pre-reserving strategy needs. 2^42 exceeds the 39-bit address space of
// some aarch64 and riscv64 configurations, which is exactly what the probe
// is meant to detect.
const probeAddressBits = 42

// ProbeAllocator decides the allocation strategy before the engine is
// built. It attempts a 2^42-byte reservation and releases it immediately;
// a failed reservation is the expected signal on constrained hosts and
// selects the on-demand fallback, never an error.
func ProbeAllocator() AllocatorStrategy {
	if reserveAddressSpace(probeAddressBits) {
		return AllocatorPooling
	}
	return AllocatorOnDemand
}
