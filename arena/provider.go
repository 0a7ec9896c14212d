package arena

//go:generate mockgen -package mock_arena -destination ./mocks/provider.go github.com/vkngwrapper/arenas/arena MemoryProvider

import "unsafe"

// Memory is an opaque handle to one backing allocation produced by a MemoryProvider. The arena
// never inspects it, it is only handed back to the provider and out to callers so that they
// can bind resources to it.
type Memory interface{}

// MemoryProvider is the source of backing memory for an Arena. Implementations wrap whatever
// actually owns the memory: a Vulkan device, host memory, or a mock.
type MemoryProvider interface {
	// AllocateBacking acquires a single allocation of size bytes from the memory type identified
	// by memoryTypeIndex. The meaning of memoryTypeIndex is provider-specific.
	AllocateBacking(size int, memoryTypeIndex int) (Memory, error)
	// MapBacking maps the first size bytes of memory into the host address space. It is only
	// called for arenas created as host visible, and at most once per backing allocation.
	MapBacking(memory Memory, size int) (unsafe.Pointer, error)
	// UnmapBacking releases a mapping made by MapBacking. It is called exactly once, during
	// arena teardown, iff the memory was mapped.
	UnmapBacking(memory Memory) error
	// FreeBacking releases the whole backing allocation. It is called exactly once, during
	// arena teardown.
	FreeBacking(memory Memory) error
	// BindRange informs the provider that the range starting at offset now backs resource.
	// The arena never calls this: callers use the Memory and Offset from an Allocation to bind
	// their own resources.
	BindRange(memory Memory, offset int, resource any) error
}
