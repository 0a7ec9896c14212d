package arena

import "unsafe"

// Allocation describes one live range handed out by Arena.AllocateMemory
type Allocation struct {
	// Token identifies the allocation to Arena.FreeMemory
	Token AllocationToken
	// Memory is the arena's backing memory, which resources should be bound to
	Memory Memory
	// Offset is the aligned offset of the allocation within Memory
	Offset int
	// Size is the number of bytes that were requested
	Size int
	// HostAddress is the host-visible address of Offset, or nil if the arena is not host visible
	HostAddress unsafe.Pointer
}

// IsHostVisible returns true if the allocation can be accessed from the host
func (a Allocation) IsHostVisible() bool {
	return a.HostAddress != nil
}

// Bytes returns a slice aliasing the allocation's host-visible memory, or nil if the allocation
// is not host visible. The slice must not be used after the allocation is freed.
func (a Allocation) Bytes() []byte {
	if a.HostAddress == nil {
		return nil
	}

	return unsafe.Slice((*byte)(a.HostAddress), a.Size)
}
