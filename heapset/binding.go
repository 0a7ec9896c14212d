package heapset

import (
	"github.com/vkngwrapper/arenas/arena"
)

// Binding is a resource bound to memory from one of a Set's arenas
type Binding struct {
	heap       *heap
	allocation arena.Allocation
}

// Kind returns the kind of arena the memory came from
func (b *Binding) Kind() Kind {
	return b.heap.kind
}

// Allocation returns the range of memory the resource is bound to
func (b *Binding) Allocation() arena.Allocation {
	return b.allocation
}

// Free returns the binding's memory to its arena. The resource must no longer be in use by
// the device, and must be destroyed before the memory is handed out again.
func (b *Binding) Free() error {
	b.heap.mutex.Lock()
	defer b.heap.mutex.Unlock()

	return b.heap.arena.FreeMemory(b.allocation.Token)
}
