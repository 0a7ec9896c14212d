// Package hostmem provides an arena.MemoryProvider whose backing allocations are ordinary Go
// byte slices. It stands in for a host-visible heap wherever a device is not available.
package hostmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arenas/arena"
)

// Binding is one resource bound to a Memory through Provider.BindRange
type Binding struct {
	Offset   int
	Resource any
}

// Memory is the handle Provider returns from AllocateBacking
type Memory struct {
	owner           *Provider
	data            []byte
	memoryTypeIndex int
	mapped          bool
	freed           bool
	bindings        []Binding
}

// Size returns the number of bytes in the backing allocation
func (m *Memory) Size() int { return len(m.data) }

// MemoryTypeIndex returns the memory type index the allocation was requested with
func (m *Memory) MemoryTypeIndex() int { return m.memoryTypeIndex }

// IsMapped returns true between a successful MapBacking and the matching UnmapBacking
func (m *Memory) IsMapped() bool { return m.mapped }

// IsFreed returns true once FreeBacking has been called
func (m *Memory) IsFreed() bool { return m.freed }

// Bindings returns every resource bound to this memory, in the order they were bound
func (m *Memory) Bindings() []Binding {
	return append([]Binding(nil), m.bindings...)
}

// Data returns the backing bytes. The slice remains valid after FreeBacking, but the
// provider no longer accounts for it.
func (m *Memory) Data() []byte { return m.data }

// Provider hands out Go heap memory to arenas
type Provider struct {
	// AllocateHook, if set, is consulted before every backing allocation, and a non-nil
	// error is returned to the caller in place of allocating
	AllocateHook func(size, memoryTypeIndex int) error

	live int
}

var _ arena.MemoryProvider = &Provider{}

// New creates a Provider with no allocations
func New() *Provider {
	return &Provider{}
}

// LiveAllocations returns the number of backing allocations that have not been freed
func (p *Provider) LiveAllocations() int {
	return p.live
}

func (p *Provider) handle(memory arena.Memory) (*Memory, error) {
	m, ok := memory.(*Memory)
	if !ok || m == nil {
		return nil, errors.Newf("memory handle of type %T was not issued by a host memory provider", memory)
	}
	if m.owner != p {
		return nil, errors.New("memory handle was issued by a different host memory provider")
	}
	if m.freed {
		return nil, errors.New("memory handle has already been freed")
	}

	return m, nil
}

func (p *Provider) AllocateBacking(size int, memoryTypeIndex int) (arena.Memory, error) {
	if size < 1 {
		return nil, errors.Newf("backing allocation size must be positive, but was %d", size)
	}
	if p.AllocateHook != nil {
		err := p.AllocateHook(size, memoryTypeIndex)
		if err != nil {
			return nil, err
		}
	}

	p.live++
	return &Memory{
		owner:           p,
		data:            make([]byte, size),
		memoryTypeIndex: memoryTypeIndex,
	}, nil
}

func (p *Provider) MapBacking(memory arena.Memory, size int) (unsafe.Pointer, error) {
	m, err := p.handle(memory)
	if err != nil {
		return nil, err
	}
	if m.mapped {
		return nil, errors.New("memory is already mapped")
	}
	if size < 1 || size > len(m.data) {
		return nil, errors.Newf("cannot map %d bytes of a %d byte allocation", size, len(m.data))
	}

	m.mapped = true
	return unsafe.Pointer(unsafe.SliceData(m.data)), nil
}

func (p *Provider) UnmapBacking(memory arena.Memory) error {
	m, err := p.handle(memory)
	if err != nil {
		return err
	}
	if !m.mapped {
		return errors.New("memory is not mapped")
	}

	m.mapped = false
	return nil
}

func (p *Provider) FreeBacking(memory arena.Memory) error {
	m, err := p.handle(memory)
	if err != nil {
		return err
	}
	if m.mapped {
		return errors.New("memory must be unmapped before it is freed")
	}

	m.freed = true
	p.live--
	return nil
}

func (p *Provider) BindRange(memory arena.Memory, offset int, resource any) error {
	m, err := p.handle(memory)
	if err != nil {
		return err
	}
	if offset < 0 || offset >= len(m.data) {
		return errors.Newf("cannot bind at offset %d of a %d byte allocation", offset, len(m.data))
	}

	m.bindings = append(m.bindings, Binding{Offset: offset, Resource: resource})
	return nil
}
