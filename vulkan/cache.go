package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arenas/arena"
	"github.com/vkngwrapper/arenas/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// mappedRange widens the allocation's range to the non-coherent atom size. It returns false
// if the memory type is host coherent and there is nothing to flush or invalidate.
func (p *Provider) mappedRange(alloc arena.Allocation) (core1_0.MappedMemoryRange, bool, error) {
	m, err := unwrapMemory(alloc.Memory)
	if err != nil {
		return core1_0.MappedMemoryRange{}, false, err
	}

	flags, err := p.memoryTypeFlags(m.memoryTypeIndex)
	if err != nil {
		return core1_0.MappedMemoryRange{}, false, err
	}
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return core1_0.MappedMemoryRange{}, false, errors.Newf("memory type %d is not host visible", m.memoryTypeIndex)
	}
	if flags&core1_0.MemoryPropertyHostCoherent != 0 {
		return core1_0.MappedMemoryRange{}, false, nil
	}

	if alloc.Offset < 0 || alloc.Size < 1 || alloc.Offset+alloc.Size > m.size {
		return core1_0.MappedMemoryRange{}, false, errors.Newf("allocation [%d, %d) is outside of the %d byte memory object",
			alloc.Offset, alloc.Offset+alloc.Size, m.size)
	}

	atom := uint(p.options.NonCoherentAtomSize)
	offset := memutils.AlignDown(alloc.Offset, atom)
	size := memutils.AlignUp(alloc.Size+alloc.Offset-offset, atom)
	if offset+size > m.size {
		size = m.size - offset
	}

	return core1_0.MappedMemoryRange{
		Memory: m.memory,
		Offset: offset,
		Size:   size,
	}, true, nil
}

// FlushRange makes host writes to alloc visible to the device. It does nothing for host
// coherent memory.
func (p *Provider) FlushRange(alloc arena.Allocation) error {
	memRange, needed, err := p.mappedRange(alloc)
	if err != nil || !needed {
		return err
	}

	res, err := p.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{memRange})
	return resultError("vkFlushMappedMemoryRanges", res, err)
}

// InvalidateRange makes device writes to alloc visible to the host. It does nothing for host
// coherent memory.
func (p *Provider) InvalidateRange(alloc arena.Allocation) error {
	memRange, needed, err := p.mappedRange(alloc)
	if err != nil || !needed {
		return err
	}

	res, err := p.device.InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{memRange})
	return resultError("vkInvalidateMappedMemoryRanges", res, err)
}
