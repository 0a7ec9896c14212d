// Package vulkan provides an arena.MemoryProvider that allocates its backing memory from a
// Vulkan device.
package vulkan

//go:generate mockgen -package mock_vulkan -destination ./mocks/device.go github.com/vkngwrapper/arenas/vulkan Device

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arenas/arena"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

// Device is the part of core1_0.Device that Provider uses
type Device interface {
	AllocateMemory(allocationCallbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error)
	FlushMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error)
	InvalidateMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error)
}

var _ Device = core1_0.Device(nil)

// BufferBinder is satisfied by core1_0.Buffer
type BufferBinder interface {
	BindBufferMemory(memory core1_0.DeviceMemory, offset int) (common.VkResult, error)
}

// ImageBinder is satisfied by core1_0.Image
type ImageBinder interface {
	BindImageMemory(memory core1_0.DeviceMemory, offset int) (common.VkResult, error)
}

// Memory is the handle Provider returns from AllocateBacking
type Memory struct {
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int
	mapped          bool
}

// DeviceMemory returns the underlying Vulkan memory object
func (m *Memory) DeviceMemory() core1_0.DeviceMemory { return m.memory }

// MemoryTypeIndex returns the memory type the memory was allocated from
func (m *Memory) MemoryTypeIndex() int { return m.memoryTypeIndex }

// Size returns the size of the memory object in bytes
func (m *Memory) Size() int { return m.size }

// ProviderOptions carries the device state that Provider needs in order to allocate
// memory and maintain host-visible ranges
type ProviderOptions struct {
	// AllocationCallbacks is passed to vkAllocateMemory and vkFreeMemory. It may be nil.
	AllocationCallbacks *driver.AllocationCallbacks
	// MemoryProperties is the physical device's memory type and heap list
	MemoryProperties core1_0.PhysicalDeviceMemoryProperties
	// NonCoherentAtomSize is PhysicalDeviceLimits.NonCoherentAtomSize. Flushed and invalidated
	// ranges are widened to multiples of it. Values below 1 are treated as 1.
	NonCoherentAtomSize int
}

// Provider allocates arena backing memory from a Vulkan device
type Provider struct {
	logger  *slog.Logger
	device  Device
	options ProviderOptions
}

var _ arena.MemoryProvider = &Provider{}

// NewProvider creates a Provider for device
func NewProvider(logger *slog.Logger, device Device, options ProviderOptions) (*Provider, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if device == nil {
		return nil, errors.New("a vulkan memory provider cannot be created without a device")
	}
	if options.NonCoherentAtomSize < 1 {
		options.NonCoherentAtomSize = 1
	}

	return &Provider{
		logger:  logger,
		device:  device,
		options: options,
	}, nil
}

func resultError(operation string, res common.VkResult, err error) error {
	if err != nil {
		return errors.Wrapf(err, "%s failed", operation)
	}
	if res != core1_0.VKSuccess {
		return errors.Newf("%s returned %s", operation, res)
	}
	return nil
}

func unwrapMemory(memory arena.Memory) (*Memory, error) {
	m, ok := memory.(*Memory)
	if !ok || m == nil {
		return nil, errors.Newf("memory handle of type %T was not issued by a vulkan memory provider", memory)
	}
	if m.memory == nil {
		return nil, errors.New("memory handle has already been freed")
	}

	return m, nil
}

func (p *Provider) memoryTypeFlags(memoryTypeIndex int) (core1_0.MemoryPropertyFlags, error) {
	types := p.options.MemoryProperties.MemoryTypes
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(types) {
		return 0, errors.Newf("memory type index %d is out of range, the device has %d memory types", memoryTypeIndex, len(types))
	}

	return types[memoryTypeIndex].PropertyFlags, nil
}

func (p *Provider) AllocateBacking(size int, memoryTypeIndex int) (arena.Memory, error) {
	_, err := p.memoryTypeFlags(memoryTypeIndex)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Provider::AllocateBacking", slog.Int("size", size), slog.Int("memoryTypeIndex", memoryTypeIndex))

	memory, res, err := p.device.AllocateMemory(p.options.AllocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	err = resultError("vkAllocateMemory", res, err)
	if err != nil {
		return nil, err
	}

	return &Memory{
		memory:          memory,
		memoryTypeIndex: memoryTypeIndex,
		size:            size,
	}, nil
}

func (p *Provider) MapBacking(memory arena.Memory, size int) (unsafe.Pointer, error) {
	m, err := unwrapMemory(memory)
	if err != nil {
		return nil, err
	}
	if m.mapped {
		return nil, errors.New("memory is already mapped")
	}

	flags, err := p.memoryTypeFlags(m.memoryTypeIndex)
	if err != nil {
		return nil, err
	}
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("memory type %d is not host visible and cannot be mapped", m.memoryTypeIndex)
	}

	data, res, err := m.memory.Map(0, size, 0)
	err = resultError("vkMapMemory", res, err)
	if err != nil {
		return nil, err
	}

	m.mapped = true
	return data, nil
}

func (p *Provider) UnmapBacking(memory arena.Memory) error {
	m, err := unwrapMemory(memory)
	if err != nil {
		return err
	}
	if !m.mapped {
		return errors.New("memory is not mapped")
	}

	m.memory.Unmap()
	m.mapped = false
	return nil
}

func (p *Provider) FreeBacking(memory arena.Memory) error {
	m, err := unwrapMemory(memory)
	if err != nil {
		return err
	}
	if m.mapped {
		return errors.New("memory must be unmapped before it is freed")
	}

	p.logger.Debug("Provider::FreeBacking", slog.Int("size", m.size), slog.Int("memoryTypeIndex", m.memoryTypeIndex))

	m.memory.Free(p.options.AllocationCallbacks)
	m.memory = nil
	return nil
}

// BindRange binds a buffer (anything with BindBufferMemory) or an image (anything with
// BindImageMemory) to memory at offset
func (p *Provider) BindRange(memory arena.Memory, offset int, resource any) error {
	m, err := unwrapMemory(memory)
	if err != nil {
		return err
	}

	switch r := resource.(type) {
	case BufferBinder:
		res, err := r.BindBufferMemory(m.memory, offset)
		return resultError("vkBindBufferMemory", res, err)
	case ImageBinder:
		res, err := r.BindImageMemory(m.memory, offset)
		return resultError("vkBindImageMemory", res, err)
	}

	return errors.Newf("cannot bind memory to a resource of type %T", resource)
}
