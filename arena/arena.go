package arena

import (
	"context"
	"io"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arenas/memutils"
	"golang.org/x/exp/slog"
)

// AllocationToken identifies one live allocation within an Arena. Tokens are never reused, so
// a token that has already been freed, or that came from a different arena, is always rejected.
type AllocationToken uint64

const (
	// NoAllocation is never issued as a token
	NoAllocation AllocationToken = math.MaxUint64
)

var lastToken atomic.Uint64

func nextToken() AllocationToken {
	return AllocationToken(lastToken.Add(1))
}

// CreateOptions contains optional settings when creating an Arena
type CreateOptions struct {
	// MemoryTypeIndex is passed through to MemoryProvider.AllocateBacking to select what kind of
	// memory backs the arena
	MemoryTypeIndex int
	// HostVisible indicates that the backing memory should be mapped for the lifetime of the arena.
	// When set, every Allocation carries a HostAddress.
	HostVisible bool
	// Name is used in log messages and diagnostic dumps
	Name string
}

// Arena manages one fixed-size backing allocation as a set of non-overlapping blocks. See the
// package documentation for the allocation strategy and the threading contract.
type Arena struct {
	logger   *slog.Logger
	provider MemoryProvider

	memory          Memory
	mappedData      unsafe.Pointer
	size            int
	memoryTypeIndex int
	name            string

	blocks     blockList
	tokens     *swiss.Map[AllocationToken, int]
	allocCount int
	destroyed  bool
}

// New creates an Arena of size bytes, acquiring its backing memory from provider. If
// options.HostVisible is set, the backing memory is mapped as well.
func New(logger *slog.Logger, provider MemoryProvider, size int, options CreateOptions) (*Arena, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if provider == nil {
		return nil, errors.New("an arena cannot be created without a memory provider")
	}
	if size < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "arena size must be positive, but was %d", size)
	}

	logger.Debug("Arena::New",
		slog.String("name", options.Name),
		slog.Int("size", size),
		slog.Int("memoryTypeIndex", options.MemoryTypeIndex),
		slog.Bool("hostVisible", options.HostVisible),
	)

	memory, err := provider.AllocateBacking(size, options.MemoryTypeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes of backing memory from memory type %d", size, options.MemoryTypeIndex)
	}

	a := &Arena{
		logger:          logger,
		provider:        provider,
		memory:          memory,
		size:            size,
		memoryTypeIndex: options.MemoryTypeIndex,
		name:            options.Name,
		tokens:          swiss.NewMap[AllocationToken, int](42),
	}

	if options.HostVisible {
		data, err := provider.MapBacking(memory, size)
		if err == nil && data == nil {
			err = errors.CombineErrors(
				errors.New("memory provider mapped the backing memory to a nil address"),
				provider.UnmapBacking(memory),
			)
		}
		if err != nil {
			return nil, errors.CombineErrors(
				errors.Wrap(err, "failed to map backing memory"),
				provider.FreeBacking(memory),
			)
		}
		a.mappedData = data
	}

	a.blocks.init(size)
	return a, nil
}

// Size returns the size in bytes that the arena was created with
func (a *Arena) Size() int { return a.size }

// Name returns the name the arena was created with
func (a *Arena) Name() string { return a.name }

// Memory returns the provider's handle to the arena's backing memory, or nil once the arena
// has been destroyed
func (a *Arena) Memory() Memory { return a.memory }

// MemoryTypeIndex returns the memory type index the backing memory was allocated from
func (a *Arena) MemoryTypeIndex() int { return a.memoryTypeIndex }

// MappedData returns the host address of offset 0 of the backing memory, or nil if the arena
// is not host visible
func (a *Arena) MappedData() unsafe.Pointer { return a.mappedData }

// IsHostVisible returns true if the backing memory is mapped
func (a *Arena) IsHostVisible() bool { return a.mappedData != nil }

// AllocationCount returns the number of live allocations
func (a *Arena) AllocationCount() int { return a.allocCount }

// FreeRegionsCount returns the number of free blocks
func (a *Arena) FreeRegionsCount() int { return a.blocks.freeIndex.Len() }

// SumFreeSize returns the number of bytes in free blocks. Not all of them are necessarily
// reachable by a single allocation.
func (a *Arena) SumFreeSize() int { return a.blocks.freeBytes }

// LargestFreeRegion returns the size of the largest free block
func (a *Arena) LargestFreeRegion() int { return a.blocks.largestFree() }

// IsEmpty returns true if the arena has no live allocations
func (a *Arena) IsEmpty() bool { return a.allocCount == 0 }

// AllocateMemory reserves size bytes at an offset that is a multiple of alignment, which must be
// a power of two. The returned Allocation carries the backing memory and offset to bind
// resources to and, for host visible arenas, the host address of the range.
//
// Errors match ErrConfiguration for a bad size or alignment, ErrExhausted if there is no free
// block large enough, and ErrProtocolViolation if the arena has been destroyed.
func (a *Arena) AllocateMemory(size int, alignment uint) (Allocation, error) {
	if a.destroyed {
		return Allocation{}, errors.Wrap(ErrProtocolViolation, "cannot allocate from a destroyed arena")
	}
	if size < 1 {
		return Allocation{}, errors.Wrapf(ErrConfiguration, "allocation size must be positive, but was %d", size)
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return Allocation{}, errors.Mark(err, ErrConfiguration)
	}
	if size > a.size || alignment-1 > uint(a.size-size) {
		return Allocation{}, errors.Wrapf(ErrExhausted,
			"%d bytes at alignment %d can never fit in an arena of %d bytes", size, alignment, a.size)
	}

	// The most padding any free block could need to reach the alignment
	searchSize := size + int(alignment) - 1
	slot, found := a.blocks.findFree(searchSize)
	if !found {
		return Allocation{}, errors.Wrapf(ErrExhausted,
			"no free block can hold %d bytes at alignment %d: %d of %d bytes free, largest free block is %d bytes",
			size, alignment, a.blocks.freeBytes, a.size, a.blocks.largestFree())
	}
	a.blocks.removeFree(slot)

	blockOffset := a.blocks.blocks[slot].offset
	alignedOffset := memutils.AlignUp(blockOffset, alignment)
	consumed := size + alignedOffset - blockOffset

	usedSlot := slot
	if a.blocks.blocks[slot].size > consumed {
		usedSlot = a.blocks.splitFront(slot, consumed)
		a.blocks.insertFree(slot)
	}

	used := &a.blocks.blocks[usedSlot]
	used.inUse = true
	used.token = nextToken()
	used.alignedOffset = alignedOffset
	used.requestedSize = size
	used.userData = nil

	a.tokens.Put(used.token, usedSlot)
	a.allocCount++

	memutils.DebugValidate(a)

	return a.allocationFor(used), nil
}

// FreeMemory returns the allocation identified by token to the arena, merging it with any
// free neighbours. Errors match ErrProtocolViolation if token is not a live allocation of this
// arena or the arena has been destroyed.
func (a *Arena) FreeMemory(token AllocationToken) error {
	if a.destroyed {
		return errors.Wrap(ErrProtocolViolation, "cannot free memory in a destroyed arena")
	}

	slot, err := a.liveSlot(token)
	if err != nil {
		return err
	}

	a.tokens.Delete(token)
	a.allocCount--

	freed := &a.blocks.blocks[slot]
	freed.inUse = false
	freed.token = NoAllocation
	freed.alignedOffset = 0
	freed.requestedSize = 0
	freed.userData = nil

	slot = a.blocks.coalesce(slot)
	a.blocks.insertFree(slot)

	memutils.DebugValidate(a)

	return nil
}

// Destroy releases the arena's backing memory. Every allocation must have been freed first:
// otherwise each outstanding allocation is logged, nothing is released, and an error matching
// ErrProtocolViolation is returned.
func (a *Arena) Destroy() error {
	if a.destroyed {
		return errors.Wrap(ErrProtocolViolation, "the arena has already been destroyed")
	}

	if a.allocCount > 0 {
		err := a.VisitAllRegions(func(token AllocationToken, offset int, size int, userData any, free bool) error {
			if !free {
				a.logUnreleasedMemory(token, offset, size, userData)
			}
			return nil
		})
		if err != nil {
			a.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Wrapf(ErrProtocolViolation, "%d allocations were not freed before the destruction of arena %q", a.allocCount, a.name)
	}

	head := &a.blocks.blocks[a.blocks.head]
	if head.next != noBlock || head.inUse || head.size != a.size {
		return errors.Newf("arena %q has no allocations but is not a single free block", a.name)
	}

	a.logger.Debug("Arena::Destroy", slog.String("name", a.name), slog.Int("size", a.size))

	var err error
	if a.mappedData != nil {
		err = errors.Wrap(a.provider.UnmapBacking(a.memory), "failed to unmap backing memory")
		a.mappedData = nil
	}
	err = errors.CombineErrors(err, errors.Wrap(a.provider.FreeBacking(a.memory), "failed to free backing memory"))

	a.destroyed = true
	a.memory = nil
	a.tokens = swiss.NewMap[AllocationToken, int](1)

	return err
}

func (a *Arena) logUnreleasedMemory(token AllocationToken, offset, size int, userData any) {
	name := a.name
	if name == "" {
		name = "unnamed"
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.String("arena", name),
		slog.Uint64("token", uint64(token)),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Any("userData", userData),
	)
}

func (a *Arena) liveSlot(token AllocationToken) (int, error) {
	slot, ok := a.tokens.Get(token)
	if !ok {
		return noBlock, errors.Wrapf(ErrProtocolViolation, "token %d is not a live allocation in arena %q", token, a.name)
	}

	b := &a.blocks.blocks[slot]
	if !b.inUse || b.token != token {
		return noBlock, errors.Wrapf(ErrProtocolViolation, "token %d refers to a block at offset %d that is not in use", token, b.offset)
	}

	return slot, nil
}

func (a *Arena) allocationFor(b *block) Allocation {
	alloc := Allocation{
		Token:  b.token,
		Memory: a.memory,
		Offset: b.alignedOffset,
		Size:   b.requestedSize,
	}
	if a.mappedData != nil {
		alloc.HostAddress = unsafe.Add(a.mappedData, b.alignedOffset)
	}
	return alloc
}

// Allocation retrieves the Allocation for a live token
func (a *Arena) Allocation(token AllocationToken) (Allocation, error) {
	slot, err := a.liveSlot(token)
	if err != nil {
		return Allocation{}, err
	}

	return a.allocationFor(&a.blocks.blocks[slot]), nil
}

// AllocationOffset retrieves the aligned offset of a live allocation
func (a *Arena) AllocationOffset(token AllocationToken) (int, error) {
	slot, err := a.liveSlot(token)
	if err != nil {
		return 0, err
	}

	return a.blocks.blocks[slot].alignedOffset, nil
}

// AllocationUserData retrieves the value last passed to SetAllocationUserData for a live
// allocation
func (a *Arena) AllocationUserData(token AllocationToken) (any, error) {
	slot, err := a.liveSlot(token)
	if err != nil {
		return nil, err
	}

	return a.blocks.blocks[slot].userData, nil
}

// SetAllocationUserData attaches an arbitrary value to a live allocation. It is reported back
// by VisitAllRegions, detailed maps, and unreleased memory logging.
func (a *Arena) SetAllocationUserData(token AllocationToken, userData any) error {
	slot, err := a.liveSlot(token)
	if err != nil {
		return err
	}

	a.blocks.blocks[slot].userData = userData
	return nil
}
