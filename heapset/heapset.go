// Package heapset groups three arenas the way a typical Vulkan application uses them: one
// host-visible arena for staging and uniform buffers, one device-local arena for buffers,
// and one device-local arena for images. Resources are bound to their ranges as they are
// allocated.
package heapset

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arenas/arena"
	"github.com/vkngwrapper/arenas/internal/utils"
	"github.com/vkngwrapper/arenas/memutils"
	"golang.org/x/exp/slog"
)

// Kind selects one of the arenas in a Set
type Kind int

const (
	HostBuffer Kind = iota
	DeviceBuffer
	DeviceImage
	kindCount
)

var kindNames = map[Kind]string{
	HostBuffer:   "HostBuffer",
	DeviceBuffer: "DeviceBuffer",
	DeviceImage:  "DeviceImage",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

// DefaultHeapSize is used for any arena size in Options that is left at zero
const DefaultHeapSize = 128 * 1024

// Options configures the arenas of a Set
type Options struct {
	// HostBufferSize is the size of the host-visible buffer arena. Zero means DefaultHeapSize.
	HostBufferSize int
	// DeviceBufferSize is the size of the device-local buffer arena. Zero means DefaultHeapSize.
	DeviceBufferSize int
	// DeviceImageSize is the size of the device-local image arena. Zero means DefaultHeapSize.
	DeviceImageSize int
	// MemoryTypes holds the memory type index for each arena, indexed by Kind
	MemoryTypes [kindCount]int
	// ExternallySynchronized turns off the per-arena mutex. Set it when every call into the
	// Set and its Bindings is already serialized by the caller.
	ExternallySynchronized bool
}

func (o Options) size(kind Kind) int {
	var size int
	switch kind {
	case HostBuffer:
		size = o.HostBufferSize
	case DeviceBuffer:
		size = o.DeviceBufferSize
	case DeviceImage:
		size = o.DeviceImageSize
	}

	if size == 0 {
		return DefaultHeapSize
	}
	return size
}

// Requirements is the size and alignment a resource needs from its memory, as reported by
// vkGetBufferMemoryRequirements or vkGetImageMemoryRequirements
type Requirements struct {
	Size      int
	Alignment uint
}

type heap struct {
	kind  Kind
	arena *arena.Arena
	mutex utils.OptionalMutex
}

// Set owns one arena per Kind
type Set struct {
	logger   *slog.Logger
	provider arena.MemoryProvider
	heaps    [kindCount]*heap
}

// New creates the three arenas of a Set from provider. If any of them cannot be created,
// the ones that were already created are destroyed again.
func New(logger *slog.Logger, provider arena.MemoryProvider, options Options) (*Set, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Set{
		logger:   logger,
		provider: provider,
	}

	for kind := Kind(0); kind < kindCount; kind++ {
		heapArena, err := arena.New(logger, provider, options.size(kind), arena.CreateOptions{
			MemoryTypeIndex: options.MemoryTypes[kind],
			HostVisible:     kind == HostBuffer,
			Name:            kind.String(),
		})
		if err != nil {
			return nil, errors.CombineErrors(
				errors.Wrapf(err, "failed to create the %s arena", kind),
				s.Destroy(),
			)
		}

		s.heaps[kind] = &heap{
			kind:  kind,
			arena: heapArena,
			mutex: utils.OptionalMutex{UseMutex: !options.ExternallySynchronized},
		}
	}

	logger.Debug("Set::New",
		slog.Int("hostBufferSize", options.size(HostBuffer)),
		slog.Int("deviceBufferSize", options.size(DeviceBuffer)),
		slog.Int("deviceImageSize", options.size(DeviceImage)),
	)

	return s, nil
}

func (s *Set) heapFor(kind Kind) (*heap, error) {
	if kind < 0 || kind >= kindCount {
		return nil, errors.Wrapf(arena.ErrConfiguration, "unknown heap kind %s", kind)
	}

	h := s.heaps[kind]
	if h == nil {
		return nil, errors.Wrapf(arena.ErrProtocolViolation, "the %s arena has been destroyed", kind)
	}
	return h, nil
}

// Arena returns the arena for kind, or nil if kind is unknown or the Set has been destroyed.
// Calls on the returned arena are not covered by the Set's locking.
func (s *Set) Arena(kind Kind) *arena.Arena {
	h, err := s.heapFor(kind)
	if err != nil {
		return nil
	}
	return h.arena
}

// Allocate reserves memory for resource in the arena for kind and binds resource to it with
// the provider's BindRange. If binding fails, the memory is freed again.
func (s *Set) Allocate(kind Kind, requirements Requirements, resource any) (*Binding, error) {
	h, err := s.heapFor(kind)
	if err != nil {
		return nil, err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	alloc, err := h.arena.AllocateMemory(requirements.Size, requirements.Alignment)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate from the %s arena", kind)
	}

	err = s.provider.BindRange(alloc.Memory, alloc.Offset, resource)
	if err != nil {
		return nil, errors.CombineErrors(
			errors.Wrapf(err, "failed to bind a resource at offset %d of the %s arena", alloc.Offset, kind),
			h.arena.FreeMemory(alloc.Token),
		)
	}

	err = h.arena.SetAllocationUserData(alloc.Token, resource)
	if err != nil {
		return nil, errors.CombineErrors(err, h.arena.FreeMemory(alloc.Token))
	}

	return &Binding{heap: h, allocation: alloc}, nil
}

// Statistics holds detailed statistics for each arena in a Set and their sum
type Statistics struct {
	Heaps [kindCount]memutils.DetailedStatistics
	Total memutils.DetailedStatistics
}

// Statistics collects detailed statistics from every arena
func (s *Set) Statistics() Statistics {
	var stats Statistics
	stats.Total.Clear()

	for kind, h := range s.heaps {
		stats.Heaps[kind].Clear()
		if h == nil {
			continue
		}

		h.mutex.Lock()
		h.arena.AddDetailedStatistics(&stats.Heaps[kind])
		h.mutex.Unlock()

		stats.Total.AddDetailedStatistics(&stats.Heaps[kind])
	}

	return stats
}

// PrintDetailedMap writes a json object holding the summed statistics of the Set and the
// detailed map of each arena
func (s *Set) PrintDetailedMap(writer *jwriter.Writer) {
	stats := s.Statistics()

	objState := writer.Object()
	defer objState.End()

	totalState := objState.Name("Total").Object()
	stats.Total.WriteJson(&totalState)
	totalState.End()

	heapsState := objState.Name("Heaps").Object()
	defer heapsState.End()

	for _, h := range s.heaps {
		if h == nil {
			continue
		}

		h.mutex.Lock()
		h.arena.PrintDetailedMap(heapsState.Name(h.kind.String()))
		h.mutex.Unlock()
	}
}

// Destroy destroys every arena in the Set. Arenas with outstanding allocations log them and
// report an error, but the remaining arenas are still destroyed.
func (s *Set) Destroy() error {
	var err error

	for kind, h := range s.heaps {
		if h == nil {
			continue
		}

		h.mutex.Lock()
		destroyErr := h.arena.Destroy()
		h.mutex.Unlock()

		if destroyErr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(destroyErr, "failed to destroy the %s arena", Kind(kind)))
			continue
		}
		s.heaps[kind] = nil
	}

	return err
}
