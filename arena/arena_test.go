package arena_test

import (
	"bytes"
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arenas/arena"
	mock_arena "github.com/vkngwrapper/arenas/arena/mocks"
	"github.com/vkngwrapper/arenas/hostmem"
	"github.com/vkngwrapper/arenas/memutils"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type region struct {
	Offset int
	Size   int
	Free   bool
}

func newHostArena(t *testing.T, size int, hostVisible bool) (*arena.Arena, *hostmem.Provider) {
	provider := hostmem.New()
	a, err := arena.New(nil, provider, size, arena.CreateOptions{HostVisible: hostVisible, Name: t.Name()})
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	return a, provider
}

func regions(t *testing.T, a *arena.Arena) []region {
	var out []region
	err := a.VisitAllRegions(func(token arena.AllocationToken, offset int, size int, userData any, free bool) error {
		out = append(out, region{Offset: offset, Size: size, Free: free})
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestAllocateFromEmptyArena(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	alloc, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	require.Equal(t, 0, alloc.Offset)
	require.Equal(t, 100, alloc.Size)
	require.Same(t, a.Memory(), alloc.Memory)
	require.NotEqual(t, arena.NoAllocation, alloc.Token)
	require.NoError(t, a.Validate())

	require.Equal(t, []region{
		{Offset: 0, Size: 100},
		{Offset: 100, Size: 924, Free: true},
	}, regions(t, a))
	require.Equal(t, 1, a.FreeRegionsCount())
	require.Equal(t, 924, a.SumFreeSize())
	require.Equal(t, 924, a.LargestFreeRegion())
	require.Equal(t, 1, a.AllocationCount())
	require.False(t, a.IsEmpty())
}

func TestFreedRangeIsReused(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	allocA, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	allocB, err := a.AllocateMemory(200, 16)
	require.NoError(t, err)
	require.Equal(t, 112, allocB.Offset)

	require.NoError(t, a.FreeMemory(allocA.Token))
	require.NoError(t, a.Validate())
	require.Equal(t, []region{
		{Offset: 0, Size: 100, Free: true},
		{Offset: 100, Size: 212},
		{Offset: 312, Size: 712, Free: true},
	}, regions(t, a))

	allocC, err := a.AllocateMemory(50, 16)
	require.NoError(t, err)
	require.Equal(t, 0, allocC.Offset)
	require.NoError(t, a.Validate())

	require.Equal(t, []region{
		{Offset: 0, Size: 50},
		{Offset: 50, Size: 50, Free: true},
		{Offset: 100, Size: 212},
		{Offset: 312, Size: 712, Free: true},
	}, regions(t, a))
}

func TestFreeCoalescesNeighbours(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	allocA, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	allocB, err := a.AllocateMemory(200, 16)
	require.NoError(t, err)
	allocC, err := a.AllocateMemory(10, 16)
	require.NoError(t, err)

	require.NoError(t, a.FreeMemory(allocA.Token))
	require.NoError(t, a.FreeMemory(allocB.Token))
	require.NoError(t, a.Validate())

	require.Equal(t, []region{
		{Offset: 0, Size: 312, Free: true},
		{Offset: 312, Size: 18},
		{Offset: 330, Size: 694, Free: true},
	}, regions(t, a))

	require.NoError(t, a.FreeMemory(allocC.Token))
	require.NoError(t, a.Validate())
	require.Equal(t, []region{{Offset: 0, Size: 1024, Free: true}}, regions(t, a))
	require.True(t, a.IsEmpty())
}

func TestFreeInReverseOrderCoalescesToOneBlock(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	allocA, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	allocB, err := a.AllocateMemory(200, 16)
	require.NoError(t, err)

	require.NoError(t, a.FreeMemory(allocB.Token))
	require.NoError(t, a.FreeMemory(allocA.Token))
	require.NoError(t, a.Validate())

	require.Equal(t, []region{{Offset: 0, Size: 1024, Free: true}}, regions(t, a))

	whole, err := a.AllocateMemory(1024, 1)
	require.NoError(t, err)
	require.Equal(t, 0, whole.Offset)
	require.Equal(t, 0, a.FreeRegionsCount())
	require.NoError(t, a.Validate())
}

func TestInvalidAlignment(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	_, err := a.AllocateMemory(100, 3)
	require.True(t, errors.Is(err, arena.ErrConfiguration))
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	_, err = a.AllocateMemory(100, 0)
	require.True(t, errors.Is(err, arena.ErrConfiguration))
	require.True(t, errors.Is(err, memutils.ZeroValueError))

	_, err = a.AllocateMemory(0, 16)
	require.True(t, errors.Is(err, arena.ErrConfiguration))

	require.Equal(t, 0, a.AllocationCount())
	require.Equal(t, []region{{Offset: 0, Size: 1024, Free: true}}, regions(t, a))
}

func TestAllocateUntilExhausted(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	for i := 0; i < 9; i++ {
		alloc, err := a.AllocateMemory(100, 16)
		require.NoError(t, err)
		require.Zero(t, alloc.Offset%16)
	}
	require.Equal(t, 28, a.SumFreeSize())

	_, err := a.AllocateMemory(100, 16)
	require.True(t, errors.Is(err, arena.ErrExhausted))
	require.False(t, errors.Is(err, arena.ErrConfiguration))

	require.Equal(t, 9, a.AllocationCount())
	require.NoError(t, a.Validate())

	alloc, err := a.AllocateMemory(28, 1)
	require.NoError(t, err)
	require.Equal(t, 996, alloc.Offset)
	require.Equal(t, 0, a.SumFreeSize())
}

func TestOversizedRequestsAreExhausted(t *testing.T) {
	a, _ := newHostArena(t, 1024, true)

	_, err := a.AllocateMemory(1025, 1)
	require.True(t, errors.Is(err, arena.ErrExhausted))

	_, err = a.AllocateMemory(math.MaxInt-4, 16)
	require.True(t, errors.Is(err, arena.ErrExhausted))
	require.NoError(t, a.Validate())

	_, err = a.AllocateMemory(16, 1)
	require.NoError(t, err)

	_, err = a.AllocateMemory(16, 1<<63)
	require.True(t, errors.Is(err, arena.ErrExhausted))
	_, err = a.AllocateMemory(16, 2048)
	require.True(t, errors.Is(err, arena.ErrExhausted))
	require.NoError(t, a.Validate())

	// Exactly the whole arena with the largest alignment that can still fit
	b, _ := newHostArena(t, 1024, false)
	whole, err := b.AllocateMemory(1024, 1)
	require.NoError(t, err)
	require.Equal(t, 0, whole.Offset)
	require.NoError(t, b.FreeMemory(whole.Token))

	_, err = b.AllocateMemory(1, 1024)
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	require.Equal(t, 1, a.AllocationCount())
	require.Equal(t, 1008, a.SumFreeSize())
}

func TestConservativeSearchSkipsTightBlock(t *testing.T) {
	a, _ := newHostArena(t, 256, false)

	pad, err := a.AllocateMemory(16, 1)
	require.NoError(t, err)
	hole, err := a.AllocateMemory(32, 1)
	require.NoError(t, err)
	_, err = a.AllocateMemory(16, 1)
	require.NoError(t, err)
	require.NoError(t, a.FreeMemory(hole.Token))
	require.Equal(t, 0, pad.Offset)

	// The 32 byte hole at offset 16 is aligned and would fit exactly, but the search
	// demands 32+16-1 bytes, so the allocation lands in the tail instead.
	alloc, err := a.AllocateMemory(32, 16)
	require.NoError(t, err)
	require.Equal(t, 64, alloc.Offset)
	require.NoError(t, a.Validate())
}

func TestBestFitPrefersLowestOffset(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	var tokens []arena.AllocationToken
	for i := 0; i < 6; i++ {
		alloc, err := a.AllocateMemory(64, 1)
		require.NoError(t, err)
		tokens = append(tokens, alloc.Token)
	}

	require.NoError(t, a.FreeMemory(tokens[3]))
	require.NoError(t, a.FreeMemory(tokens[1]))

	alloc, err := a.AllocateMemory(64, 1)
	require.NoError(t, err)
	require.Equal(t, 64, alloc.Offset)

	alloc, err = a.AllocateMemory(64, 1)
	require.NoError(t, err)
	require.Equal(t, 192, alloc.Offset)
}

func TestDestroyWithOutstandingAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)
	provider.EXPECT().AllocateBacking(1024, 2).Return("device memory", nil)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	a, err := arena.New(logger, provider, 1024, arena.CreateOptions{MemoryTypeIndex: 2, Name: "leaky"})
	require.NoError(t, err)

	alloc, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	require.NoError(t, a.SetAllocationUserData(alloc.Token, "vertex buffer"))

	err = a.Destroy()
	require.True(t, errors.Is(err, arena.ErrProtocolViolation))
	require.Contains(t, logs.String(), "[UNRELEASED MEMORY]")
	require.Contains(t, logs.String(), "vertex buffer")

	// Backing memory is untouched, so the arena can still be cleaned up properly
	require.Equal(t, "device memory", a.Memory())
	require.NoError(t, a.FreeMemory(alloc.Token))

	provider.EXPECT().FreeBacking("device memory").Return(nil)
	require.NoError(t, a.Destroy())
	require.Nil(t, a.Memory())
}

func TestUseAfterDestroy(t *testing.T) {
	a, provider := newHostArena(t, 1024, true)
	alloc, err := a.AllocateMemory(16, 16)
	require.NoError(t, err)
	require.NoError(t, a.FreeMemory(alloc.Token))

	require.NoError(t, a.Destroy())
	require.Equal(t, 0, provider.LiveAllocations())
	require.Nil(t, a.MappedData())

	require.True(t, errors.Is(a.Destroy(), arena.ErrProtocolViolation))
	_, err = a.AllocateMemory(16, 16)
	require.True(t, errors.Is(err, arena.ErrProtocolViolation))
	require.True(t, errors.Is(a.FreeMemory(alloc.Token), arena.ErrProtocolViolation))
	require.Empty(t, regions(t, a))
}

func TestStaleAndForeignTokens(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)
	other, _ := newHostArena(t, 1024, false)

	alloc, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	foreign, err := other.AllocateMemory(100, 16)
	require.NoError(t, err)
	require.NotEqual(t, alloc.Token, foreign.Token)

	require.True(t, errors.Is(a.FreeMemory(foreign.Token), arena.ErrProtocolViolation))
	require.True(t, errors.Is(a.FreeMemory(arena.NoAllocation), arena.ErrProtocolViolation))

	require.NoError(t, a.FreeMemory(alloc.Token))
	require.True(t, errors.Is(a.FreeMemory(alloc.Token), arena.ErrProtocolViolation))

	_, err = a.AllocationOffset(alloc.Token)
	require.True(t, errors.Is(err, arena.ErrProtocolViolation))
	_, err = a.Allocation(alloc.Token)
	require.True(t, errors.Is(err, arena.ErrProtocolViolation))

	// A new allocation over the same range gets a new token
	again, err := a.AllocateMemory(100, 16)
	require.NoError(t, err)
	require.Equal(t, alloc.Offset, again.Offset)
	require.NotEqual(t, alloc.Token, again.Token)
	require.True(t, errors.Is(a.FreeMemory(alloc.Token), arena.ErrProtocolViolation))

	require.NoError(t, a.Validate())
	require.NoError(t, other.Validate())
}

func TestAllocationUserData(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	alloc, err := a.AllocateMemory(64, 8)
	require.NoError(t, err)

	userData, err := a.AllocationUserData(alloc.Token)
	require.NoError(t, err)
	require.Nil(t, userData)

	require.NoError(t, a.SetAllocationUserData(alloc.Token, 42))
	userData, err = a.AllocationUserData(alloc.Token)
	require.NoError(t, err)
	require.Equal(t, 42, userData)

	offset, err := a.AllocationOffset(alloc.Token)
	require.NoError(t, err)
	require.Equal(t, alloc.Offset, offset)

	fetched, err := a.Allocation(alloc.Token)
	require.NoError(t, err)
	require.Equal(t, alloc, fetched)

	require.NoError(t, a.FreeMemory(alloc.Token))
	require.True(t, errors.Is(a.SetAllocationUserData(alloc.Token, 1), arena.ErrProtocolViolation))
}

func TestHostVisibleAllocations(t *testing.T) {
	a, provider := newHostArena(t, 1024, true)
	require.True(t, a.IsHostVisible())
	require.NotNil(t, a.MappedData())

	_, err := a.AllocateMemory(10, 1)
	require.NoError(t, err)
	alloc, err := a.AllocateMemory(32, 16)
	require.NoError(t, err)
	require.Equal(t, 16, alloc.Offset)
	require.True(t, alloc.IsHostVisible())

	data := alloc.Bytes()
	require.Len(t, data, 32)
	for i := range data {
		data[i] = byte(i + 1)
	}

	backing := a.Memory().(*hostmem.Memory)
	require.True(t, backing.IsMapped())
	require.Equal(t, data, backing.Data()[16:48])
	require.Zero(t, backing.Data()[15])
	require.Zero(t, backing.Data()[48])
	require.Equal(t, 1, provider.LiveAllocations())
}

func TestDeviceLocalAllocationsHaveNoHostAddress(t *testing.T) {
	a, _ := newHostArena(t, 1024, false)

	alloc, err := a.AllocateMemory(32, 16)
	require.NoError(t, err)
	require.False(t, alloc.IsHostVisible())
	require.Nil(t, alloc.Bytes())
	require.False(t, a.IsHostVisible())
}

func TestBackingAllocationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)
	provider.EXPECT().AllocateBacking(1024, 0).Return(nil, errors.New("out of device memory"))

	_, err := arena.New(nil, provider, 1024, arena.CreateOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of device memory")
}

func TestMapFailureFreesBacking(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)
	gomock.InOrder(
		provider.EXPECT().AllocateBacking(1024, 1).Return("host memory", nil),
		provider.EXPECT().MapBacking("host memory", 1024).Return(unsafe.Pointer(nil), errors.New("memory map failed")),
		provider.EXPECT().FreeBacking("host memory").Return(nil),
	)

	_, err := arena.New(nil, provider, 1024, arena.CreateOptions{MemoryTypeIndex: 1, HostVisible: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "memory map failed")
}

func TestNilMappingIsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)
	gomock.InOrder(
		provider.EXPECT().AllocateBacking(1024, 0).Return("host memory", nil),
		provider.EXPECT().MapBacking("host memory", 1024).Return(unsafe.Pointer(nil), nil),
		provider.EXPECT().UnmapBacking("host memory").Return(nil),
		provider.EXPECT().FreeBacking("host memory").Return(nil),
	)

	_, err := arena.New(nil, provider, 1024, arena.CreateOptions{HostVisible: true})
	require.Error(t, err)
}

func TestInvalidArenaConfiguration(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)

	_, err := arena.New(nil, provider, 0, arena.CreateOptions{})
	require.True(t, errors.Is(err, arena.ErrConfiguration))

	_, err = arena.New(nil, nil, 1024, arena.CreateOptions{})
	require.Error(t, err)
}

func TestDestroyReportsProviderErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mock_arena.NewMockMemoryProvider(ctrl)
	var mapped [16]byte
	gomock.InOrder(
		provider.EXPECT().AllocateBacking(16, 0).Return("host memory", nil),
		provider.EXPECT().MapBacking("host memory", 16).Return(unsafe.Pointer(&mapped[0]), nil),
		provider.EXPECT().UnmapBacking("host memory").Return(errors.New("unmap failed")),
		provider.EXPECT().FreeBacking("host memory").Return(errors.New("free failed")),
	)

	a, err := arena.New(nil, provider, 16, arena.CreateOptions{HostVisible: true})
	require.NoError(t, err)

	err = a.Destroy()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmap failed")
}
