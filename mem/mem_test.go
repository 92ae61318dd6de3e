package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, nframes uint) *Allocator {
	t.Helper()
	dmap := NewDmap(int(nframes))
	return NewAllocator(dmap, 0, nframes)
}

func TestBuddyAllocSplitAndCoalesce(t *testing.T) {
	a := newTestAllocator(t, 16)

	p0, err := a.Alloc(0)
	require.NoError(t, err)
	p1, err := a.Alloc(0)
	require.NoError(t, err)
	require.NotEqual(t, p0, p1)

	total := a.NumFreeFrames()
	require.EqualValues(t, 14, total)

	a.Free(p0, 0)
	a.Free(p1, 0)
	require.EqualValues(t, 16, a.NumFreeFrames())

	// After freeing both buddies, they should have recombined into a
	// single higher-order block rather than staying as two order-0
	// blocks (invariant 5: a free buddy implies coalescing happened).
	counts := a.FreeBlocksByOrder()
	require.EqualValues(t, 1, counts[GetOrder(16)])
}

func TestBuddyExhaustion(t *testing.T) {
	a := newTestAllocator(t, 4)
	_, err := a.Alloc(GetOrder(4))
	require.NoError(t, err)
	_, err = a.Alloc(0)
	require.ErrorIs(t, err, ErrOOM)
}

func TestGetOrder(t *testing.T) {
	require.EqualValues(t, 0, GetOrder(1))
	require.EqualValues(t, 1, GetOrder(2))
	require.EqualValues(t, 2, GetOrder(3))
	require.EqualValues(t, 2, GetOrder(4))
	require.EqualValues(t, 3, GetOrder(5))
}

func TestHeapAllocFreeSmall(t *testing.T) {
	a := newTestAllocator(t, 64)
	h := NewHeap(a)

	buf, err := h.Alloc(16)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(buf), 16)
	for i := range buf {
		buf[i] = byte(i)
	}

	h.Free(buf)

	buf2, err := h.Alloc(16)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(buf2), 16)
}

func TestHeapReallocGrowShrink(t *testing.T) {
	a := newTestAllocator(t, 64)
	h := NewHeap(a)

	buf, err := h.Alloc(16)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	grown, err := h.Realloc(buf, 64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(grown), 64)
	for i := 0; i < 16; i++ {
		require.Equal(t, byte(i+1), grown[i])
	}

	shrunk, err := h.Realloc(grown, 8)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(shrunk), 8)
	for i := 0; i < 8; i++ {
		require.Equal(t, byte(i+1), shrunk[i])
	}
}

func TestHeapDirectAllocationsBypassChunks(t *testing.T) {
	a := newTestAllocator(t, 64)
	h := NewHeap(a)

	buf, err := h.Alloc(PAGE_SIZE * 2)
	require.NoError(t, err)
	require.Len(t, h.direct, 1)
	h.Free(buf)
	require.Len(t, h.direct, 0)
}

func TestVirtAddrAlignment(t *testing.T) {
	v := VirtAddr(0x1001)
	require.False(t, v.Aligned())
	require.Equal(t, VirtAddr(0x1000), v.Pgrounddown())
	require.Equal(t, VirtAddr(0x2000), v.Pgroundup())
	require.True(t, v.Pgrounddown().Aligned())
}
