package memspace

import (
	"testing"

	"github.com/davidaparicio/maestro/mem"
	"github.com/stretchr/testify/require"
)

func newTestSpace(t *testing.T) *MemSpace {
	t.Helper()
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	ms := New(alloc, dmap)
	ms.Bind()
	return ms
}

// S1: empty space, map one anon page, unpopulated until first fault,
// then reads back zeroed.
func TestScenarioEmptySpaceAnonMap(t *testing.T) {
	ms := newTestSpace(t)

	_, ok := ms.vmem.Translate(0x1000)
	require.False(t, ok)

	addr, err := ms.Map(MapConstraint{Kind: ConstraintNone}, 1, ProtRead|ProtWrite, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	_, ok = ms.vmem.Translate(addr)
	require.False(t, ok, "mapping must start unpopulated")

	ferr := ms.HandlePageFault(addr, PageFaultWrite)
	require.Equal(t, 0, int(ferr))

	phys, ok := ms.vmem.Translate(addr)
	require.True(t, ok)
	page := ms.dmap.Page(phys)
	for _, b := range page {
		require.Equal(t, byte(0), b)
	}
}

// S2: Fixed map of 2 pages, unmap first page, residual mapping and gap.
func TestScenarioFixedMapPartialUnmap(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x40000000)
	_, err := ms.Map(MapConstraint{Kind: ConstraintFixed, Addr: base}, 2, ProtRead|ProtWrite, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	err = ms.Unmap(base, 1, false)
	require.Equal(t, 0, int(err))

	m := ms.state.getMappingForAddr(base.Add(mem.PAGE_SIZE))
	require.NotNil(t, m)
	require.Equal(t, base.Add(mem.PAGE_SIZE), m.Begin)
	require.EqualValues(t, 1, m.Pages)

	// The freed page merges with the free gap below it, which starts at
	// AllocBegin.
	g := ms.state.getGapForAddr(base)
	require.NotNil(t, g)
	require.Equal(t, AllocBegin, g.Begin)
}

// S3: fork, parent writes, child must still observe the zero page (COW).
func TestScenarioForkCOWIsolation(t *testing.T) {
	parent := newTestSpace(t)
	addr, err := parent.Map(MapConstraint{Kind: ConstraintNone}, 1, ProtRead|ProtWrite, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(parent.HandlePageFault(addr, PageFaultWrite)))

	phys, _ := parent.vmem.Translate(addr)

	child := parent.Fork()

	// parent's own page table was unmapped to arm COW.
	_, ok := parent.vmem.Translate(addr)
	require.False(t, ok)

	// Parent writes after the fork: its write fault privatizes its copy.
	require.Equal(t, 0, int(parent.HandlePageFault(addr, PageFaultWrite)))
	parentPhys, _ := parent.vmem.Translate(addr)
	parent.dmap.Page(parentPhys)[0] = 0xAA

	child.Bind()
	require.Equal(t, 0, int(child.HandlePageFault(addr, 0)))
	childPhys, ok := child.vmem.Translate(addr)
	require.True(t, ok)
	require.Equal(t, phys, childPhys, "first read shares the frame the parent had at fork")

	// Child writes: must privatize, not see the parent's dirtied byte.
	require.Equal(t, 0, int(child.HandlePageFault(addr, PageFaultWrite)))
	childPhys2, _ := child.vmem.Translate(addr)
	require.NotEqual(t, phys, childPhys2, "write must copy to a private frame")
	require.Equal(t, byte(0), child.dmap.Page(childPhys2)[0])
}

func TestMapUnmapRoundTripMergesGap(t *testing.T) {
	ms := newTestSpace(t)
	before := ms.state.getGap(1)
	require.NotNil(t, before)
	begin, pages := before.Begin, before.Pages

	addr, err := ms.Map(MapConstraint{Kind: ConstraintHint, Addr: begin}, 4, ProtRead|ProtWrite, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(ms.Unmap(addr, 4, false)))

	after := ms.state.getGap(1)
	require.NotNil(t, after)
	require.Equal(t, begin, after.Begin)
	require.Equal(t, pages, after.Pages)
}

func TestBrkGrowShrinkRoundTrip(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x50000000)
	require.Equal(t, 0, int(ms.SetBrkInit(base)))

	require.Equal(t, 0, int(ms.SetBrk(base.Add(3*mem.PAGE_SIZE))))
	require.Equal(t, base.Add(3*mem.PAGE_SIZE), ms.GetBrk())

	require.Equal(t, 0, int(ms.SetBrk(base)))
	require.Equal(t, base, ms.GetBrk())

	require.Nil(t, ms.state.getMappingForAddr(base))
}

func TestFixedMapBoundaryAtCopyBuffer(t *testing.T) {
	ms := newTestSpace(t)
	at := CopyBuffer - mem.PAGE_SIZE
	_, err := ms.Map(MapConstraint{Kind: ConstraintFixed, Addr: at}, 1, ProtRead, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	_, err = ms.Map(MapConstraint{Kind: ConstraintFixed, Addr: CopyBuffer}, 1, ProtRead, MapAnonymous|MapPrivate, nil, 0)
	require.NotEqual(t, 0, int(err))
}

func TestHandlePageFaultWrongProtFails(t *testing.T) {
	ms := newTestSpace(t)
	addr, err := ms.Map(MapConstraint{Kind: ConstraintNone}, 1, ProtRead, MapAnonymous|MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))
	require.NotEqual(t, 0, int(ms.HandlePageFault(addr, PageFaultWrite)))
}
