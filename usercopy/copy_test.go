package usercopy

import (
	"testing"

	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/stretchr/testify/require"
)

func newTestSpace(t *testing.T) *memspace.MemSpace {
	t.Helper()
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	ms := memspace.New(alloc, dmap)
	ms.Bind()
	return ms
}

func mapAnon(t *testing.T, ms *memspace.MemSpace, addr mem.VirtAddr, pages uint) {
	t.Helper()
	_, err := ms.Map(memspace.MapConstraint{Kind: memspace.ConstraintFixed, Addr: addr}, pages,
		memspace.ProtRead|memspace.ProtWrite, memspace.MapAnonymous|memspace.MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))
}

// S6 (first case): copy across the userspace/kernelspace boundary
// fails with EFAULT.
func TestCopyFromUserAcrossKernelBoundaryFails(t *testing.T) {
	ms := newTestSpace(t)
	_, err := CopyFromUserRaw(ms, memspace.CopyBuffer-4, 8)
	require.Equal(t, defs.EFAULT, err)
}

// S6 (second case): copy across a page boundary where the second page
// is unmapped fails with EFAULT.
func TestCopyFromUserSecondPageUnmappedFails(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x40000000)
	mapAnon(t, ms, base, 1)

	addr := base.Add(mem.PAGE_SIZE - 4)
	_, err := CopyFromUserRaw(ms, addr, 8)
	require.NotEqual(t, 0, int(err))
}

// S6 (third case): copy across two mapped pages succeeds.
func TestCopyToFromUserRoundTripAcrossPages(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x50000000)
	mapAnon(t, ms, base, 2)

	addr := base.Add(mem.PAGE_SIZE - 4)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	require.Equal(t, 0, int(CopyToUserRaw(ms, addr, payload)))
	got, err := CopyFromUserRaw(ms, addr, 8)
	require.Equal(t, 0, int(err))
	require.Equal(t, payload, got)
}

func TestSyscallStringStopsAtNUL(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x60000000)
	mapAnon(t, ms, base, 1)

	require.Equal(t, 0, int(CopyToUserRaw(ms, base, []byte("hello\x00world"))))
	s, err := NewSyscallString(ms, base).CopyFromUser(64)
	require.Equal(t, 0, int(err))
	require.Equal(t, "hello", s)
}

func TestSyscallArrayWalksUntilNull(t *testing.T) {
	ms := newTestSpace(t)
	base := mem.VirtAddr(0x70000000)
	mapAnon(t, ms, base, 2)

	strAddr := base.Add(256)
	require.Equal(t, 0, int(CopyToUserRaw(ms, strAddr, []byte("arg0\x00"))))
	ptr := NewSyscallPtr(ms, base)
	require.Equal(t, 0, int(ptr.CopyToUserUint64(uint64(strAddr))))
	require.Equal(t, 0, int(NewSyscallPtr(ms, base.Add(8)).CopyToUserUint64(0)))

	entries, err := NewSyscallArray(ms, base).CopyFromUser(64)
	require.Equal(t, 0, int(err))
	require.Equal(t, []string{"arg0"}, entries)
}
