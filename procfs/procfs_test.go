package procfs

import (
	"strings"
	"testing"

	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/proc"
	"github.com/davidaparicio/maestro/usercopy"
	"github.com/stretchr/testify/require"
)

func newBoundSpace(t *testing.T) *memspace.MemSpace {
	t.Helper()
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	ms := memspace.New(alloc, dmap)
	ms.Bind()
	return ms
}

func TestCmdlineJoinsNulSeparatedArgv(t *testing.T) {
	ms := newBoundSpace(t)
	base := mem.VirtAddr(0x40000000)
	_, err := ms.Map(memspace.MapConstraint{Kind: memspace.ConstraintFixed, Addr: base}, 1,
		memspace.ProtRead|memspace.ProtWrite, memspace.MapAnonymous|memspace.MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	argv := []byte("ls\x00-la\x00/tmp\x00")
	require.Equal(t, 0, int(usercopy.CopyToUserRaw(ms, base, argv)))
	ms.ExeInfo.ArgvBegin = base
	ms.ExeInfo.ArgvEnd = base.Add(uintptr(len(argv)))

	p := proc.NewInit(ms)
	got, gerr := Cmdline(p.Pid())
	require.Equal(t, defs.Err_t(0), gerr)
	require.Equal(t, "ls -la /tmp", got)
}

func TestCmdlineUnknownPidIsENOENT(t *testing.T) {
	_, err := Cmdline(defs.Pid_t(99999))
	require.Equal(t, defs.ENOENT, err)
}

func TestRusageRendersAccumulatedTime(t *testing.T) {
	ms := newBoundSpace(t)
	p := proc.NewInit(ms)
	p.Rusage.Utadd(2_000_000_000)

	buf, err := Rusage(p.Pid())
	require.Equal(t, defs.Err_t(0), err)
	require.Len(t, buf, 32)
}

func TestRusageUnknownPidIsENOENT(t *testing.T) {
	_, err := Rusage(defs.Pid_t(99999))
	require.Equal(t, defs.ENOENT, err)
}

func TestMountsRendersRootEntry(t *testing.T) {
	out := Mounts()
	require.True(t, strings.Contains(out, "/ tmpfs"))
}

func TestMemInfoReportsFreeAndUsed(t *testing.T) {
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	heap := mem.NewHeap(alloc)

	buf, err := heap.Alloc(128)
	require.NoError(t, err)
	require.NotNil(t, buf)

	out := MemInfo(alloc, heap)
	require.True(t, strings.Contains(out, "MemFree:"))
	require.True(t, strings.Contains(out, "HeapUsed:"))
}
