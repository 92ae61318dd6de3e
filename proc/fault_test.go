package proc

import (
	"testing"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/signal"
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

func TestDispatchPageFaultPopulatesFirstTouch(t *testing.T) {
	ms := newBoundSpace(t)
	base := mem.VirtAddr(0x40000000)
	_, err := ms.Map(memspace.MapConstraint{Kind: memspace.ConstraintFixed, Addr: base}, 1,
		memspace.ProtRead|memspace.ProtWrite, memspace.MapAnonymous|memspace.MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	p := NewInit(ms)
	ok := DispatchPageFault(p, base, 0, base, 3)
	require.True(t, ok)
}

func TestDispatchPageFaultRing3FailureKillsSIGSEGV(t *testing.T) {
	ms := newBoundSpace(t)
	p := NewInit(ms)

	ok := DispatchPageFault(p, mem.VirtAddr(0x80000000), 0, mem.VirtAddr(0x80000000), 3)
	require.False(t, ok)

	sig, got := p.Signal.NextSignal(true)
	require.True(t, got)
	require.Equal(t, signal.SIGSEGV, sig)
}

func TestDispatchPageFaultRing0FailurePanicsOutsideCopyRange(t *testing.T) {
	ms := newBoundSpace(t)
	p := NewInit(ms)

	require.Panics(t, func() {
		DispatchPageFault(p, mem.VirtAddr(0x80000000), 0, mem.VirtAddr(0x1000), 0)
	})
}

func TestDispatchExceptionDivideErrorSendsSIGFPE(t *testing.T) {
	ms := newBoundSpace(t)
	p := NewInit(ms)

	DispatchException(p, VectorDivideError, mem.VirtAddr(0x1000), 3)
	sig, got := p.Signal.NextSignal(true)
	require.True(t, got)
	require.Equal(t, signal.SIGFPE, sig)
}

func TestDispatchExceptionBreakpointSendsSIGTRAP(t *testing.T) {
	ms := newBoundSpace(t)
	p := NewInit(ms)

	DispatchException(p, VectorBreakpoint, mem.VirtAddr(0x1000), 3)
	sig, got := p.Signal.NextSignal(true)
	require.True(t, got)
	require.Equal(t, signal.SIGTRAP, sig)
}

func TestDispatchExceptionGeneralProtectionOnNonHaltSendsSIGSEGV(t *testing.T) {
	ms := newBoundSpace(t)
	base := mem.VirtAddr(0x40000000)
	_, err := ms.Map(memspace.MapConstraint{Kind: memspace.ConstraintFixed, Addr: base}, 1,
		memspace.ProtRead|memspace.ProtExec, memspace.MapAnonymous|memspace.MapPrivate, nil, 0)
	require.Equal(t, 0, int(err))

	p := NewInit(ms)
	DispatchException(p, VectorGeneralProtection, base, 3)
	sig, got := p.Signal.NextSignal(true)
	require.True(t, got)
	require.Equal(t, signal.SIGSEGV, sig)
}

func TestDispatchExceptionInKernelModePanics(t *testing.T) {
	ms := newBoundSpace(t)
	p := NewInit(ms)

	require.Panics(t, func() {
		DispatchException(p, VectorDivideError, mem.VirtAddr(0x1000), 0)
	})
}
