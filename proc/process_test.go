package proc

import (
	"testing"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/signal"
	"github.com/stretchr/testify/require"
)

func newSpace(t *testing.T) *memspace.MemSpace {
	t.Helper()
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	return memspace.New(alloc, dmap)
}

func TestForkCreatesChildLinkedToParent(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	require.NotNil(t, child)
	require.Equal(t, init.Pid(), child.GetParentPid())
	require.Contains(t, init.Links.Children, child.Pid())
	require.Equal(t, StateRunning, child.GetState())
}

func TestForkSharedMemoryUsesSamePointer(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{ShareMemory: true})
	require.Equal(t, 0, int(err))
	require.Same(t, init.MemSpace, child.MemSpace)
}

func TestForkPrivateMemoryCopiesSpace(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	require.NotSame(t, init.MemSpace, child.MemSpace)
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	parent, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	grandchild, err := Fork(parent, ForkOptions{})
	require.Equal(t, 0, int(err))

	parent.Exit(0)
	require.Equal(t, StateZombie, parent.GetState())
	require.Equal(t, InitPid, grandchild.GetParentPid())
	require.Contains(t, init.Links.Children, grandchild.Pid())
}

func TestExitOfInitPanics(t *testing.T) {
	init := NewInit(newSpace(t))
	require.Panics(t, func() { init.Exit(0) })
}

func TestExitReleasesMemSpaceAndFilesWhenUnbound(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	require.NotNil(t, child.MemSpace)
	require.NotNil(t, child.Files)

	child.Exit(0)
	require.Nil(t, child.MemSpace)
	require.Nil(t, child.Files)
}

func TestExitKeepsMemSpaceBoundToCurrentCPU(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	child.MemSpace.Bind()

	child.Exit(0)
	require.NotNil(t, child.MemSpace)
	require.Nil(t, child.Files)
}

func TestForkSharedFDUsesSamePointer(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()

	child, err := Fork(init, ForkOptions{ShareFD: true})
	require.Equal(t, 0, int(err))
	require.Same(t, init.Files, child.Files)
}

func TestForkPrivateFDClonesTable(t *testing.T) {
	init := NewInit(newSpace(t))
	init.MemSpace.Bind()
	init.Files.Add(3)

	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	require.NotSame(t, init.Files, child.Files)
	require.True(t, child.Files.Has(3))

	init.Files.Remove(3)
	require.False(t, init.Files.Has(3))
	require.True(t, child.Files.Has(3))
}

func TestKillSetsPendingUnlessBlocked(t *testing.T) {
	init := NewInit(newSpace(t))
	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	child.Kill(signal.SIGTERM)
	sig, ok := child.Signal.NextSignal(true)
	require.True(t, ok)
	require.Equal(t, signal.SIGTERM, sig)
}

func TestSetPgidMovesBetweenGroups(t *testing.T) {
	init := NewInit(newSpace(t))
	a, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	b, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	require.Equal(t, 0, int(a.SetPgid(b.Pid())))
	require.Equal(t, b.Pid(), a.GetPgid())
	require.Contains(t, b.Links.ProcessGroup, a.Pid())
}

func TestIsInOrphanProcessGroupAfterLeaderExits(t *testing.T) {
	init := NewInit(newSpace(t))
	leader, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	member, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	require.Equal(t, 0, int(member.SetPgid(leader.Pid())))
	require.False(t, member.IsInOrphanProcessGroup())

	leader.Exit(0)
	require.True(t, member.IsInOrphanProcessGroup())
}

func TestKillGroupDeliversToEveryMember(t *testing.T) {
	init := NewInit(newSpace(t))
	leader, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	member, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(member.SetPgid(leader.Pid())))
	require.Equal(t, 0, int(leader.SetPgid(leader.Pid())))

	leader.KillGroup(signal.SIGUSR1)
	_, ok := member.Signal.NextSignal(true)
	require.True(t, ok)
}

func TestYieldCurrentStopsOnSigstop(t *testing.T) {
	init := NewInit(newSpace(t))
	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	SetCurrent(child)
	child.Kill(signal.SIGSTOP)
	require.False(t, YieldCurrent())
	require.Equal(t, StateStopped, child.GetState())
}
