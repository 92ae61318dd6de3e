package proc

import (
	"testing"
	"time"

	"github.com/davidaparicio/maestro/signal"
	"github.com/stretchr/testify/require"
)

func TestSetCurrentChargesOutgoingProcessUserTime(t *testing.T) {
	init := NewInit(newSpace(t))
	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	SetCurrent(child)
	time.Sleep(2 * time.Millisecond)
	SetCurrent(init)

	require.Greater(t, child.Rusage.Userns, int64(0))
}

func TestYieldCurrentChargesDispatchAsSystemTime(t *testing.T) {
	init := NewInit(newSpace(t))
	child, err := Fork(init, ForkOptions{})
	require.Equal(t, 0, int(err))

	SetCurrent(child)
	child.Kill(signal.SIGCONT)
	require.True(t, YieldCurrent())
	require.GreaterOrEqual(t, child.Rusage.Sysns, int64(0))
}
