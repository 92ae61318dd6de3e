package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigSetAddDelHas(t *testing.T) {
	var s SigSet
	require.True(t, s.IsEmpty())
	s.Add(SIGINT)
	s.Add(SIGCHLD)
	require.True(t, s.Has(SIGINT))
	require.True(t, s.Has(SIGCHLD))
	require.False(t, s.Has(SIGTERM))
	s.Del(SIGINT)
	require.False(t, s.Has(SIGINT))
	require.False(t, s.IsEmpty())
}

func TestCatchableExcludesKillAndStop(t *testing.T) {
	require.False(t, Catchable(SIGKILL))
	require.False(t, Catchable(SIGSTOP))
	require.True(t, Catchable(SIGTERM))
	require.True(t, Catchable(SIGSEGV))
}

func TestHandlerTableDefaultsAndSet(t *testing.T) {
	tbl := NewHandlerTable()
	h := tbl.Get(SIGTERM)
	require.Equal(t, HandlerDefault, h.Kind)

	ok := tbl.Set(SIGTERM, SignalHandler{Kind: HandlerUser, Entry: 0x1000})
	require.True(t, ok)
	require.Equal(t, HandlerUser, tbl.Get(SIGTERM).Kind)

	require.False(t, tbl.Set(SIGKILL, SignalHandler{Kind: HandlerIgnore}))
}

func TestHandlerTableCloneIsIndependent(t *testing.T) {
	tbl := NewHandlerTable()
	tbl.Set(SIGUSR1, SignalHandler{Kind: HandlerUser, Entry: 0x2000})
	clone := tbl.Clone()
	clone.Set(SIGUSR1, SignalHandler{Kind: HandlerIgnore})
	require.Equal(t, HandlerUser, tbl.Get(SIGUSR1).Kind)
	require.Equal(t, HandlerIgnore, clone.Get(SIGUSR1).Kind)
}

func TestKillAndNextSignalOrdering(t *testing.T) {
	ps := NewProcessSignal()
	ps.Kill(SIGTERM)
	ps.Kill(SIGHUP)

	sig, ok := ps.NextSignal(false)
	require.True(t, ok)
	require.Equal(t, SIGHUP, sig) // lowest-numbered pending wins

	sig, ok = ps.NextSignal(false)
	require.True(t, ok)
	require.Equal(t, SIGTERM, sig)

	_, ok = ps.NextSignal(false)
	require.False(t, ok)
}

func TestKillDropsBlockedCatchableSignal(t *testing.T) {
	ps := NewProcessSignal()
	var mask SigSet
	mask.Add(SIGTERM)
	ps.SetMask(mask)

	ps.Kill(SIGTERM)
	_, ok := ps.NextSignal(true)
	require.False(t, ok, "blocked catchable signal must not become pending")
}

func TestKillNeverBlocksSigkill(t *testing.T) {
	ps := NewProcessSignal()
	var mask SigSet
	mask.Add(SIGKILL)
	ps.SetMask(mask)
	require.False(t, ps.Mask().Has(SIGKILL))

	ps.Kill(SIGKILL)
	sig, ok := ps.NextSignal(false)
	require.True(t, ok)
	require.Equal(t, SIGKILL, sig)
}

func TestPeekDoesNotConsume(t *testing.T) {
	ps := NewProcessSignal()
	ps.Kill(SIGINT)
	sig, ok := ps.NextSignal(true)
	require.True(t, ok)
	require.Equal(t, SIGINT, sig)

	sig, ok = ps.NextSignal(false)
	require.True(t, ok)
	require.Equal(t, SIGINT, sig)
}
