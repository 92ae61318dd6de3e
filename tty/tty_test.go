package tty

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/proc"
	"github.com/davidaparicio/maestro/signal"
	"github.com/stretchr/testify/require"
)

func newProcess(t *testing.T) *proc.Process {
	t.Helper()
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	ms := memspace.New(alloc, dmap)
	return proc.NewInit(ms)
}

// S5: a background process group attempting to read the controlling
// terminal is sent SIGTTIN; the job-control check itself reports no
// error.
func TestReadAsBackgroundGroupRaisesSigttin(t *testing.T) {
	term := New()
	term.Feed([]byte("hi"))
	dev := NewDevice(term)

	p := newProcess(t)
	term.SetPgrp(p.GetPgid() + 1) // foreground group is someone else

	buf := make([]byte, 2)
	_, err := dev.ReadAs(p, buf)
	require.Equal(t, 0, int(err))
	sig, ok := p.Signal.NextSignal(true)
	require.True(t, ok)
	require.Equal(t, signal.SIGTTIN, sig)
}

func TestReadAsForegroundGroupSucceeds(t *testing.T) {
	term := New()
	term.Feed([]byte("hi"))
	dev := NewDevice(term)

	p := newProcess(t)
	term.SetPgrp(p.GetPgid())

	buf := make([]byte, 2)
	n, err := dev.ReadAs(p, buf)
	require.Equal(t, 0, int(err))
	require.Equal(t, 2, n)
}

func TestWriteAsBackgroundWithoutTostopSucceeds(t *testing.T) {
	term := New()
	dev := NewDevice(term)
	p := newProcess(t)
	term.SetPgrp(p.GetPgid() + 1)

	n, err := dev.WriteAs(p, []byte("hi"))
	require.Equal(t, 0, int(err))
	require.Equal(t, 2, n)
}

func TestIoctlGetSetWinsize(t *testing.T) {
	term := New()
	dev := NewDevice(term)
	dev.IoctlSetWinsize(unix.Winsize{Row: 40, Col: 100})
	ws := dev.IoctlGetWinsize()
	require.EqualValues(t, 40, ws.Row)
	require.EqualValues(t, 100, ws.Col)
}

func TestIoctlGetSetPgrp(t *testing.T) {
	term := New()
	dev := NewDevice(term)
	p := newProcess(t)

	require.Equal(t, 0, int(dev.IoctlSetPgrp(p, p.GetPgid())))
	require.Equal(t, p.GetPgid(), dev.IoctlGetPgrp())
}
