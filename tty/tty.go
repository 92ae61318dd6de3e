// Package tty implements a minimal TTY device: termios/winsize state,
// a foreground process group, and the controlling-terminal checks that
// arbitrate which process group may read or write it.
package tty

import (
	"bytes"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/proc"
	"github.com/davidaparicio/maestro/signal"
)

// TOSTOP, the c_lflag bit that makes background writes raise SIGTTOU,
// has no exported constant in x/sys/unix; its value is fixed by the
// termios ABI across every Linux architecture.
const cTOSTOP = 0x0100

/// TTY is a single terminal device: an input queue, the termios line
/// discipline settings, the window size, and the process group that
/// currently owns it in the foreground.
type TTY struct {
	mu       sync.Mutex
	input    bytes.Buffer
	termios  unix.Termios
	winsize  unix.Winsize
	pgrp     defs.Pid_t
	hasPgrp  bool
}

/// New returns a TTY whose termios flag words are all zero (so TOSTOP
/// is clear), with an 80x24 window and no foreground group set.
func New() *TTY {
	return &TTY{
		termios: unix.Termios{
			Iflag: 0,
			Oflag: 0,
			Cflag: 0,
			Lflag: 0,
		},
		winsize: unix.Winsize{Row: 24, Col: 80},
	}
}

/// Pgrp returns the foreground process group ID.
func (t *TTY) Pgrp() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pgrp
}

/// SetPgrp sets the foreground process group ID.
func (t *TTY) SetPgrp(pgid defs.Pid_t) {
	t.mu.Lock()
	t.pgrp = pgid
	t.hasPgrp = true
	t.mu.Unlock()
}

/// Termios returns a copy of the current line discipline settings.
func (t *TTY) Termios() unix.Termios {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}

/// SetTermios replaces the line discipline settings.
func (t *TTY) SetTermios(tio unix.Termios) {
	t.mu.Lock()
	t.termios = tio
	t.mu.Unlock()
}

/// Winsize returns the current window size.
func (t *TTY) Winsize() unix.Winsize {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.winsize
}

/// SetWinsize replaces the window size.
func (t *TTY) SetWinsize(ws unix.Winsize) {
	t.mu.Lock()
	t.winsize = ws
	t.mu.Unlock()
}

/// HasInputAvailable reports whether a read would return data
/// immediately.
func (t *TTY) HasInputAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input.Len() > 0
}

/// Feed appends bytes to the TTY's input queue, as if typed at the
/// keyboard.
func (t *TTY) Feed(b []byte) {
	t.mu.Lock()
	t.input.Write(b)
	t.mu.Unlock()
}

/// Read drains up to len(buf) bytes from the input queue.
func (t *TTY) Read(buf []byte) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.input.Read(buf)
	return n, 0
}

// Device wraps a TTY with the job-control checks a process performing
// I/O on it must pass, mirroring the original's TTYDeviceHandle.
type Device struct {
	TTY *TTY
}

/// NewDevice wraps tty for use as a process-facing character device.
func NewDevice(tty *TTY) *Device {
	return &Device{TTY: tty}
}

// checkSigttin enforces that only the foreground process group may
// read: a background reader is sent SIGTTIN (possibly stopping it),
// unless doing so would be pointless (orphaned group, blocked/ignored
// signal), in which case the read fails with EIO instead.
func (d *Device) checkSigttin(p *proc.Process) defs.Err_t {
	if p.GetPgid() == d.TTY.Pgrp() {
		return 0
	}
	if p.IsInOrphanProcessGroup() {
		return defs.EIO
	}
	if p.Signal.IsBlocked(signal.SIGTTIN) {
		return defs.EIO
	}
	if p.Signal.Handlers.Get(signal.SIGTTIN).Kind == signal.HandlerIgnore {
		return defs.EIO
	}
	proc.KillPgid(p.GetPgid(), signal.SIGTTIN)
	return 0
}

// checkSigttou enforces the equivalent rule for background writers,
// but only when TOSTOP is set in c_lflag — by default background
// writes are allowed.
func (d *Device) checkSigttou(p *proc.Process) defs.Err_t {
	if d.TTY.Termios().Lflag&cTOSTOP == 0 {
		return 0
	}
	if p.GetPgid() == d.TTY.Pgrp() {
		return 0
	}
	if p.Signal.IsBlocked(signal.SIGTTOU) {
		return defs.EIO
	}
	if p.Signal.Handlers.Get(signal.SIGTTOU).Kind == signal.HandlerIgnore {
		return defs.EIO
	}
	if p.IsInOrphanProcessGroup() {
		return defs.EIO
	}
	proc.KillPgid(p.GetPgid(), signal.SIGTTOU)
	return 0
}

/// ReadAs performs a read on behalf of process p, subject to the
/// SIGTTIN job-control check.
func (d *Device) ReadAs(p *proc.Process, buf []byte) (int, defs.Err_t) {
	if err := d.checkSigttin(p); err != 0 {
		return 0, err
	}
	return d.TTY.Read(buf)
}

/// WriteAs performs a write on behalf of process p, subject to the
/// SIGTTOU job-control check. The TTY has no real sink in this
/// simulation; bytes are simply acknowledged.
func (d *Device) WriteAs(p *proc.Process, buf []byte) (int, defs.Err_t) {
	if err := d.checkSigttou(p); err != 0 {
		return 0, err
	}
	return len(buf), 0
}

// Ioctl request numbers, using the kernel's real numeric values so a
// userspace ioctl() call against this device needs no translation.
const (
	TCGETS    = unix.TCGETS
	TCSETS    = unix.TCSETS
	TCSETSW   = unix.TCSETSW
	TCSETSF   = unix.TCSETSF
	TIOCGPGRP = unix.TIOCGPGRP
	TIOCSPGRP = unix.TIOCSPGRP
	TIOCGWINSZ = unix.TIOCGWINSZ
	TIOCSWINSZ = unix.TIOCSWINSZ
)

/// IoctlGetTermios implements TCGETS.
func (d *Device) IoctlGetTermios() unix.Termios { return d.TTY.Termios() }

/// IoctlSetTermios implements TCSETS/TCSETSW/TCSETSF (this simulation
/// makes no distinction between drain/flush variants).
func (d *Device) IoctlSetTermios(p *proc.Process, tio unix.Termios) defs.Err_t {
	if err := d.checkSigttou(p); err != 0 {
		return err
	}
	d.TTY.SetTermios(tio)
	return 0
}

/// IoctlGetPgrp implements TIOCGPGRP.
func (d *Device) IoctlGetPgrp() defs.Pid_t { return d.TTY.Pgrp() }

/// IoctlSetPgrp implements TIOCSPGRP.
func (d *Device) IoctlSetPgrp(p *proc.Process, pgid defs.Pid_t) defs.Err_t {
	if err := d.checkSigttou(p); err != 0 {
		return err
	}
	d.TTY.SetPgrp(pgid)
	return 0
}

/// IoctlGetWinsize implements TIOCGWINSZ.
func (d *Device) IoctlGetWinsize() unix.Winsize { return d.TTY.Winsize() }

/// IoctlSetWinsize implements TIOCSWINSZ.
func (d *Device) IoctlSetWinsize(ws unix.Winsize) {
	d.TTY.SetWinsize(ws)
}
