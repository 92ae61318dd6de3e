// Package signal implements the pending/blocked bitsets, handler table,
// and delivery-point dispatch described for the process core: every
// process carries a SigSet of pending and blocked signal numbers, and a
// 64-entry handler table that may be shared across threads of the same
// process (CLONE_SIGHAND-equivalent). Dispatch happens at
// yield_current, just before a return to userspace.
package signal

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/davidaparicio/maestro/mem"
)

/// Signal is a signal number.
type Signal int

// The subset of POSIX signals the core dispatches or lets userspace
// catch, using the platform's real numbering so SigSet bit positions
// match what every libc expects.
const (
	SIGHUP  Signal = Signal(unix.SIGHUP)
	SIGINT  Signal = Signal(unix.SIGINT)
	SIGQUIT Signal = Signal(unix.SIGQUIT)
	SIGILL  Signal = Signal(unix.SIGILL)
	SIGTRAP Signal = Signal(unix.SIGTRAP)
	SIGABRT Signal = Signal(unix.SIGABRT)
	SIGBUS  Signal = Signal(unix.SIGBUS)
	SIGFPE  Signal = Signal(unix.SIGFPE)
	SIGKILL Signal = Signal(unix.SIGKILL)
	SIGUSR1 Signal = Signal(unix.SIGUSR1)
	SIGSEGV Signal = Signal(unix.SIGSEGV)
	SIGUSR2 Signal = Signal(unix.SIGUSR2)
	SIGPIPE Signal = Signal(unix.SIGPIPE)
	SIGALRM Signal = Signal(unix.SIGALRM)
	SIGTERM Signal = Signal(unix.SIGTERM)
	SIGCHLD Signal = Signal(unix.SIGCHLD)
	SIGCONT Signal = Signal(unix.SIGCONT)
	SIGSTOP Signal = Signal(unix.SIGSTOP)
	SIGTSTP Signal = Signal(unix.SIGTSTP)
	SIGTTIN Signal = Signal(unix.SIGTTIN)
	SIGTTOU Signal = Signal(unix.SIGTTOU)
	SIGSYS  Signal = Signal(unix.SIGSYS)
)

// NumSignals is the handler table size; real-time signals aren't
// modeled, so 64 entries comfortably covers every standard signal.
const NumSignals = 64

/// Catchable reports whether sig may be blocked, ignored, or handled by
/// userspace. SIGKILL and SIGSTOP never are.
func Catchable(sig Signal) bool {
	return sig != SIGKILL && sig != SIGSTOP
}

/// SigSet is a bitmask of pending or blocked signal numbers.
type SigSet uint64

func bit(sig Signal) SigSet {
	if sig <= 0 || int(sig) > 63 {
		return 0
	}
	return 1 << uint(sig-1)
}

func (s *SigSet) Add(sig Signal) { *s |= bit(sig) }
func (s *SigSet) Del(sig Signal) { *s &^= bit(sig) }
func (s SigSet) Has(sig Signal) bool { return s&bit(sig) != 0 }
func (s SigSet) IsEmpty() bool       { return s == 0 }

// lowestSet returns the lowest-numbered signal present in s, or 0 if
// empty.
func (s SigSet) lowestSet() Signal {
	if s == 0 {
		return 0
	}
	for sig := Signal(1); sig <= 63; sig++ {
		if s.Has(sig) {
			return sig
		}
	}
	return 0
}

/// HandlerKind tags a SignalHandler's variant.
type HandlerKind int

const (
	HandlerDefault HandlerKind = iota
	HandlerIgnore
	HandlerUser
)

/// SignalHandler is one entry of the 64-entry handler table: the
/// default action, an explicit ignore, or a userspace handler entry
/// point plus its alternate-stack/restart flags.
type SignalHandler struct {
	Kind  HandlerKind
	Entry mem.VirtAddr
	Flags uint64
}

/// HandlerTable is the (optionally shared) table of all 64 handlers.
type HandlerTable struct {
	mu       sync.Mutex
	handlers [NumSignals]SignalHandler
}

/// NewHandlerTable returns a table with every signal at its default
/// action.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{}
}

/// Clone returns a deep copy, used by fork when signal handlers are
/// not shared (no share_sighand).
func (t *HandlerTable) Clone() *HandlerTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &HandlerTable{handlers: t.handlers}
	return c
}

/// Set installs h for sig. Returns false if sig is SIGKILL/SIGSTOP,
/// which cannot be handled or ignored.
func (t *HandlerTable) Set(sig Signal, h SignalHandler) bool {
	if !Catchable(sig) || sig < 1 || int(sig) > NumSignals {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[sig-1] = h
	return true
}

/// Get returns the handler installed for sig.
func (t *HandlerTable) Get(sig Signal) SignalHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sig < 1 || int(sig) > NumSignals {
		return SignalHandler{}
	}
	return t.handlers[sig-1]
}

/// ProcessSignal is the per-process (or per-thread-group) signal state:
/// a handler table (shareable), and a blocked/pending bitset pair that
/// is never shared across threads even when the handler table is.
type ProcessSignal struct {
	mu       sync.Mutex
	Handlers *HandlerTable
	Blocked  SigSet
	Pending  SigSet
}

/// NewProcessSignal creates signal state with a fresh handler table,
/// nothing blocked, nothing pending.
func NewProcessSignal() *ProcessSignal {
	return &ProcessSignal{Handlers: NewHandlerTable()}
}

/// IsBlocked reports whether sig is currently blocked from delivery.
func (p *ProcessSignal) IsBlocked(sig Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Blocked.Has(sig)
}

/// Kill sets sig pending, unless it is both blockable and currently
/// blocked, in which case it is silently dropped (still deliverable
/// later if unblocked, per POSIX — callers that want that must re-Kill
/// after sigprocmask; this module tracks only the instantaneous bit).
func (p *ProcessSignal) Kill(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if Catchable(sig) && p.Blocked.Has(sig) {
		return
	}
	p.Pending.Add(sig)
}

/// NextSignal selects the lowest pending signal that is either
/// uncatchable or not currently blocked. If peek is false, its pending
/// bit is cleared.
func (p *ProcessSignal) NextSignal(peek bool) (Signal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	deliverable := p.Pending &^ p.Blocked
	// Uncatchable signals ignore the blocked mask entirely.
	deliverable |= p.Pending & ^SigSet(0) &^ catchableMask(p.Pending)
	sig := deliverable.lowestSet()
	if sig == 0 {
		return 0, false
	}
	if !peek {
		p.Pending.Del(sig)
	}
	return sig, true
}

// catchableMask returns the subset of s whose signals are catchable,
// so NextSignal can always let an uncatchable signal through even if
// (incorrectly) marked blocked.
func catchableMask(s SigSet) SigSet {
	var m SigSet
	for sig := Signal(1); sig <= 63; sig++ {
		if s.Has(sig) && Catchable(sig) {
			m.Add(sig)
		}
	}
	return m
}

/// SetMask replaces the blocked set. SIGKILL/SIGSTOP can never be
/// blocked; callers' masks are sanitized here rather than rejected.
func (p *ProcessSignal) SetMask(mask SigSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mask.Del(SIGKILL)
	mask.Del(SIGSTOP)
	p.Blocked = mask
}

/// Mask returns the current blocked set.
func (p *ProcessSignal) Mask() SigSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Blocked
}
