package proc

import (
	"sync"
	"time"

	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/signal"
)

// registry is the global PID -> Process table. The original keeps this
// inside the scheduler itself; it is split out here only because Go
// has no single all-encompassing "kernel" object to hang it off of.
var (
	registryMu sync.Mutex
	registry   = map[defs.Pid_t]*Process{}
)

func registerLocked(p *Process) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Pid()] = p
}

/// GetByPid looks up a live process by PID.
func GetByPid(pid defs.Pid_t) (*Process, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	p, ok := registry[pid]
	return p, ok
}

/// Reap removes a zombie from the registry and releases its PID. The
/// caller (its parent, via wait) must have already observed the exit
/// status.
func Reap(pid defs.Pid_t) {
	registryMu.Lock()
	p, ok := registry[pid]
	if ok {
		delete(registry, pid)
	}
	registryMu.Unlock()
	if ok {
		p.pid.Release()
	}
}

/// Scheduler tracks how many processes are presently Running, for
/// accounting and tests. The actual run loop is cooperative and
/// single-CPU (spec section 5): there is no preemption to model, only
/// the bookkeeping every state transition touches.
type Scheduler struct {
	mu      sync.Mutex
	running uint64
	current *Process
	mark    time.Time
}

var sched = &Scheduler{}

func schedulerIncRunning() {
	sched.mu.Lock()
	sched.running++
	sched.mu.Unlock()
}

func schedulerDecRunning() {
	sched.mu.Lock()
	if sched.running > 0 {
		sched.running--
	}
	sched.mu.Unlock()
}

/// RunningCount returns the number of processes currently in
/// StateRunning.
func RunningCount() uint64 {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.running
}

/// CountByState returns how many registered processes are currently in
/// state st. Intended for metrics collection; O(n) in the process
/// count, which is fine at scrape intervals.
func CountByState(st State) uint64 {
	registryMu.Lock()
	defer registryMu.Unlock()
	var n uint64
	for _, p := range registry {
		if p.GetState() == st {
			n++
		}
	}
	return n
}

/// SetCurrent records p as the process executing on the (single,
/// simulated) CPU. Call sites that enter a process's context (a
/// syscall dispatch, a test harness) must call this before relying on
/// Current. The wall time the outgoing process spent bound to the CPU
/// since its own SetCurrent is charged to its rusage as user time.
func SetCurrent(p *Process) {
	sched.mu.Lock()
	now := time.Now()
	if prev := sched.current; prev != nil && prev != p && !sched.mark.IsZero() {
		prev.Rusage.Utadd(int(now.Sub(sched.mark)))
	}
	sched.current = p
	sched.mark = now
	sched.mu.Unlock()
}

/// Current returns the process currently bound to the CPU, or nil if
/// none is set.
func Current() *Process {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.current
}

/// YieldCurrent is the return-to-userspace checkpoint: it dispatches
/// one pending, unblocked signal for the current process (running its
/// handler's default action, or marking the frame for a userspace
/// handler) and reports whether execution should continue. A false
/// return means the scheduler must not resume this context — the
/// process has stopped, exited, or is otherwise no longer runnable.
/// Time spent here dispatching is charged to the process's rusage as
/// system time.
func YieldCurrent() bool {
	p := Current()
	if p == nil {
		return false
	}
	if p.GetState() != StateRunning {
		return false
	}
	sig, ok := p.Signal.NextSignal(false)
	if !ok {
		return true
	}
	start := time.Now()
	dispatchDefault(p, sig)
	p.Rusage.Systadd(int(time.Since(start)))
	return p.GetState() == StateRunning
}

// dispatchDefault applies the default action for sig when no
// userspace handler is installed (or records that the handler will
// run, for callers driving a real IntFrame). The core default-action
// table: ignore for SIGCHLD, stop for SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU,
// continue for SIGCONT, and termination for every other signal,
// including numbers package signal does not name (SIGURG, SIGWINCH).
func dispatchDefault(p *Process, sig signal.Signal) {
	h := p.Signal.Handlers.Get(sig)
	switch h.Kind {
	case signal.HandlerIgnore:
		return
	case signal.HandlerUser:
		// A real backend would rewrite the interrupt frame's PC/SP to
		// the handler entry here; this simulation has no frame to
		// rewrite, so the handler dispatch is a no-op at this layer.
		return
	}

	switch sig {
	case signal.SIGCHLD:
		return
	case signal.SIGCONT:
		p.SetState(StateRunning)
	case signal.SIGSTOP, signal.SIGTSTP, signal.SIGTTIN, signal.SIGTTOU:
		p.SetState(StateStopped)
	default:
		p.TermSig = sig
		p.SetState(StateZombie)
	}
}
