package proc

import (
	"sync"

	"github.com/davidaparicio/maestro/defs"
)

/// InitPid is the PID reserved for the init process; its process can
/// never reach StateZombie without panicking the kernel.
const InitPid = defs.Pid_t(1)

var (
	pidMu  sync.Mutex
	nextID = InitPid + 1
	taken  = map[defs.Pid_t]bool{InitPid: true}
)

/// PidHandle owns a reservation on a PID for the lifetime of a
/// process; releasing it (on reap) frees the number for reuse.
type PidHandle struct {
	pid defs.Pid_t
}

/// Get returns the reserved PID.
func (h PidHandle) Get() defs.Pid_t { return h.pid }

/// UniquePid reserves and returns a fresh, never-in-use PID.
func UniquePid() PidHandle {
	pidMu.Lock()
	defer pidMu.Unlock()
	for taken[nextID] {
		nextID++
	}
	pid := nextID
	taken[pid] = true
	nextID++
	return PidHandle{pid: pid}
}

/// Release returns a PID to the free pool. Called once a zombie is
/// reaped by its parent.
func (h PidHandle) Release() {
	pidMu.Lock()
	defer pidMu.Unlock()
	delete(taken, h.pid)
}
