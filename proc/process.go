// Package proc implements the process control block and its lifecycle:
// PID allocation, fork/exit/kill, process groups, and the cooperative
// single-CPU scheduler that ties them together.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/davidaparicio/maestro/accnt"
	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/signal"
)

/// State is a process's scheduling state.
type State int

const (
	StateRunning State = iota
	StateSleeping
	StateStopped
	StateZombie
)

/// Char returns the single-letter state code used by procfs.
func (s State) Char() byte {
	switch s {
	case StateRunning:
		return 'R'
	case StateSleeping:
		return 'S'
	case StateStopped:
		return 'T'
	case StateZombie:
		return 'Z'
	default:
		return '?'
	}
}

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// validTransition mirrors the original's fetch_update guard: from
// Running or Sleeping a process may move to any state; from Stopped it
// may only resume to Running. Zombie is terminal.
func validTransition(from, to State) bool {
	switch from {
	case StateRunning, StateSleeping:
		return true
	case StateStopped:
		return to == StateRunning
	default:
		return false
	}
}

/// ForkOptions selects what a child shares with its parent instead of
/// copying.
type ForkOptions struct {
	ShareMemory  bool
	ShareFD      bool
	ShareSighand bool
}

/// ProcessLinks holds a process's place in the process/group tree.
type ProcessLinks struct {
	mu             sync.Mutex
	hasParent      bool
	parent         defs.Pid_t
	Children       []defs.Pid_t
	hasGroupLeader bool
	groupLeader    defs.Pid_t
	ProcessGroup   []defs.Pid_t
}

/// ProcessFs holds filesystem-access context. VFS itself is out of
/// scope; this is the shape MemSpace's exe-info neighbors would read.
type ProcessFs struct {
	Umask  uint32
	Cwd    string
	Chroot string
}

/// Process is the process control block.
type Process struct {
	pid PidHandle
	Tid defs.Pid_t

	state     atomic.Int32
	vforkDone atomic.Bool

	Links ProcessLinks

	MemSpace *memspace.MemSpace
	Files    *FDTable

	fsMu sync.Mutex
	Fs   ProcessFs

	Signal *signal.ProcessSignal

	Rusage     *accnt.Accnt_t
	NSignals   atomic.Uint64
	ExitStatus uint8
	TermSig    signal.Signal
}

/// NewInit creates the init process (PID 1) and registers it with the
/// scheduler. Must be called exactly once at startup.
func NewInit(ms *memspace.MemSpace) *Process {
	p := &Process{
		pid:    PidHandle{pid: InitPid},
		Tid:    InitPid,
		Signal: signal.NewProcessSignal(),
		Rusage: &accnt.Accnt_t{},
		Files:  NewFDTable(),
	}
	p.MemSpace = ms
	p.state.Store(int32(StateRunning))
	registerLocked(p)
	schedulerIncRunning()
	return p
}

/// Pid returns the process's PID.
func (p *Process) Pid() defs.Pid_t { return p.pid.Get() }

/// IsInit reports whether this is the init process.
func (p *Process) IsInit() bool { return p.pid.Get() == InitPid }

/// GetState returns the current scheduling state.
func (p *Process) GetState() State { return State(p.state.Load()) }

/// GetPgid returns the process's group ID: its group leader's PID, or
/// its own PID if it is its own leader.
func (p *Process) GetPgid() defs.Pid_t {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	if p.Links.hasGroupLeader {
		return p.Links.groupLeader
	}
	return p.Pid()
}

/// GetParentPid returns the parent's PID, or this process's own PID if
/// it has none (init).
func (p *Process) GetParentPid() defs.Pid_t {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	if p.Links.hasParent {
		return p.Links.parent
	}
	return p.Pid()
}

/// SetPgid moves the process into the group led by pgid (or makes it
/// its own leader when pgid is 0 or equals its own PID).
func (p *Process) SetPgid(pgid defs.Pid_t) defs.Err_t {
	pid := p.Pid()
	var newLeader defs.Pid_t
	hasNewLeader := pgid != 0 && pgid != pid
	if hasNewLeader {
		newLeader = pgid
		if _, ok := GetByPid(newLeader); !ok {
			return defs.ESRCH
		}
	}

	p.Links.mu.Lock()
	oldHas, oldLeader := p.Links.hasGroupLeader, p.Links.groupLeader
	p.Links.hasGroupLeader, p.Links.groupLeader = hasNewLeader, newLeader
	p.Links.mu.Unlock()

	if oldHas {
		if leader, ok := GetByPid(oldLeader); ok {
			leader.removeFromGroup(pid)
		}
	}
	if hasNewLeader {
		if leader, ok := GetByPid(newLeader); ok {
			leader.addToGroup(pid)
		}
	}
	return 0
}

func (p *Process) addToGroup(pid defs.Pid_t) {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	for _, existing := range p.Links.ProcessGroup {
		if existing == pid {
			return
		}
	}
	p.Links.ProcessGroup = append(p.Links.ProcessGroup, pid)
}

func (p *Process) removeFromGroup(pid defs.Pid_t) {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	for i, existing := range p.Links.ProcessGroup {
		if existing == pid {
			p.Links.ProcessGroup = append(p.Links.ProcessGroup[:i], p.Links.ProcessGroup[i+1:]...)
			return
		}
	}
}

/// IsInOrphanProcessGroup reports whether this process's group leader
/// has already become a zombie, so job-control signals to it (SIGTTIN/
/// SIGTTOU) would never be handled.
func (p *Process) IsInOrphanProcessGroup() bool {
	p.Links.mu.Lock()
	hasLeader, leaderPid := p.Links.hasGroupLeader, p.Links.groupLeader
	p.Links.mu.Unlock()
	if !hasLeader {
		return false
	}
	leader, ok := GetByPid(leaderPid)
	if !ok {
		return true
	}
	return leader.GetState() == StateZombie
}

/// AddChild records pid as a child of this process.
func (p *Process) AddChild(pid defs.Pid_t) {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	p.Links.Children = append(p.Links.Children, pid)
}

/// RemoveChild stops tracking pid as a child of this process.
func (p *Process) RemoveChild(pid defs.Pid_t) {
	p.Links.mu.Lock()
	defer p.Links.mu.Unlock()
	for i, c := range p.Links.Children {
		if c == pid {
			p.Links.Children = append(p.Links.Children[:i], p.Links.Children[i+1:]...)
			return
		}
	}
}

/// SetState attempts the state transition, doing nothing if it is not
/// a valid one. Reaching Zombie releases the file descriptor table and
/// the address space (unless it is still bound to the CPU), reparents children to init, and wakes the
/// scheduler's run accounting; reaching Running, Stopped, or Zombie
/// notifies the parent with SIGCHLD.
func (p *Process) SetState(newState State) {
	old := State(p.state.Swap(int32(newState)))
	if !validTransition(old, newState) {
		p.state.Store(int32(old))
		return
	}

	if old != StateRunning && newState == StateRunning {
		schedulerIncRunning()
	} else if old == StateRunning && newState != StateRunning {
		schedulerDecRunning()
	}

	if newState == StateZombie {
		if p.IsInit() {
			panic("proc: terminated init process")
		}
		// Release the address space and file descriptor table to
		// reclaim memory. The address space is left alone if it is
		// still bound to the CPU: a process exiting through its own
		// page tables cannot drop them out from under itself.
		if p.MemSpace != nil && !p.MemSpace.IsBound() {
			p.MemSpace = nil
		}
		p.Files = nil
		reparentChildrenToInit(p)
	}

	if newState == StateRunning || newState == StateStopped || newState == StateZombie {
		if parent, ok := GetByPid(p.GetParentPid()); ok && parent != p {
			parent.Kill(signal.SIGCHLD)
		}
	}
}

func reparentChildrenToInit(p *Process) {
	initProc, ok := GetByPid(InitPid)
	if !ok {
		return
	}
	p.Links.mu.Lock()
	children := p.Links.Children
	p.Links.Children = nil
	p.Links.mu.Unlock()

	for _, childPid := range children {
		if childPid == p.Pid() {
			continue
		}
		if child, ok := GetByPid(childPid); ok {
			child.Links.mu.Lock()
			child.Links.hasParent = true
			child.Links.parent = InitPid
			child.Links.mu.Unlock()
			initProc.AddChild(childPid)
		}
	}
}

/// Wake resumes a Sleeping process to Running.
func (p *Process) Wake() {
	if p.state.CompareAndSwap(int32(StateSleeping), int32(StateRunning)) {
		schedulerIncRunning()
	}
}

/// VforkWake signals that a vfork child has released the parent's
/// address space, letting the parent resume.
func (p *Process) VforkWake() {
	p.vforkDone.Store(true)
	if parent, ok := GetByPid(p.GetParentPid()); ok && parent != p {
		parent.SetState(StateRunning)
	}
}

/// IsVforkDone reports whether VforkWake has fired.
func (p *Process) IsVforkDone() bool { return p.vforkDone.Load() }

/// Fork clones this process into a new one per opts, registers it with
/// the scheduler, and links it as a child of this.
func Fork(this *Process, opts ForkOptions) (*Process, defs.Err_t) {
	if this.GetState() != StateRunning {
		return nil, defs.EINVAL
	}
	handle := UniquePid()

	var ms *memspace.MemSpace
	if opts.ShareMemory {
		ms = this.MemSpace
	} else {
		ms = this.MemSpace.Fork()
	}

	var handlers *signal.HandlerTable
	if opts.ShareSighand {
		handlers = this.Signal.Handlers
	} else {
		handlers = this.Signal.Handlers.Clone()
	}

	var files *FDTable
	if opts.ShareFD {
		files = this.Files
	} else {
		files = this.Files.Clone()
	}

	this.fsMu.Lock()
	fsCopy := this.Fs
	this.fsMu.Unlock()

	this.Links.mu.Lock()
	groupLeader, hasGroupLeader := this.Links.groupLeader, this.Links.hasGroupLeader
	this.Links.mu.Unlock()

	child := &Process{
		pid: handle,
		Tid: handle.Get(),
		Signal: &signal.ProcessSignal{
			Handlers: handlers,
			Blocked:  this.Signal.Mask(),
		},
		Rusage: &accnt.Accnt_t{},
	}
	child.MemSpace = ms
	child.Files = files
	child.Fs = fsCopy
	child.Links.hasParent = true
	child.Links.parent = this.Pid()
	child.Links.hasGroupLeader = hasGroupLeader
	child.Links.groupLeader = groupLeader
	child.state.Store(int32(StateRunning))

	registerLocked(child)
	schedulerIncRunning()
	this.AddChild(child.Pid())
	return child, 0
}

/// Kill sets sig pending on the process (subject to its blocked mask),
/// bumping the process's NSignals counter.
func (p *Process) Kill(sig signal.Signal) {
	if signal.Catchable(sig) && p.Signal.IsBlocked(sig) {
		return
	}
	p.NSignals.Add(1)
	p.Signal.Kill(sig)
}

/// KillGroup delivers sig to every process in this process's group.
func (p *Process) KillGroup(sig signal.Signal) {
	p.Links.mu.Lock()
	members := append([]defs.Pid_t(nil), p.Links.ProcessGroup...)
	p.Links.mu.Unlock()
	for _, pid := range members {
		if proc, ok := GetByPid(pid); ok {
			proc.Kill(sig)
		}
	}
}

/// KillPgid delivers sig to every process in the group identified by
/// pgid: the leader and all of its recorded members. Job-control call
/// sites (a TTY's SIGTTIN/SIGTTOU checks) use this rather than
/// Process.KillGroup, since the signaling process is frequently a
/// background *member* rather than the group's leader, and the leader
/// is the one whose ProcessGroup list is authoritative.
func KillPgid(pgid defs.Pid_t, sig signal.Signal) {
	leader, ok := GetByPid(pgid)
	if !ok {
		return
	}
	leader.Kill(sig)
	leader.KillGroup(sig)
}

/// Exit transitions the process to Zombie with the given exit status
/// and wakes any vfork-waiting parent.
func (p *Process) Exit(status uint8) {
	p.ExitStatus = status
	p.SetState(StateZombie)
	p.VforkWake()
}
