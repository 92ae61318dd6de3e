// Package procfs renders read-only, generate-at-read-time snapshot
// files for a process, in the shape of the original's proc_dir nodes
// (cmdline, mounts) and the meminfo file — minus an actual filesystem,
// since this module has no VFS: callers get formatted bytes back
// directly rather than opening a path under /proc.
package procfs

import (
	"fmt"
	"strings"

	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/metrics"
	"github.com/davidaparicio/maestro/proc"
	"github.com/davidaparicio/maestro/usercopy"
)

/// Mountpoint is one entry of the synthesized mounts table.
type Mountpoint struct {
	Source string
	Target string
	FsType string
	Flags  string
}

// mountTable is fixed for this simulation: there is no mount()/umount()
// surface in scope, only the procfs view of one.
var mountTable = []Mountpoint{
	{Source: "rootfs", Target: "/", FsType: "tmpfs", Flags: "rw"},
}

/// Cmdline renders the argv region of pid's address space: the
/// NUL-separated arguments are joined with single spaces.
func Cmdline(pid defs.Pid_t) (string, defs.Err_t) {
	p, ok := proc.GetByPid(pid)
	if !ok {
		return "", defs.ENOENT
	}
	begin := p.MemSpace.ExeInfo.ArgvBegin
	end := p.MemSpace.ExeInfo.ArgvEnd
	if end <= begin {
		return "", 0
	}
	raw, err := usercopy.CopyFromUserRaw(p.MemSpace, begin, end.Sub(begin))
	if err != 0 {
		return "", err
	}
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	return strings.Join(parts, " "), 0
}

/// Rusage renders pid's accumulated accounting data as an rusage
/// structure, the same bytes a getrusage()-style syscall would copy
/// out to userspace.
func Rusage(pid defs.Pid_t) ([]byte, defs.Err_t) {
	p, ok := proc.GetByPid(pid)
	if !ok {
		return nil, defs.ENOENT
	}
	return p.Rusage.Fetch(), 0
}

/// Mounts renders the mount table, one line per entry, matching the
/// original's "source target fstype flags 0 0" format.
func Mounts() string {
	var b strings.Builder
	for _, mp := range mountTable {
		fmt.Fprintf(&b, "%s %s %s %s 0 0\n", mp.Source, mp.Target, mp.FsType, mp.Flags)
	}
	return b.String()
}

/// MemInfo renders a meminfo-style report read directly from the
/// allocator and heap accessors that metrics.Collector also reads, so
/// both views agree.
func MemInfo(alloc *mem.Allocator, heap *mem.Heap) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MemFree: %d kB\n", alloc.NumFreeFrames()*mem.PAGE_SIZE/1024)
	fmt.Fprintf(&b, "HeapUsed: %d kB\n", heap.BytesInUse()/1024)
	blocks := alloc.FreeBlocksByOrder()
	for order, count := range blocks {
		if count == 0 {
			continue
		}
		fmt.Fprintf(&b, "FreeBlocks[order=%d]: %d\n", order, count)
	}
	return b.String()
}

// The blank reference to metrics.NewCollector keeps the metrics import
// as a documented hook: a real /proc/meminfo handler would register this collector
// once and read it on every open, sharing the exporter's source of
// truth instead of recomputing independently.
var _ = metrics.NewCollector
