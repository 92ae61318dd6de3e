// Package paging publishes the architecture-opaque page-table backend
// consumed by package vm. A real x86 backend would walk PML4/PDPT/PD/PT
// radix levels in physical memory and manage the TLB with invlpg; here
// a single process is simulating the whole machine, so the "page table"
// is an ordinary Go map keyed by page-aligned address and the "TLB"/"CPU
// binding" are package-level state standing in for CR3 and the current
// core. The contract at this boundary — map overwrites, unmap on an
// unmapped page is a no-op, TLB invalidation happens on mutation, the
// caller must not free a bound context — matches the real backend's.
package paging

import (
	"sync"

	"github.com/davidaparicio/maestro/mem"
)

/// Flags are page-table entry attribute bits, independent of any one
/// architecture's encoding.
type Flags uint

const (
	Present Flags = 1 << iota
	Writable
	User
	NoExec
	Dirty
	Accessed
	// COW marks a page installed read-only specifically so a write
	// fault can be recognized as a copy-on-write trigger rather than a
	// genuine protection violation.
	COW
)

type entry struct {
	phys  mem.PhysAddr
	flags Flags
}

/// Ctx is one page-table root: the unit map/unmap/translate/bind all
/// operate on, and what a VMem wraps.
type Ctx struct {
	mu      sync.Mutex
	entries map[mem.VirtAddr]entry
	bound   bool
}

var (
	currentMu sync.Mutex
	current   *Ctx
	wpEnabled   bool
	smapEnabled bool
)

/// Alloc allocates a fresh, empty page-table root.
func Alloc() *Ctx {
	return &Ctx{entries: make(map[mem.VirtAddr]entry)}
}

/// Free releases ctx. Panics if ctx is still bound to the simulated
/// CPU: a bound context must never be freed out from under a running
/// process.
func Free(ctx *Ctx) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.bound {
		panic("paging: free of bound context")
	}
	ctx.entries = nil
}

/// Map installs virt -> phys with flags, overwriting any previous
/// mapping for that page, and invalidates the page on the current CPU.
func Map(ctx *Ctx, phys mem.PhysAddr, virt mem.VirtAddr, flags Flags) {
	page := virt.Pgrounddown()
	ctx.mu.Lock()
	ctx.entries[page] = entry{phys: phys.Pgrounddown(), flags: flags | Present}
	ctx.mu.Unlock()
	invalidateIfCurrent(ctx, page)
}

/// Unmap removes any mapping for virt's page. A no-op if unmapped.
func Unmap(ctx *Ctx, virt mem.VirtAddr) {
	page := virt.Pgrounddown()
	ctx.mu.Lock()
	delete(ctx.entries, page)
	ctx.mu.Unlock()
	invalidateIfCurrent(ctx, page)
}

/// Translate returns the physical address backing virt's page, and
/// whether a mapping exists.
func Translate(ctx *Ctx, virt mem.VirtAddr) (mem.PhysAddr, bool) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	e, ok := ctx.entries[virt.Pgrounddown()]
	if !ok {
		return 0, false
	}
	return e.phys.Add(virt.Pgoff()), true
}

/// PollDirty returns the physical address and current dirty bit for
/// virt's page, atomically clearing the dirty bit. Returns ok=false if
/// unmapped.
func PollDirty(ctx *Ctx, virt mem.VirtAddr) (phys mem.PhysAddr, dirty bool, ok bool) {
	page := virt.Pgrounddown()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	e, present := ctx.entries[page]
	if !present {
		return 0, false, false
	}
	dirty = e.flags&Dirty != 0
	e.flags &^= Dirty
	ctx.entries[page] = e
	return e.phys, dirty, true
}

/// SetDirty marks virt's page dirty, standing in for a real CPU setting
/// the bit on a store. Nothing in package memspace calls it; only
/// paging's own tests do.
func SetDirty(ctx *Ctx, virt mem.VirtAddr) {
	page := virt.Pgrounddown()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	e, ok := ctx.entries[page]
	if !ok {
		return
	}
	e.flags |= Dirty | Accessed
	ctx.entries[page] = e
}

/// Bind installs ctx as the page-table root of the simulated current
/// CPU.
func Bind(ctx *Ctx) {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil && current != ctx {
		current.mu.Lock()
		current.bound = false
		current.mu.Unlock()
	}
	ctx.mu.Lock()
	ctx.bound = true
	ctx.mu.Unlock()
	current = ctx
}

/// IsBound reports whether ctx is the currently bound context.
func IsBound(ctx *Ctx) bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.bound
}

/// Current returns the context presently bound to the simulated CPU,
/// or nil.
func Current() *Ctx {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

func invalidateIfCurrent(ctx *Ctx, page mem.VirtAddr) {
	currentMu.Lock()
	isCurrent := current == ctx
	currentMu.Unlock()
	if isCurrent {
		Invlpg(page)
	}
}

/// Invlpg invalidates a single page's TLB entry on the current CPU.
/// In this simulation there is no separate TLB cache to flush; it
/// exists as a call site so package vm's contract (invalidate on
/// mutation) has something concrete to exercise; InvlpgCount reports
/// how many times it was called.
func Invlpg(virt mem.VirtAddr) {
	invlpgCount++
}

/// FlushCurrent invalidates every TLB entry for the current CPU.
func FlushCurrent() {
	flushCount++
}

// invlpgCount/flushCount back the lightweight invalidation counters
// exposed by InvlpgCount and FlushCount.
var invlpgCount, flushCount uint64

/// InvlpgCount reports how many single-page invalidations have been
/// issued since process start.
func InvlpgCount() uint64 { return invlpgCount }

/// FlushCount reports how many full-TLB flushes have been issued since
/// process start.
func FlushCount() uint64 { return flushCount }

/// SetWriteProtected toggles the kernel-side write-protect gate that
/// lets the kernel write through read-only-mapped kernel pages (e.g.
/// during ELF relocation fixups). Scoped use belongs to package vm's
/// WriteRO.
func SetWriteProtected(enabled bool) {
	wpEnabled = enabled
}

/// WriteProtected reports the current write-protect gate state.
func WriteProtected() bool { return wpEnabled }

/// SetSmapEnabled toggles Supervisor-Mode Access Prevention. Disabled
/// only for the duration of a single copy-primitive call by package
/// usercopy.
func SetSmapEnabled(enabled bool) {
	smapEnabled = enabled
}

/// SmapEnabled reports the current SMAP gate state.
func SmapEnabled() bool { return smapEnabled }
