// Package vm wraps package paging's architecture-opaque backend with
// the scheduler-facing VMem context: a page-table root plus the scoped
// gate toggles (switch, write-protect, SMAP) that the rest of the
// kernel uses instead of touching paging directly.
package vm

import (
	"fmt"
	"sync"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/paging"
)

/// VMem owns one page-table root and the handful of scoped operations
/// that must run with interrupts disabled or a CPU gate flipped.
type VMem struct {
	mu  sync.Mutex
	ctx *paging.Ctx
}

/// New allocates an empty VMem.
func New() *VMem {
	return &VMem{ctx: paging.Alloc()}
}

/// Map installs virt -> phys with flags.
func (v *VMem) Map(phys mem.PhysAddr, virt mem.VirtAddr, flags paging.Flags) {
	paging.Map(v.ctx, phys, virt, flags)
}

/// MapRange installs pages contiguous mappings starting at phys/virt.
func (v *VMem) MapRange(phys mem.PhysAddr, virt mem.VirtAddr, pages uint, flags paging.Flags) {
	for i := uint(0); i < pages; i++ {
		off := uintptr(i) * mem.PAGE_SIZE
		paging.Map(v.ctx, phys.Add(off), virt.Add(off), flags)
	}
}

/// Unmap removes the mapping for virt's page, if any.
func (v *VMem) Unmap(virt mem.VirtAddr) {
	paging.Unmap(v.ctx, virt)
}

/// UnmapRange removes mappings for pages pages starting at virt.
func (v *VMem) UnmapRange(virt mem.VirtAddr, pages uint) {
	for i := uint(0); i < pages; i++ {
		paging.Unmap(v.ctx, virt.Add(uintptr(i)*mem.PAGE_SIZE))
	}
}

/// Translate returns the physical address backing virt, if mapped.
func (v *VMem) Translate(virt mem.VirtAddr) (mem.PhysAddr, bool) {
	return paging.Translate(v.ctx, virt)
}

/// PollDirty returns and clears the dirty bit for virt's page.
func (v *VMem) PollDirty(virt mem.VirtAddr) (mem.PhysAddr, bool, bool) {
	return paging.PollDirty(v.ctx, virt)
}

/// Bind installs this VMem as the simulated current CPU's root.
func (v *VMem) Bind() {
	paging.Bind(v.ctx)
}

/// IsBound reports whether this VMem is the current CPU's root.
func (v *VMem) IsBound() bool {
	return paging.IsBound(v.ctx)
}

/// Close frees the underlying page-table root. Panics if still bound,
/// matching the source's Drop-time assertion: a context must never be
/// torn down while a CPU might fault against it.
func (v *VMem) Close() {
	if v.IsBound() {
		panic("vm: VMem closed while still bound")
	}
	paging.Free(v.ctx)
}

/// Switch runs fn with v bound as the current context, with the
/// equivalent of interrupts disabled for the duration (modeled here as
/// a mutex held across fn, since there is no real IDT to mask). The
/// previously bound context, if any, is restored on return. Rationale:
/// the scheduler must not be able to reassign the CPU to a process with
/// a different root while fn runs.
func Switch(target *VMem, fn func()) {
	switchMu.Lock()
	defer switchMu.Unlock()
	prev := paging.Current()
	if prev == target.ctx {
		fn()
		return
	}
	target.Bind()
	defer func() {
		if prev != nil {
			paging.Bind(prev)
		}
	}()
	fn()
}

var switchMu sync.Mutex

/// WriteRO runs fn with the kernel write-protect gate disabled, always
/// restoring it afterward even if fn panics.
func WriteRO(fn func()) {
	prev := paging.WriteProtected()
	paging.SetWriteProtected(false)
	defer paging.SetWriteProtected(prev)
	fn()
}

/// SmapDisable runs fn with SMAP disabled, always restoring it
/// afterward even if fn panics. Scoped to a single copy-primitive call
/// by package usercopy.
func SmapDisable(fn func()) {
	prev := paging.SmapEnabled()
	paging.SetSmapEnabled(false)
	defer paging.SetSmapEnabled(prev)
	fn()
}

func (v *VMem) String() string {
	return fmt.Sprintf("VMem{bound=%v}", v.IsBound())
}
