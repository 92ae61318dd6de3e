package memspace

import (
	"sync"

	"github.com/davidaparicio/maestro/bounds"
	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/paging"
	"github.com/davidaparicio/maestro/res"
	"github.com/davidaparicio/maestro/vm"
)

/// ConstraintKind tags a MapConstraint's variant.
type ConstraintKind int

const (
	ConstraintNone ConstraintKind = iota
	ConstraintFixed
	ConstraintHint
)

/// MapConstraint resolves where Map places a new mapping: exactly at
/// Addr (Fixed), preferably at Addr (Hint), or wherever fits (None).
type MapConstraint struct {
	Kind ConstraintKind
	Addr mem.VirtAddr
}

/// IsValid reports whether the constraint's address (if any) is
/// usable: page-aligned, and strictly below the copy buffer so it can
/// never collide with kernelspace or the ephemeral copy slot.
func (c MapConstraint) IsValid() bool {
	switch c.Kind {
	case ConstraintNone:
		return true
	case ConstraintFixed, ConstraintHint:
		return c.Addr.Aligned() && c.Addr < CopyBuffer && c.Addr >= AllocBegin
	default:
		return false
	}
}

/// ExeInfo records the argv/envp ranges of the process image mapped
/// into this space. ELF loading itself is out of scope; MemSpace still
/// owns the field because the original does.
type ExeInfo struct {
	ArgvBegin, ArgvEnd mem.VirtAddr
	EnvpBegin, EnvpEnd mem.VirtAddr
}

/// MemSpace is a process's virtual address space: the gap/mapping
/// state plus the VMem page-table cache of it. State is authoritative;
/// VMem is populated lazily on page fault.
type MemSpace struct {
	// mu must be lockable from the page-fault path, which on real
	// hardware runs with interrupts disabled; sync.Mutex is reentrant
	// enough for that here because this simulation never actually
	// delivers a hardware interrupt mid-call the way ring 0 code would.
	mu sync.Mutex

	state *MemSpaceState
	vmem  *vm.VMem

	alloc *mem.Allocator
	dmap  *mem.Dmap

	brkInit  mem.VirtAddr
	brk      mem.VirtAddr
	brkIsSet bool

	ExeInfo ExeInfo
}

/// New creates a MemSpace with the full allocation window as one
/// initial gap.
func New(alloc *mem.Allocator, dmap *mem.Dmap) *MemSpace {
	ms := &MemSpace{
		state: newState(),
		vmem:  vm.New(),
		alloc: alloc,
		dmap:  dmap,
	}
	tx := newTransaction(ms.state)
	pages := uint(CopyBuffer.Sub(AllocBegin) / mem.PAGE_SIZE)
	tx.InsertGap(&MemGap{Begin: AllocBegin, Pages: pages})
	tx.Commit()
	return ms
}

/// Bind installs this space's VMem as the current CPU's page-table
/// root.
func (ms *MemSpace) Bind() { ms.vmem.Bind() }

/// IsBound reports whether this space's VMem is currently bound.
func (ms *MemSpace) IsBound() bool { return ms.vmem.IsBound() }

/// Translate returns the physical address currently backing addr's
/// page in this space's page table, for package usercopy.
func (ms *MemSpace) Translate(addr mem.VirtAddr) (mem.PhysAddr, bool) {
	return ms.vmem.Translate(addr)
}

/// DmapPage returns the direct-mapped byte slice for the frame
/// containing phys, for package usercopy to read/write through after
/// a successful HandlePageFault.
func (ms *MemSpace) DmapPage(phys mem.PhysAddr) []byte {
	return ms.dmap.Page(phys)
}

/// VmemUsage returns the number of currently populated user pages.
func (ms *MemSpace) VmemUsage() uint64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state.vmemUsage
}

// gapConsume replaces g with at most two residual gaps around
// [at, at+pages*PAGE_SIZE), via tx.
func gapConsume(tx *Transaction, g *MemGap, at mem.VirtAddr, pages uint) {
	tx.RemoveGap(g.Begin)
	left, right := g.split(at, pages)
	if left != nil {
		tx.InsertGap(left)
	}
	if right != nil {
		tx.InsertGap(right)
	}
}

/// Map establishes a new mapping of the given size, protection, and
/// flags, honoring constraint, and returns its start address.
func (ms *MemSpace) Map(constraint MapConstraint, pages uint, prot, flags uint8, file *FileBacking, off uint64) (mem.VirtAddr, defs.Err_t) {
	if pages == 0 || !constraint.IsValid() {
		return 0, defs.EINVAL
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	size := uintptr(pages) * mem.PAGE_SIZE
	tx := newTransaction(ms.state)

	var start mem.VirtAddr
	switch constraint.Kind {
	case ConstraintFixed:
		start = constraint.Addr
		if start.Add(size) > CopyBuffer {
			return 0, defs.ENOMEM
		}
		ms.state.removeGapsInRange(start, start.Add(size))
		for _, old := range ms.state.mappingsInRange(start, start.Add(size)) {
			// brkMode=true here only to suppress gap synthesis: the
			// vacated range is about to be covered by the new fixed
			// mapping, not returned to the free-gap pool.
			ms.unmapMappingLocked(tx, old, start, pages, true)
		}
	case ConstraintHint:
		if g := ms.state.getGapForAddr(constraint.Addr); g != nil && g.End().Sub(constraint.Addr) >= size {
			start = constraint.Addr
			gapConsume(tx, g, start, pages)
		} else if g := ms.state.getGap(pages); g != nil {
			start = g.Begin
			gapConsume(tx, g, start, pages)
		} else {
			return 0, defs.ENOMEM
		}
	default:
		g := ms.state.getGap(pages)
		if g == nil {
			return 0, defs.ENOMEM
		}
		start = g.Begin
		gapConsume(tx, g, start, pages)
	}

	m := newMapping(start, pages, prot, flags, file, off)
	tx.InsertMapping(m)
	ms.applyInvlpg(tx.Commit())
	return start, 0
}

/// MapSpecial installs a mapping pre-populated with specific frames
/// (e.g. a vDSO-style page), bypassing demand population entirely.
func (ms *MemSpace) MapSpecial(constraint MapConstraint, frames []mem.PhysAddr, prot, flags uint8) (mem.VirtAddr, defs.Err_t) {
	start, err := ms.Map(constraint, uint(len(frames)), prot, flags, nil, 0)
	if err != 0 {
		return 0, err
	}
	ms.mu.Lock()
	m := ms.state.getMappingForAddr(start)
	for i, f := range frames {
		m.frames[i] = pageSlot{phys: f, present: true}
		ms.installPTE(start.Add(uintptr(i)*mem.PAGE_SIZE), f, m.Writable())
		ms.state.vmemUsage++
	}
	ms.mu.Unlock()
	return start, 0
}

func (ms *MemSpace) applyInvlpg(addrs []mem.VirtAddr) {
	if !ms.vmem.IsBound() {
		return
	}
	for _, a := range addrs {
		ms.vmem.Unmap(a)
	}
}

// unmapMappingLocked removes m entirely or splits it around
// [at, at+pages*PAGE_SIZE), staging the residuals into tx and, unless
// brkMode, synthesizing a gap for the removed slice merged with
// adjacent free gaps. Caller holds ms.mu.
func (ms *MemSpace) unmapMappingLocked(tx *Transaction, m *MemMapping, at mem.VirtAddr, pages uint, brkMode bool) {
	removeBegin := at
	if removeBegin < m.Begin {
		removeBegin = m.Begin
	}
	removeEnd := at.Add(uintptr(pages) * mem.PAGE_SIZE)
	if removeEnd > m.End() {
		removeEnd = m.End()
	}
	removePages := uint(removeEnd.Sub(removeBegin) / mem.PAGE_SIZE)

	tx.RemoveMapping(m.Begin)
	left, right := m.split(removeBegin, removePages)
	if left != nil {
		tx.InsertMapping(left)
	}
	if right != nil {
		tx.InsertMapping(right)
	}

	for i := uint(0); i < removePages; i++ {
		addr := removeBegin.Add(uintptr(i) * mem.PAGE_SIZE)
		idx := m.pageIndex(addr)
		if m.frames[idx].present {
			ms.state.vmemUsage--
		}
		tx.Invlpg(addr)
	}

	if !brkMode {
		tx.InsertGap(&MemGap{Begin: removeBegin, Pages: removePages})
	}
}

/// Unmap removes size_pages pages starting at addr. In brk mode no gap
/// is synthesized for the removed range, reserving it exclusively for
/// the program break so a later mmap cannot steal it.
func (ms *MemSpace) Unmap(addr mem.VirtAddr, pages uint, brkMode bool) defs.Err_t {
	if pages == 0 || !addr.Aligned() {
		return defs.EINVAL
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	end := addr.Add(uintptr(pages) * mem.PAGE_SIZE)
	affected := ms.state.mappingsInRange(addr, end)
	if len(affected) == 0 {
		return 0
	}
	tx := newTransaction(ms.state)
	for _, m := range affected {
		ms.unmapMappingLocked(tx, m, addr, pages, brkMode)
	}
	ms.applyInvlpg(tx.Commit())
	return 0
}

/// SetProt validates a protection change for [addr, addr+pages*PAGE_SIZE)
/// and reports success: it returns EINVAL for zero pages, an unaligned
/// addr or an addr no mapping covers, and otherwise returns 0. It does
/// not change any mapping's protection, split mappings or touch
/// page-table entries.
func (ms *MemSpace) SetProt(addr mem.VirtAddr, pages uint, prot uint8) defs.Err_t {
	if pages == 0 || !addr.Aligned() {
		return defs.EINVAL
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state.getMappingForAddr(addr) == nil {
		return defs.EINVAL
	}
	return 0
}

/// GetBrk returns the current program break.
func (ms *MemSpace) GetBrk() mem.VirtAddr {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.brk
}

/// SetBrkInit records the initial program break. May be called exactly
/// once per space.
func (ms *MemSpace) SetBrkInit(addr mem.VirtAddr) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.brkIsSet {
		return defs.EINVAL
	}
	ms.brkInit = addr
	ms.brk = addr
	ms.brkIsSet = true
	return 0
}

/// SetBrk grows or shrinks the program break to addr, refusing to move
/// below brk_init or above the copy buffer.
func (ms *MemSpace) SetBrk(addr mem.VirtAddr) defs.Err_t {
	ms.mu.Lock()
	if !ms.brkIsSet {
		ms.mu.Unlock()
		return defs.EINVAL
	}
	if addr < ms.brkInit || addr >= CopyBuffer || !addr.Aligned() {
		ms.mu.Unlock()
		return defs.ENOMEM
	}
	cur := ms.brk
	ms.mu.Unlock()

	switch {
	case addr > cur:
		pages := uint(addr.Sub(cur) / mem.PAGE_SIZE)
		if _, err := ms.Map(MapConstraint{Kind: ConstraintFixed, Addr: cur}, pages, ProtRead|ProtWrite|ProtExec, MapAnonymous, nil, 0); err != 0 {
			return err
		}
	case addr < cur:
		pages := uint(cur.Sub(addr) / mem.PAGE_SIZE)
		if err := ms.Unmap(addr, pages, true); err != 0 {
			return err
		}
	}
	ms.mu.Lock()
	ms.brk = addr
	ms.mu.Unlock()
	return 0
}

/// Alloc warms up [addr, addr+len) by populating every page in range
/// immediately instead of waiting for page faults, reserving kernel
/// heap budget per page via package res at the call site. Partial
/// warmup is tolerated: a page left unpopulated here is still
/// populated lazily on its first real fault.
func (ms *MemSpace) Alloc(addr mem.VirtAddr, length uintptr) defs.Err_t {
	begin := addr.Pgrounddown()
	end := addr.Add(length).Pgroundup()
	for a := begin; a < end; a = a.Add(mem.PAGE_SIZE) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_MEMSPACE_ALLOC)) {
			return defs.ENOHEAP
		}
		err := ms.HandlePageFault(a, PageFaultWrite)
		res.Resgive()
		if err != 0 {
			return err
		}
	}
	return 0
}

/// HandlePageFault resolves a fault at addr with the given code
/// (PageFaultWrite/PageFaultInstruction set as appropriate). Returns
/// EFAULT when no mapping covers addr or the access violates its
/// protection (proc.DispatchPageFault turns that into SIGSEGV at the
/// caller).
func (ms *MemSpace) HandlePageFault(addr mem.VirtAddr, code uint) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m := ms.state.getMappingForAddr(addr)
	if m == nil {
		return defs.EFAULT
	}
	if code&PageFaultInstruction != 0 && !m.Executable() {
		return defs.EFAULT
	}
	if code&PageFaultWrite != 0 && !m.Writable() {
		return defs.EFAULT
	}
	if code&(PageFaultWrite|PageFaultInstruction) == 0 && !m.Readable() {
		return defs.EFAULT
	}

	idx := m.pageIndex(addr)
	slot := &m.frames[idx]
	isWrite := code&PageFaultWrite != 0

	if !slot.present {
		phys, cowSource, err := ms.populate(m, idx)
		if err != 0 {
			return err
		}
		slot.phys = phys
		slot.present = true
		slot.cowSource = cowSource
		ms.state.vmemUsage++
		ms.installPTE(addr.Pgrounddown(), phys, writableFor(m, slot))
		return 0
	}

	if isWrite && slot.cowSource {
		phys, err := ms.privatize(m, idx)
		if err != 0 {
			return err
		}
		slot.phys = phys
		slot.cowSource = false
		ms.installPTE(addr.Pgrounddown(), phys, true)
		return 0
	}

	// Already populated and access is permitted: reinstall in case the
	// page table entry was dropped (e.g. after fork armed COW).
	ms.installPTE(addr.Pgrounddown(), slot.phys, writableFor(m, slot))
	return 0
}

// writableFor reports whether the page-table entry for slot should be
// installed writable: SHARED writable mappings always install
// writable; PRIVATE file-backed (cowSource) pages install read-only
// until a write fault privatizes them.
func writableFor(m *MemMapping, slot *pageSlot) bool {
	if !m.Writable() {
		return false
	}
	if slot.cowSource {
		return false
	}
	return true
}

// populate returns the frame to install for a first-touch fault on
// mapping m at page index idx: the file's cache page (marked
// cowSource, read-only until written) for a file-backed mapping, or a
// fresh zeroed anonymous frame otherwise.
func (ms *MemSpace) populate(m *MemMapping, idx uint) (mem.PhysAddr, bool, defs.Err_t) {
	if m.File != nil {
		phys, err := m.File.Cache.Page(m.FileOff + uint64(idx)*mem.PAGE_SIZE)
		if err != nil {
			return 0, false, defs.ENOMEM
		}
		return phys, !m.Shared(), 0
	}
	phys, err := ms.alloc.Alloc(0)
	if err != nil {
		return 0, false, defs.ENOMEM
	}
	ms.dmap.Zero(phys)
	return phys, false, 0
}

// privatize copies the shared source frame of a COW page into a fresh
// frame owned solely by this space.
func (ms *MemSpace) privatize(m *MemMapping, idx uint) (mem.PhysAddr, defs.Err_t) {
	src := m.frames[idx].phys
	dst, err := ms.alloc.Alloc(0)
	if err != nil {
		return 0, defs.ENOMEM
	}
	copy(ms.dmap.Page(dst), ms.dmap.Page(src))
	return dst, 0
}

func (ms *MemSpace) installPTE(page mem.VirtAddr, phys mem.PhysAddr, writable bool) {
	if !ms.vmem.IsBound() {
		return
	}
	flags := paging.Present | paging.User
	if writable {
		flags |= paging.Writable
	}
	ms.vmem.Map(phys, page, flags)
}

/// Fork clones this space's gap and mapping tables into a new space
/// with a fresh, empty VMem, and unmaps every populated user page from
/// this space's own page table so both parent and child re-populate on
/// demand through the single page-fault path, arming copy-on-write.
func (ms *MemSpace) Fork() *MemSpace {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	child := &MemSpace{
		state:    newState(),
		vmem:     vm.New(),
		alloc:    ms.alloc,
		dmap:     ms.dmap,
		brkInit:  ms.brkInit,
		brk:      ms.brk,
		brkIsSet: ms.brkIsSet,
		ExeInfo:  ms.ExeInfo,
	}
	for _, g := range ms.state.gaps {
		cp := *g
		child.state.gaps = append(child.state.gaps, &cp)
	}
	for _, m := range ms.state.mappings {
		cm := m.clone()
		child.state.mappings = append(child.state.mappings, cm)
		for i := range cm.frames {
			if cm.frames[i].present {
				cm.frames[i].cowSource = true
				child.state.vmemUsage++
			}
		}
	}

	for _, m := range ms.state.mappings {
		for i := range m.frames {
			if m.frames[i].present {
				ms.vmem.Unmap(m.Begin.Add(uintptr(i) * mem.PAGE_SIZE))
				m.frames[i].cowSource = true
			}
		}
	}
	return child
}
