package memspace

import (
	"sync"

	"github.com/davidaparicio/maestro/mem"
)

/// PageCache simulates a file's page cache: the one collaborator VFS
/// would normally own. It hands out a stable backing frame per page
/// offset, allocating and zeroing on first touch, so file-backed
/// mappings have something concrete to share.
type PageCache struct {
	mu     sync.Mutex
	alloc  *mem.Allocator
	dmap   *mem.Dmap
	frames map[uint64]mem.PhysAddr
}

/// NewPageCache creates an empty page cache drawing frames from alloc.
func NewPageCache(alloc *mem.Allocator, dmap *mem.Dmap) *PageCache {
	return &PageCache{alloc: alloc, dmap: dmap, frames: make(map[uint64]mem.PhysAddr)}
}

/// Page returns the frame backing the page at byte offset off,
/// allocating and zeroing it on first access.
func (c *PageCache) Page(off uint64) (mem.PhysAddr, error) {
	pageOff := off &^ (mem.PAGE_SIZE - 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.frames[pageOff]; ok {
		return p, nil
	}
	p, err := c.alloc.Alloc(0)
	if err != nil {
		return 0, err
	}
	c.dmap.Zero(p)
	c.frames[pageOff] = p
	return p, nil
}

/// FileBacking is the mapping's optional backing file: a shared
/// PageCache standing in for VFS-managed storage. The mapping's own
/// FileOff records where within the cache this mapping begins.
type FileBacking struct {
	Cache *PageCache
}

type pageSlot struct {
	phys    mem.PhysAddr
	present bool
	// cowSource is true when the installed frame is the shared cache
	// frame rather than a privately copied one; a write fault on such a
	// page must copy before becoming writable.
	cowSource bool
}

/// MemMapping is a page-aligned virtual range with protection, flags,
/// optional file backing, and one backing-frame slot per page.
/// Mappings start unpopulated; see MemSpace.HandlePageFault.
type MemMapping struct {
	Begin   mem.VirtAddr
	Pages   uint
	Prot    uint8
	Flags   uint8
	File    *FileBacking
	FileOff uint64

	frames []pageSlot
}

func newMapping(begin mem.VirtAddr, pages uint, prot, flags uint8, file *FileBacking, fileOff uint64) *MemMapping {
	return &MemMapping{
		Begin:   begin,
		Pages:   pages,
		Prot:    prot,
		Flags:   flags,
		File:    file,
		FileOff: fileOff,
		frames:  make([]pageSlot, pages),
	}
}

func (m *MemMapping) End() mem.VirtAddr {
	return m.Begin.Add(uintptr(m.Pages) * mem.PAGE_SIZE)
}

func (m *MemMapping) Size() uintptr {
	return uintptr(m.Pages) * mem.PAGE_SIZE
}

func (m *MemMapping) Contains(addr mem.VirtAddr) bool {
	return addr >= m.Begin && addr < m.End()
}

func (m *MemMapping) Readable() bool   { return m.Prot&ProtRead != 0 }
func (m *MemMapping) Writable() bool   { return m.Prot&ProtWrite != 0 }
func (m *MemMapping) Executable() bool { return m.Prot&ProtExec != 0 }
func (m *MemMapping) Shared() bool     { return m.Flags&MapShared != 0 }
func (m *MemMapping) Anonymous() bool  { return m.Flags&MapAnonymous != 0 }

func (m *MemMapping) pageIndex(addr mem.VirtAddr) uint {
	return uint(addr.Pgrounddown().Sub(m.Begin) / mem.PAGE_SIZE)
}

func (m *MemMapping) populatedCount() uint {
	n := uint(0)
	for _, s := range m.frames {
		if s.present {
			n++
		}
	}
	return n
}

/// clone returns a deep copy of m sharing the same backing frames (used
/// by MemSpace.Fork: both spaces reference the same physical pages
/// until a COW fault privatizes one).
func (m *MemMapping) clone() *MemMapping {
	c := *m
	c.frames = make([]pageSlot, len(m.frames))
	copy(c.frames, m.frames)
	return &c
}

// split carves [at, at+pages*PAGE_SIZE) out of m, returning residual
// mappings before and after it (nil if empty). The removed middle
// section's page slots are not returned: they are simply no longer
// reachable once the gap/mapping table forgets them.
func (m *MemMapping) split(at mem.VirtAddr, pages uint) (left, right *MemMapping) {
	subEnd := at.Add(uintptr(pages) * mem.PAGE_SIZE)
	if at > m.Begin {
		leftPages := uint(at.Sub(m.Begin) / mem.PAGE_SIZE)
		left = newMapping(m.Begin, leftPages, m.Prot, m.Flags, m.File, m.FileOff)
		copy(left.frames, m.frames[:leftPages])
	}
	if subEnd < m.End() {
		rightPages := uint(m.End().Sub(subEnd) / mem.PAGE_SIZE)
		off := uint(subEnd.Sub(m.Begin) / mem.PAGE_SIZE)
		right = newMapping(subEnd, rightPages, m.Prot, m.Flags, m.File, m.FileOff+uint64(off)*mem.PAGE_SIZE)
		copy(right.frames, m.frames[off:])
	}
	return left, right
}
