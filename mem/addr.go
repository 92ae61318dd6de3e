// Package mem implements the physical frame allocator (buddy) and the
// kernel heap that sits on top of it, plus the VirtAddr/PhysAddr address
// types shared by every layer above. Physical memory itself is modeled as
// a byte arena rather than real hardware DRAM: this process has no MMU of
// its own to hand out, so "physical" addresses are offsets into the arena
// and the "direct-mapped kernel window" is the identity mapping of that
// arena into this process's address space (see Dmap in dmap.go).
package mem

// PAGE_SIZE is the frame and page size used throughout the core.
const PAGE_SIZE = 4096

/// PageShift is log2(PAGE_SIZE), used by alignment arithmetic.
const PageShift = 12

/// VirtAddr is a page-addressable virtual address. It is never
/// dereferenced directly; callers translate it through a VMem or the
/// direct map.
type VirtAddr uintptr

/// PhysAddr is an offset into the simulated physical arena.
type PhysAddr uintptr

/// Pgoff returns the offset of v within its containing page.
func (v VirtAddr) Pgoff() uintptr {
	return uintptr(v) & (PAGE_SIZE - 1)
}

/// Pgroundup rounds v up to the next page boundary (no-op if aligned).
func (v VirtAddr) Pgroundup() VirtAddr {
	return VirtAddr((uintptr(v) + PAGE_SIZE - 1) &^ (PAGE_SIZE - 1))
}

/// Pgrounddown rounds v down to the containing page boundary.
func (v VirtAddr) Pgrounddown() VirtAddr {
	return VirtAddr(uintptr(v) &^ (PAGE_SIZE - 1))
}

/// Aligned reports whether v sits exactly on a page boundary.
func (v VirtAddr) Aligned() bool {
	return v.Pgoff() == 0
}

/// Add returns v advanced by n bytes.
func (v VirtAddr) Add(n uintptr) VirtAddr {
	return VirtAddr(uintptr(v) + n)
}

/// Sub returns the byte distance from o to v (v - o).
func (v VirtAddr) Sub(o VirtAddr) uintptr {
	return uintptr(v) - uintptr(o)
}

func (p PhysAddr) Pgoff() uintptr {
	return uintptr(p) & (PAGE_SIZE - 1)
}

func (p PhysAddr) Pgrounddown() PhysAddr {
	return PhysAddr(uintptr(p) &^ (PAGE_SIZE - 1))
}

func (p PhysAddr) Aligned() bool {
	return p.Pgoff() == 0
}

func (p PhysAddr) Add(n uintptr) PhysAddr {
	return PhysAddr(uintptr(p) + n)
}
