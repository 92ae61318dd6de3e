package memspace

import "github.com/davidaparicio/maestro/mem"

/// MemGap is a page-aligned, unmapped virtual range: [Begin, Begin +
/// Pages*PAGE_SIZE).
type MemGap struct {
	Begin mem.VirtAddr
	Pages uint
}

/// End returns the address one past the last page of the gap.
func (g *MemGap) End() mem.VirtAddr {
	return g.Begin.Add(uintptr(g.Pages) * mem.PAGE_SIZE)
}

/// Size returns the gap's size in bytes.
func (g *MemGap) Size() uintptr {
	return uintptr(g.Pages) * mem.PAGE_SIZE
}

/// Contains reports whether addr falls within the gap.
func (g *MemGap) Contains(addr mem.VirtAddr) bool {
	return addr >= g.Begin && addr < g.End()
}

/// adjacentTo reports whether g and o touch or overlap, in which case
/// they should be merged into one gap rather than kept as two.
func (g *MemGap) adjacentTo(o *MemGap) bool {
	return g.Begin <= o.End() && o.Begin <= g.End()
}

/// merge returns the gap spanning both g and o. Callers must have
/// already checked adjacentTo.
func (g *MemGap) merge(o *MemGap) *MemGap {
	begin := g.Begin
	if o.Begin < begin {
		begin = o.Begin
	}
	end := g.End()
	if o.End() > end {
		end = o.End()
	}
	return &MemGap{Begin: begin, Pages: uint(end.Sub(begin) / mem.PAGE_SIZE)}
}

// split carves a sub-range [at, at+pages*PAGE_SIZE) out of g, returning
// the (possibly empty) residual gaps before and after it. Callers must
// ensure the sub-range lies within g.
func (g *MemGap) split(at mem.VirtAddr, pages uint) (left, right *MemGap) {
	subEnd := at.Add(uintptr(pages) * mem.PAGE_SIZE)
	if at > g.Begin {
		left = &MemGap{Begin: g.Begin, Pages: uint(at.Sub(g.Begin) / mem.PAGE_SIZE)}
	}
	if subEnd < g.End() {
		right = &MemGap{Begin: subEnd, Pages: uint(g.End().Sub(subEnd) / mem.PAGE_SIZE)}
	}
	return left, right
}
