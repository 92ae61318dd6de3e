package memspace

import (
	"sort"

	"github.com/davidaparicio/maestro/mem"
)

/// MemSpaceState holds the two ordered dictionaries keyed by begin
/// address — gaps and mappings — whose union partitions [AllocBegin,
/// CopyBuffer) exactly, plus the count of currently populated pages.
/// Go has no builtin ordered map, so both are kept as slices sorted by
/// Begin, searched with sort.Search; this is the natural idiomatic
/// stand-in for the source's BTreeMap and keeps the invariant checks
/// (disjoint, non-adjacent gaps) cheap to state as slice scans in tests.
type MemSpaceState struct {
	gaps      []*MemGap
	mappings  []*MemMapping
	vmemUsage uint64
}

func newState() *MemSpaceState {
	return &MemSpaceState{}
}

func (s *MemSpaceState) gapIndex(begin mem.VirtAddr) (int, bool) {
	i := sort.Search(len(s.gaps), func(i int) bool { return s.gaps[i].Begin >= begin })
	if i < len(s.gaps) && s.gaps[i].Begin == begin {
		return i, true
	}
	return i, false
}

func (s *MemSpaceState) mappingIndex(begin mem.VirtAddr) (int, bool) {
	i := sort.Search(len(s.mappings), func(i int) bool { return s.mappings[i].Begin >= begin })
	if i < len(s.mappings) && s.mappings[i].Begin == begin {
		return i, true
	}
	return i, false
}

/// insertGap inserts g in sorted position, merging with an immediately
/// preceding or following gap if adjacent.
func (s *MemSpaceState) insertGap(g *MemGap) {
	i, exact := s.gapIndex(g.Begin)
	if exact {
		panic("memspace: gap already present at begin address")
	}
	if i > 0 && s.gaps[i-1].adjacentTo(g) {
		g = s.gaps[i-1].merge(g)
		s.gaps = append(s.gaps[:i-1], s.gaps[i:]...)
		i--
	}
	if i < len(s.gaps) && s.gaps[i].adjacentTo(g) {
		g = s.gaps[i].merge(g)
		s.gaps = append(s.gaps[:i], s.gaps[i+1:]...)
	}
	s.gaps = insertGapAt(s.gaps, i, g)
}

func insertGapAt(gaps []*MemGap, i int, g *MemGap) []*MemGap {
	gaps = append(gaps, nil)
	copy(gaps[i+1:], gaps[i:])
	gaps[i] = g
	return gaps
}

/// removeGap deletes the gap with the given Begin. Panics if absent;
/// callers always remove a gap they just looked up.
func (s *MemSpaceState) removeGap(begin mem.VirtAddr) *MemGap {
	i, ok := s.gapIndex(begin)
	if !ok {
		panic("memspace: no gap at begin address")
	}
	g := s.gaps[i]
	s.gaps = append(s.gaps[:i], s.gaps[i+1:]...)
	return g
}

/// getGap returns the first gap (by address) with at least n pages.
func (s *MemSpaceState) getGap(n uint) *MemGap {
	for _, g := range s.gaps {
		if g.Pages >= n {
			return g
		}
	}
	return nil
}

/// getGapForAddr returns the gap containing addr, if any.
func (s *MemSpaceState) getGapForAddr(addr mem.VirtAddr) *MemGap {
	for _, g := range s.gaps {
		if g.Contains(addr) {
			return g
		}
	}
	return nil
}

/// removeGapsInRange deletes every gap that intersects [begin, end),
/// splitting the boundary gaps and re-inserting the surviving
/// fragments. Used by Fixed mapping to clear the way unconditionally.
func (s *MemSpaceState) removeGapsInRange(begin, end mem.VirtAddr) {
	var kept []*MemGap
	for _, g := range s.gaps {
		if g.End() <= begin || g.Begin >= end {
			kept = append(kept, g)
			continue
		}
		if g.Begin < begin {
			kept = append(kept, &MemGap{Begin: g.Begin, Pages: uint(begin.Sub(g.Begin) / mem.PAGE_SIZE)})
		}
		if g.End() > end {
			kept = append(kept, &MemGap{Begin: end, Pages: uint(g.End().Sub(end) / mem.PAGE_SIZE)})
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Begin < kept[j].Begin })
	s.gaps = kept
}

func (s *MemSpaceState) insertMapping(m *MemMapping) {
	i, exact := s.mappingIndex(m.Begin)
	if exact {
		panic("memspace: mapping already present at begin address")
	}
	s.mappings = append(s.mappings, nil)
	copy(s.mappings[i+1:], s.mappings[i:])
	s.mappings[i] = m
}

func (s *MemSpaceState) removeMapping(begin mem.VirtAddr) *MemMapping {
	i, ok := s.mappingIndex(begin)
	if !ok {
		panic("memspace: no mapping at begin address")
	}
	m := s.mappings[i]
	s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
	return m
}

/// getMappingForAddr returns the mapping containing addr, if any.
func (s *MemSpaceState) getMappingForAddr(addr mem.VirtAddr) *MemMapping {
	for _, m := range s.mappings {
		if m.Contains(addr) {
			return m
		}
	}
	return nil
}

/// mappingsInRange returns every mapping intersecting [begin, end), in
/// address order.
func (s *MemSpaceState) mappingsInRange(begin, end mem.VirtAddr) []*MemMapping {
	var out []*MemMapping
	for _, m := range s.mappings {
		if m.Begin < end && m.End() > begin {
			out = append(out, m)
		}
	}
	return out
}
