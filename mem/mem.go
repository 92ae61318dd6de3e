package mem

import (
	"fmt"
	"sync"
)

/// FrameOrder is the base-2 exponent of a buddy block's frame count: a
/// block of order k spans 1<<k contiguous PAGE_SIZE frames.
type FrameOrder uint

/// MaxOrder bounds the largest block the allocator will ever track.
/// 18 orders over PAGE_SIZE covers up to 1GB in a single block, which is
/// generous for the simulated arena sizes this module runs with.
const MaxOrder FrameOrder = 18

/// ErrOOM is returned by Alloc/AllocKernel when no free block of a
/// sufficient order exists.
var ErrOOM = fmt.Errorf("mem: out of memory")

// GetOrder returns the smallest order k such that 1<<k >= pages.
func GetOrder(pages uint) FrameOrder {
	var k FrameOrder
	n := uint(1)
	for n < pages {
		n <<= 1
		k++
	}
	return k
}

// GetFrameSize returns PAGE_SIZE << order, the byte size of a block of
// the given order.
func GetFrameSize(order FrameOrder) uintptr {
	return PAGE_SIZE << uint(order)
}

type freeBlock struct {
	addr PhysAddr
	next *freeBlock
}

/// Allocator is a classic binary-buddy physical frame allocator. Free
/// blocks are tracked per order as singly-linked lists threaded through
/// a small side table (not through the frames themselves, since the
/// simulated arena has no spare header room reserved inside each frame).
type Allocator struct {
	mu      sync.Mutex
	dmap    *Dmap
	base    PhysAddr
	nframes uint
	// free[k] is the head of the free list for order k.
	free [MaxOrder + 1]*freeBlock
	// order of the containing block each frame currently belongs to,
	// indexed by frame number; used by Free to find a block's buddy and
	// by AllocKernel/FreeKernel bookkeeping. A negative-like sentinel
	// (orderUnset) marks frames that are not the start of a live block.
	blockOrder []int8
}

const orderUnset int8 = -1

/// NewAllocator creates an allocator managing nframes PAGE_SIZE frames
/// on top of dmap, starting at physical offset base (normally 0). The
/// whole range starts as free blocks of the largest order that fits.
func NewAllocator(dmap *Dmap, base PhysAddr, nframes uint) *Allocator {
	a := &Allocator{
		dmap:       dmap,
		base:       base,
		nframes:    nframes,
		blockOrder: make([]int8, nframes),
	}
	for i := range a.blockOrder {
		a.blockOrder[i] = orderUnset
	}

	// Carve the arena into maximal power-of-two blocks so every frame
	// starts out owned by exactly one free block.
	frame := uint(0)
	for frame < nframes {
		remain := nframes - frame
		order := GetOrder(remain)
		for (uint(1) << uint(order)) > remain {
			order--
		}
		a.pushFree(order, a.frameAddr(frame))
		a.blockOrder[frame] = int8(order)
		frame += uint(1) << uint(order)
	}
	return a
}

func (a *Allocator) frameAddr(frame uint) PhysAddr {
	return a.base.Add(uintptr(frame) * PAGE_SIZE)
}

func (a *Allocator) frameNum(addr PhysAddr) uint {
	return uint(addr.Sub(a.base)) / PAGE_SIZE
}

func (p PhysAddr) Sub(o PhysAddr) uintptr {
	return uintptr(p) - uintptr(o)
}

func (a *Allocator) pushFree(order FrameOrder, addr PhysAddr) {
	a.free[order] = &freeBlock{addr: addr, next: a.free[order]}
}

// popFree removes and returns the head of the order-k free list, or nil.
func (a *Allocator) popFree(order FrameOrder) *freeBlock {
	b := a.free[order]
	if b != nil {
		a.free[order] = b.next
	}
	return b
}

func (a *Allocator) removeFree(order FrameOrder, addr PhysAddr) bool {
	var prev *freeBlock
	b := a.free[order]
	for b != nil {
		if b.addr == addr {
			if prev == nil {
				a.free[order] = b.next
			} else {
				prev.next = b.next
			}
			return true
		}
		prev = b
		b = b.next
	}
	return false
}

/// Alloc hands out a block of 1<<order contiguous frames. Splits a
/// larger free block on best-fit when no exact-order block is free.
func (a *Allocator) Alloc(order FrameOrder) (PhysAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(order)
}

func (a *Allocator) allocLocked(order FrameOrder) (PhysAddr, error) {
	if order > MaxOrder {
		return 0, ErrOOM
	}
	if b := a.popFree(order); b != nil {
		a.blockOrder[a.frameNum(b.addr)] = int8(order)
		return b.addr, nil
	}
	// Find the smallest larger order with a free block, then split it
	// down one level at a time until we reach the requested order.
	higher := order + 1
	for higher <= MaxOrder && a.free[higher] == nil {
		higher++
	}
	if higher > MaxOrder {
		return 0, ErrOOM
	}
	b := a.popFree(higher)
	addr := b.addr
	for cur := higher; cur > order; cur-- {
		half := GetFrameSize(cur - 1)
		buddy := addr.Add(half)
		a.pushFree(cur-1, buddy)
		a.blockOrder[a.frameNum(buddy)] = int8(cur - 1)
	}
	a.blockOrder[a.frameNum(addr)] = int8(order)
	return addr, nil
}

/// Free returns a block of the given order to the allocator, coalescing
/// with its buddy repeatedly while the buddy is also free and of the
/// same order.
func (a *Allocator) Free(addr PhysAddr, order FrameOrder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(addr, order)
}

func (a *Allocator) freeLocked(addr PhysAddr, order FrameOrder) {
	for order < MaxOrder {
		buddy := a.buddyOf(addr, order)
		bn := a.frameNum(buddy)
		if bn >= a.nframes || a.blockOrder[bn] != int8(order) {
			break
		}
		if !a.removeFree(order, buddy) {
			break
		}
		if buddy < addr {
			addr = buddy
		}
		order++
	}
	a.pushFree(order, addr)
	a.blockOrder[a.frameNum(addr)] = int8(order)
}

// buddyOf returns the buddy address of a block of the given order: the
// address differs from addr by exactly one block size in the bit
// corresponding to that order, computed relative to the arena base so
// buddies pair up regardless of where the arena starts.
func (a *Allocator) buddyOf(addr PhysAddr, order FrameOrder) PhysAddr {
	rel := uintptr(addr.Sub(a.base))
	size := GetFrameSize(order)
	return a.base.Add(rel ^ size)
}

/// AllocKernel allocates a block like Alloc and also returns a
/// VirtAddr in the direct-map window backing it, for kernel-internal
/// use (e.g. as a kernel heap block).
func (a *Allocator) AllocKernel(order FrameOrder) (PhysAddr, VirtAddr, error) {
	p, err := a.Alloc(order)
	if err != nil {
		return 0, 0, err
	}
	return p, a.Kvaddr(p), nil
}

/// FreeKernel releases a block obtained from AllocKernel.
func (a *Allocator) FreeKernel(p PhysAddr, order FrameOrder) {
	a.Free(p, order)
}

/// Kvaddr returns the direct-mapped kernel virtual address backing
/// physical address p. The simulated direct map is the identity
/// mapping of the arena, offset by the kernel direct-map base.
func (a *Allocator) Kvaddr(p PhysAddr) VirtAddr {
	return VirtAddr(KernelDirectMapBase) + VirtAddr(p)
}

/// Kview returns the byte slice in the direct map backing the frame
/// containing p.
func (a *Allocator) Kview(p PhysAddr) []byte {
	return a.dmap.Page(p)
}

/// NumFreeFrames reports the total number of free frames across all
/// orders, for metrics/procfs reporting.
func (a *Allocator) NumFreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for order := FrameOrder(0); order <= MaxOrder; order++ {
		n := uint64(0)
		for b := a.free[order]; b != nil; b = b.next {
			n++
		}
		total += n << uint(order)
	}
	return total
}

/// FreeBlocksByOrder reports the count of free blocks at each order,
/// for the metrics collector.
func (a *Allocator) FreeBlocksByOrder() [MaxOrder + 1]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [MaxOrder + 1]uint64
	for order := FrameOrder(0); order <= MaxOrder; order++ {
		for b := a.free[order]; b != nil; b = b.next {
			out[order]++
		}
	}
	return out
}

/// KernelDirectMapBase is the (simulated) virtual base address of the
/// kernel's direct map of all physical memory. It has no bearing on
/// this process's real address space; it exists so VirtAddr values
/// derived from it are recognizably "kernel" addresses to other
/// packages (vmem bookkeeping, procfs rendering).
const KernelDirectMapBase = 0xffff_8000_0000_0000
