package mem

import (
	"sync"
	"unsafe"
)

// FreeChunkMin is the minimum payload size of any chunk, free or used.
const FreeChunkMin = 8

// numSizeClasses is the number of segregated free-list bins; bin 0 holds
// chunks whose payload size is at most 8 bytes (2^3), bin i holds sizes
// in (2^(2+i), 2^(3+i)], and the last bin also takes every larger size.
const numSizeClasses = 8

// directThreshold is the payload size at or above which an allocation
// bypasses the chunk lists and goes straight to the buddy allocator.
const directThreshold = PAGE_SIZE / 2

const chunkHeaderSize = 32

// chunk is the header preceding every heap payload, whether free or in
// use. Chunks within a block form a doubly linked list via the prev/next
// pointers; free chunks are additionally linked into a size-class free
// list via freePrev/freeNext.
type chunk struct {
	block    *block
	prev     *chunk
	next     *chunk
	freePrev *chunk
	freeNext *chunk
	used     bool
	size     uintptr // payload size, excluding this header
	data     []byte  // payload view into the block's backing frames
}

// block is a buddy-allocated region hosting a chunk list. It owns one
// initial chunk spanning the block minus its own header at creation.
type block struct {
	phys  PhysAddr
	order FrameOrder
	bytes []byte
	first *chunk
}

/// Heap is the kernel slab-like allocator: small requests are served
/// from segregated free lists of chunks carved out of buddy-allocated
/// blocks; large requests go straight to the buddy allocator.
type Heap struct {
	mu     sync.Mutex
	alloc  *Allocator
	bins   [numSizeClasses]*chunk // free list heads, intrusive via freeNext
	blocks []*block
	// direct tracks large (direct-to-buddy) allocations by the address
	// of their first payload byte, since they carry no chunk header.
	direct map[uintptr]directAlloc
}

type directAlloc struct {
	phys  PhysAddr
	order FrameOrder
}

/// NewHeap creates a heap drawing frames from alloc.
func NewHeap(alloc *Allocator) *Heap {
	return &Heap{alloc: alloc, direct: make(map[uintptr]directAlloc)}
}

func binOf(size uintptr) int {
	cls := 0
	cap := uintptr(FreeChunkMin)
	for cap < size && cls < numSizeClasses-1 {
		cap <<= 1
		cls++
	}
	return cls
}

func (h *Heap) unlinkFree(c *chunk) {
	cls := binOf(c.size)
	if c.freePrev != nil {
		c.freePrev.freeNext = c.freeNext
	} else {
		h.bins[cls] = c.freeNext
	}
	if c.freeNext != nil {
		c.freeNext.freePrev = c.freePrev
	}
	c.freePrev, c.freeNext = nil, nil
}

func (h *Heap) linkFree(c *chunk) {
	cls := binOf(c.size)
	c.freePrev = nil
	c.freeNext = h.bins[cls]
	if h.bins[cls] != nil {
		h.bins[cls].freePrev = c
	}
	h.bins[cls] = c
}

// newBlock allocates a fresh buddy block big enough for at least
// minPayload bytes of usable chunk space and installs one free chunk
// spanning it.
func (h *Heap) newBlock(minPayload uintptr) (*block, error) {
	need := minPayload + chunkHeaderSize
	pages := (need + PAGE_SIZE - 1) / PAGE_SIZE
	order := GetOrder(uint(pages))
	phys, err := h.alloc.Alloc(order)
	if err != nil {
		return nil, err
	}
	sz := GetFrameSize(order)
	bytes := h.alloc.dmap.Bytes(phys, int(sz))
	b := &block{phys: phys, order: order, bytes: bytes}
	first := &chunk{block: b, used: false, size: sz - chunkHeaderSize, data: bytes[chunkHeaderSize:]}
	b.first = first
	h.blocks = append(h.blocks, b)
	h.linkFree(first)
	return b, nil
}

/// Alloc returns n usable bytes, or ErrOOM.
func (h *Heap) Alloc(n uintptr) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		n = FreeChunkMin
	}
	if n < FreeChunkMin {
		n = FreeChunkMin
	}
	if n >= directThreshold {
		return h.allocDirect(n)
	}
	c := h.findFit(n)
	if c == nil {
		if _, err := h.newBlock(n); err != nil {
			return nil, err
		}
		c = h.findFit(n)
		if c == nil {
			return nil, ErrOOM
		}
	}
	h.unlinkFree(c)
	h.maybeSplit(c, n)
	c.used = true
	return c.data[:n], nil
}

func (h *Heap) allocDirect(n uintptr) ([]byte, error) {
	pages := (n + PAGE_SIZE - 1) / PAGE_SIZE
	order := GetOrder(uint(pages))
	phys, err := h.alloc.Alloc(order)
	if err != nil {
		return nil, err
	}
	buf := h.alloc.dmap.Bytes(phys, int(n))
	h.direct[addrOf(buf)] = directAlloc{phys: phys, order: order}
	return buf, nil
}

// addrOf identifies a buffer's backing array by the address of its
// first byte. Go's garbage collector does not relocate heap objects, so
// this address is stable for the buffer's lifetime and safe to use as a
// map key here; it is never dereferenced as a pointer.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func (h *Heap) findFit(n uintptr) *chunk {
	start := binOf(n)
	for cls := start; cls < numSizeClasses; cls++ {
		for c := h.bins[cls]; c != nil; c = c.freeNext {
			if c.size >= n {
				return c
			}
		}
	}
	return nil
}

// maybeSplit splits c into a used prefix of n bytes and a free successor
// chunk, iff the remainder is at least a header plus FreeChunkMin.
func (h *Heap) maybeSplit(c *chunk, n uintptr) {
	remainder := c.size - n
	if remainder < chunkHeaderSize+FreeChunkMin {
		return
	}
	succSize := remainder - chunkHeaderSize
	succData := c.data[n+chunkHeaderSize:]
	succ := &chunk{
		block: c.block,
		prev:  c,
		next:  c.next,
		used:  false,
		size:  succSize,
		data:  succData,
	}
	if c.next != nil {
		c.next.prev = succ
	}
	c.next = succ
	c.size = n
	h.linkFree(succ)
}

/// Free releases a buffer obtained from Alloc. Buffers from allocDirect
/// are returned straight to the buddy allocator; others are coalesced
/// with free neighbors and, if the whole block becomes free, the block
/// itself is returned to the buddy allocator.
func (h *Heap) Free(buf []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(buf) == 0 {
		return
	}
	key := addrOf(buf)
	if d, ok := h.direct[key]; ok {
		delete(h.direct, key)
		h.alloc.Free(d.phys, d.order)
		return
	}
	c := h.chunkFor(buf)
	if c == nil {
		return
	}
	c.used = false
	h.coalesce(c)
}

func (h *Heap) chunkFor(buf []byte) *chunk {
	for _, b := range h.blocks {
		for c := b.first; c != nil; c = c.next {
			if sameBacking(c.data, buf) {
				return c
			}
		}
	}
	return nil
}

func sameBacking(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return &a[0] == &b[0]
}

func (h *Heap) coalesce(c *chunk) {
	if c.next != nil && !c.next.used {
		n := c.next
		h.unlinkFree(n)
		c.size += chunkHeaderSize + n.size
		c.next = n.next
		if n.next != nil {
			n.next.prev = c
		}
	}
	if c.prev != nil && !c.prev.used {
		p := c.prev
		h.unlinkFree(p)
		p.size += chunkHeaderSize + c.size
		p.next = c.next
		if c.next != nil {
			c.next.prev = p
		}
		c = p
	}
	h.linkFree(c)

	b := c.block
	if b.first == c && c.next == nil && !c.used {
		h.unlinkFree(c)
		for i, bl := range h.blocks {
			if bl == b {
				h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
				break
			}
		}
		h.alloc.Free(b.phys, b.order)
	}
}

/// Realloc resizes buf to n bytes, preserving min(old,new) content. May
/// grow in place by consuming a free successor chunk, or shrink in place
/// by releasing a tail to a new successor chunk; otherwise allocates
/// fresh, copies, and frees the original.
func (h *Heap) Realloc(buf []byte, n uintptr) ([]byte, error) {
	if buf == nil {
		return h.Alloc(n)
	}
	h.mu.Lock()
	key := addrOf(buf)
	if _, ok := h.direct[key]; ok {
		h.mu.Unlock()
		nb, err := h.Alloc(n)
		if err != nil {
			return nil, err
		}
		copy(nb, buf[:min(len(buf), len(nb))])
		h.Free(buf)
		return nb, nil
	}
	c := h.chunkFor(buf)
	if c == nil {
		h.mu.Unlock()
		return nil, ErrOOM
	}
	if n <= c.size {
		old := c.size
		c.size = n
		if old-n >= chunkHeaderSize+FreeChunkMin {
			h.splitTail(c, n, old)
		}
		h.mu.Unlock()
		return c.data[:n], nil
	}
	if c.next != nil && !c.next.used && c.size+chunkHeaderSize+c.next.size >= n {
		nx := c.next
		h.unlinkFree(nx)
		total := c.size + chunkHeaderSize + nx.size
		c.next = nx.next
		if nx.next != nil {
			nx.next.prev = c
		}
		c.size = n
		if total-n >= chunkHeaderSize+FreeChunkMin {
			h.splitTail(c, n, total)
		} else {
			c.size = total
		}
		h.mu.Unlock()
		return c.data[:n], nil
	}
	h.mu.Unlock()
	nb, err := h.Alloc(n)
	if err != nil {
		return nil, err
	}
	copy(nb, buf[:min(len(buf), len(nb))])
	h.Free(buf)
	return nb, nil
}

// splitTail carves a new free successor chunk out of the tail of c,
// after c.size has already been set to its new, smaller size, given the
// total span (oldSize) it used to own together with its header.
func (h *Heap) splitTail(c *chunk, newSize, oldSize uintptr) {
	succSize := oldSize - newSize - chunkHeaderSize
	succData := c.data[newSize+chunkHeaderSize : oldSize]
	succ := &chunk{
		block: c.block,
		prev:  c,
		next:  c.next,
		used:  false,
		size:  succSize,
		data:  succData,
	}
	if c.next != nil {
		c.next.prev = succ
	}
	c.next = succ
	h.linkFree(succ)
}

/// FreeChunksByBin returns, for each size-class bin, how many chunks
/// are currently linked free in it.
func (h *Heap) FreeChunksByBin() [numSizeClasses]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var counts [numSizeClasses]uint64
	for cls, head := range h.bins {
		for c := head; c != nil; c = c.freeNext {
			counts[cls]++
		}
	}
	return counts
}

/// BytesInUse sums the payload size of every chunk and direct
/// allocation currently handed out by the heap.
func (h *Heap) BytesInUse() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total uint64
	for _, b := range h.blocks {
		for c := b.first; c != nil; c = c.next {
			if c.used {
				total += uint64(c.size)
			}
		}
	}
	for _, d := range h.direct {
		total += uint64(GetFrameSize(d.order))
	}
	return total
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
