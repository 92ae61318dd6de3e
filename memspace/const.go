// Package memspace implements a process's virtual address space: the
// gap/mapping bookkeeping, the transactional editor over it, population
// and copy-on-write, brk, and fork. It is the direct translation of the
// mem_space module of the kernel this core was distilled from, laid out
// in the teacher's vm package idiom (Lock_pmap-style guarded mutation,
// small sum-typed constraint/flag values, explicit error returns).
package memspace

import "github.com/davidaparicio/maestro/mem"

// AllocBegin is the first page made available to mmap/brk. Page 0 is
// never handed out so that a null pointer dereference always faults.
const AllocBegin mem.VirtAddr = mem.PAGE_SIZE

// ProcessEnd is the simulated ceiling of userspace; kernelspace begins
// here and upward.
const ProcessEnd mem.VirtAddr = 0x0000_7fff_ffff_f000

// CopyBuffer is a reserved one-page slot just below ProcessEnd used for
// kernel<->user copies of ephemeral frames (see package usercopy).
const CopyBuffer mem.VirtAddr = ProcessEnd - mem.PAGE_SIZE

// Protection bits.
const (
	ProtRead  uint8 = 1 << 0
	ProtWrite uint8 = 1 << 1
	ProtExec  uint8 = 1 << 2
)

// Mapping flags.
const (
	MapShared    uint8 = 1 << 0
	MapPrivate   uint8 = 1 << 1
	MapFixed     uint8 = 1 << 4
	MapAnonymous uint8 = 1 << 5
)

// Page-fault classification bits accepted by HandlePageFault. They are
// not the hardware error-code bits; proc.DispatchPageFault translates
// the trap frame's code word into them.
const (
	PageFaultWrite       uint = 1 << 0
	PageFaultInstruction uint = 1 << 1
)
