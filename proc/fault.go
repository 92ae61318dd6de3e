package proc

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/signal"
	"github.com/davidaparicio/maestro/usercopy"
)

// CPU exception vectors this core reacts to, matching the IDT entries
// the teacher's init() registers callbacks for.
const (
	VectorDivideError       = 0x00
	VectorBreakpoint        = 0x03
	VectorInvalidOpcode     = 0x06
	VectorGeneralProtection = 0x0d
	VectorPageFault         = 0x0e
	VectorX87FP             = 0x10
	VectorAlignmentCheck    = 0x11
	VectorSimdFP            = 0x13
)

// decodeWindow is long enough to hold any single x86-64 instruction.
const decodeWindow = 15

/// DispatchException maps a fatal CPU exception to the signal its
/// process receives, or exits cleanly on a deliberate HLT trapped as a
/// general-protection fault. ring is the privilege level execution was
/// in when the exception fired; a ring-0 fault here is a kernel bug and
/// panics rather than being attributed to a process.
func DispatchException(p *Process, vector int, pc mem.VirtAddr, ring int) {
	if ring < 3 {
		panic("proc: fatal exception in kernel mode")
	}
	switch vector {
	case VectorDivideError, VectorX87FP, VectorSimdFP:
		p.Kill(signal.SIGFPE)
	case VectorBreakpoint:
		p.Kill(signal.SIGTRAP)
	case VectorInvalidOpcode:
		p.Kill(signal.SIGILL)
	case VectorGeneralProtection:
		if isHaltAt(p, pc) {
			p.Exit(0)
		} else {
			p.Kill(signal.SIGSEGV)
		}
	case VectorAlignmentCheck:
		p.Kill(signal.SIGBUS)
	}
}

// isHaltAt decodes the instruction at pc and reports whether it is
// HLT — the one case where a general-protection fault (HLT is
// privileged) means "clean exit", not "segfault".
func isHaltAt(p *Process, pc mem.VirtAddr) bool {
	code, err := usercopy.CopyFromUserRaw(p.MemSpace, pc, decodeWindow)
	if err != 0 {
		return false
	}
	inst, derr := x86asm.Decode(code, 64)
	if derr != nil {
		return false
	}
	return inst.Op == x86asm.HLT
}

// Page-fault error code bits as the architecture delivers them (the
// same encoding the original reads straight off the trap frame):
// bit 0 present, bit 1 write, bit 2 user-mode, bit 4 instruction
// fetch. memspace's HandlePageFault wants its own PageFaultWrite/
// PageFaultInstruction bits instead, so DispatchPageFault translates
// one into the other via pageFaultCode rather than forwarding the raw
// hardware code.
const (
	pfErrWrite      uint = 1 << 1
	pfErrInstrFetch uint = 1 << 4
)

/// DispatchPageFault resolves a page fault for the current process,
/// given the raw hardware error code read off the trap frame. On
/// success it returns true. On failure: a ring-3 fault kills the
/// process with SIGSEGV and returns false; a ring-0 fault first checks
/// whether pc falls inside the user-copy primitives' registered range
/// (usercopy.CopyRange), in which case the caller should resume at
/// CopyRange.Resume instead of panicking — mirroring the
/// copy_fault redirect — and otherwise panics, since an unresolvable
/// fault taken by the kernel itself outside a copy is fatal.
func DispatchPageFault(p *Process, addr mem.VirtAddr, hwCode uint, pc mem.VirtAddr, ring int) bool {
	code := pageFaultCode(hwCode&pfErrWrite != 0, hwCode&pfErrInstrFetch != 0)
	err := p.MemSpace.HandlePageFault(addr, code)
	if err == 0 {
		return true
	}
	if ring < 3 {
		if pc >= mem.VirtAddr(usercopy.CopyRange.Begin) && pc < mem.VirtAddr(usercopy.CopyRange.End) {
			return false
		}
		panic("proc: unresolved page fault in kernel mode")
	}
	p.Kill(signal.SIGSEGV)
	return false
}

// pageFaultCode translates the hardware write/instruction-fetch bits
// into the PageFaultWrite/PageFaultInstruction bits memspace expects.
func pageFaultCode(isWrite, isInstructionFetch bool) uint {
	var code uint
	if isWrite {
		code |= memspace.PageFaultWrite
	}
	if isInstructionFetch {
		code |= memspace.PageFaultInstruction
	}
	return code
}
