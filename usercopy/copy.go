// Package usercopy implements the bounds-checked, fault-recoverable
// transfers between userspace and kernelspace: SyscallPtr, SyscallSlice,
// SyscallString, SyscallArray. On real hardware the copy loop's
// recoverability comes from the page-fault handler recognizing the
// faulting program counter falls inside a registered [begin, end)
// instruction range and rewriting the return address to a "copy_fault"
// resume label. This module has no IDT to intercept: the copy loop
// calls memspace.MemSpace.HandlePageFault directly as an ordinary Go
// call, so an unresolvable fault already unwinds as a plain error
// return instead of a trap — the contract (a bad user pointer never
// panics the kernel, it yields EFAULT) is preserved even though the
// redirect mechanism collapses into normal control flow. CopyRange
// below documents the equivalent range for package proc's fault
// dispatch (DispatchPageFault), which still needs to know "was this fault inside a copy" when
// classifying a fault that arrived through some other path (e.g. a
// warmup access in MemSpace.Alloc).
package usercopy

import (
	"github.com/davidaparicio/maestro/bounds"
	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/res"
)

// copyChunkSize bounds how much a single raw copy iteration moves
// before re-checking the resource budget, matching the teacher's
// per-iteration Resadd_noblock discipline in vm/userbuf.go.
const copyChunkSize = 512

/// CopyRange documents the instruction range a real backend would
/// register with the page-fault handler as "inside a copy primitive,
/// redirect here on fault". It has no executable meaning in this
/// simulation; package proc's fault classification consults it only to
/// keep the shape of the contract visible to a reader tracing the
/// design back to the source.
var CopyRange = struct {
	Begin, End, Resume uintptr
}{}

// boundCheck validates that [addr, addr+n) lies entirely within the
// userspace copy window and does not overflow.
func boundCheck(addr mem.VirtAddr, n uintptr) defs.Err_t {
	if n == 0 {
		return 0
	}
	if addr < mem.PAGE_SIZE {
		return defs.EFAULT
	}
	end := addr.Add(n)
	if end < addr {
		return defs.EFAULT // overflow
	}
	if end > memspace.CopyBuffer {
		return defs.EFAULT
	}
	return 0
}

// rawCopy moves n bytes between the kernel buffer kbuf and the user
// address uaddr in space ms. toUser selects the direction. It is
// fault-recoverable: any page in range that cannot be resolved by
// HandlePageFault aborts the copy and returns EFAULT rather than
// propagating further, exactly as the redirect-to-copy_fault path does
// on real hardware.
func rawCopy(ms *memspace.MemSpace, uaddr mem.VirtAddr, kbuf []byte, toUser bool) defs.Err_t {
	n := uintptr(len(kbuf))
	if err := boundCheck(uaddr, n); err != 0 {
		return err
	}
	if n == 0 {
		return 0
	}

	moved := uintptr(0)
	for moved < n {
		addr := uaddr.Add(moved)
		pageOff := addr.Pgoff()
		chunk := mem.PAGE_SIZE - pageOff
		remain := n - moved
		if chunk > remain {
			chunk = remain
		}
		if chunk > copyChunkSize {
			chunk = copyChunkSize
		}

		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERCOPY_RAW)) {
			return defs.ENOHEAP
		}

		code := uint(0)
		if toUser {
			code = memspace.PageFaultWrite
		}
		if ferr := ms.HandlePageFault(addr.Pgrounddown(), code); ferr != 0 {
			res.Resgive()
			return defs.EFAULT
		}
		phys, ok := ms.Translate(addr)
		res.Resgive()
		if !ok {
			return defs.EFAULT
		}

		page := ms.DmapPage(phys)
		off := int(pageOff)
		if toUser {
			copy(page[off:off+int(chunk)], kbuf[moved:moved+chunk])
		} else {
			copy(kbuf[moved:moved+chunk], page[off:off+int(chunk)])
		}
		moved += chunk
	}
	return 0
}

/// CopyFromUserRaw copies n bytes from uaddr into a fresh kernel
/// buffer, or fails with EFAULT.
func CopyFromUserRaw(ms *memspace.MemSpace, uaddr mem.VirtAddr, n uintptr) ([]byte, defs.Err_t) {
	buf := make([]byte, n)
	if err := rawCopy(ms, uaddr, buf, false); err != 0 {
		return nil, err
	}
	return buf, 0
}

/// CopyToUserRaw copies buf to uaddr, or fails with EFAULT.
func CopyToUserRaw(ms *memspace.MemSpace, uaddr mem.VirtAddr, buf []byte) defs.Err_t {
	return rawCopy(ms, uaddr, buf, true)
}
