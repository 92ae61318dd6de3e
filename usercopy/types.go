package usercopy

import (
	"encoding/binary"

	"github.com/davidaparicio/maestro/bounds"
	"github.com/davidaparicio/maestro/defs"
	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/memspace"
	"github.com/davidaparicio/maestro/res"
)

// chunkSize caps a single string-copy iteration at 128 bytes; each
// iteration is also bounded by the remainder of the current page, so a
// copy never faults more pages than the string actually occupies.
const chunkSize = 128

/// SyscallPtr is a typed pointer into userspace whose value is either
/// a fixed-width integer or exactly sizeOf(T) bytes wide; Go has no
/// generic byte-exact struct marshal, so callers supply the width.
type SyscallPtr struct {
	ms   *memspace.MemSpace
	addr mem.VirtAddr
}

/// NewSyscallPtr wraps a raw user address for copy_from_user/
/// copy_to_user access scoped to space ms.
func NewSyscallPtr(ms *memspace.MemSpace, addr mem.VirtAddr) SyscallPtr {
	return SyscallPtr{ms: ms, addr: addr}
}

/// CopyFromUserUint64 reads a little-endian uint64 from the pointer.
func (p SyscallPtr) CopyFromUserUint64() (uint64, defs.Err_t) {
	buf, err := CopyFromUserRaw(p.ms, p.addr, 8)
	if err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), 0
}

/// CopyToUserUint64 writes v as a little-endian uint64 to the pointer.
func (p SyscallPtr) CopyToUserUint64(v uint64) defs.Err_t {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return CopyToUserRaw(p.ms, p.addr, buf[:])
}

/// CopyFromUserBytes reads exactly n bytes through the pointer.
func (p SyscallPtr) CopyFromUserBytes(n uintptr) ([]byte, defs.Err_t) {
	return CopyFromUserRaw(p.ms, p.addr, n)
}

/// CopyToUserBytes writes buf through the pointer.
func (p SyscallPtr) CopyToUserBytes(buf []byte) defs.Err_t {
	return CopyToUserRaw(p.ms, p.addr, buf)
}

/// SyscallSlice is a userspace array of n fixed-width elements.
type SyscallSlice struct {
	ms       *memspace.MemSpace
	addr     mem.VirtAddr
	elemSize uintptr
	n        uintptr
}

/// NewSyscallSlice wraps a user array of n elemSize-byte elements.
func NewSyscallSlice(ms *memspace.MemSpace, addr mem.VirtAddr, elemSize, n uintptr) SyscallSlice {
	return SyscallSlice{ms: ms, addr: addr, elemSize: elemSize, n: n}
}

/// CopyFromUserVec reads the whole slice into a flat kernel byte
/// buffer of n*elemSize bytes, or fails with EFAULT/ENOHEAP.
func (s SyscallSlice) CopyFromUserVec() ([]byte, defs.Err_t) {
	return CopyFromUserRaw(s.ms, s.addr, s.n*s.elemSize)
}

/// CopyToUserVec writes buf (must be exactly n*elemSize bytes) back to
/// the user array.
func (s SyscallSlice) CopyToUserVec(buf []byte) defs.Err_t {
	if uintptr(len(buf)) != s.n*s.elemSize {
		return defs.EINVAL
	}
	return CopyToUserRaw(s.ms, s.addr, buf)
}

/// SyscallString is a NUL-terminated userspace C string.
type SyscallString struct {
	ms   *memspace.MemSpace
	addr mem.VirtAddr
}

/// NewSyscallString wraps a user string pointer.
func NewSyscallString(ms *memspace.MemSpace, addr mem.VirtAddr) SyscallString {
	return SyscallString{ms: ms, addr: addr}
}

/// CopyFromUser reads the string, examining at most maxLen bytes (the
/// NUL included), copying in page-bounded chunks and stopping at the
/// first NUL encountered. Fails with EFAULT if the terminator is never
/// found within maxLen bytes, or if any touched page is inaccessible.
func (s SyscallString) CopyFromUser(maxLen uintptr) (string, defs.Err_t) {
	var out []byte
	pos := uintptr(0)
	for pos < maxLen {
		addr := s.addr.Add(pos)
		remain := mem.PAGE_SIZE - addr.Pgoff()
		take := remain
		if take > chunkSize {
			take = chunkSize
		}
		if pos+take > maxLen {
			take = maxLen - pos
		}
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERCOPY_STRING)) {
			return "", defs.ENOHEAP
		}
		buf, err := CopyFromUserRaw(s.ms, addr, take)
		res.Resgive()
		if err != 0 {
			return "", defs.EFAULT
		}
		if i := indexZero(buf); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), 0
		}
		out = append(out, buf...)
		pos += take
	}
	return "", defs.EFAULT
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

/// SyscallArray is a NULL-terminated array of user string pointers
/// (e.g. argv/envp).
type SyscallArray struct {
	ms   *memspace.MemSpace
	addr mem.VirtAddr
}

/// NewSyscallArray wraps a user pointer-to-pointer-to-string array.
func NewSyscallArray(ms *memspace.MemSpace, addr mem.VirtAddr) SyscallArray {
	return SyscallArray{ms: ms, addr: addr}
}

// maxArrayEntries bounds how many entries CopyFromUser will walk
// before giving up, so a malformed array without a NULL terminator
// cannot pin the kernel in an unbounded loop.
const maxArrayEntries = 4096

/// CopyFromUser walks the pointer array until a NULL entry, reading
/// each entry as a SyscallString of at most maxStrLen bytes.
func (a SyscallArray) CopyFromUser(maxStrLen uintptr) ([]string, defs.Err_t) {
	var out []string
	for i := 0; i < maxArrayEntries; i++ {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERCOPY_ARRAY)) {
			return nil, defs.ENOHEAP
		}
		entryAddr := a.addr.Add(uintptr(i) * 8)
		ptr := NewSyscallPtr(a.ms, entryAddr)
		rawPtr, err := ptr.CopyFromUserUint64()
		res.Resgive()
		if err != 0 {
			return nil, err
		}
		if rawPtr == 0 {
			return out, 0
		}
		str, err := NewSyscallString(a.ms, mem.VirtAddr(rawPtr)).CopyFromUser(maxStrLen)
		if err != 0 {
			return nil, err
		}
		out = append(out, str)
	}
	return nil, defs.EINVAL
}
