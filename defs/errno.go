package defs

import "golang.org/x/sys/unix"

/// Err_t is the kernel's error currency. A zero value means success; a
/// nonzero value is a positive errno number, which Sysret negates into the
/// syscall return value (see Mono_syscall convention in the GLOSSARY).
type Err_t int

/// Pid_t identifies a process or, equivalently for a single-threaded
/// process, its lone thread.
type Pid_t int32

/// Tid_t identifies a single thread within a process's thread group.
type Tid_t int32

// Named error kinds, mapped to their real platform errno values so that
// the numbers returned to userspace match what every libc expects.
const (
	EFAULT      Err_t = Err_t(unix.EFAULT)
	EINVAL      Err_t = Err_t(unix.EINVAL)
	ENOMEM      Err_t = Err_t(unix.ENOMEM)
	EPERM       Err_t = Err_t(unix.EPERM)
	ESRCH       Err_t = Err_t(unix.ESRCH)
	ENOENT      Err_t = Err_t(unix.ENOENT)
	ENOSPC      Err_t = Err_t(unix.ENOSPC)
	EIO         Err_t = Err_t(unix.EIO)
	EACCES      Err_t = Err_t(unix.EACCES)
	EBADF       Err_t = Err_t(unix.EBADF)
	EROFS       Err_t = Err_t(unix.EROFS)
	ENOTDIR     Err_t = Err_t(unix.ENOTDIR)
	ENOTSOCK    Err_t = Err_t(unix.ENOTSOCK)
	ENAMETOOLONG Err_t = Err_t(unix.ENAMETOOLONG)
	// ENOHEAP is not a POSIX errno; it is raised internally when a
	// resource-budget reservation (see package res) fails mid-copy, and is
	// translated to ENOMEM at the syscall boundary.
	ENOHEAP Err_t = Err_t(unix.ENOMEM)
)

/// Errname returns a short mnemonic for the error kind, or "E???" if the
/// value isn't one of the kinds declared above. Useful for log lines.
func Errname(e Err_t) string {
	switch e {
	case 0:
		return "ok"
	case EFAULT:
		return "EFAULT"
	case EINVAL:
		return "EINVAL"
	case ENOMEM:
		return "ENOMEM"
	case EPERM:
		return "EPERM"
	case ESRCH:
		return "ESRCH"
	case ENOENT:
		return "ENOENT"
	case ENOSPC:
		return "ENOSPC"
	case EIO:
		return "EIO"
	case EACCES:
		return "EACCES"
	case EBADF:
		return "EBADF"
	case EROFS:
		return "EROFS"
	case ENOTDIR:
		return "ENOTDIR"
	case ENOTSOCK:
		return "ENOTSOCK"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	default:
		return "E???"
	}
}

func (e Err_t) Error() string {
	return Errname(e)
}

/// Sysret converts an Err_t into the value a syscall handler returns to
/// userspace: 0 or a positive count on success, the negated errno on
/// failure.
func (e Err_t) Sysret(okval uintptr) int {
	if e != 0 {
		return -int(e)
	}
	return int(okval)
}
