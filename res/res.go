// Package res gates call sites tagged by package bounds against the
// system-wide kernel heap budget in package limits. A copy or population
// loop calls Resadd_noblock once per chunk of work; when the budget is
// exhausted the caller must back off and return ENOHEAP rather than spin
// retrying, since there is no separate reclaim thread to wait on here.
package res

import (
	"github.com/davidaparicio/maestro/bounds"
	"github.com/davidaparicio/maestro/limits"
)

/// Resadd_noblock reserves one unit of kernel heap budget for the call
/// site tagged b. It never blocks: on exhaustion it returns false
/// immediately so the caller can unwind and report ENOHEAP.
func Resadd_noblock(b bounds.Bound_t) bool {
	_ = b
	return limits.Syslimit.KernelHeap.Take()
}

/// Resadd_noblock_n reserves n units in one reservation, used by call
/// sites that know their total size up front instead of looping one unit
/// at a time.
func Resadd_noblock_n(b bounds.Bound_t, n uint) bool {
	_ = b
	if n == 0 {
		return true
	}
	return limits.Syslimit.KernelHeap.Taken(n)
}

/// Resgive returns one unit of budget previously taken by Resadd_noblock.
func Resgive() {
	limits.Syslimit.KernelHeap.Give()
}

/// Resgive_n returns n units of budget previously taken by
/// Resadd_noblock_n.
func Resgive_n(n uint) {
	limits.Syslimit.KernelHeap.Given(n)
}
