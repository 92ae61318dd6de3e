// Package bounds names the call sites that may need to reserve kernel
// heap budget via package res before doing work that could allocate. Each
// tag corresponds to a loop that performs unbounded-looking work (copying
// an arbitrarily long user buffer, walking an iovec array, ...) and must
// check in with the resource budget on every iteration so a malicious or
// buggy length argument cannot pin the kernel in an allocation loop.
package bounds

/// Bound_t names a call site that consumes resource budget.
type Bound_t int

const (
	/// B_USERCOPY_RAW tags the chunked user<->kernel raw copy loop.
	B_USERCOPY_RAW Bound_t = iota
	/// B_USERCOPY_STRING tags the NUL-terminated string copy loop.
	B_USERCOPY_STRING
	/// B_USERCOPY_ARRAY tags the NULL-terminated pointer array walk.
	B_USERCOPY_ARRAY
	/// B_MEMSPACE_ALLOC tags MemSpace.Alloc's range warmup loop.
	B_MEMSPACE_ALLOC
)

/// Bounds returns b unchanged; it exists so call sites read
// `res.Reserve(bounds.Bounds(bounds.B_FOO))`, matching the teacher's
// `bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)` idiom, giving every
// reservation call site a readable, grep-able tag.
func Bounds(b Bound_t) Bound_t {
	return b
}
