// Package limits tracks system-wide resource limits consulted by package
// res before letting a copy or allocation loop proceed. Values can be
// loaded from a YAML sysctl-style file by package config.
package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits. Fields tagged `yaml`
/// may be overridden by package config from a sysctl-style file.
type Syslimit_t struct {
	// protected by proclock
	Sysprocs int `yaml:"sysprocs"`
	// proctected by idmonl lock
	Vnodes int `yaml:"vnodes"`
	// proctected by _allfutex lock
	Futexes int `yaml:"futexes"`
	// proctected by arptbl lock
	Arpents int `yaml:"arpents"`
	// proctected by routetbl lock
	Routes int `yaml:"routes"`
	// per TCP socket tx/rx segments to remember
	Tcpsegs int `yaml:"tcpsegs"`
	// socks includes pipes and all TCP connections in TIMEWAIT.
	Socks Sysatomic_t `yaml:"socks"`
	// total pipes
	Pipes Sysatomic_t `yaml:"pipes"`
	// additional memory filesystem per-page objects; each file gets one
	// freebie.
	Mfspgs Sysatomic_t `yaml:"mfspgs"`
	// bdev blocks
	Blocks int `yaml:"blocks"`
	// KernelHeap bounds the number of heap-budget reservations package res
	// will grant before a copy or population loop must back off with
	// ENOHEAP. Counted in "reservation units", not bytes.
	KernelHeap Sysatomic_t `yaml:"kernel_heap"`
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Futexes:  1024,
		Arpents:  1024,
		Routes:   32,
		Tcpsegs:  16,
		Socks:    1e5,
		Vnodes:   20000, // 1e6,
		Pipes:    1e4,
		// 100000 block pages (1 << 21 would be 8GB)
		Blocks:     100000, // 1 << 21,
		KernelHeap: 1 << 20,
	}
}

/// Reset replaces every field of Syslimit with those of n. Used by package
/// config after loading or hot-reloading the sysctl file.
func Reset(n *Syslimit_t) {
	*Syslimit = *n
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
