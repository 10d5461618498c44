// Package accnt accumulates per-process CPU accounting, adapted from
// biscuit's accnt package: user/system nanosecond counters behind a mutex
// so a consistent snapshot can be exported (to fstat's rusage-equivalent
// and, in this kernel, to the D_PROF pprof exporter).
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t is embedded in every process control block.
type Accnt_t struct {
	Userns int64 // nanoseconds of user-mode time
	Sysns  int64 // nanoseconds of system-mode time
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since inttime to system time, called when a
// syscall or trap handler returns to user mode.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges n's counters into a under a's lock, used when a parent
// collects a reaped child's usage (spec.md 4.8's wait/reparenting path).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent (user, sys) pair in nanoseconds.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}
