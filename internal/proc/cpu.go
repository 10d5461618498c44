// Package proc implements the process table, scheduler, sleep/wakeup,
// and the spinlock/sleep-lock primitives that tie them together
// (spec.md 4.8, 4.9, §5). There is no teacher source for this component
// (biscuit's proc package shipped with only a go.mod in the retrieval
// pack), so it is grounded directly on
// original_source/kernel/{proc.c,proc.h,spinlock.h,sleeplock.h} for the
// state machine and locking protocol, styled after the rest of the
// teacher pack's habit of small structs with an embedded mutex and
// explicit accessor methods (e.g. biscuit's accnt.Accnt_t, vm.Vm_t).
package proc

import "sync"

// CPU is one hardware thread's scheduling state (spec.md 3's CPU record).
// Each CPU is driven by exactly one goroutine running Scheduler, so Noff
// and Intena are safe to access without their own lock: only the owning
// scheduler goroutine (or a process it has resumed) ever touches them.
type CPU struct {
	ID     int
	Proc   *Proc
	Noff   int  // nested push_off depth
	Intena bool // were interrupts enabled before the first push_off
}

// Spinlock disables interrupts on the local CPU for the hold duration,
// nesting via the CPU's push/pop counter (spec.md §5). Since this hosted
// kernel has no real maskable interrupt line, PushOff/PopOff's effect is
// purely the bookkeeping spec.md 9 calls out as fundamental (the
// "reentrant disable-interrupt counter"); the real exclusion is the
// embedded mutex.
type Spinlock struct {
	mu   sync.Mutex
	name string
	cpu  *CPU // owning CPU, for Holding()
}

func NewSpinlock(name string) *Spinlock {
	return &Spinlock{name: name}
}

func (c *CPU) PushOff() {
	if c.Noff == 0 {
		c.Intena = true // hosted model: always "enabled" before the first push
	}
	c.Noff++
}

func (c *CPU) PopOff() {
	if c.Noff < 1 {
		panic("proc: popoff without matching pushoff")
	}
	c.Noff--
}

func (l *Spinlock) Acquire(c *CPU) {
	c.PushOff()
	l.mu.Lock()
	l.cpu = c
}

func (l *Spinlock) Release(c *CPU) {
	if l.cpu != c {
		panic("proc: release of spinlock not held by this cpu")
	}
	l.cpu = nil
	l.mu.Unlock()
	c.PopOff()
}

func (l *Spinlock) Holding(c *CPU) bool {
	return l.cpu == c
}

// Sleeplock is built on a spinlock plus a condition, used for long waits
// (buffer data, inode data) per spec.md §5. In this hosted kernel those
// waits are represented with a plain mutex (see bio.Buf, fs.Inode) since
// goroutine parking is already cheap; Sleeplock exists for callers that
// need the holder's pid recorded for diagnostics.
type Sleeplock struct {
	mu      sync.Mutex
	holder  int
	name    string
}

func NewSleeplock(name string) *Sleeplock {
	return &Sleeplock{name: name}
}

func (s *Sleeplock) Acquire(pid int) {
	s.mu.Lock()
	s.holder = pid
}

func (s *Sleeplock) Release() {
	s.holder = 0
	s.mu.Unlock()
}

func (s *Sleeplock) Holder() int { return s.holder }
