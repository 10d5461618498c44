package proc

import (
	"time"
)

// Scheduler is one CPU's scheduling loop (spec.md 4.8: "each CPU runs an
// independent scheduler loop that scans the process table for a RUNNABLE
// entry"). Grounded on original_source/kernel/proc.c's scheduler(), with
// the asm swtch() context switch replaced by a pair of unbuffered
// channels: instead of saving/restoring registers, the CPU's goroutine
// blocks on schedCh while the process's goroutine runs, and vice versa.
// Each process owns exactly one goroutine for its whole lifetime, so a
// "context switch" is really just which goroutine is permitted to
// proceed -- the same invariant, expressed with the host language's own
// cooperative scheduling primitive instead of hand-rolled stacks.
func Scheduler(c *CPU, t *Table) {
	for {
		found := false
		for _, p := range t.Procs {
			p.mu.Lock()
			if p.state != Runnable {
				p.mu.Unlock()
				continue
			}
			p.state = Running
			c.Proc = p
			first := !p.started
			p.started = true
			p.mu.Unlock()

			if first {
				go p.run()
			} else {
				p.runCh <- struct{}{}
			}
			<-p.schedCh // blocks until p yields, sleeps, or exits
			c.Proc = nil
			found = true
		}
		if !found {
			time.Sleep(time.Millisecond) // idle: nothing runnable this pass
		}
	}
}

// run is a process's goroutine entry point, launched exactly once by the
// scheduler the first time the PCB becomes Runnable.
func (p *Proc) run() {
	if p.fn != nil {
		p.fn(p)
	}
	p.exitIfRunning()
}

// exitIfRunning is a safety net: a process body that returns without
// calling Exit still has its slot reclaimed cleanly, using the table and
// filesystem handles Spawn/Fork stored on the PCB itself at creation time
// rather than a package-level global.
func (p *Proc) exitIfRunning() {
	p.mu.Lock()
	alreadyZombie := p.state == Zombie
	p.mu.Unlock()
	if !alreadyZombie {
		Exit(p, p.table, p.fsys, 0)
	}
}

// Yield voluntarily gives up the CPU, returning to Runnable rather than
// Sleeping (spec.md 4.8/4.9: timer-driven preemption uses this path).
func Yield(p *Proc) {
	p.mu.Lock()
	p.state = Runnable
	p.mu.Unlock()
	p.schedCh <- struct{}{}
	<-p.runCh
}

// Locker is the minimal interface Sleep needs from the caller's
// condition lock (sync.Mutex satisfies it; so does proc.Spinlock paired
// with a CPU via a small adapter).
type Locker interface {
	Lock()
	Unlock()
}

// Sleep atomically releases lk, marks p Sleeping on chan_, and blocks
// until a matching Wakeup (or a Kill) makes it Runnable again, then
// reacquires lk before returning -- the same ordering
// original_source/kernel/proc.c's sleep() uses to avoid the lost-wakeup
// race: the PCB lock is taken before lk is released, so no Wakeup can
// run in the gap between "check condition" and "mark sleeping".
func Sleep(p *Proc, chan_ any, lk Locker) {
	p.mu.Lock()
	lk.Unlock()
	p.chan_ = chan_
	p.state = Sleeping
	p.mu.Unlock()

	p.schedCh <- struct{}{}
	<-p.runCh

	p.mu.Lock()
	p.chan_ = nil
	p.mu.Unlock()
	lk.Lock()
}

// Wakeup makes every process sleeping on chan_ Runnable again. Safe to
// call while holding chan_'s own lock (the usual pattern) since it never
// takes the Table lock; it takes each PCB's lock in turn, so the caller
// must not hold any PCB lock.
func Wakeup(t *Table, chan_ any) {
	for _, p := range t.Procs {
		p.mu.Lock()
		if p.state == Sleeping && p.chan_ == chan_ {
			p.state = Runnable
		}
		p.mu.Unlock()
	}
}
