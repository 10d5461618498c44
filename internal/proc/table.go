package proc

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/limits"
)

// Table is the fixed-size process table (spec.md 4.8: "a fixed-size
// table of process slots"), grounded on original_source/kernel/proc.c's
// global proc[NPROC] array plus its pid-allocation counter and wait_lock.
type Table struct {
	mu      sync.Mutex // guards Procs and nextPid; NOT any individual Proc's fields
	Procs   []*Proc
	nextPid int
	initp   *Proc
}

func NewTable() *Table {
	t := &Table{
		Procs:   make([]*Proc, limits.Syslimit.Sysprocs),
		nextPid: 1,
	}
	for i := range t.Procs {
		t.Procs[i] = &Proc{state: Unused}
	}
	return t
}

func (t *Table) allocPid() int {
	t.mu.Lock()
	pid := t.nextPid
	t.nextPid++
	t.mu.Unlock()
	return pid
}

// allocProc finds an Unused slot, marks it Used, and wires its scheduler
// handoff channels. Returns nil if the table is full (spec.md 4.8's
// fork failure mode, distinct from out-of-memory).
func (t *Table) allocProc(fn func(*Proc)) *Proc {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.Procs {
		p.Lock()
		if p.state == Unused {
			p.Pid = t.nextPid
			t.nextPid++
			p.state = Used
			p.killed = false
			p.ExitStatus = 0
			p.started = false
			p.runCh = make(chan struct{})
			p.schedCh = make(chan struct{})
			p.fn = fn
			p.Unlock()
			return p
		}
		p.Unlock()
	}
	limits.RecordHit()
	return nil
}

// Kill marks the process identified by pid as killed (spec.md 4.8's Kill
// operation, original_source/kernel/proc.c's kill()): a process sleeping
// at the time wakes immediately and observes Killed() at its next safe
// point (e.g. a blocked pipe read returns -EIO and the process exits),
// while a runnable/running process simply exits the next time it checks.
// Returns -ESRCH if no live process has that pid.
func (t *Table) Kill(pid int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.Procs {
		p.Lock()
		if p.state != Unused && p.Pid == pid {
			p.Unlock()
			p.SetKilled()
			return 0
		}
		p.Unlock()
	}
	return -defs.ESRCH
}

// freeProc returns p's slot to Unused once its parent has reaped it via
// Wait (spec.md 4.8's final ZOMBIE -> UNUSED transition), freeing the
// user page table and memory p owned -- spec.md 3's invariant that these
// are "freed exactly once by the reaper (its parent via wait)". A process
// whose Fork failed before an address space was even built has a nil AS.
func (t *Table) freeProc(p *Proc) {
	if p.AS != nil {
		p.AS.Destroy(p.Sz)
	}
	p.Pid = 0
	p.Parent = nil
	p.Name = ""
	p.AS = nil
	p.Sz = 0
	p.Tf = nil
	p.Cwd = nil
	p.ExitStatus = 0
	p.chan_ = nil
	p.killed = false
	p.state = Unused
}
