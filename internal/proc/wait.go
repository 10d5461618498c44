package proc

import "github.com/symbol23441/unix-xv6/internal/defs"

// SetInit designates p as the reparenting target for orphaned children
// (spec.md 4.8's "reparenting to init").
func (t *Table) SetInit(p *Proc) { t.initp = p }

// Wait blocks until one of p's children exits, reaps it, and returns its
// pid and exit status. Returns -ECHILD immediately if p has no children
// at all (spec.md 4.8's wait). Grounded on
// original_source/kernel/proc.c's wait(), including sleeping on p itself
// (the same address exit() wakes via wakeup(p->parent)).
func Wait(p *Proc, t *Table) (int, int, defs.Err_t) {
	for {
		t.mu.Lock()
		haveKids := false
		for _, c := range t.Procs {
			c.mu.Lock()
			if c.Parent == p {
				haveKids = true
				if c.state == Zombie {
					pid := c.Pid
					status := c.ExitStatus
					p.Accnt.Add(&c.Accnt)
					c.mu.Unlock()
					t.freeProc(c)
					t.mu.Unlock()
					return pid, status, 0
				}
			}
			c.mu.Unlock()
		}
		if !haveKids || p.killed {
			t.mu.Unlock()
			return -1, 0, -defs.ECHILD
		}
		Sleep(p, p, &t.mu)
		t.mu.Unlock()
	}
}
