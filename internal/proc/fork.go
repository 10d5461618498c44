package proc

import (
	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// Fork duplicates p's address space, open-file table, and current
// directory into a new child PCB and makes it Runnable (spec.md 4.8's
// fork). A real xv6 fork() returns twice in the same C call stack, with
// the child resuming at the instruction after the syscall; a Go
// goroutine's stack cannot be duplicated that way, so the caller instead
// supplies childFn, the body the child goroutine runs from its start --
// equivalent to the very common fork-then-immediately-exec pattern
// (childFn plays the role of whatever the child execs), the boundary
// resolution recorded in DESIGN.md. Passing nil reuses p's own entry
// point, the closest analogue to a fork with no following exec.
func Fork(p *Proc, t *Table, phys *mem.Physmem_t, fsys *fs.Fs, cpuid int, childFn func(*Proc)) (int, defs.Err_t) {
	if childFn == nil {
		childFn = p.fn
	}
	np := t.allocProc(childFn)
	if np == nil {
		return -1, -defs.EAGAIN
	}

	as, ok := vm.NewAS(phys, cpuid)
	if !ok {
		t.mu.Lock()
		t.freeProc(np)
		t.mu.Unlock()
		return -1, -defs.ENOMEM
	}
	if err := vm.Copy(p.AS, as, p.Sz); err != 0 {
		t.mu.Lock()
		t.freeProc(np)
		t.mu.Unlock()
		return -1, err
	}
	np.AS = as
	np.Sz = p.Sz
	np.table = t
	np.fsys = fsys

	tf := *p.Tf
	tf.A0 = 0 // child's fork() return value
	np.Tf = &tf

	for i, fd := range p.OpenFiles {
		if fd != nil {
			np.OpenFiles[i] = fd.dup()
		}
	}
	fsys.BeginOp()
	np.Cwd = fsys.Idup(p.Cwd)
	fsys.EndOp()

	np.Name = p.Name
	t.mu.Lock()
	np.Parent = p
	t.mu.Unlock()

	np.mu.Lock()
	np.state = Runnable
	np.mu.Unlock()

	return np.Pid, 0
}
