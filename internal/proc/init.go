package proc

import (
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// Spawn creates the very first process directly (no parent to fork from),
// the way original_source/kernel/proc.c's userinit bypasses fork for
// PID 1. Every later process descends from it via Fork.
func Spawn(t *Table, phys *mem.Physmem_t, fsys *fs.Fs, cpuid int, name string, fn func(*Proc)) *Proc {
	p := t.allocProc(fn)
	if p == nil {
		panic("proc: process table has no room for the init process")
	}
	as, ok := vm.NewAS(phys, cpuid)
	if !ok {
		panic("proc: no physical memory available to build the init address space")
	}
	p.AS = as
	p.Sz = 0
	p.Tf = &Trapframe{}
	p.Name = name
	p.table = t
	p.fsys = fsys
	fsys.BeginOp()
	p.Cwd = fsys.Iget(fs.RootIno)
	fsys.EndOp()

	t.SetInit(p)

	p.mu.Lock()
	p.state = Runnable
	p.mu.Unlock()
	return p
}
