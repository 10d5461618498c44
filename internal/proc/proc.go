package proc

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/accnt"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// State is a PCB's position in the lifecycle spec.md 4.8 names:
// UNUSED -> USED -> RUNNABLE -> RUNNING -> {RUNNABLE, SLEEPING, ZOMBIE} -> UNUSED.
type State int

const (
	Unused State = iota
	Used
	Runnable
	Running
	Sleeping
	Zombie
)

// Trapframe is the fixed-layout register save area exchanged with the
// out-of-scope trampoline/userret assembly collaborator (spec.md 4.9,
// "External Interfaces / Collaborators"). Kept as plain data: this hosted
// kernel never executes real user-mode RISC-V instructions, but fork's
// "child returns 0" contract and exec's initial register state both flow
// through it, so the shape must match what a real trampoline would save.
type Trapframe struct {
	Kernel_satp   uint64
	Kernel_sp     uint64
	Kernel_trap   uint64
	Epc           uint64
	Kernel_hartid uint64
	Ra, Sp, Gp, Tp                     uint64
	T0, T1, T2                         uint64
	S0, S1                             uint64
	A0, A1, A2, A3, A4, A5, A6, A7      uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6                     uint64
}

// Proc is one process control block (spec.md 3/4.8).
type Proc struct {
	mu    sync.Mutex // guards the fields below (the PCB lock)
	state State
	chan_ any // non-nil while Sleeping: the wait channel token
	killed bool
	started bool // whether run() has been launched as a goroutine yet

	Pid    int
	Parent *Proc

	AS        *vm.AS
	Sz        uintptr
	Tf        *Trapframe
	Name      string
	Cwd       *fs.Inode
	OpenFiles [NOFILE]*File

	ExitStatus int
	Accnt      accnt.Accnt_t

	runCh   chan struct{} // scheduler -> process: "you're running"
	schedCh chan struct{} // process -> scheduler: "I yielded control"
	fn      func(*Proc)   // body run on the process's goroutine

	// table/fsys let exitIfRunning reap a process that returns without
	// calling Exit itself, without reaching for a package-level global
	// (spec.md 9: "no ambient globals at the call sites"). Set once by
	// Spawn/Fork at creation time.
	table *Table
	fsys  *fs.Fs
}

const NOFILE = 16

func (p *Proc) Lock()   { p.mu.Lock() }
func (p *Proc) Unlock() { p.mu.Unlock() }

func (p *Proc) State() State { return p.state }
func (p *Proc) Killed() bool { return p.killed }

// SetKilled marks p killed and, if it is currently sleeping, makes it
// runnable again so the scheduler resumes it and the sleep caller can
// observe Killed() (spec.md 4.8/4.9: a killed process abandons the
// current syscall at the next safe point rather than being torn down
// asynchronously).
func (p *Proc) SetKilled() {
	p.mu.Lock()
	p.killed = true
	if p.state == Sleeping {
		p.state = Runnable
	}
	p.mu.Unlock()
}
