package proc

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// PIPESIZE matches original_source/kernel/pipe.c's 512-byte ring buffer.
const PIPESIZE = 512

// Pipe is an anonymous in-kernel byte ring, read/write ends tracked
// separately so both sides can detect the other end closing
// (spec.md 4.8's "sleeping on a pipe read", scenario 7). It holds the
// table it wakes sleepers through explicitly, rather than reaching for an
// ambient global, matching every other dependency in this package
// (spec.md 9: "no ambient globals at the call sites").
type Pipe struct {
	mu        sync.Mutex
	data      [PIPESIZE]byte
	nread     int
	nwrite    int
	readOpen  bool
	writeOpen bool

	table *Table
}

func NewPipe(t *Table) (*Pipe, *File, *File) {
	p := &Pipe{readOpen: true, writeOpen: true, table: t}
	return p, NewPipeFile(p, false), NewPipeFile(p, true)
}

func (p *Pipe) closeEnd(wasWriter bool) {
	p.mu.Lock()
	if wasWriter {
		p.writeOpen = false
		Wakeup(p.table, &p.nread)
	} else {
		p.readOpen = false
		Wakeup(p.table, &p.nwrite)
	}
	p.mu.Unlock()
}

// Write blocks while the ring is full and the read end is still open,
// per original_source/kernel/pipe.c's pipewrite: it wakes readers after
// every byte run and gives up with EIO if the reader has gone away (or
// the writer has been killed).
func (p *Pipe) Write(proc *Proc, as *vm.AS, uva uintptr, src []byte, n int) (int, defs.Err_t) {
	p.mu.Lock()
	written := 0
	for written < n {
		if !p.readOpen || proc.Killed() {
			p.mu.Unlock()
			return written, -defs.EIO
		}
		if p.nwrite-p.nread == PIPESIZE {
			Wakeup(p.table, &p.nread)
			Sleep(proc, &p.nwrite, &p.mu)
			continue
		}
		var b [1]byte
		if err := vm.CopyEitherIn(as, uva, src[written:written+1], b[:]); err != 0 {
			break
		}
		p.data[p.nwrite%PIPESIZE] = b[0]
		p.nwrite++
		written++
		uva++
	}
	Wakeup(p.table, &p.nread)
	p.mu.Unlock()
	return written, 0
}

// Read drains up to n available bytes, blocking if the ring is empty and
// the write end is still open (pipe.c's piperead).
func (p *Pipe) Read(proc *Proc, as *vm.AS, uva uintptr, dst []byte, n int) (int, defs.Err_t) {
	p.mu.Lock()
	for p.nread == p.nwrite && p.writeOpen {
		if proc.Killed() {
			p.mu.Unlock()
			return 0, -defs.EIO
		}
		Sleep(proc, &p.nread, &p.mu)
	}
	read := 0
	for read < n && p.nread != p.nwrite {
		b := p.data[p.nread%PIPESIZE]
		p.nread++
		var tmp [1]byte
		tmp[0] = b
		if err := vm.CopyEither(as, uva, dst[read:read+1], tmp[:]); err != 0 {
			break
		}
		read++
		uva++
	}
	Wakeup(p.table, &p.nwrite)
	p.mu.Unlock()
	return read, 0
}
