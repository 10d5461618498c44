package main

import (
	"fmt"

	"github.com/symbol23441/unix-xv6/internal/console"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/proc"
)

// runInit is PID 1's body: it demonstrates the process core end to end
// (fork, independent exit status, wait/reparenting) the way
// original_source/kernel/init.c forks a shell and reaps orphans, scaled
// down to a single child for this hosted demo.
func runInit(p *proc.Proc, t *proc.Table, phys *mem.Physmem_t, fsys *fs.Fs, con *console.Console) {
	con.Write([]byte("xv6 (hosted): booting\n"))

	childPid, err := proc.Fork(p, t, phys, fsys, 0, func(child *proc.Proc) {
		con.Write([]byte(fmt.Sprintf("child pid %d: hello from the filesystem demo\n", child.Pid)))
		proc.Exit(child, t, fsys, 0)
	})
	if err != 0 {
		con.Write([]byte(fmt.Sprintf("init: fork failed: %v\n", err)))
		proc.Exit(p, t, fsys, 1)
		return
	}

	con.Write([]byte(fmt.Sprintf("init: started child pid %d\n", childPid)))

	for {
		pid, status, werr := proc.Wait(p, t)
		if werr != 0 {
			break
		}
		con.Write([]byte(fmt.Sprintf("init: reaped pid %d status %d\n", pid, status)))
	}

	con.Write([]byte("xv6 (hosted): no more children, shutting down\n"))
	proc.Exit(p, t, fsys, 0)
}
