package proc

import "github.com/symbol23441/unix-xv6/internal/fs"

// Exit closes p's open files, releases its current directory, reparents
// any children to init, records status, and transitions p to Zombie
// (spec.md 4.8's exit). It must run on p's own goroutine. It returns to
// its caller once it has handed the CPU back to the scheduler; p is never
// scheduled again.
func Exit(p *Proc, t *Table, fsys *fs.Fs, status int) {
	for i, fd := range p.OpenFiles {
		if fd != nil {
			fd.Close(fsys)
			p.OpenFiles[i] = nil
		}
	}

	fsys.BeginOp()
	fsys.Iput(p.Cwd)
	fsys.EndOp()
	p.Cwd = nil

	t.mu.Lock()
	for _, c := range t.Procs {
		c.mu.Lock()
		wakeInit := false
		if c.Parent == p {
			c.Parent = t.initp
			wakeInit = c.state == Zombie
		}
		c.mu.Unlock()
		if wakeInit {
			Wakeup(t, t.initp) // takes every PCB lock, so only after c's is released
		}
	}
	parent := p.Parent
	t.mu.Unlock()

	Wakeup(t, parent)

	p.mu.Lock()
	p.ExitStatus = status
	p.state = Zombie
	p.mu.Unlock()

	p.schedCh <- struct{}{} // hand back to scheduler; p is never made Runnable again
}
