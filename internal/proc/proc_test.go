package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/symbol23441/unix-xv6/internal/bio"
	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
)

type memDisk struct {
	mu     sync.Mutex
	blocks map[int][bio.BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int][bio.BSIZE]byte)} }

func (d *memDisk) Rw(blockno int, buf []byte, write bool) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if write {
		var b [bio.BSIZE]byte
		copy(b[:], buf)
		d.blocks[blockno] = b
	} else {
		b := d.blocks[blockno]
		copy(buf, b[:])
	}
	return 0
}

const testDev = 1

// newTestFs formats and opens a tiny filesystem image in memory, mirroring
// cmd/mkfs's layout so proc's integration tests have a real Fs to give
// each process a current directory.
func newTestFs(t *testing.T) *fs.Fs {
	t.Helper()
	const nblocks, ninode, nlog = 400, 50, 20
	disk := newMemDisk()
	cache := bio.NewCache(disk, 32)

	const bootBlock = 1
	logStart := bootBlock + 1
	ninodeBlocks := (ninode + fs.IPB - 1) / fs.IPB
	inodeStart := logStart + nlog
	nbitmapBlocks := (nblocks + fs.BPB - 1) / fs.BPB
	bmapStart := inodeStart + ninodeBlocks
	dataStart := bmapStart + nbitmapBlocks

	sb := fs.Superblock{
		Magic:      fs.FSMAGIC,
		Size:       uint32(nblocks),
		Nblocks:    uint32(nblocks - dataStart),
		Ninodes:    uint32(ninode),
		Nlog:       uint32(nlog),
		Logstart:   uint32(logStart),
		Inodestart: uint32(inodeStart),
		Bmapstart:  uint32(bmapStart),
	}
	b := cache.Bread(testDev, 1)
	enc := sb.Encode()
	copy(b.Data[:], enc[:])
	cache.Bwrite(b)
	cache.Brelse(b)

	zero := func(blockno int) {
		b := cache.Bread(testDev, blockno)
		for i := range b.Data {
			b.Data[i] = 0
		}
		cache.Bwrite(b)
		cache.Brelse(b)
	}
	zero(logStart)
	for i := inodeStart; i < bmapStart; i++ {
		zero(i)
	}
	for i := bmapStart; i < dataStart; i++ {
		zero(i)
	}
	for blockno := 0; blockno < dataStart; blockno++ {
		bmb := cache.Bread(testDev, bmapStart+blockno/fs.BPB)
		bi := blockno % fs.BPB
		bmb.Data[bi/8] |= 1 << (bi % 8)
		cache.Bwrite(bmb)
		cache.Brelse(bmb)
	}

	f := fs.Open(cache, testDev)
	f.BeginOp()
	root, err := f.Ialloc(defs.T_DIR)
	if err != 0 {
		t.Fatalf("ialloc root: %v", err)
	}
	f.Ilock(root)
	f.Dirlink(root, ".", root.Inum)
	f.Dirlink(root, "..", root.Inum)
	root.Nlink = 2
	f.Iupdate(root)
	f.Iunlock(root)
	f.EndOp()
	f.Iput(root)
	return f
}

// TestForkExitWaitIntegration drives a real Table/Scheduler pair: init
// forks a child, the child exits with a distinct status, and init's Wait
// reaps it and observes that status, then Wait returns -ECHILD once init
// itself has no more children.
func TestForkExitWaitIntegration(t *testing.T) {
	phys := mem.NewPhysmem(256, 1)
	fsys := newTestFs(t)
	table := NewTable()

	const childStatus = 7
	resultCh := make(chan struct {
		pid    int
		status int
		err    defs.Err_t
	}, 1)

	initFn := func(p *Proc) {
		childFn := func(child *Proc) {
			Exit(child, table, fsys, childStatus)
		}
		_, forkErr := Fork(p, table, phys, fsys, 0, childFn)
		if forkErr != 0 {
			resultCh <- struct {
				pid    int
				status int
				err    defs.Err_t
			}{-1, 0, forkErr}
			Exit(p, table, fsys, 1)
			return
		}
		pid, status, werr := Wait(p, table)
		resultCh <- struct {
			pid    int
			status int
			err    defs.Err_t
		}{pid, status, werr}

		// A second Wait must fail now that the only child was reaped.
		_, _, werr2 := Wait(p, table)
		if werr2 != -defs.ECHILD {
			t.Errorf("second Wait = %v, want -ECHILD", werr2)
		}
		Exit(p, table, fsys, 0)
	}

	initp := Spawn(table, phys, fsys, 0, "init", initFn)
	cpu := &CPU{ID: 0}
	go Scheduler(cpu, table)

	select {
	case r := <-resultCh:
		if r.err != 0 {
			t.Fatalf("Wait returned error %v", r.err)
		}
		if r.status != childStatus {
			t.Fatalf("Wait status = %d, want %d", r.status, childStatus)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fork/exit/wait to complete")
	}
	_ = initp
}

func TestWaitReturnsEChildWithNoChildren(t *testing.T) {
	phys := mem.NewPhysmem(64, 1)
	fsys := newTestFs(t)
	table := NewTable()

	done := make(chan defs.Err_t, 1)
	fn := func(p *Proc) {
		_, _, werr := Wait(p, table)
		done <- werr
		Exit(p, table, fsys, 0)
	}
	Spawn(table, phys, fsys, 0, "lonely", fn)
	cpu := &CPU{ID: 0}
	go Scheduler(cpu, table)

	select {
	case werr := <-done:
		if werr != -defs.ECHILD {
			t.Fatalf("Wait with no children = %v, want -ECHILD", werr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestKillWakesProcessBlockedInPipeRead drives spec.md 8 scenario 7: a
// process sleeping in a pipe read is killed, wakes, observes Killed(),
// returns -EIO and exits with status -1, and its parent's Wait reaps it.
func TestKillWakesProcessBlockedInPipeRead(t *testing.T) {
	phys := mem.NewPhysmem(256, 1)
	fsys := newTestFs(t)
	table := NewTable()

	_, rf, _ := NewPipe(table)
	childStarted := make(chan struct{})
	resultCh := make(chan struct {
		pid    int
		status int
		werr   defs.Err_t
	}, 1)

	initFn := func(p *Proc) {
		childFn := func(child *Proc) {
			close(childStarted)
			buf := make([]byte, 4)
			n, rerr := rf.pipe.Read(child, nil, 0, buf, len(buf))
			if rerr != -defs.EIO {
				t.Errorf("killed read = %v, want -EIO", rerr)
			}
			if n != 0 {
				t.Errorf("killed read returned %d bytes, want 0", n)
			}
			Exit(child, table, fsys, -1)
		}
		childPid, forkErr := Fork(p, table, phys, fsys, 0, childFn)
		if forkErr != 0 {
			t.Errorf("fork: %v", forkErr)
			Exit(p, table, fsys, 1)
			return
		}

		// One CPU: init must yield before the child can run at all.
		for waiting := true; waiting; {
			select {
			case <-childStarted:
				waiting = false
			default:
				Yield(p)
			}
		}
		time.Sleep(20 * time.Millisecond) // give the child time to block on the empty pipe
		if kerr := table.Kill(childPid); kerr != 0 {
			t.Errorf("Kill: %v", kerr)
		}

		pid, status, werr := Wait(p, table)
		resultCh <- struct {
			pid    int
			status int
			werr   defs.Err_t
		}{pid, status, werr}
		Exit(p, table, fsys, 0)
	}

	Spawn(table, phys, fsys, 0, "init", initFn)
	cpu := &CPU{ID: 0}
	go Scheduler(cpu, table)

	select {
	case r := <-resultCh:
		if r.werr != 0 {
			t.Fatalf("Wait returned error %v", r.werr)
		}
		if r.status != -1 {
			t.Fatalf("Wait status = %d, want -1", r.status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the killed child to be reaped")
	}
}

func TestKillReturnsESRCHForUnknownPid(t *testing.T) {
	table := NewTable()
	if err := table.Kill(99999); err != -defs.ESRCH {
		t.Fatalf("Kill(unknown pid) = %v, want -ESRCH", err)
	}
}

// TestPipeReadBlocksUntilWrite spins up a reader process and a writer
// process on a real Table/Scheduler, the only way to exercise Sleep/Wakeup
// correctly (both sides need a live scheduler goroutine pumping their
// runCh/schedCh pair). The reader must block on the empty pipe until the
// writer runs, then observe the written bytes.
func TestPipeReadBlocksUntilWrite(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := NewTable()

	_, rf, wf := NewPipe(table)
	msg := []byte("ping")
	readDone := make(chan string, 1)
	readerStarted := make(chan struct{})

	readerFn := func(p *Proc) {
		close(readerStarted)
		buf := make([]byte, len(msg))
		n, err := rf.pipe.Read(p, nil, 0, buf, len(buf))
		if err != 0 {
			t.Errorf("pipe read error: %v", err)
		}
		readDone <- string(buf[:n])
		Exit(p, table, fsys, 0)
	}
	writerFn := func(p *Proc) {
		<-readerStarted
		time.Sleep(20 * time.Millisecond) // give the reader time to block on empty
		n, err := wf.pipe.Write(p, nil, 0, msg, len(msg))
		if err != 0 || n != len(msg) {
			t.Errorf("pipe write: n=%d err=%v", n, err)
		}
		Exit(p, table, fsys, 0)
	}

	Spawn(table, phys, fsys, 0, "reader", readerFn)
	Spawn(table, phys, fsys, 0, "writer", writerFn)
	cpu := &CPU{ID: 0}
	go Scheduler(cpu, table)

	select {
	case got := <-readDone:
		if got != string(msg) {
			t.Fatalf("pipe read = %q, want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke after write")
	}
}

// TestPipeReadSeesEOFAfterWriterCloses checks that a reader blocked on an
// empty pipe wakes with a 0-byte (EOF) read once the write end closes,
// rather than blocking forever.
func TestPipeReadSeesEOFAfterWriterCloses(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := NewTable()

	_, rf, wf := NewPipe(table)
	readDone := make(chan int, 1)
	readerStarted := make(chan struct{})

	readerFn := func(p *Proc) {
		close(readerStarted)
		buf := make([]byte, 4)
		n, err := rf.pipe.Read(p, nil, 0, buf, len(buf))
		if err != 0 {
			t.Errorf("pipe read error: %v", err)
		}
		readDone <- n
		Exit(p, table, fsys, 0)
	}
	closerFn := func(p *Proc) {
		<-readerStarted
		time.Sleep(20 * time.Millisecond)
		wf.pipe.closeEnd(true)
		Exit(p, table, fsys, 0)
	}

	Spawn(table, phys, fsys, 0, "reader", readerFn)
	Spawn(table, phys, fsys, 0, "closer", closerFn)
	cpu := &CPU{ID: 0}
	go Scheduler(cpu, table)

	select {
	case n := <-readDone:
		if n != 0 {
			t.Fatalf("read after writer close = %d bytes, want 0 (EOF)", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke after writer closed")
	}
}
