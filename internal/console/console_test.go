package console

import (
	"sync"
	"testing"
	"time"

	"github.com/symbol23441/unix-xv6/internal/bio"
	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/proc"
)

type fakeUART struct {
	mu  sync.Mutex
	out []byte
}

func (u *fakeUART) PutcSync(c byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.out = append(u.out, c)
}

func (u *fakeUART) String() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return string(u.out)
}

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

func TestIntrEchoesAndWakesBlockedReader(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := proc.NewTable()

	uart := &fakeUART{}
	c := New(uart, table)

	readDone := make(chan string, 1)
	readerStarted := make(chan struct{})

	readerFn := func(p *proc.Proc) {
		close(readerStarted)
		buf := make([]byte, 8)
		n, err := c.Read(p, buf, len(buf))
		if err != 0 {
			t.Errorf("console read error: %v", err)
		}
		readDone <- string(buf[:n])
		proc.Exit(p, table, fsys, 0)
	}
	proc.Spawn(table, phys, fsys, 0, "reader", readerFn)
	cpu := &proc.CPU{ID: 0}
	go proc.Scheduler(cpu, table)

	<-readerStarted
	time.Sleep(20 * time.Millisecond)
	for _, b := range []byte("hi\n") {
		c.Intr(b)
	}

	select {
	case got := <-readDone:
		if got != "hi\n" {
			t.Fatalf("console read = %q, want %q", got, "hi\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke after input arrived")
	}
	if uart.String() != "hi\n" {
		t.Fatalf("uart echoed %q, want %q", uart.String(), "hi\n")
	}
}

func TestIntrCtrlUKillsCurrentLine(t *testing.T) {
	uart := &fakeUART{}
	c := New(uart, proc.NewTable()) // Intr('\n') wakes readers through the table

	for _, b := range []byte("abc") {
		c.Intr(b)
	}
	c.Intr(ctrlU)
	c.Intr('x')
	c.Intr('\n')

	if c.e-c.r != 2 {
		t.Fatalf("expected 2 pending bytes (\"x\\n\") after ^U, got %d", c.e-c.r)
	}
	if c.buf[(c.e-2)%INPUTBUF] != 'x' || c.buf[(c.e-1)%INPUTBUF] != '\n' {
		t.Fatalf("expected the line to be \"x\\n\" after ^U erased \"abc\"")
	}
}

func TestWriteSendsEveryByteToUART(t *testing.T) {
	uart := &fakeUART{}
	c := New(uart, nil)

	n, err := c.Write([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Write = (%d, %v), want (5, 0)", n, err)
	}
	if uart.String() != "hello" {
		t.Fatalf("uart got %q, want %q", uart.String(), "hello")
	}
}
