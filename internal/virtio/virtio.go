// Package virtio implements the legacy MMIO virtio block queue protocol
// (spec.md 4.3): a descriptor table, avail ring, and used ring shared
// between "driver" (this package) and "device" (a goroutine standing in
// for the real hardware, backed by an on-disk image file). Grounded on
// biscuit's ufs/driver.go Disk_i/Bdev_req_t contract for the request
// shape, and on original_source/kernel/virtio_disk.c for the exact
// submission/completion protocol this spec describes in prose.
package virtio

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/symbol23441/unix-xv6/internal/defs"
)

// NUM must be a power of two so idx%NUM is a cheap mask (spec.md 4.3).
const NUM = 8

const (
	vringDescWrite = 1 << 0 // this descriptor's buffer is device-write-only
	vringDescNext  = 1 << 1 // chained to another descriptor
)

const (
	blkTypeIn  = 0 // read
	blkTypeOut = 1 // write
)

type desc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

// BSIZE is the disk block size (spec.md 6: fixed 1024 bytes).
const BSIZE = 1024

// inflight tracks one outstanding request, keyed by the head descriptor
// index, the way virtio_disk.c's info[] array does.
type inflight struct {
	buf    []byte // BSIZE bytes, shared with the caller for the duration of the I/O
	status *byte
	done   chan defs.Err_t
	write  bool
}

// Disk is the virtio block driver instance: one per device.
type Disk struct {
	mu sync.Mutex

	desc      [NUM]desc
	availIdx  uint16
	availRing [NUM]uint16
	usedIdx   uint16 // our shadow of used.idx consumed so far
	usedRing  [NUM]struct {
		id  uint32
		len uint32
	}
	// devUsedIdx is the device's published used.idx (what Intr reads).
	devUsedIdx uint16

	freeSem *semaphore.Weighted // NUM weight; acquired 3 at a time per request
	free    [NUM]bool          // true if descriptor i is free
	info    map[int]*inflight  // keyed by head descriptor index

	file *os.File // backing store, standing in for the physical disk
}

// Open opens (creating if necessary) a disk image at path and wires up a
// virtio driver instance plus its simulated device goroutine.
func Open(path string, nblocks int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("virtio: disk image %s already locked: %w", path, err)
	}
	want := int64(nblocks) * BSIZE
	if fi, err := f.Stat(); err == nil && fi.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	d := &Disk{
		freeSem: semaphore.NewWeighted(NUM),
		info:    make(map[int]*inflight),
		file:    f,
	}
	for i := range d.free {
		d.free[i] = true
	}
	return d, nil
}

func (d *Disk) Close() error {
	return d.file.Close()
}

// allocDescs acquires weight 3 from the free-descriptor semaphore --
// spec.md 4.3's "allocate three descriptors from a free bitmap (sleep on
// the bitmap when exhausted)" -- then claims three concrete free slots.
func (d *Disk) allocDescs(ctx context.Context) ([3]int, error) {
	if err := d.freeSem.Acquire(ctx, 3); err != nil {
		return [3]int{}, err
	}
	d.mu.Lock()
	var got [3]int
	n := 0
	for i := 0; i < NUM && n < 3; i++ {
		if d.free[i] {
			d.free[i] = false
			got[n] = i
			n++
		}
	}
	d.mu.Unlock()
	if n != 3 {
		panic("virtio: semaphore accounting inconsistent with free bitmap")
	}
	return got, nil
}

func (d *Disk) freeDescs(idxs [3]int) {
	d.mu.Lock()
	for _, i := range idxs {
		d.free[i] = true
	}
	d.mu.Unlock()
	d.freeSem.Release(3)
}

// Rw performs a synchronous read (write=false) or write (write=true) of
// one BSIZE block, blocking until the device completes it
// (spec.md 4.3's disk_rw contract).
func (d *Disk) Rw(blockno int, buf []byte, write bool) defs.Err_t {
	if len(buf) != BSIZE {
		panic("virtio: buffer must be exactly one block")
	}
	idxs, err := d.allocDescs(context.Background())
	if err != nil {
		panic("virtio: descriptor allocation canceled")
	}
	head, data, status := idxs[0], idxs[1], idxs[2]

	reqType := uint32(blkTypeIn)
	if write {
		reqType = blkTypeOut
	}
	_ = reqType // header contents are implicit in this hosted model; see submit()

	statusByte := byte(0xff)
	done := make(chan defs.Err_t, 1)
	d.mu.Lock()
	d.desc[head] = desc{flags: vringDescNext, next: uint16(data)}
	dataFlags := uint16(0)
	if !write {
		// device writes into the data buffer on a read -- opposite of the
		// request direction, per spec.md 4.3.
		dataFlags = vringDescWrite | vringDescNext
	} else {
		dataFlags = vringDescNext
	}
	d.desc[data] = desc{flags: dataFlags, next: uint16(status)}
	d.desc[status] = desc{flags: vringDescWrite}
	d.info[head] = &inflight{buf: buf, status: &statusByte, done: done, write: write}

	d.availRing[d.availIdx%NUM] = uint16(head)
	// barrier; increment avail.idx; barrier (spec.md 4.3's submission
	// ordering). Go's memory model makes the mutex itself the barrier here.
	d.availIdx++
	d.mu.Unlock()

	d.submit(head, blockno, buf, write, &statusByte)

	status_ := <-done
	d.freeDescs(idxs)
	return status_
}

// submit is the simulated device: it performs the actual pread/pwrite
// against the backing file, then raises a completion "interrupt" by
// calling Intr directly, the way a real device's completion would be
// delivered through the PLIC to trap.Devintr.
func (d *Disk) submit(head, blockno int, buf []byte, write bool, statusByte *byte) {
	off := int64(blockno) * BSIZE
	var ioerr error
	if write {
		_, ioerr = d.file.WriteAt(buf, off)
	} else {
		_, ioerr = d.file.ReadAt(buf, off)
	}
	if ioerr != nil {
		*statusByte = 1 // nonzero status is fatal per spec.md 4.3/7
	} else {
		*statusByte = 0
	}
	d.mu.Lock()
	slot := d.devUsedIdx % NUM
	d.usedRing[slot] = struct {
		id  uint32
		len uint32
	}{id: uint32(head), len: BSIZE}
	d.devUsedIdx++
	d.mu.Unlock()

	d.Intr()
}

// Intr processes completed requests from the used ring
// (spec.md 4.3's disk_intr): while used_idx != used.idx, read the next
// completed head id, check status, clear buf.disk, wake the waiter,
// advance used_idx.
func (d *Disk) Intr() {
	for {
		d.mu.Lock()
		if d.usedIdx == d.devUsedIdx {
			d.mu.Unlock()
			return
		}
		ent := d.usedRing[d.usedIdx%NUM]
		d.usedIdx++
		info, ok := d.info[int(ent.id)]
		if ok {
			delete(d.info, int(ent.id))
		}
		d.mu.Unlock()

		if !ok {
			continue
		}
		if *info.status != 0 {
			// I/O error with nonzero status is fatal, no retry path
			// (spec.md 4.3/7).
			panic(fmt.Sprintf("virtio: disk returned status %d", *info.status))
		}
		info.done <- 0
	}
}

// Sync flushes the backing file, standing in for BDEV_FLUSH.
func (d *Disk) Sync() error {
	return unix.Fdatasync(int(d.file.Fd()))
}
