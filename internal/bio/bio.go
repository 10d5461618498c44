// Package bio implements the buffer cache: a hash-sharded, LRU,
// refcounted cache of disk blocks with a global eviction protocol
// (spec.md 4.4). Grounded on biscuit's fs/blk.go (Bdev_block_t's
// sleep-lock-protected data, refcnt, and Disk_i indirection) and
// hashtable/hashtable.go (per-bucket locking, intrusive chains) for the
// bucket-sharded structure; the eviction-lock/rescan protocol follows
// spec.md 4.4 and original_source/kernel/bio.c's bget.
package bio

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/virtio"
)

const BSIZE = virtio.BSIZE

// NBUCKETS is prime, as spec.md 4.4 recommends, to spread hashed
// (dev, blockno) keys evenly.
const NBUCKETS = 13

// Disk is the subset of the virtio driver the cache needs.
type Disk interface {
	Rw(blockno int, buf []byte, write bool) defs.Err_t
}

// Buf is one cached disk block. The embedded sleep-lock (here a plain
// sync.Mutex, since this hosted kernel has no separate "long sleep vs.
// spin" distinction at the OS-thread level -- goroutines already park
// cheaply) protects Data; it is held whenever Data is read or mutated,
// per spec.md 3's buffer invariants.
type Buf struct {
	mu sync.Mutex

	dev     int
	blockno int
	valid   bool
	Data    [BSIZE]byte

	// refcnt, lastUsed, and bucket linkage are owned by the bucket lock,
	// not by the per-buffer mutex.
	refcnt   int
	lastUsed uint64
	next     *Buf
}

func (b *Buf) Blockno() int { return b.blockno }

func (b *Buf) Lock()   { b.mu.Lock() }
func (b *Buf) Unlock() { b.mu.Unlock() }

type bucket struct {
	sync.Mutex
	head *Buf
}

// Cache is the process-wide buffer cache singleton.
type Cache struct {
	disk     Disk
	buckets  [NBUCKETS]bucket
	evict    sync.Mutex // global eviction lock, spec.md 4.4
	bufs     []*Buf     // fixed NBUF-sized arena
	freeList []*Buf     // bufs not yet installed anywhere (boot-time only)
	flmu     sync.Mutex

	tickmu sync.Mutex
	tick   uint64
}

// NewCache allocates the fixed NBUF-buffer arena.
func NewCache(disk Disk, nbuf int) *Cache {
	c := &Cache{disk: disk}
	c.bufs = make([]*Buf, nbuf)
	for i := range c.bufs {
		c.bufs[i] = &Buf{}
	}
	c.freeList = append([]*Buf(nil), c.bufs...)
	return c
}

func hash(dev, blockno int) int {
	h := dev*1000003 + blockno
	if h < 0 {
		h = -h
	}
	return h % NBUCKETS
}

// Tick advances the coarse LRU clock. In the real kernel this is driven
// by the timer interrupt (spec.md 4.4: "ticks advances only on clock
// interrupts").
func (c *Cache) Tick() uint64 {
	c.tickmu.Lock()
	c.tick++
	t := c.tick
	c.tickmu.Unlock()
	return t
}

func (c *Cache) curTick() uint64 {
	c.tickmu.Lock()
	t := c.tick
	c.tickmu.Unlock()
	return t
}

// popFree pulls one never-yet-installed buffer from the boot-time free
// list, used the first NBUF times bget misses so the cache fills up
// before eviction is ever needed.
func (c *Cache) popFree() *Buf {
	c.flmu.Lock()
	defer c.flmu.Unlock()
	if len(c.freeList) == 0 {
		return nil
	}
	b := c.freeList[len(c.freeList)-1]
	c.freeList = c.freeList[:len(c.freeList)-1]
	return b
}

// unlinkFrom removes b from bucket bk's chain (caller holds bk's lock).
func unlinkFrom(bk *bucket, b *Buf) {
	if bk.head == b {
		bk.head = b.next
		return
	}
	for p := bk.head; p != nil; p = p.next {
		if p.next == b {
			p.next = b.next
			return
		}
	}
	panic("bio: buffer not found in its own bucket")
}

// Bread returns a locked buffer whose data reflects (dev, blockno),
// reading from disk on a miss (spec.md 4.4's bread contract).
func (c *Cache) Bread(dev, blockno int) *Buf {
	b := c.bget(dev, blockno)
	if !b.valid {
		if err := c.disk.Rw(blockno, b.Data[:], false); err != 0 {
			panic("bio: disk read failed")
		}
		b.valid = true
	}
	return b
}

// bget implements the hit/miss/evict protocol of spec.md 4.4.
func (c *Cache) bget(dev, blockno int) *Buf {
	bkidx := hash(dev, blockno)
	bk := &c.buckets[bkidx]

	bk.Lock()
	if b := findIn(bk, dev, blockno); b != nil {
		b.refcnt++
		bk.Unlock()
		b.Lock()
		return b
	}
	bk.Unlock()

	// Miss: serialize the whole cache against concurrent eviction, then
	// rescan under the bucket lock in case another goroutine installed
	// the block while we waited for the eviction lock.
	c.evict.Lock()
	bk.Lock()
	if b := findIn(bk, dev, blockno); b != nil {
		b.refcnt++
		bk.Unlock()
		c.evict.Unlock()
		b.Lock()
		return b
	}
	bk.Unlock()

	var victim *Buf
	var victimBucket *bucket
	fromFreeList := false
	if b := c.popFree(); b != nil {
		victim = b
		victimBucket = bk // not yet installed anywhere; treat target bucket as home
		fromFreeList = true
	} else {
		// scanLRUVictim returns with victimBucket's lock already held.
		victim, victimBucket = c.scanLRUVictim()
	}

	switch {
	case fromFreeList:
		// Never installed anywhere, so no bucket lock is held yet.
		bk.Lock()
	case victimBucket != bk:
		// sync.Mutex isn't reentrant: victimBucket is already locked by
		// scanLRUVictim, so unlink under that lock, release it, then take
		// the target bucket's lock.
		unlinkFrom(victimBucket, victim)
		victimBucket.Unlock()
		bk.Lock()
	default:
		// victim's home bucket is also the target bucket, and
		// scanLRUVictim already holds its lock -- unlink in place without
		// locking again.
		unlinkFrom(bk, victim)
	}
	victim.dev = dev
	victim.blockno = blockno
	victim.valid = false
	victim.refcnt = 1
	victim.next = bk.head
	bk.head = victim
	bk.Unlock()
	c.evict.Unlock()

	victim.Lock()
	return victim
}

func findIn(bk *bucket, dev, blockno int) *Buf {
	for b := bk.head; b != nil; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			return b
		}
	}
	return nil
}

// scanLRUVictim scans every bucket for the refcnt==0 buffer with the
// smallest lastUsed timestamp, holding only its owning bucket's lock by
// the time it returns (spec.md 4.4: "keeping that owning bucket's lock
// held after the scan (all others released as the candidate changes)").
func (c *Cache) scanLRUVictim() (*Buf, *bucket) {
	var best *Buf
	var bestBucket *bucket
	var bestTime uint64
	for i := range c.buckets {
		bk := &c.buckets[i]
		bk.Lock()
		for b := bk.head; b != nil; b = b.next {
			if b.refcnt != 0 {
				continue
			}
			if best == nil || b.lastUsed < bestTime {
				if bestBucket != nil && bestBucket != bk {
					bestBucket.Unlock()
				}
				best = b
				bestBucket = bk
				bestTime = b.lastUsed
			}
		}
		if bestBucket != bk {
			bk.Unlock()
		}
	}
	if best == nil {
		panic("bio: no buffer available for eviction (NBUF exhausted by pinned buffers)")
	}
	return best, bestBucket
}

// Bwrite writes a locked buffer's data to disk (spec.md 4.4's bwrite).
func (c *Cache) Bwrite(b *Buf) {
	if err := c.disk.Rw(b.blockno, b.Data[:], true); err != 0 {
		panic("bio: disk write failed")
	}
}

// Brelse unlocks b and decrements its refcount, stamping the LRU clock
// when the count reaches zero (spec.md 4.4's brelse).
func (c *Cache) Brelse(b *Buf) {
	b.Unlock()
	bk := &c.buckets[hash(b.dev, b.blockno)]
	bk.Lock()
	b.refcnt--
	if b.refcnt < 0 {
		panic("bio: refcnt underflow")
	}
	if b.refcnt == 0 {
		b.lastUsed = c.curTick()
	}
	bk.Unlock()
}

// Bpin/Bunpin adjust refcount without (un)locking, used by the log to
// keep dirty buffers resident across commits (spec.md 4.4/4.5).
func (c *Cache) Bpin(b *Buf) {
	bk := &c.buckets[hash(b.dev, b.blockno)]
	bk.Lock()
	b.refcnt++
	bk.Unlock()
}

func (c *Cache) Bunpin(b *Buf) {
	bk := &c.buckets[hash(b.dev, b.blockno)]
	bk.Lock()
	b.refcnt--
	if b.refcnt == 0 {
		b.lastUsed = c.curTick()
	}
	bk.Unlock()
}

// BucketLen reports how many buffers currently chain through bucket i,
// used by the hash-collision-under-contention property test
// (spec.md 8 scenario 2).
func (c *Cache) BucketLen(i int) int {
	bk := &c.buckets[i%NBUCKETS]
	bk.Lock()
	defer bk.Unlock()
	n := 0
	for b := bk.head; b != nil; b = b.next {
		n++
	}
	return n
}
