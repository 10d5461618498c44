package bio

import (
	"sync"
	"testing"

	"github.com/symbol23441/unix-xv6/internal/defs"
)

// memDisk is a fake backing store, enough to exercise the cache without
// touching a real file.
type memDisk struct {
	mu     sync.Mutex
	blocks map[int][BSIZE]byte
	reads  int
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int][BSIZE]byte)} }

func (d *memDisk) Rw(blockno int, buf []byte, write bool) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if write {
		var b [BSIZE]byte
		copy(b[:], buf)
		d.blocks[blockno] = b
	} else {
		d.reads++
		b := d.blocks[blockno]
		copy(buf, b[:])
	}
	return 0
}

func TestBreadCachesAndBwritePersists(t *testing.T) {
	disk := newMemDisk()
	c := NewCache(disk, 4)

	b := c.Bread(1, 5)
	copy(b.Data[:], []byte("hello"))
	c.Bwrite(b)
	c.Brelse(b)

	if disk.reads != 1 {
		t.Fatalf("expected exactly one disk read for a fresh block, got %d", disk.reads)
	}

	b2 := c.Bread(1, 5)
	if string(b2.Data[:5]) != "hello" {
		t.Fatalf("read back %q, want hello", b2.Data[:5])
	}
	c.Brelse(b2)
	if disk.reads != 1 {
		t.Fatalf("second Bread for the same block should hit the cache, reads=%d", disk.reads)
	}
}

func TestEvictionReclaimsUnpinnedBuffer(t *testing.T) {
	disk := newMemDisk()
	c := NewCache(disk, 2) // force eviction on the third distinct block

	for i, bn := range []int{10, 11, 12} {
		b := c.Bread(1, bn)
		c.Tick()
		c.Brelse(b)
		_ = i
	}
	// All three blocks must still be independently readable -- the cache
	// just can't hold more than 2 at once without re-reading from disk.
	for _, bn := range []int{10, 11, 12} {
		b := c.Bread(1, bn)
		c.Brelse(b)
	}
}

func TestPinnedBufferSurvivesEviction(t *testing.T) {
	disk := newMemDisk()
	c := NewCache(disk, 1)

	pinned := c.Bread(1, 1)
	c.Bpin(pinned)
	c.Brelse(pinned)

	// With NBUF=1 and the only buffer pinned, a second distinct block must
	// not be able to evict it.
	defer func() {
		if recover() == nil {
			t.Fatal("expected scanLRUVictim to refuse eviction of a pinned-only cache")
		}
	}()
	c.Bread(1, 2)
}

func TestBucketLenReflectsCollisions(t *testing.T) {
	disk := newMemDisk()
	c := NewCache(disk, NBUCKETS*2)
	// Two block numbers that hash to the same bucket by construction.
	a, b := 0, NBUCKETS
	if hash(1, a) != hash(1, b) {
		t.Fatalf("test fixture assumption broken: %d and %d don't collide", a, b)
	}
	ba := c.Bread(1, a)
	c.Brelse(ba)
	bb := c.Bread(1, b)
	c.Brelse(bb)
	if n := c.BucketLen(hash(1, a)); n < 2 {
		t.Fatalf("bucket length = %d, want >= 2 after two colliding blocks", n)
	}
}
