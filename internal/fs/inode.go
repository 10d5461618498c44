package fs

import (
	"fmt"
	"sync"

	"github.com/symbol23441/unix-xv6/internal/bio"
	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/limits"
	"github.com/symbol23441/unix-xv6/internal/logfs"
	"github.com/symbol23441/unix-xv6/internal/stat"
	"github.com/symbol23441/unix-xv6/internal/util"
	"github.com/symbol23441/unix-xv6/internal/vm"
	"golang.org/x/sync/singleflight"
)

// NDIRECT/NINDIRECT/MAXFILE follow original_source/kernel/fs.h exactly.
const (
	NDIRECT   = 12
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT
	dinodeSize = 64 // short*4 + uint32 + uint32*13, per spec.md 6
	RootIno    = 1
)

// dinode is the packed on-disk inode record (spec.md 3/6).
type dinode struct {
	Type  defs.IType
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func decodeDinode(b []byte) dinode {
	var d dinode
	d.Type = defs.IType(int16(le16(b[0:])))
	d.Major = int16(le16(b[2:]))
	d.Minor = int16(le16(b[4:]))
	d.Nlink = int16(le16(b[6:]))
	d.Size = le32(b[8:])
	for i := range d.Addrs {
		d.Addrs[i] = le32(b[12+4*i:])
	}
	return d
}

func (d *dinode) encode(b []byte) {
	putle16(b[0:], uint16(d.Type))
	putle16(b[2:], uint16(d.Major))
	putle16(b[4:], uint16(d.Minor))
	putle16(b[6:], uint16(d.Nlink))
	putle32(b[8:], d.Size)
	for i, a := range d.Addrs {
		putle32(b[12+4*i:], a)
	}
}

// Inode is the in-memory cached copy of one dinode (spec.md 3).
type Inode struct {
	mu sync.Mutex // the inode's sleep-lock, held while Valid fields are read/mutated

	dev  int
	Inum int
	ref  int // in-memory reference count, owned by the itable lock
	valid bool

	dinode
}

func (ip *Inode) Lock()   { ip.mu.Lock() }
func (ip *Inode) Unlock() { ip.mu.Unlock() }

// Fs is the filesystem singleton: superblock, buffer cache, log, and the
// fixed in-memory inode table (spec.md 4.6: "The 'one inode table' is a
// fixed array").
type Fs struct {
	dev   int
	sb    Superblock
	cache *bio.Cache
	log   *logfs.Log

	itmu  sync.Mutex
	itab  []*Inode
	group singleflight.Group // collapses concurrent first-time iget loads
}

// Open reads the superblock, constructs the log, replays any pending
// transaction, and returns the filesystem singleton.
func Open(cache *bio.Cache, dev int) *Fs {
	b := cache.Bread(dev, superblockBlock)
	sb := decodeSuperblock(b.Data[:])
	cache.Brelse(b)
	if sb.Magic != FSMAGIC {
		panic("fs: bad superblock magic")
	}
	f := &Fs{
		dev:   dev,
		sb:    sb,
		cache: cache,
		itab:  make([]*Inode, limits.Syslimit.Ninode),
	}
	f.log = logfs.New(cache, dev, int(sb.Logstart), int(sb.Nlog))
	f.log.Recover()
	return f
}

func (f *Fs) BeginOp() { f.log.BeginOp() }
func (f *Fs) EndOp()   { f.log.EndOp() }

// --- block allocation (fs.c's balloc/bfree, bitmap scan) ---

func (f *Fs) balloc() (int, defs.Err_t) {
	for b := 0; b < int(f.sb.Size); b += BPB {
		bmb := f.cache.Bread(f.dev, bmapBlockOf(&f.sb, b))
		for bi := 0; bi < BPB && b+bi < int(f.sb.Size); bi++ {
			byteIdx := bi / 8
			mask := byte(1 << (bi % 8))
			if bmb.Data[byteIdx]&mask == 0 {
				bmb.Data[byteIdx] |= mask
				f.log.LogWrite(bmb)
				f.cache.Brelse(bmb)
				blockno := b + bi
				zb := f.cache.Bread(f.dev, blockno)
				for i := range zb.Data {
					zb.Data[i] = 0
				}
				f.log.LogWrite(zb)
				f.cache.Brelse(zb)
				return blockno, 0
			}
		}
		f.cache.Brelse(bmb)
	}
	return 0, -defs.ENOSPC
}

func (f *Fs) bfree(blockno int) {
	bmb := f.cache.Bread(f.dev, bmapBlockOf(&f.sb, blockno))
	bi := blockno % BPB
	byteIdx := bi / 8
	mask := byte(1 << (bi % 8))
	if bmb.Data[byteIdx]&mask == 0 {
		panic("fs: freeing already-free block")
	}
	bmb.Data[byteIdx] &^= mask
	f.log.LogWrite(bmb)
	f.cache.Brelse(bmb)
}

// --- inode table (spec.md 4.6) ---

// Ialloc finds a free dinode slot of the given type on disk, marks it
// used, and returns an in-memory handle (ref=1, not yet locked).
func (f *Fs) Ialloc(ftype defs.IType) (*Inode, defs.Err_t) {
	for inum := RootIno; inum < int(f.sb.Ninodes); inum++ {
		b := f.cache.Bread(f.dev, iblockOf(&f.sb, inum))
		off := (inum % IPB) * dinodeSize
		d := decodeDinode(b.Data[off : off+dinodeSize])
		if d.Type == defs.T_FREE {
			d = dinode{Type: ftype, Nlink: 1}
			d.encode(b.Data[off : off+dinodeSize])
			f.log.LogWrite(b)
			f.cache.Brelse(b)
			return f.Iget(inum), 0
		}
		f.cache.Brelse(b)
	}
	return nil, -defs.ENOSPC
}

// Iget finds or allocates the in-memory table slot for (dev, inum),
// bumping its ref count (spec.md 4.6's iget contract).
func (f *Fs) Iget(inum int) *Inode {
	f.itmu.Lock()
	defer f.itmu.Unlock()

	freeSlot := -1
	for i, ip := range f.itab {
		if ip != nil && ip.ref > 0 && ip.dev == f.dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if freeSlot == -1 && (ip == nil || ip.ref == 0) {
			freeSlot = i
		}
	}
	if freeSlot == -1 {
		panic("fs: inode table exhausted")
	}
	ip := &Inode{dev: f.dev, Inum: inum, ref: 1}
	f.itab[freeSlot] = ip
	return ip
}

// Idup increments ip's in-memory reference count.
func (f *Fs) Idup(ip *Inode) *Inode {
	f.itmu.Lock()
	ip.ref++
	f.itmu.Unlock()
	return ip
}

// Ilock acquires ip's sleep-lock and, on first use, materializes its
// fields from disk (spec.md 4.6: "valid is established by locking and
// reading from disk on first use"). Concurrent first-loads of the same
// inode are collapsed via singleflight so only one goroutine issues the
// bread.
func (f *Fs) Ilock(ip *Inode) {
	ip.Lock()
	if ip.valid {
		return
	}
	key := fmt.Sprintf("%d:%d", ip.dev, ip.Inum)
	_, _, _ = f.group.Do(key, func() (interface{}, error) {
		b := f.cache.Bread(ip.dev, iblockOf(&f.sb, ip.Inum))
		off := (ip.Inum % IPB) * dinodeSize
		ip.dinode = decodeDinode(b.Data[off : off+dinodeSize])
		f.cache.Brelse(b)
		ip.valid = true
		return nil, nil
	})
}

// Iunlock releases ip's sleep-lock.
func (f *Fs) Iunlock(ip *Inode) {
	ip.Unlock()
}

// Iput drops one in-memory reference. If it was the last reference and
// the on-disk link count is zero, the inode's data and dinode slot are
// released -- inside the caller's already-open transaction, per
// spec.md 4.6: "all Iput calls must occur inside a log transaction".
func (f *Fs) Iput(ip *Inode) {
	f.itmu.Lock()
	if ip.ref == 1 && ip.valid && ip.Nlink == 0 {
		f.itmu.Unlock()
		ip.Lock()
		f.itrunc(ip)
		ip.Type = defs.T_FREE
		f.iupdateLocked(ip)
		ip.valid = false
		ip.Unlock()
		f.itmu.Lock()
	}
	ip.ref--
	f.itmu.Unlock()
}

// Iupdate flushes ip's in-memory fields to its on-disk dinode via the log
// (caller must hold ip's lock).
func (f *Fs) Iupdate(ip *Inode) {
	f.iupdateLocked(ip)
}

func (f *Fs) iupdateLocked(ip *Inode) {
	b := f.cache.Bread(ip.dev, iblockOf(&f.sb, ip.Inum))
	off := (ip.Inum % IPB) * dinodeSize
	ip.dinode.encode(b.Data[off : off+dinodeSize])
	f.log.LogWrite(b)
	f.cache.Brelse(b)
}

// Stat fills st from ip's cached fields (caller must hold ip's lock).
func (f *Fs) Stat(ip *Inode, st *stat.Stat_t) {
	st.Wdev(uint(ip.dev))
	st.Wino(uint(ip.Inum))
	st.Wmode(uint(ip.Type))
	st.Wnlink(uint(ip.Nlink))
	st.Wsize(uint(ip.Size))
}

// --- block mapping (spec.md 4.6's bmap) ---

// bmap returns the disk block number holding the bn'th block of ip's
// data, allocating (and logging) it on demand.
func (f *Fs) bmap(ip *Inode, bn int) (int, defs.Err_t) {
	if bn < NDIRECT {
		if ip.Addrs[bn] == 0 {
			bno, err := f.balloc()
			if err != 0 {
				return 0, err
			}
			ip.Addrs[bn] = uint32(bno)
		}
		return int(ip.Addrs[bn]), 0
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		panic("fs: block index out of range")
	}
	if ip.Addrs[NDIRECT] == 0 {
		bno, err := f.balloc()
		if err != 0 {
			return 0, err
		}
		ip.Addrs[NDIRECT] = uint32(bno)
	}
	ib := f.cache.Bread(ip.dev, int(ip.Addrs[NDIRECT]))
	addr := le32(ib.Data[4*bn:])
	if addr == 0 {
		bno, err := f.balloc()
		if err != 0 {
			f.cache.Brelse(ib)
			return 0, err
		}
		putle32(ib.Data[4*bn:], uint32(bno))
		f.log.LogWrite(ib)
		addr = uint32(bno)
	}
	f.cache.Brelse(ib)
	return int(addr), 0
}

// itrunc frees all data blocks belonging to ip (spec.md 4.6's itrunc).
func (f *Fs) itrunc(ip *Inode) {
	for i := 0; i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			f.bfree(int(ip.Addrs[i]))
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDIRECT] != 0 {
		ib := f.cache.Bread(ip.dev, int(ip.Addrs[NDIRECT]))
		for i := 0; i < NINDIRECT; i++ {
			a := le32(ib.Data[4*i:])
			if a != 0 {
				f.bfree(int(a))
			}
		}
		f.cache.Brelse(ib)
		f.bfree(int(ip.Addrs[NDIRECT]))
		ip.Addrs[NDIRECT] = 0
	}
	ip.Size = 0
	f.iupdateLocked(ip)
}

// Readi reads n bytes starting at off into either a user address space
// (if as != nil) or dst (spec.md 4.6's readi; the user/kernel destination
// switch is made inline rather than through vm.CopyEither).
func (f *Fs) Readi(ip *Inode, as *vm.AS, uva uintptr, dst []byte, off int, n int) (int, defs.Err_t) {
	if off < 0 || uint32(off) > ip.Size || off+n < off {
		return 0, -defs.EINVAL
	}
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	total := 0
	for total < n {
		bn, err := f.bmap(ip, off/BSIZE)
		if err != 0 {
			return total, err
		}
		b := f.cache.Bread(ip.dev, bn)
		boff := off % BSIZE
		m := util.Min(n-total, BSIZE-boff)
		var cerr defs.Err_t
		if as != nil {
			cerr = as.CopyOut(uva, b.Data[boff:boff+m])
		} else {
			copy(dst[total:total+m], b.Data[boff:boff+m])
		}
		f.cache.Brelse(b)
		if cerr != 0 {
			return total, cerr
		}
		total += m
		off += m
		uva += uintptr(m)
	}
	return total, 0
}

// Writei writes n bytes starting at off from either a user address space
// or src, extending ip.Size and logging an Iupdate whenever bmap may have
// allocated (spec.md 4.6's writei).
func (f *Fs) Writei(ip *Inode, as *vm.AS, uva uintptr, src []byte, off int, n int) (int, defs.Err_t) {
	if off < 0 || off+n < off {
		return 0, -defs.EINVAL
	}
	if off+n > MAXFILE*BSIZE {
		return 0, -defs.EINVAL
	}
	total := 0
	for total < n {
		bn, err := f.bmap(ip, off/BSIZE)
		if err != 0 {
			break
		}
		b := f.cache.Bread(ip.dev, bn)
		boff := off % BSIZE
		m := util.Min(n-total, BSIZE-boff)
		var cerr defs.Err_t
		if as != nil {
			cerr = as.CopyIn(b.Data[boff:boff+m], uva)
		} else {
			copy(b.Data[boff:boff+m], src[total:total+m])
		}
		if cerr == 0 {
			f.log.LogWrite(b)
		}
		f.cache.Brelse(b)
		if cerr != 0 {
			return total, cerr
		}
		total += m
		off += m
		uva += uintptr(m)
	}
	if off > int(ip.Size) {
		ip.Size = uint32(off)
	}
	f.iupdateLocked(ip)
	return total, 0
}
