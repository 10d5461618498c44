// Package logfs implements the write-ahead log that makes multi-block
// filesystem updates crash-consistent (spec.md 4.5). There is no teacher
// source for this component directly (biscuit's fs.Fs_t internals were
// not included in the retrieval pack), so this is grounded on
// original_source/kernel/fs.c's log.c-equivalent functions
// (begin_op/log_write/end_op/commit/recover, install_trans,
// write_head/read_head) combined with the bucket-lock-before-condition
// idiom used throughout the rest of the teacher pack (bio.Cache,
// proc/sched) for its own mutex+condition pairing.
package logfs

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/bio"
)

// MAXOPBLOCKS bounds how many distinct blocks one transaction may touch,
// matching the original's LOGSIZE-driven cap.
const MAXOPBLOCKS = 10

// Log is the process-wide journal singleton for one filesystem.
type Log struct {
	mu  sync.Mutex
	cnd *sync.Cond

	dev        int
	start      int // first block of the log region
	size       int // blocks in the log region (header + data)
	outstanding int
	committing bool
	blocks     []int // block numbers enlisted this transaction (absorbing dups)

	cache *bio.Cache
}

// New wires a Log onto an already-open buffer cache for the log region
// [start, start+size) on dev.
func New(cache *bio.Cache, dev, start, size int) *Log {
	l := &Log{dev: dev, start: start, size: size, cache: cache}
	l.cnd = sync.NewCond(&l.mu)
	return l
}

// The header lives in log block 0 (l.start): {n, block[n]}.
const maxLogBlocks = 200 // generous upper bound on (size-1); real n <= MAXOPBLOCKS*avg-ops-in-flight

// readHead loads the on-disk log header into (n, blocks).
func (l *Log) readHead() (int, []int) {
	b := l.cache.Bread(l.dev, l.start)
	defer l.cache.Brelse(b)
	n := int(le32(b.Data[0:4]))
	blocks := make([]int, n)
	for i := 0; i < n; i++ {
		blocks[i] = int(le32(b.Data[4+4*i:]))
	}
	return n, blocks
}

// writeHead persists the current transaction's block list as the
// header -- this is the single atomic commit point: a header with n>0
// that survives a crash means those blocks must later be installed
// (spec.md 4.5's log-record invariant).
func (l *Log) writeHead() {
	b := l.cache.Bread(l.dev, l.start)
	putle32(b.Data[0:4], uint32(len(l.blocks)))
	for i, bn := range l.blocks {
		putle32(b.Data[4+4*i:], uint32(bn))
	}
	l.cache.Bwrite(b)
	l.cache.Brelse(b)
}

func (l *Log) clearHead() {
	b := l.cache.Bread(l.dev, l.start)
	putle32(b.Data[0:4], 0)
	l.cache.Bwrite(b)
	l.cache.Brelse(b)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putle32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Recover replays a crashed-mid-commit transaction at boot, per
// spec.md 4.5: "Recovery on boot reads the header and, if count>0,
// installs then clears".
func (l *Log) Recover() {
	n, blocks := l.readHead()
	if n == 0 {
		return
	}
	l.installTrans(blocks)
	l.clearHead()
}

func (l *Log) installTrans(blocks []int) {
	for i, home := range blocks {
		logBlk := l.cache.Bread(l.dev, l.start+1+i)
		homeBlk := l.cache.Bread(l.dev, home)
		homeBlk.Data = logBlk.Data
		l.cache.Bwrite(homeBlk)
		l.cache.Brelse(homeBlk)
		l.cache.Brelse(logBlk)
	}
}

// BeginOp reserves capacity for up to MAXOPBLOCKS writes, blocking while
// a commit is in progress or while too many concurrent ops are already
// outstanding to safely fit within the log's fixed size
// (spec.md 4.5's begin_op contract).
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.committing {
			l.cnd.Wait()
			continue
		}
		if (l.outstanding+1)*MAXOPBLOCKS > l.size-1 {
			l.cnd.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// LogWrite enlists b for commit, absorbing duplicates ("same blockno =>
// single slot", spec.md 4.5) and pinning b so the cache cannot evict a
// dirty buffer out from under an open transaction.
func (l *Log) LogWrite(b *bio.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, bn := range l.blocks {
		if bn == b.Blockno() {
			return // already enlisted this transaction
		}
	}
	if len(l.blocks) >= l.size-1 {
		panic("logfs: transaction too big for log")
	}
	l.blocks = append(l.blocks, b.Blockno())
	l.cache.Bpin(b)
}

// EndOp decrements the outstanding-op count and commits once no op
// remains (spec.md 4.5's end_op contract).
func (l *Log) EndOp() {
	l.mu.Lock()
	l.outstanding--
	doCommit := false
	if l.committing {
		panic("logfs: committing flag set while op still outstanding")
	}
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// wake begin_op waiters now that there's one fewer outstanding op
		l.cnd.Broadcast()
	}
	blocks := append([]int(nil), l.blocks...)
	l.mu.Unlock()

	if doCommit {
		if len(blocks) > 0 {
			l.commit(blocks)
		}
		l.mu.Lock()
		l.committing = false
		l.blocks = nil
		l.cnd.Broadcast()
		l.mu.Unlock()
	}
}

// commit runs the four-step protocol of spec.md 4.5: (1) write each
// enlisted buffer's data to its log slot; (2) write the header;
// (3) install each log block into its home location; (4) clear the
// header. Dirty buffers are unpinned once installed.
func (l *Log) commit(blocks []int) {
	for i, bn := range blocks {
		src := l.cache.Bread(l.dev, bn)
		dst := l.cache.Bread(l.dev, l.start+1+i)
		dst.Data = src.Data
		l.cache.Bwrite(dst)
		l.cache.Brelse(dst)
		l.cache.Brelse(src)
	}
	l.blocks = blocks // writeHead reads l.blocks
	l.writeHead()
	l.installTrans(blocks)
	l.clearHead()

	for _, bn := range blocks {
		b := l.cache.Bread(l.dev, bn)
		l.cache.Bunpin(b)
		l.cache.Brelse(b)
	}
}
