package proc

import (
	"sync"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// FileKind distinguishes an open file's backing object (spec.md 4.8's
// open-file table entries), mirrored on original_source/kernel/file.h's
// FD_NONE/FD_PIPE/FD_INODE/FD_DEVICE.
type FileKind int

const (
	FDNone FileKind = iota
	FDInode
	FDPipe
)

// File is one open-file-table entry, shared (via refcount) between every
// fd that dup or fork produced it.
type File struct {
	mu       sync.Mutex
	kind     FileKind
	ref      int
	readable bool
	writable bool
	off      int

	fsys *fs.Fs
	ip   *fs.Inode
	pipe *Pipe
}

// NewInodeFile wraps ip (already Iget'd, unlocked) as an open file,
// ref count 1.
func NewInodeFile(fsys *fs.Fs, ip *fs.Inode, readable, writable bool) *File {
	return &File{kind: FDInode, ref: 1, fsys: fsys, ip: ip, readable: readable, writable: writable}
}

func NewPipeFile(p *Pipe, writable bool) *File {
	return &File{kind: FDPipe, ref: 1, pipe: p, readable: !writable, writable: writable}
}

func (f *File) dup() *File {
	f.mu.Lock()
	f.ref++
	f.mu.Unlock()
	return f
}

// Close drops one reference, releasing the backing inode or pipe end
// when the last reference goes away (spec.md 4.8: fork/dup share one
// File via refcount, each close/exit drops one).
func (f *File) Close(fsys *fs.Fs) {
	f.mu.Lock()
	f.ref--
	last := f.ref == 0
	f.mu.Unlock()
	if !last {
		return
	}
	switch f.kind {
	case FDInode:
		fsys.BeginOp()
		fsys.Iput(f.ip)
		fsys.EndOp()
	case FDPipe:
		f.pipe.closeEnd(f.writable)
	}
}

// Read dispatches to the inode or pipe read path (spec.md 4.8/4.9's
// fileread).
func (f *File) Read(p *Proc, as *vm.AS, uva uintptr, dst []byte, n int) (int, defs.Err_t) {
	if !f.readable {
		return 0, -defs.EACCES
	}
	if f.kind == FDPipe {
		return f.pipe.Read(p, as, uva, dst, n)
	}
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	f.ip.Lock()
	got, err := f.fsys.Readi(f.ip, as, uva, dst, off, n)
	f.ip.Unlock()
	if err == 0 {
		f.mu.Lock()
		f.off += got
		f.mu.Unlock()
	}
	return got, err
}

// Write dispatches to the inode or pipe write path (spec.md 4.8/4.9's
// filewrite), running the inode write inside a log transaction since
// Writei may call bmap -> balloc -> LogWrite.
func (f *File) Write(p *Proc, as *vm.AS, uva uintptr, src []byte, n int) (int, defs.Err_t) {
	if !f.writable {
		return 0, -defs.EACCES
	}
	if f.kind == FDPipe {
		return f.pipe.Write(p, as, uva, src, n)
	}
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	f.fsys.BeginOp()
	f.ip.Lock()
	got, err := f.fsys.Writei(f.ip, as, uva, src, off, n)
	f.ip.Unlock()
	f.fsys.EndOp()
	if err == 0 {
		f.mu.Lock()
		f.off += got
		f.mu.Unlock()
	}
	return got, err
}
