package fs

import (
	"github.com/symbol23441/unix-xv6/internal/defs"
)

// DIRSIZ/dirent layout matches original_source/kernel/fs.h: {inum uint16,
// name[14]byte}, 16 bytes total (spec.md 6).
const (
	DIRSIZ     = 14
	direntSize = 16
)

type dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

func decodeDirent(b []byte) dirent {
	var d dirent
	d.Inum = le16(b[0:])
	copy(d.Name[:], b[2:2+DIRSIZ])
	return d
}

func (d *dirent) encode(b []byte) {
	putle16(b[0:], d.Inum)
	copy(b[2:2+DIRSIZ], d.Name[:])
}

func direntName(d *dirent) string {
	n := 0
	for n < DIRSIZ && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

func mkName(name string) [DIRSIZ]byte {
	if len(name) > DIRSIZ {
		panic("fs: name too long for a directory entry")
	}
	var out [DIRSIZ]byte
	copy(out[:], name)
	return out
}

// Dirlookup scans dp's entries for name and returns the referenced inode
// (unlocked, spec.md 4.7: "returns the referenced inode via iget
// (unlocked)") plus the byte offset of the matching entry.
func (f *Fs) Dirlookup(dp *Inode, name string) (*Inode, int, defs.Err_t) {
	if dp.Type != defs.T_DIR {
		panic("fs: dirlookup on non-directory")
	}
	var d dirent
	var buf [direntSize]byte
	for off := 0; off < int(dp.Size); off += direntSize {
		n, err := f.Readi(dp, nil, 0, buf[:], off, direntSize)
		if err != 0 || n != direntSize {
			return nil, 0, -defs.EIO
		}
		d = decodeDirent(buf[:])
		if d.Inum == 0 {
			continue
		}
		if direntName(&d) == name {
			return f.Iget(int(d.Inum)), off, 0
		}
	}
	return nil, 0, -defs.ENOENT
}

// Dirlink appends (name, inum) to directory dp, reusing an empty slot if
// one exists, and refusing if the name already exists (spec.md 4.7).
func (f *Fs) Dirlink(dp *Inode, name string, inum int) defs.Err_t {
	if existing, _, err := f.Dirlookup(dp, name); err == 0 {
		f.Iput(existing)
		return -defs.EEXIST
	}
	var buf [direntSize]byte
	off := 0
	for ; off < int(dp.Size); off += direntSize {
		n, err := f.Readi(dp, nil, 0, buf[:], off, direntSize)
		if err != 0 || n != direntSize {
			return -defs.EIO
		}
		d := decodeDirent(buf[:])
		if d.Inum == 0 {
			break
		}
	}
	d := dirent{Inum: uint16(inum), Name: mkName(name)}
	d.encode(buf[:])
	n, err := f.Writei(dp, nil, 0, buf[:], off, direntSize)
	if err != 0 || n != direntSize {
		return -defs.EIO
	}
	return 0
}

// Dirempty reports whether dp (a directory) contains only "." and "..".
func (f *Fs) Dirempty(dp *Inode) bool {
	var buf [direntSize]byte
	for off := 2 * direntSize; off < int(dp.Size); off += direntSize {
		n, err := f.Readi(dp, nil, 0, buf[:], off, direntSize)
		if err != 0 || n != direntSize {
			panic("fs: dirempty read failed")
		}
		d := decodeDirent(buf[:])
		if d.Inum != 0 {
			return false
		}
	}
	return true
}
