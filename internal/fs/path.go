package fs

import (
	"strings"

	"github.com/symbol23441/unix-xv6/internal/defs"
)

// skipElem strips leading slashes and extracts one path element, mirroring
// original_source/kernel/fs.c's skipelem. It handles arbitrarily repeated
// slashes so "////a//bb///c" resolves identically to "/a/bb/c"
// (spec.md 8 scenario 8).
func skipElem(path string) (elem, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	elem = path[:i]
	rest = path[i+1:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest
}

// Namex resolves path to an inode, starting at root if path is absolute
// or at cwd otherwise. If nameiparent is true, resolution stops one
// element early and returns the parent directory plus the final
// component's name (spec.md 4.7's "parent variant"). Must run inside a
// log transaction because Iget/Iput may free an inode.
func (f *Fs) Namex(path string, cwd *Inode, nameiparent bool) (*Inode, string, defs.Err_t) {
	var ip *Inode
	if len(path) > 0 && path[0] == '/' {
		ip = f.Iget(RootIno)
	} else {
		ip = f.Idup(cwd)
	}

	var elem, rest string
	elem, rest = skipElem(path)
	for elem != "" {
		f.Ilock(ip)
		if ip.Type != defs.T_DIR {
			f.Iunlock(ip)
			f.Iput(ip)
			return nil, "", -defs.ENOTDIR
		}
		if nameiparent && rest == "" {
			// stop one element early: ip is the parent, elem is the
			// final component, returned by value.
			f.Iunlock(ip)
			return ip, elem, 0
		}
		next, _, err := f.Dirlookup(ip, elem)
		f.Iunlock(ip)
		if err != 0 {
			f.Iput(ip)
			return nil, "", -defs.ENOENT
		}
		f.Iput(ip)
		ip = next
		elem, rest = skipElem(rest)
	}
	if nameiparent {
		// path had no elements left to resolve a parent for (e.g. "/" itself).
		f.Iput(ip)
		return nil, "", -defs.ENOENT
	}
	return ip, "", 0
}

// Namei resolves path to its target inode (unlocked).
func (f *Fs) Namei(path string, cwd *Inode) (*Inode, defs.Err_t) {
	return onlyInode(f.Namex(path, cwd, false))
}

// NameiParent resolves path's parent directory and returns it alongside
// the final path component's name.
func (f *Fs) NameiParent(path string, cwd *Inode) (*Inode, string, defs.Err_t) {
	return f.Namex(path, cwd, true)
}

func onlyInode(ip *Inode, _ string, err defs.Err_t) (*Inode, defs.Err_t) {
	return ip, err
}
