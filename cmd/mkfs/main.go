// Command mkfs formats a disk image with the on-disk layout spec.md §3/§6
// describe (superblock, log region, inode region, bitmap, data) and
// optionally copies a host directory tree into it, the way
// biscuit/src/mkfs/mkfs.go builds a bootable image from a bootloader,
// kernel, and skeleton directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/symbol23441/unix-xv6/internal/bio"
	"github.com/symbol23441/unix-xv6/internal/defs"
	xvfs "github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/virtio"
)

const imageDev = 1

func main() {
	var (
		out     = flag.String("out", "fs.img", "output disk image path")
		nblocks = flag.Int("nblocks", 1000, "total blocks in the image")
		ninode  = flag.Int("ninode", 200, "number of on-disk inodes")
		nlog    = flag.Int("nlog", 30, "blocks reserved for the write-ahead log")
		skel    = flag.String("skel", "", "host directory tree to copy into the image root")
	)
	flag.Parse()

	disk, err := virtio.Open(*out, *nblocks)
	if err != nil {
		log.Fatalf("mkfs: %v", err)
	}
	defer disk.Close()

	cache := bio.NewCache(disk, 64)
	format(cache, *nblocks, *ninode, *nlog)

	f := xvfs.Open(cache, imageDev)
	f.BeginOp()
	root, err2 := f.Ialloc(defs.T_DIR)
	if err2 != 0 {
		log.Fatalf("mkfs: allocating root inode: %v", err2)
	}
	if root.Inum != xvfs.RootIno {
		log.Fatalf("mkfs: root landed at inum %d, want %d", root.Inum, xvfs.RootIno)
	}
	f.Ilock(root)
	mustLink(f, root, ".", root.Inum)
	mustLink(f, root, "..", root.Inum)
	root.Nlink = 2
	f.Iupdate(root)
	f.Iunlock(root)
	f.EndOp()

	if *skel != "" {
		addfiles(f, root, *skel)
	}

	if err := disk.Sync(); err != nil {
		log.Fatalf("mkfs: sync: %v", err)
	}
	fmt.Printf("mkfs: wrote %s (%d blocks, %d inodes)\n", *out, *nblocks, *ninode)
}

// mustLink appends a directory entry and panics on failure: mkfs runs
// once, offline, against a filesystem it just formatted, so any error
// here means the layout computation above is wrong.
func mustLink(f *xvfs.Fs, dp *xvfs.Inode, name string, inum int) {
	if err := f.Dirlink(dp, name, inum); err != 0 {
		log.Fatalf("mkfs: dirlink %q: %v", name, err)
	}
}

// addfiles walks the host directory skeldir and replicates it under dp in
// the target filesystem, mirroring biscuit/src/mkfs/mkfs.go's addfiles.
//
// \param f       target filesystem
// \param dp      destination root directory inode (unlocked)
// \param skeldir host directory tree to copy
func addfiles(f *xvfs.Fs, dp *xvfs.Inode, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		if strings.Contains(rel, string(filepath.Separator)) {
			// single-level skeleton only, matching this kernel's flat test trees
			return nil
		}
		if d.IsDir() {
			return nil
		}
		f.BeginOp()
		fi, ferr := f.Ialloc(defs.T_FILE)
		if ferr != 0 {
			f.EndOp()
			return ferr
		}
		f.Ilock(dp)
		linkErr := f.Dirlink(dp, rel, fi.Inum)
		f.Iunlock(dp)
		f.EndOp()
		if linkErr != 0 {
			return linkErr
		}
		copydata(path, f, fi)
		return nil
	})
	if err != nil {
		log.Fatalf("mkfs: addfiles: %v", err)
	}
}

// copydata streams src's bytes into fi via Writei, one buffer-cache block
// at a time.
//
// \param src source path on the host
// \param f   target filesystem
// \param fi  destination inode (unlocked; locked internally per write)
func copydata(src string, f *xvfs.Fs, fi *xvfs.Inode) {
	in, err := os.Open(src)
	if err != nil {
		log.Fatalf("mkfs: %v", err)
	}
	defer in.Close()

	buf := make([]byte, xvfs.BSIZE)
	off := 0
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			f.BeginOp()
			f.Ilock(fi)
			_, werr := f.Writei(fi, nil, 0, buf[:n], off, n)
			f.Iunlock(fi)
			f.EndOp()
			if werr != 0 {
				log.Fatalf("mkfs: writei %s: %v", src, werr)
			}
			off += n
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			log.Fatalf("mkfs: reading %s: %v", src, rerr)
		}
	}
}
