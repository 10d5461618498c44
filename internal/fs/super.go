// Package fs implements the on-disk filesystem: superblock, inode layer,
// directories, and path resolution (spec.md 4.6, 4.7, §3, §6). There is
// no direct biscuit source for this layer (its Fs_t internals were not
// part of the retrieval pack), so the concrete on-disk layout and
// algorithms are grounded on original_source/kernel/fs.c and fs.h, with
// the surrounding style (Err_t returns, accessor-heavy structs) following
// biscuit's fs/super.go and stat/stat.go.
package fs

import (
	"github.com/symbol23441/unix-xv6/internal/bio"
)

// BSIZE is the fixed on-disk block size (spec.md 6).
const BSIZE = bio.BSIZE

const FSMAGIC = 0x10203040

// Superblock is block 1's layout (spec.md 3/6).
type Superblock struct {
	Magic      uint32
	Size       uint32 // total blocks on device
	Nblocks    uint32 // number of data blocks
	Ninodes    uint32 // number of inodes
	Nlog       uint32 // blocks in the log region
	Logstart   uint32
	Inodestart uint32
	Bmapstart  uint32
}

const superblockBlock = 1

// Encode serializes sb into its on-disk block representation, exported
// for cmd/mkfs to write the initial superblock.
func (sb *Superblock) Encode() [BSIZE]byte { return sb.encode() }

func (sb *Superblock) encode() [BSIZE]byte {
	var out [BSIZE]byte
	putle32(out[0:], sb.Magic)
	putle32(out[4:], sb.Size)
	putle32(out[8:], sb.Nblocks)
	putle32(out[12:], sb.Ninodes)
	putle32(out[16:], sb.Nlog)
	putle32(out[20:], sb.Logstart)
	putle32(out[24:], sb.Inodestart)
	putle32(out[28:], sb.Bmapstart)
	return out
}

func decodeSuperblock(b []byte) Superblock {
	return Superblock{
		Magic:      le32(b[0:]),
		Size:       le32(b[4:]),
		Nblocks:    le32(b[8:]),
		Ninodes:    le32(b[12:]),
		Nlog:       le32(b[16:]),
		Logstart:   le32(b[20:]),
		Inodestart: le32(b[24:]),
		Bmapstart:  le32(b[28:]),
	}
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

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putle16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// IPB is the number of packed dinodes per block (spec.md 6: "8 dinodes
// per block" when BSIZE=1024 and dinode is 64 bytes).
const IPB = BSIZE / dinodeSize

func iblockOf(sb *Superblock, inum int) int {
	return int(sb.Inodestart) + inum/IPB
}

// BPB is bits-per-bitmap-block: 1 bit per data block (spec.md 6: "8192
// bits per block").
const BPB = BSIZE * 8

func bmapBlockOf(sb *Superblock, blockno int) int {
	return int(sb.Bmapstart) + blockno/BPB
}
