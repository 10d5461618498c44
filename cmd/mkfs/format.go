package main

import (
	"log"

	"github.com/symbol23441/unix-xv6/internal/bio"
	xvfs "github.com/symbol23441/unix-xv6/internal/fs"
)

// format lays out a fresh superblock, log header, and inode/bitmap
// regions on an otherwise-zero disk image (spec.md §3/§6's fixed block
// layout: boot block, superblock, log region, inode region, bitmap,
// data). Every block from 0 up to the start of the data region is
// marked used in the bitmap so the filesystem layer's balloc never hands
// out a metadata block as a data block.
func format(cache *bio.Cache, nblocks, ninode, nlog int) {
	const bootBlock = 1 // block 0 is the (unused, in this hosted kernel) boot block
	logStart := bootBlock + 1
	ninodeBlocks := (ninode + xvfs.IPB - 1) / xvfs.IPB
	inodeStart := logStart + nlog
	nbitmapBlocks := (nblocks + xvfs.BPB - 1) / xvfs.BPB
	bmapStart := inodeStart + ninodeBlocks
	dataStart := bmapStart + nbitmapBlocks

	if dataStart >= nblocks {
		log.Fatalf("mkfs: metadata (%d blocks) leaves no room for data in a %d-block image", dataStart, nblocks)
	}

	sb := xvfs.Superblock{
		Magic:      xvfs.FSMAGIC,
		Size:       uint32(nblocks),
		Nblocks:    uint32(nblocks - dataStart),
		Ninodes:    uint32(ninode),
		Nlog:       uint32(nlog),
		Logstart:   uint32(logStart),
		Inodestart: uint32(inodeStart),
		Bmapstart:  uint32(bmapStart),
	}
	writeSuperblock(cache, &sb)

	// zero the log header (n=0: nothing to recover).
	zeroBlock(cache, logStart)

	for b := inodeStart; b < bmapStart; b++ {
		zeroBlock(cache, b)
	}

	for b := bmapStart; b < dataStart; b++ {
		zeroBlock(cache, b)
	}
	markUsed(cache, bmapStart, dataStart)
}

func writeSuperblock(cache *bio.Cache, sb *xvfs.Superblock) {
	b := cache.Bread(imageDev, 1)
	enc := sb.Encode()
	copy(b.Data[:], enc[:])
	cache.Bwrite(b)
	cache.Brelse(b)
}

func zeroBlock(cache *bio.Cache, blockno int) {
	b := cache.Bread(imageDev, blockno)
	for i := range b.Data {
		b.Data[i] = 0
	}
	cache.Bwrite(b)
	cache.Brelse(b)
}

// markUsed sets the bitmap bits for blocks [0, count) as allocated.
func markUsed(cache *bio.Cache, bmapStart int, count int) {
	for blockno := 0; blockno < count; blockno++ {
		bmb := cache.Bread(imageDev, bmapStart+blockno/xvfs.BPB)
		bi := blockno % xvfs.BPB
		bmb.Data[bi/8] |= 1 << (bi % 8)
		cache.Bwrite(bmb)
		cache.Brelse(bmb)
	}
}
