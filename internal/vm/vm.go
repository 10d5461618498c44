// Package vm implements Sv39 virtual memory: three-level radix page
// tables, user address-space map/unmap/copy/grow, and the kernel's own
// identity-mapped address space. Grounded on biscuit's vm/as.go (the
// Vm_t/Userdmap8_inner/uvmcopy-style logic) but rebuilt around the real
// Sv39 PTE format (spec.md 3, 4.2) instead of x86-64 paging, and with the
// copy-on-write machinery dropped per spec.md's non-CoW allocator design.
package vm

import (
	"unsafe"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/mem"
)

// PTE bit layout, per spec.md GLOSSARY and 4.2.
const (
	PTE_V = 1 << 0 // valid
	PTE_R = 1 << 1 // readable
	PTE_W = 1 << 2 // writable
	PTE_X = 1 << 3 // executable
	PTE_U = 1 << 4 // user-accessible
	PTE_G = 1 << 5 // global
	PTE_A = 1 << 6 // accessed
	PTE_D = 1 << 7 // dirty
)

const (
	PGSHIFT  = mem.PGSHIFT
	PGSIZE   = mem.PGSIZE
	pteShift = 10 // PPN starts at bit 10 in an Sv39 PTE
)

// PTE is one 64-bit Sv39 page-table entry.
type PTE uint64

func (p PTE) Valid() bool  { return p&PTE_V != 0 }
func (p PTE) Leaf() bool   { return p&(PTE_R|PTE_W|PTE_X) != 0 }
func (p PTE) Flags() uint  { return uint(p) & 0x3ff }
func (p PTE) PPN() mem.Idx { return mem.Idx(p >> pteShift) }

func mkpte(ppn mem.Idx, flags uint) PTE {
	return PTE(uint64(ppn)<<pteShift) | PTE(flags&0x3ff)
}

// Pagetable is one 512-entry page-table node, viewed over a physical page.
type Pagetable = *[512]PTE

func asTable(pg *mem.Page_t) Pagetable {
	return (Pagetable)(unsafe.Pointer(pg))
}

// VA/PX decompose a 39-bit virtual address into its three 9-bit indices.
func px(level int, va uintptr) int {
	shift := PGSHIFT + 9*level
	return int((va >> shift) & 0x1ff)
}

// AS is one process (or the kernel's) address space: a root page-table
// page plus the physical allocator and CPU id used to populate it.
type AS struct {
	phys   *mem.Physmem_t
	cpuid  int
	Root   mem.Idx
	rootpg *mem.Page_t
}

// NewAS allocates a fresh, zeroed root page table.
func NewAS(phys *mem.Physmem_t, cpuid int) (*AS, bool) {
	idx, pg, ok := phys.AllocPage(cpuid)
	if !ok {
		return nil, false
	}
	zero(pg)
	return &AS{phys: phys, cpuid: cpuid, Root: idx, rootpg: pg}, true
}

func zero(pg *mem.Page_t) {
	for i := range pg {
		pg[i] = 0
	}
}

// walk descends levels 2->0 for va, allocating intermediate tables when
// alloc is true. It returns a pointer to the level-0 PTE for va, or
// nil if a non-alloc walk hit an invalid intermediate entry.
func (as *AS) walk(va uintptr, alloc bool) *PTE {
	table := as.rootpg
	for level := 2; level > 0; level-- {
		pt := asTable(table)
		pte := &pt[px(level, va)]
		if !pte.Valid() {
			if !alloc {
				return nil
			}
			idx, pg, ok := as.phys.AllocPage(as.cpuid)
			if !ok {
				return nil
			}
			zero(pg)
			*pte = mkpte(idx, PTE_V)
		}
		if pte.Leaf() {
			panic("vm: leaf mapping found above level 0")
		}
		table = as.phys.Page(pte.PPN())
	}
	pt := asTable(table)
	return &pt[px(0, va)]
}

// Map installs a leaf mapping for va -> the page at physIdx with the given
// permission flags. Remapping an already-valid leaf is fatal (spec.md 4.2:
// "Leaf mapping requires that the target PTE be invalid").
func (as *AS) Map(va uintptr, physIdx mem.Idx, perm uint) defs.Err_t {
	if va%PGSIZE != 0 {
		panic("vm: unaligned va in Map")
	}
	pte := as.walk(va, true)
	if pte == nil {
		return -defs.ENOMEM
	}
	if pte.Valid() {
		panic("vm: remap of already-mapped page")
	}
	*pte = mkpte(physIdx, perm|PTE_V)
	return 0
}

// Unmap removes the leaf mapping at va. If free is true the backing page
// is returned to the allocator. Unmapping an absent mapping is fatal
// (spec.md 4.2/7).
func (as *AS) Unmap(va uintptr, free bool) {
	pte := as.walk(va, false)
	if pte == nil || !pte.Valid() {
		panic("vm: unmap of unmapped page")
	}
	if free {
		as.phys.FreePage(pte.PPN(), as.cpuid)
	}
	*pte = 0
}

// Translate returns the physical page index backing va, and whether it
// is present with perm bits satisfying want.
func (as *AS) Translate(va uintptr, want uint) (mem.Idx, bool) {
	pte := as.walk(va, false)
	if pte == nil || !pte.Valid() {
		return 0, false
	}
	if pte.Flags()&want != want {
		return 0, false
	}
	return pte.PPN(), true
}

// freeWalk walks the subtree rooted at a table page, recursively freeing
// every inner node it reaches, and refusing (panicking) if it
// still holds leaf mappings -- spec.md 4.2: "refusing to free nodes that
// still hold leaves".
func (as *AS) freeWalk(tableIdx mem.Idx, level int) {
	pg := as.phys.Page(tableIdx)
	pt := asTable(pg)
	for i := range pt {
		pte := pt[i]
		if !pte.Valid() {
			continue
		}
		if pte.Leaf() {
			panic("vm: freeing page table that still holds a leaf")
		}
		as.freeWalk(pte.PPN(), level-1)
	}
	as.phys.FreePage(tableIdx, as.cpuid)
}

// Destroy unmaps every user leaf in [0, topva) and frees the whole page
// table, used when a process exits.
func (as *AS) Destroy(topva uintptr) {
	for va := uintptr(0); va < topva; va += PGSIZE {
		if pte := as.walk(va, false); pte != nil && pte.Valid() {
			as.phys.FreePage(pte.PPN(), as.cpuid)
			*pte = 0
		}
	}
	as.freeWalk(as.Root, 2)
}

// Grow extends the address space with newly allocated, zeroed, U|R|W
// pages covering [oldsz, newsz). It tears down what it allocated on
// partial failure.
func (as *AS) Grow(oldsz, newsz uintptr) (uintptr, defs.Err_t) {
	if newsz < oldsz {
		return oldsz, 0
	}
	oldsz = roundup(oldsz)
	for va := oldsz; va < newsz; va += PGSIZE {
		idx, pg, ok := as.phys.AllocPage(as.cpuid)
		if !ok {
			as.Shrink(va, oldsz)
			return oldsz, -defs.ENOMEM
		}
		zero(pg)
		if err := as.Map(va, idx, PTE_V|PTE_R|PTE_W|PTE_U); err != 0 {
			as.phys.FreePage(idx, as.cpuid)
			as.Shrink(va, oldsz)
			return oldsz, err
		}
	}
	return newsz, 0
}

// Shrink unmaps and frees [newsz, oldsz).
func (as *AS) Shrink(oldsz, newsz uintptr) uintptr {
	for va := roundup(newsz); va < oldsz; va += PGSIZE {
		if pte := as.walk(va, false); pte != nil && pte.Valid() {
			as.Unmap(va, true)
		}
	}
	return newsz
}

func roundup(sz uintptr) uintptr {
	return (sz + PGSIZE - 1) &^ (PGSIZE - 1)
}

// Copy duplicates every mapped page in [0, sz) from src into a freshly
// allocated dst address space for fork (spec.md 4.2's uvmcopy): each page
// is physically copied (no CoW) and installed with the source's flags.
// On partial failure the partially built destination is torn down.
func Copy(src, dst *AS, sz uintptr) defs.Err_t {
	for va := uintptr(0); va < sz; va += PGSIZE {
		pte := src.walk(va, false)
		if pte == nil || !pte.Valid() {
			continue
		}
		idx, pg, ok := dst.phys.AllocPage(dst.cpuid)
		if !ok {
			dst.Destroy(va)
			return -defs.ENOMEM
		}
		*pg = *src.phys.Page(pte.PPN())
		if err := dst.Map(va, idx, pte.Flags()); err != 0 {
			dst.phys.FreePage(idx, dst.cpuid)
			dst.Destroy(va)
			return err
		}
	}
	return 0
}

// ClearUser removes the U flag from the page at va, used to turn the
// guard page below the user stack into a kernel-only sentinel
// (spec.md 4.2's uvmclear).
func (as *AS) ClearUser(va uintptr) {
	pte := as.walk(va, false)
	if pte == nil || !pte.Valid() {
		panic("vm: clearuser of unmapped page")
	}
	*pte &^= PTE_U
}

// bytesAt returns the byte slice within the page mapped at va (perm must
// include PTE_U and, for writes, PTE_W), honoring the page-boundary
// straddle: callers step by the returned slice length.
func (as *AS) bytesAt(va uintptr, write bool) ([]byte, defs.Err_t) {
	want := uint(PTE_U)
	if write {
		want |= PTE_W
	}
	idx, ok := as.Translate(va&^(PGSIZE-1), want)
	if !ok {
		return nil, -defs.EFAULT
	}
	pg := as.phys.Page(idx)
	off := int(va % PGSIZE)
	return pg[off:], 0
}

// CopyOut copies src into the user address space at uva, straddling page
// boundaries as needed (spec.md 4.2's k2user copy-out).
func (as *AS) CopyOut(uva uintptr, src []byte) defs.Err_t {
	for len(src) > 0 {
		dst, err := as.bytesAt(uva, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		src = src[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyIn copies from the user address space at uva into dst.
func (as *AS) CopyIn(dst []byte, uva uintptr) defs.Err_t {
	for len(dst) > 0 {
		src, err := as.bytesAt(uva, false)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		dst = dst[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyInStr copies a NUL-terminated string from user space, stopping at
// the first NUL or after max bytes (spec.md 4.2: "String copy-in stops at
// the first NUL or exhaustion").
func (as *AS) CopyInStr(uva uintptr, max int) ([]byte, defs.Err_t) {
	var out []byte
	for len(out) < max {
		src, err := as.bytesAt(uva, false)
		if err != 0 {
			return nil, err
		}
		for i, c := range src {
			if c == 0 {
				return append(out, src[:i]...), 0
			}
		}
		out = append(out, src...)
		uva += uintptr(len(src))
	}
	return nil, -defs.ENAMETOOLONG
}

// CopyEither copies src to either a user address space (toUser!=nil) or a
// plain kernel byte slice, unifying readi/writei's user/kernel destination
// switch (original_source proc.c's either_copyout/either_copyin,
// recovered per SPEC_FULL.md).
func CopyEither(toUser *AS, uva uintptr, kdst []byte, src []byte) defs.Err_t {
	if toUser != nil {
		return toUser.CopyOut(uva, src)
	}
	copy(kdst, src)
	return 0
}

func CopyEitherIn(fromUser *AS, uva uintptr, ksrc []byte, dst []byte) defs.Err_t {
	if fromUser != nil {
		return fromUser.CopyIn(dst, uva)
	}
	copy(dst, ksrc)
	return 0
}
