// Package mem implements the physical page allocator: per-CPU freelists
// with work-stealing, grounded on biscuit's mem package (Physmem_t,
// percpu free lists, the intrusive nexti-linked freelist). Unlike the
// teacher, which keeps a CoW refcount table (the alternative design
// spec.md 4.1/9 explicitly rejects), this allocator is a plain
// allocate/free pool: one owner at a time, poisoned on both alloc and
// free, matching kalloc.c's memset-on-kfree behavior recovered in
// SPEC_FULL.md.
package mem

import (
	"fmt"
	"sync"
)

// PGSHIFT/PGSIZE describe the fixed 4 KiB page granularity of Sv39.
const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT
)

// Page_t is one 4 KiB physical page's contents.
type Page_t [PGSIZE]byte

// allocFill/freeFill are the poison bytes kalloc.c uses to catch
// use-before-init and use-after-free bugs: AllocPage fills a freshly
// allocated page with allocFill, and FreePage (and NewPhysmem) fill free
// pages with freeFill, the way the original's kalloc/kfree do (kalloc.c: "fill with junk to catch dangling
// refs"; kfree: "Fill with junk to catch dangling refs").
const (
	allocFill = 0x5
	freeFill  = 0x1
)

// pageNode is one slot in the physical-page arena: either owned (not on
// any freelist) or linked into exactly one CPU's freelist via next.
type pageNode struct {
	pg   *Page_t
	next int32 // index of next free page on this CPU's list, -1 if none
}

type percpuFreelist struct {
	sync.Mutex
	head int32 // index into Physmem.nodes, -1 if empty
	len  int32
}

// Physmem_t is the process-wide physical page allocator singleton.
type Physmem_t struct {
	nodes []pageNode
	cpus  []percpuFreelist
	// owner records whether each page is free or allocated, for the
	// double-free assertion in spec.md 4.1 ("double-free and non-owner-free
	// are fatal"); -2 means allocated/owned by a caller, -1 means free.
	owner []int32
	omu   sync.Mutex
}

const ownerFree = -1
const ownerAllocated = -2

// NewPhysmem carves respgs pages out of a freshly made arena and pushes all
// of them onto CPU 0's freelist, mirroring Phys_init's freerange behavior
// (spec.md 4.1: "Initial freerange pushes every aligned page in
// [end, PHYSTOP) to CPU 0's list").
func NewPhysmem(respgs int, ncpu int) *Physmem_t {
	if ncpu < 1 {
		panic("ncpu must be >= 1")
	}
	phys := &Physmem_t{
		nodes: make([]pageNode, respgs),
		cpus:  make([]percpuFreelist, ncpu),
		owner: make([]int32, respgs),
	}
	for i := range phys.cpus {
		phys.cpus[i].head = -1
	}
	for i := range phys.nodes {
		phys.nodes[i].pg = &Page_t{}
		for j := range phys.nodes[i].pg {
			phys.nodes[i].pg[j] = freeFill
		}
		phys.owner[i] = ownerFree
	}
	// build the freelist: all pages start on CPU 0.
	cpu0 := &phys.cpus[0]
	cpu0.head = 0
	cpu0.len = int32(respgs)
	for i := 0; i < respgs-1; i++ {
		phys.nodes[i].next = int32(i + 1)
	}
	phys.nodes[respgs-1].next = -1
	fmt.Printf("mem: reserved %d pages (%d KiB)\n", respgs, respgs*PGSIZE/1024)
	return phys
}

// idx identifies a physical page by its arena index rather than a raw
// address; callers translate to/from Sv39 PPNs at the vm package boundary.
type Idx int32

// AllocPage returns a freshly allocated page for CPU cpuid, poisoned with
// non-zero content, or ok=false if no page was available anywhere
// (spec.md 4.1: "Failure to find any page returns none").
func (phys *Physmem_t) AllocPage(cpuid int) (Idx, *Page_t, bool) {
	if idx, ok := phys.popLocal(cpuid); ok {
		return idx, phys.finishAlloc(idx, cpuid), true
	}
	// steal: scan other CPUs in order, one lock at a time, never holding
	// two CPU locks simultaneously (spec.md 4.1's AB/BA-deadlock rule).
	n := len(phys.cpus)
	for i := 1; i < n; i++ {
		victim := (cpuid + i) % n
		if idx, ok := phys.popFrom(victim); ok {
			return idx, phys.finishAlloc(idx, cpuid), true
		}
	}
	return 0, nil, false
}

func (phys *Physmem_t) popLocal(cpuid int) (Idx, bool) {
	return phys.popFrom(cpuid)
}

func (phys *Physmem_t) popFrom(cpuid int) (Idx, bool) {
	fl := &phys.cpus[cpuid]
	fl.Lock()
	defer fl.Unlock()
	if fl.head == -1 {
		return 0, false
	}
	idx := fl.head
	fl.head = phys.nodes[idx].next
	fl.len--
	return Idx(idx), true
}

func (phys *Physmem_t) finishAlloc(idx Idx, cpuid int) *Page_t {
	phys.omu.Lock()
	if phys.owner[idx] != ownerFree {
		phys.omu.Unlock()
		panic("mem: allocated a page that wasn't free")
	}
	phys.owner[idx] = ownerAllocated
	phys.omu.Unlock()
	pg := phys.nodes[idx].pg
	for i := range pg {
		pg[i] = allocFill
	}
	return pg
}

// FreePage returns idx to cpuid's freelist, poisoning its contents.
// Double-free and non-owner-free are both fatal per spec.md 4.1.
func (phys *Physmem_t) FreePage(idx Idx, cpuid int) {
	phys.omu.Lock()
	if phys.owner[idx] == ownerFree {
		phys.omu.Unlock()
		panic("mem: double free of physical page")
	}
	phys.owner[idx] = ownerFree
	phys.omu.Unlock()

	pg := phys.nodes[idx].pg
	for i := range pg {
		pg[i] = freeFill
	}
	fl := &phys.cpus[cpuid]
	fl.Lock()
	phys.nodes[idx].next = fl.head
	fl.head = int32(idx)
	fl.len++
	fl.Unlock()
}

// Page dereferences idx back to its backing array, used by vm to install
// page-table entries and copy data.
func (phys *Physmem_t) Page(idx Idx) *Page_t {
	return phys.nodes[idx].pg
}

// Freecount reports the free-page count for cpuid, for tests.
func (phys *Physmem_t) Freecount(cpuid int) int {
	fl := &phys.cpus[cpuid]
	fl.Lock()
	defer fl.Unlock()
	return int(fl.len)
}

// NCPU returns the number of per-CPU freelists configured.
func (phys *Physmem_t) NCPU() int {
	return len(phys.cpus)
}
