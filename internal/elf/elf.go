// Package elf loads a 64-bit RISC-V ELF executable into a fresh address
// space and lays out the initial user stack (spec.md 4.9/6's exec
// contract). Grounded on original_source/kernel/exec.c, since no ELF
// loader exists in the retrieval pack's teacher; it uses the standard
// library's debug/elf for header parsing the way the broader Go
// ecosystem does (there is no third-party ELF-parsing library exercised
// anywhere in the example pack, and debug/elf is the idiomatic choice
// the ecosystem itself converges on for this -- recorded in DESIGN.md).
package elf

import (
	"bytes"
	"debug/elf"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// MAXARG bounds argv, matching original_source/kernel/param.h.
const MAXARG = 32

// Load maps img's PT_LOAD segments into a fresh address space rooted at
// as, appends a guard page and a fixed-size stack, writes argv onto the
// stack, and returns the entry point plus the final stack pointer
// (exec.c's layout: guard page immediately below the stack, argv's
// string bytes followed by the argv pointer array, 16-byte aligned).
// On failure as has already been destroyed.
func Load(as *vm.AS, phys *mem.Physmem_t, cpuid int, img []byte, argv []string) (entry uint64, sp uintptr, sz uintptr, err defs.Err_t) {
	f, ferr := elf.NewFile(bytes.NewReader(img))
	if ferr != nil {
		as.Destroy(0)
		return 0, 0, 0, -defs.EINVAL
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		as.Destroy(0)
		return 0, 0, 0, -defs.EINVAL
	}

	var maxva uintptr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		va := uintptr(prog.Vaddr)
		top := va + uintptr(prog.Memsz)
		top = (top + vm.PGSIZE - 1) &^ (vm.PGSIZE - 1)
		base := va &^ (vm.PGSIZE - 1)
		perm := uint(vm.PTE_U)
		if prog.Flags&elf.PF_R != 0 {
			perm |= vm.PTE_R
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= vm.PTE_W
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= vm.PTE_X
		}
		for pg := base; pg < top; pg += vm.PGSIZE {
			idx, pgbuf, ok := phys.AllocPage(cpuid)
			if !ok {
				as.Destroy(pg)
				return 0, 0, 0, -defs.ENOMEM
			}
			for i := range pgbuf {
				pgbuf[i] = 0
			}
			if e := as.Map(pg, idx, perm); e != 0 {
				phys.FreePage(idx, cpuid)
				as.Destroy(pg)
				return 0, 0, 0, e
			}
		}
		section := make([]byte, prog.Filesz)
		if _, rerr := prog.ReadAt(section, 0); rerr != nil {
			as.Destroy(top)
			return 0, 0, 0, -defs.EIO
		}
		// Copy through the physical pages just mapped: CopyOut demands
		// PTE_W, which a read-only text segment does not have.
		for off := uintptr(0); off < uintptr(len(section)); {
			pgva := (va + off) &^ (vm.PGSIZE - 1)
			idx, ok := as.Translate(pgva, vm.PTE_U)
			if !ok {
				as.Destroy(top)
				return 0, 0, 0, -defs.EFAULT
			}
			off += uintptr(copy(phys.Page(idx)[va+off-pgva:], section[off:]))
		}
		if top > maxva {
			maxva = top
		}
	}

	// One guard page (unmapped-for-user), then USTACK pages of real stack
	// (exec.c: "leave one page for the user stack guard", spec.md 6).
	const ustackPages = 1
	sz = maxva
	newsz, gerr := as.Grow(sz, sz+(1+ustackPages)*vm.PGSIZE) // guard page + stack
	if gerr != 0 {
		as.Destroy(sz)
		return 0, 0, 0, gerr
	}
	as.ClearUser(sz) // the page just below the stack is the guard
	sz = newsz
	stackTop := sz

	if len(argv) > MAXARG {
		as.Destroy(sz)
		return 0, 0, 0, -defs.EINVAL
	}

	// Push argv strings, then the argv pointer array (argc is not pushed)
	// -- stack grows down, 16-byte aligned at the final sp (exec.c's layout).
	var ustack [MAXARG + 1]uintptr
	spCur := stackTop
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		spCur -= uintptr(len(s))
		spCur &^= 0xf
		if stackTop-spCur > ustackPages*vm.PGSIZE {
			as.Destroy(sz)
			return 0, 0, 0, -defs.EINVAL
		}
		if cerr := as.CopyOut(spCur, s); cerr != 0 {
			as.Destroy(sz)
			return 0, 0, 0, cerr
		}
		ustack[i] = spCur
	}
	ustack[len(argv)] = 0

	spCur -= uintptr(len(argv)+1) * 8
	spCur &^= 0xf
	argvVa := spCur
	for i := 0; i <= len(argv); i++ {
		var b [8]byte
		putle64(b[:], uint64(ustack[i]))
		if cerr := as.CopyOut(argvVa+uintptr(8*i), b[:]); cerr != 0 {
			as.Destroy(sz)
			return 0, 0, 0, cerr
		}
	}

	return uint64(f.Entry), argvVa, sz, 0
}

func putle64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
