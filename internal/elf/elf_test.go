package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// buildTiny64RISCV assembles the smallest valid ELF64/RISC-V executable
// debug/elf will parse: a header, one PT_LOAD program header, and a few
// bytes of code (RISC-V NOPs, addi x0,x0,0) at a page-aligned vaddr.
func buildTiny64RISCV(t *testing.T, vaddr, entry uint64) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56
	code := []byte{0x13, 0x00, 0x00, 0x00, 0x13, 0x00, 0x00, 0x00} // 2 NOPs

	var buf bytes.Buffer
	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /*ELFCLASS64*/, 1 /*little-endian*/, 1, 0})
	buf.Write(make([]byte, 8)) // pad to 16

	le := binary.LittleEndian
	write16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	write32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	write64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	write16(2)   // e_type = ET_EXEC
	write16(243) // e_machine = EM_RISCV
	write32(1)   // e_version
	write64(entry)
	write64(ehsize) // e_phoff
	write64(0)      // e_shoff
	write32(0)      // e_flags
	write16(ehsize)
	write16(phsize)
	write16(1) // e_phnum
	write16(0)
	write16(0)
	write16(0)

	if buf.Len() != ehsize {
		t.Fatalf("test fixture bug: ELF header is %d bytes, want %d", buf.Len(), ehsize)
	}

	offset := uint64(ehsize + phsize)
	write32(1) // p_type = PT_LOAD
	write32(5) // p_flags = PF_R|PF_X
	write64(offset)
	write64(vaddr)
	write64(vaddr) // p_paddr
	write64(uint64(len(code)))
	write64(uint64(len(code)))
	write64(vm.PGSIZE) // p_align

	buf.Write(code)
	return buf.Bytes()
}

func TestLoadMapsSegmentAndBuildsStack(t *testing.T) {
	phys := mem.NewPhysmem(64, 1)
	as, ok := vm.NewAS(phys, 0)
	if !ok {
		t.Fatal("expected an address space")
	}
	const vaddr = 0x1000
	img := buildTiny64RISCV(t, vaddr, vaddr)

	entry, sp, sz, err := Load(as, phys, 0, img, []string{"init", "hello"})
	if err != 0 {
		t.Fatalf("Load: %v", err)
	}
	if entry != vaddr {
		t.Fatalf("entry = %#x, want %#x", entry, uint64(vaddr))
	}
	if sz <= vaddr {
		t.Fatalf("sz = %#x, expected it to cover the stack above the loaded segment", sz)
	}
	if sp == 0 || sp >= sz {
		t.Fatalf("sp = %#x, expected a valid stack pointer below sz=%#x", sp, sz)
	}

	got := make([]byte, 8)
	if cerr := as.CopyIn(got, vaddr); cerr != 0 {
		t.Fatalf("copyin of loaded segment: %v", cerr)
	}
	want := []byte{0x13, 0x00, 0x00, 0x00, 0x13, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("loaded segment = %x, want %x", got, want)
	}
}

func TestLoadRejectsNonRISCV(t *testing.T) {
	phys := mem.NewPhysmem(16, 1)
	as, _ := vm.NewAS(phys, 0)
	if _, _, _, err := Load(as, phys, 0, []byte("not an elf"), nil); err == 0 {
		t.Fatal("expected an error loading garbage input")
	}
}

func TestLoadRejectsTooManyArgs(t *testing.T) {
	phys := mem.NewPhysmem(64, 1)
	as, _ := vm.NewAS(phys, 0)
	img := buildTiny64RISCV(t, 0x1000, 0x1000)
	argv := make([]string, MAXARG+1)
	for i := range argv {
		argv[i] = "x"
	}
	if _, _, _, err := Load(as, phys, 0, img, argv); err == 0 {
		t.Fatal("expected an error exceeding MAXARG")
	}
}
