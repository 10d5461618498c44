package proc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/mem"
)

// tinyRISCVELF assembles the smallest valid ELF64/RISC-V image, mirroring
// internal/elf's own test fixture, so Exec can be driven end to end
// without a real toolchain-produced binary.
func tinyRISCVELF(vaddr uint64) []byte {
	const ehsize, phsize = 64, 56
	code := []byte{0x13, 0x00, 0x00, 0x00} // addi x0,x0,0 (nop)

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	le := binary.LittleEndian
	w16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	w32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	w64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	w16(2)
	w16(243)
	w32(1)
	w64(vaddr)
	w64(ehsize)
	w64(0)
	w32(0)
	w16(ehsize)
	w16(phsize)
	w16(1)
	w16(0)
	w16(0)
	w16(0)

	w32(1)
	w32(5)
	w64(uint64(ehsize + phsize))
	w64(vaddr)
	w64(vaddr)
	w64(uint64(len(code)))
	w64(uint64(len(code)))
	w64(0x1000)

	buf.Write(code)
	return buf.Bytes()
}

func TestExecNonexistentPathLeavesProcessIntact(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := NewTable()
	p := Spawn(table, phys, fsys, 0, "shell", nil)
	oldAS := p.AS

	err := Exec(p, phys, fsys, 0, "/nosuchfile", nil)
	if err == 0 {
		t.Fatal("expected an error execing a nonexistent path")
	}
	if p.AS != oldAS {
		t.Fatal("a failed exec must not swap the process's address space")
	}
}

func TestExecOnDirectoryFails(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := NewTable()
	p := Spawn(table, phys, fsys, 0, "shell", nil)

	if err := Exec(p, phys, fsys, 0, "/", nil); err != -defs.EINVAL {
		t.Fatalf("exec on a directory = %v, want -EINVAL", err)
	}
}

func TestExecSwapsAddressSpaceOnSuccess(t *testing.T) {
	phys := mem.NewPhysmem(128, 1)
	fsys := newTestFs(t)
	table := NewTable()
	p := Spawn(table, phys, fsys, 0, "shell", nil)

	const vaddr = 0x1000
	img := tinyRISCVELF(vaddr)

	root := fsys.Iget(1)
	fsys.Ilock(root)
	fsys.BeginOp()
	fi, aerr := fsys.Ialloc(defs.T_FILE)
	if aerr != 0 {
		t.Fatalf("ialloc: %v", aerr)
	}
	fsys.Dirlink(root, "prog", fi.Inum)
	fsys.Iunlock(root)
	fsys.Ilock(fi)
	if _, werr := fsys.Writei(fi, nil, 0, img, 0, len(img)); werr != 0 {
		t.Fatalf("writei: %v", werr)
	}
	fsys.Iunlock(fi)
	fsys.EndOp()
	fsys.Iput(fi)
	fsys.Iput(root)

	if err := Exec(p, phys, fsys, 0, "/prog", []string{"prog"}); err != 0 {
		t.Fatalf("exec: %v", err)
	}
	if p.Tf.Epc != vaddr {
		t.Fatalf("Tf.Epc = %#x, want %#x", p.Tf.Epc, uint64(vaddr))
	}
	if p.Name != "prog" {
		t.Fatalf("Name = %q, want %q", p.Name, "prog")
	}
}
