package proc

import (
	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/elf"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/vm"
)

// Exec replaces p's address space with the image at path, the
// supplemented exec(path, argv) syscall original_source/kernel/exec.c
// implements and spec.md's distillation dropped (SPEC_FULL.md's
// supplemented-features section). It loads the whole file into a kernel
// buffer, builds a fresh address space from it via internal/elf, and only
// swaps p over to the new address space once loading has fully succeeded
// -- a failed exec must leave the calling process's old image intact and
// runnable, per exec.c's contract.
func Exec(p *Proc, phys *mem.Physmem_t, fsys *fs.Fs, cpuid int, path string, argv []string) defs.Err_t {
	fsys.BeginOp()
	ip, err := fsys.Namei(path, p.Cwd)
	if err != 0 {
		fsys.EndOp()
		return err
	}
	fsys.Ilock(ip)
	if ip.Type != defs.T_FILE {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		fsys.EndOp()
		return -defs.EINVAL
	}

	img := make([]byte, ip.Size)
	if n, rerr := fsys.Readi(ip, nil, 0, img, 0, len(img)); rerr != 0 || n != len(img) {
		fsys.Iunlock(ip)
		fsys.Iput(ip)
		fsys.EndOp()
		if rerr != 0 {
			return rerr
		}
		return -defs.EIO
	}
	fsys.Iunlock(ip)
	fsys.Iput(ip)
	fsys.EndOp()

	as, ok := vm.NewAS(phys, cpuid)
	if !ok {
		return -defs.ENOMEM
	}
	entry, sp, sz, lerr := elf.Load(as, phys, cpuid, img, argv)
	if lerr != 0 {
		return lerr // Load has already destroyed as
	}

	oldAS, oldSz := p.AS, p.Sz
	tf := Trapframe{
		Kernel_satp:   p.Tf.Kernel_satp,
		Kernel_sp:     p.Tf.Kernel_sp,
		Kernel_trap:   p.Tf.Kernel_trap,
		Kernel_hartid: p.Tf.Kernel_hartid,
		Epc:           entry,
		Sp:            uint64(sp),
	}
	p.AS = as
	p.Sz = sz
	p.Tf = &tf
	p.Name = baseName(path)

	if oldAS != nil {
		oldAS.Destroy(oldSz)
	}
	return 0
}

func baseName(path string) string {
	last := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			last = i + 1
		}
	}
	return path[last:]
}
