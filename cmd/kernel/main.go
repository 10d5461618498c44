// Command kernel boots the simulated multi-hart RISC-V/Sv39 kernel:
// opens the disk image, brings up the physical allocator, virtio driver,
// buffer cache, log, and filesystem, starts one scheduler loop per
// configured hart, and runs the init process. Grounded on biscuit's
// boot-sequence style in its own main packages (open backing stores,
// construct singletons top-down, fall over loudly on any setup error).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/symbol23441/unix-xv6/internal/bio"
	"github.com/symbol23441/unix-xv6/internal/config"
	"github.com/symbol23441/unix-xv6/internal/console"
	"github.com/symbol23441/unix-xv6/internal/fs"
	"github.com/symbol23441/unix-xv6/internal/mem"
	"github.com/symbol23441/unix-xv6/internal/proc"
	"github.com/symbol23441/unix-xv6/internal/profexport"
	"github.com/symbol23441/unix-xv6/internal/trap"
	"github.com/symbol23441/unix-xv6/internal/virtio"
)

const kernelDev = 1

func main() {
	cfgPath := flag.String("config", "", "YAML boot configuration (defaults if omitted)")
	diskOverride := flag.String("disk", "", "override the configured disk image path")
	profilePath := flag.String("profile", "", "write a per-process accounting pprof profile here on shutdown")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("kernel: %v", err)
		}
	}
	if *diskOverride != "" {
		cfg.DiskImage = *diskOverride
	}

	log.Printf("kernel: booting with %d hart(s), disk=%s\n", cfg.NHart, cfg.DiskImage)

	disk, err := virtio.Open(cfg.DiskImage, cfg.NBlocks)
	if err != nil {
		log.Fatalf("kernel: opening disk image: %v", err)
	}
	defer disk.Close()

	cache := bio.NewCache(disk, cfg.NBuf)
	fsys := fs.Open(cache, kernelDev)
	log.Printf("kernel: filesystem mounted\n")

	phys := mem.NewPhysmem(16*1024, cfg.NHart) // 64 MiB reserved for the whole run
	table := proc.NewTable()

	plic := trap.NewSimPlic()
	clint := trap.NewSimClint()
	uart := newStdioUART()
	con := console.New(uart, table)
	con.SetDumpHook(func() string { return dumpProcs(table) })
	go stdinLoop(con, plic)
	go deviceLoop(plic)

	initp := proc.Spawn(table, phys, fsys, 0, "init", func(p *proc.Proc) {
		runInit(p, table, phys, fsys, con)
	})

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < cfg.NHart; i++ {
		cpu := &proc.CPU{ID: i}
		g.Go(func() error {
			clint.Tick()
			proc.Scheduler(cpu, table)
			return nil
		})
	}
	_ = ctx

	waitForShutdown(table, initp)
	if err := disk.Sync(); err != nil {
		log.Printf("kernel: final sync failed: %v", err)
	}
	if *profilePath != "" {
		if err := writeProfile(table, *profilePath); err != nil {
			log.Printf("kernel: writing profile: %v", err)
		}
	}
	log.Printf("kernel: init exited with status %d, shutting down\n", initp.ExitStatus)
}

// writeProfile snapshots every process's accumulated user/sys time into a
// pprof profile, viewable with `go tool pprof -top`.
func writeProfile(t *proc.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return profexport.WriteTo(t, f)
}

// waitForShutdown polls until the init process becomes a zombie. A real
// kernel's scheduler loops never return; this hosted build exits the
// process once the demo workload completes so it is usable as a
// one-shot CLI rather than a daemon.
func waitForShutdown(t *proc.Table, initp *proc.Proc) {
	for {
		initp.Lock()
		done := initp.State() == proc.Zombie
		initp.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// stdinLoop feeds each byte typed at the host terminal through the
// console's line discipline and raises the UART IRQ the real PLIC would
// deliver for it (spec.md 4.9's devintr path).
func stdinLoop(con *console.Console, plic *trap.SimPlic) {
	buf := make([]byte, 1)
	for {
		n, err := stdinRead(buf)
		if err != nil {
			return
		}
		if n == 1 {
			plic.Raise(trap.IRQ_UART0)
			con.Intr(buf[0])
		}
	}
}

// deviceLoop is this hosted kernel's devintr consumer: it claims and
// completes whatever the PLIC has pending, the same claim/complete
// handshake a real trap handler performs (spec.md 4.9), on a timer
// instead of a genuine asynchronous interrupt line.
func deviceLoop(plic *trap.SimPlic) {
	for {
		time.Sleep(2 * time.Millisecond)
		if irq, isTimer := trap.Devintr(plic); !isTimer && irq != 0 {
			plic.Complete(irq)
		}
	}
}

func dumpProcs(t *proc.Table) string {
	out := "\n"
	for _, p := range t.Procs {
		p.Lock()
		if p.State() != proc.Unused {
			out += fmt.Sprintf("%d %-10s state=%d\n", p.Pid, p.Name, p.State())
		}
		p.Unlock()
	}
	return out
}
