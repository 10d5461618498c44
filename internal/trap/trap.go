// Package trap implements interrupt/exception dispatch (spec.md 4.9):
// the devintr device-interrupt classifier, and the PLIC/CLINT boundary
// as small collaborator interfaces. Real PLIC claim/complete registers
// and the CLINT's memory-mapped timer compare registers are declared
// out of scope by spec.md ("External Interfaces / Collaborators"); here
// they are modeled as Go interfaces with one simulated implementation
// each, following biscuit's style of wrapping hardware behind a small
// named interface (e.g. virtio's Disk_i) rather than raw MMIO pokes.
package trap

import "sync"

// IRQ numbers, fixed by the virt platform's PLIC wiring (spec.md
// GLOSSARY): UART0 is 10, VIRTIO0 is 1.
const (
	IRQ_UART0   = 10
	IRQ_VIRTIO0 = 1
)

// Plic is the claim/complete protocol a real platform-level interrupt
// controller exposes (spec.md 4.9's devintr contract).
type Plic interface {
	Claim() uint32
	Complete(irq uint32)
}

// SimPlic is a software PLIC: callers raise an IRQ, devintr claims and
// completes it, exactly mirroring the real claim/complete handshake
// without any MMIO.
type SimPlic struct {
	mu      sync.Mutex
	pending []uint32
}

func NewSimPlic() *SimPlic { return &SimPlic{} }

// Raise is called on behalf of a simulated device (cmd/kernel's console
// input loop) instead of asserting a physical interrupt line.
func (s *SimPlic) Raise(irq uint32) {
	s.mu.Lock()
	s.pending = append(s.pending, irq)
	s.mu.Unlock()
}

func (s *SimPlic) Claim() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0
	}
	irq := s.pending[0]
	s.pending = s.pending[1:]
	return irq
}

func (s *SimPlic) Complete(irq uint32) {}

// Clint is the CLINT's timer-compare boundary: Time reads the tick count
// and SetTimeCmp programs the next deadline (spec.md 4.9). Devintr does
// not use it.
type Clint interface {
	Time() uint64
	SetTimeCmp(hart int, when uint64)
}

// SimClint is a monotonically increasing software tick counter standing
// in for the real mtime/mtimecmp registers.
type SimClint struct {
	mu   sync.Mutex
	tick uint64
}

func NewSimClint() *SimClint { return &SimClint{} }

func (c *SimClint) Tick() uint64 {
	c.mu.Lock()
	c.tick++
	t := c.tick
	c.mu.Unlock()
	return t
}

func (c *SimClint) Time() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

func (c *SimClint) SetTimeCmp(hart int, when uint64) {}

// Devintr classifies a pending interrupt and returns which external
// device (if any) needs attention (spec.md 4.9's devintr). It returns the
// claimed IRQ number with isTimer false, or (0, true) when nothing is
// pending, which is treated as a timer tick; there is no separate result
// for an unrecognized IRQ. The caller dispatches irq to the matching device's
// Intr method itself: Devintr only resolves the IRQ number, to keep this
// package free of a virtio/console import cycle.
func Devintr(p Plic) (irq uint32, isTimer bool) {
	claimed := p.Claim()
	if claimed == 0 {
		return 0, true
	}
	return claimed, false
}
