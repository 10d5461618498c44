package trap

import "testing"

func TestDevintrClassifiesRaisedIRQ(t *testing.T) {
	p := NewSimPlic()
	p.Raise(IRQ_UART0)

	irq, isTimer := Devintr(p)
	if isTimer {
		t.Fatal("expected a device interrupt, got the timer case")
	}
	if irq != IRQ_UART0 {
		t.Fatalf("irq = %d, want %d", irq, IRQ_UART0)
	}
}

func TestDevintrReportsTimerWhenNothingPending(t *testing.T) {
	p := NewSimPlic()

	irq, isTimer := Devintr(p)
	if !isTimer {
		t.Fatal("expected the timer case with nothing claimed")
	}
	if irq != 0 {
		t.Fatalf("irq = %d, want 0", irq)
	}
}

func TestSimPlicClaimsInFIFOOrder(t *testing.T) {
	p := NewSimPlic()
	p.Raise(IRQ_VIRTIO0)
	p.Raise(IRQ_UART0)

	if got := p.Claim(); got != IRQ_VIRTIO0 {
		t.Fatalf("first claim = %d, want %d", got, IRQ_VIRTIO0)
	}
	if got := p.Claim(); got != IRQ_UART0 {
		t.Fatalf("second claim = %d, want %d", got, IRQ_UART0)
	}
	if got := p.Claim(); got != 0 {
		t.Fatalf("claim with nothing pending = %d, want 0", got)
	}
}

func TestSimClintTickIsMonotonic(t *testing.T) {
	c := NewSimClint()
	if c.Time() != 0 {
		t.Fatalf("fresh clint Time() = %d, want 0", c.Time())
	}
	a := c.Tick()
	b := c.Tick()
	if b != a+1 {
		t.Fatalf("Tick() not monotonic: a=%d b=%d", a, b)
	}
	if c.Time() != b {
		t.Fatalf("Time() = %d, want %d", c.Time(), b)
	}
}
