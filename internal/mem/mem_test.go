package mem

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	phys := NewPhysmem(8, 1)
	idx, pg, ok := phys.AllocPage(0)
	if !ok {
		t.Fatal("expected a page")
	}
	for _, b := range pg {
		if b != allocFill {
			t.Fatalf("freshly allocated page not poisoned with allocFill, got %x", b)
		}
	}
	phys.FreePage(idx, 0)
	if got := phys.Freecount(0); got != 8 {
		t.Fatalf("freecount after single alloc+free = %d, want 8", got)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	phys := NewPhysmem(4, 1)
	idx, _, _ := phys.AllocPage(0)
	phys.FreePage(idx, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on double free")
		}
	}()
	phys.FreePage(idx, 0)
}

func TestStealFromOtherCPU(t *testing.T) {
	phys := NewPhysmem(2, 2)
	// All pages start on cpu 0; cpu 1 must steal.
	if c := phys.Freecount(1); c != 0 {
		t.Fatalf("cpu 1 should start empty, has %d", c)
	}
	idx, _, ok := phys.AllocPage(1)
	if !ok {
		t.Fatal("expected cpu 1 to steal a page from cpu 0")
	}
	phys.FreePage(idx, 1)
	if c := phys.Freecount(1); c != 1 {
		t.Fatalf("freed page should land on cpu 1's own list, freecount=%d", c)
	}
}

func TestExhaustionReturnsFalse(t *testing.T) {
	phys := NewPhysmem(1, 1)
	if _, _, ok := phys.AllocPage(0); !ok {
		t.Fatal("first alloc should succeed")
	}
	if _, _, ok := phys.AllocPage(0); ok {
		t.Fatal("second alloc on a 1-page pool should fail")
	}
}
