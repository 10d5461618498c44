package accnt

import "testing"

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(30)

	u, s := a.Snapshot()
	if u != 150 {
		t.Fatalf("Userns = %d, want 150", u)
	}
	if s != 30 {
		t.Fatalf("Sysns = %d, want 30", s)
	}
}

func TestAddMergesChildIntoParent(t *testing.T) {
	var parent, child Accnt_t
	parent.Utadd(10)
	parent.Systadd(5)
	child.Utadd(100)
	child.Systadd(20)

	parent.Add(&child)

	u, s := parent.Snapshot()
	if u != 110 {
		t.Fatalf("Userns = %d, want 110", u)
	}
	if s != 25 {
		t.Fatalf("Sysns = %d, want 25", s)
	}
	// the child's own counters must be unaffected by being merged into the parent.
	cu, cs := child.Snapshot()
	if cu != 100 || cs != 20 {
		t.Fatalf("child counters changed by Add: got (%d, %d)", cu, cs)
	}
}

func TestFinishAddsElapsedTimeToSysns(t *testing.T) {
	var a Accnt_t
	start := a.Now()
	a.Finish(start)

	_, s := a.Snapshot()
	if s < 0 {
		t.Fatalf("Sysns = %d, want >= 0", s)
	}
}
