package virtio

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
)

func openTestDisk(t *testing.T, nblocks int) *Disk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, nblocks)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRwWriteThenReadRoundTrip(t *testing.T) {
	d := openTestDisk(t, 4)

	want := bytes.Repeat([]byte{0xab}, BSIZE)
	if err := d.Rw(1, want, true); err != 0 {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, BSIZE)
	if err := d.Rw(1, got, false); err != 0 {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back %x, want %x", got[:4], want[:4])
	}
}

func TestRwRejectsUndersizedBuffer(t *testing.T) {
	d := openTestDisk(t, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a non-block-sized buffer")
		}
	}()
	d.Rw(0, make([]byte, BSIZE-1), false)
}

func TestConcurrentRequestsAllComplete(t *testing.T) {
	d := openTestDisk(t, NUM*2)

	var wg sync.WaitGroup
	for i := 0; i < NUM*2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := bytes.Repeat([]byte{byte(i)}, BSIZE)
			if err := d.Rw(i, buf, true); err != 0 {
				t.Errorf("write block %d: %v", i, err)
			}
			back := make([]byte, BSIZE)
			if err := d.Rw(i, back, false); err != 0 {
				t.Errorf("read block %d: %v", i, err)
			}
			if !bytes.Equal(back, buf) {
				t.Errorf("block %d: got %x want %x", i, back[:4], buf[:4])
			}
		}()
	}
	wg.Wait()
}

func TestSecondOpenOnSameImageIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if _, err := Open(path, 2); err == nil {
		t.Fatal("expected the second Open of a locked image to fail")
	}
}
