package config

import (
	"path/filepath"
	"testing"

	"os"
)

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	if err := os.WriteFile(path, []byte("nhart: 1\ndisk_image: test.img\n"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NHart != 1 {
		t.Fatalf("NHart = %d, want 1", c.NHart)
	}
	if c.DiskImage != "test.img" {
		t.Fatalf("DiskImage = %q, want %q", c.DiskImage, "test.img")
	}
	want := Default()
	if c.NBuf != want.NBuf || c.LogBlocks != want.LogBlocks || c.NInode != want.NInode || c.NBlocks != want.NBlocks {
		t.Fatalf("fields omitted from the YAML must keep their defaults: got %+v", c)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nosuchfile.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if c != Default() {
		t.Fatalf("on error, Load should still return Default(): got %+v", c)
	}
}
