// Package config loads the kernel's boot configuration (disk image path,
// hart count, buffer-cache size, log size) from YAML, adapted from the
// tinyrange-cc example's use of gopkg.in/yaml.v3 for its own run
// configuration (spec.md's ambient configuration stack has no direct
// teacher precedent -- biscuit's boot config is compiled-in constants).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level boot configuration document.
type Config struct {
	DiskImage string `yaml:"disk_image"`
	NHart     int    `yaml:"nhart"`
	NBuf      int    `yaml:"nbuf"`
	LogBlocks int    `yaml:"log_blocks"`
	NInode    int    `yaml:"ninode"`
	NBlocks   int    `yaml:"nblocks"`
}

// Default matches the sizing original_source/kernel/param.h and fs.h use
// for the reference filesystem image (1000 blocks, 30 buffers).
func Default() Config {
	return Config{
		DiskImage: "fs.img",
		NHart:     3,
		NBuf:      30,
		LogBlocks: 30,
		NInode:    50,
		NBlocks:   1000,
	}
}

// Load reads and merges a YAML document on top of Default(), leaving any
// field the file omits at its default value.
func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}
