// Package limits tracks system-wide resource limits, adapted from
// biscuit's limits package (Syslimit_t) but trimmed to the resources this
// kernel's in-scope core actually consumes: processes, open files, and
// cached blocks.
package limits

import "sync/atomic"

// Syslimit_t holds the configured ceilings for shared kernel resources.
type Syslimit_t struct {
	Sysprocs int32 // max simultaneous processes
	Nofile   int32 // max open files per process
	Ninode   int32 // size of the in-memory inode table
	Nbuf     int32 // size of the buffer cache
}

// Syslimit is the process-wide singleton, mirroring the teacher's
// package-level Syslimit var.
var Syslimit = &Syslimit_t{
	Sysprocs: 64,
	Nofile:   16,
	Ninode:   50,
	Nbuf:     30,
}

// Hits counts how many times a limit blocked an allocation, for diagnostics.
var Hits int32

func RecordHit() { atomic.AddInt32(&Hits, 1) }
