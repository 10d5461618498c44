// Package stat mirrors a file's stat information, the way biscuit's stat
// package wraps a fixed-layout struct with accessor methods instead of
// exposing raw fields.
package stat

// Stat_t is the data fstat(2) reports for one inode.
type Stat_t struct {
	dev     uint
	ino     uint
	mode    uint
	nlink   uint
	size    uint
	modtime int64
}

func (s *Stat_t) Wdev(v uint)      { s.dev = v }
func (s *Stat_t) Wino(v uint)      { s.ino = v }
func (s *Stat_t) Wmode(v uint)     { s.mode = v }
func (s *Stat_t) Wnlink(v uint)    { s.nlink = v }
func (s *Stat_t) Wsize(v uint)     { s.size = v }
func (s *Stat_t) Wmodtime(v int64) { s.modtime = v }

func (s *Stat_t) Dev() uint      { return s.dev }
func (s *Stat_t) Ino() uint      { return s.ino }
func (s *Stat_t) Mode() uint     { return s.mode }
func (s *Stat_t) Nlink() uint    { return s.nlink }
func (s *Stat_t) Size() uint     { return s.size }
func (s *Stat_t) Modtime() int64 { return s.modtime }
