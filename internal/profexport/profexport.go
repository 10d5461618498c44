// Package profexport turns a live process table's per-process accounting
// (internal/accnt) into a pprof profile, the "D_PROF" exporter
// internal/accnt's doc comment anticipates: a snapshot of user/system time
// per process, in the same format `go tool pprof` already knows how to
// render as a flame graph or top list.
package profexport

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/symbol23441/unix-xv6/internal/proc"
)

// Build walks t's live processes and returns a profile with two sample
// types (user-ns, sys-ns), one sample per process, labeled by pid and name.
func Build(t *proc.Table) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "process", Unit: "count"},
		Period:     1,
	}

	// One synthetic location/function per process name so pprof's UI has
	// something to group samples by; this kernel has no call stacks to
	// sample, only per-process accounting totals.
	fnByName := map[string]*profile.Function{}
	var nextID uint64 = 1

	for _, pr := range t.Procs {
		pr.Lock()
		if pr.State() == proc.Unused {
			pr.Unlock()
			continue
		}
		name := pr.Name
		pid := pr.Pid
		userns, sysns := pr.Accnt.Snapshot()
		pr.Unlock()

		fn, ok := fnByName[name]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: name}
			nextID++
			fnByName[name] = fn
			p.Function = append(p.Function, fn)
		}
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		nextID++
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"pid": {itoa(pid)}},
		})
	}
	return p
}

// WriteTo serializes a fresh snapshot of t to w in pprof's gzipped proto
// format.
func WriteTo(t *proc.Table, w io.Writer) error {
	return Build(t).Write(w)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
