// Package console implements the UART-backed kernel console: an input
// ring buffer with line editing (^H backspace, ^U kill-line, ^P
// process-list dump) and a writer that flushes to the host terminal,
// grounded on original_source/kernel/console.c. No teacher source exists
// for this (biscuit boots with its own earlyboot console, not part of
// the retrieval pack), so the implementation otherwise follows the
// teacher's style of a small struct with an embedded mutex plus
// accessor-style methods (bio.Cache, accnt.Accnt_t).
package console

import (
	"sync"

	"golang.org/x/text/encoding/charmap"

	"github.com/symbol23441/unix-xv6/internal/defs"
	"github.com/symbol23441/unix-xv6/internal/proc"
)

// INPUTBUF matches original_source/kernel/console.c's 128-byte ring.
const INPUTBUF = 128

const (
	ctrlH = 'H' - '@'
	ctrlU = 'U' - '@'
	ctrlD = 'D' - '@'
	ctrlP = 'P' - '@'
)

// UART is the minimal transmit boundary this package needs from the real
// serial line (spec.md's external UART collaborator); received bytes
// arrive through Console.Intr instead.
type UART interface {
	PutcSync(c byte)
}

// Console is the line-disciplined input buffer plus output path.
type Console struct {
	mu sync.Mutex

	buf             [INPUTBUF]byte
	r, w, e         uint32 // read, write, edit indices (console.c's r/w/e)
	readWaitingChan int    // sleep/wakeup token for a pending read

	uart    UART
	decoder *charmap.Charmap // translates raw UART bytes before echo/storage
	table   *proc.Table
	dumpCB  func() string // invoked on ^P, returns a process-list dump
}

func New(uart UART, t *proc.Table) *Console {
	return &Console{uart: uart, decoder: charmap.ISO8859_1, table: t}
}

// SetDumpHook installs the ^P diagnostic callback (wired to the process
// table by cmd/kernel).
func (c *Console) SetDumpHook(fn func() string) { c.dumpCB = fn }

// Intr is called once per received byte, applying the line-discipline
// rules before storing it in the input ring (console.c's consoleintr).
func (c *Console) Intr(raw byte) {
	ch, _ := c.decoder.NewDecoder().Bytes([]byte{raw})
	b := raw
	if len(ch) > 0 {
		b = ch[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch b {
	case ctrlP:
		if c.dumpCB != nil {
			for _, r := range []byte(c.dumpCB()) {
				c.putc(r)
			}
		}
	case ctrlU:
		for c.e != c.w && c.buf[(c.e-1)%INPUTBUF] != '\n' {
			c.e--
			c.putc('\b')
			c.putc(' ')
			c.putc('\b')
		}
	case ctrlH, 0x7f:
		if c.e != c.w {
			c.e--
			c.putc('\b')
			c.putc(' ')
			c.putc('\b')
		}
	default:
		if b != 0 && c.e-c.r < INPUTBUF {
			cr := b
			if cr == '\r' {
				cr = '\n'
			}
			c.putc(cr)
			c.buf[c.e%INPUTBUF] = cr
			c.e++
			if cr == '\n' || cr == ctrlD || c.e == c.r+INPUTBUF {
				c.w = c.e
				proc.Wakeup(c.table, &c.readWaitingChan)
			}
		}
	}
}

func (c *Console) putc(b byte) { c.uart.PutcSync(b) }

// Read copies up to n bytes of completed input lines to dst, blocking
// until at least one full line (or ^D) is available (console.c's
// consoleread).
func (c *Console) Read(p *proc.Proc, dst []byte, n int) (int, defs.Err_t) {
	c.mu.Lock()
	target := n
	got := 0
	for got < target {
		for c.r == c.w {
			if p.Killed() {
				c.mu.Unlock()
				return got, -defs.EIO
			}
			proc.Sleep(p, &c.readWaitingChan, &c.mu)
		}
		ch := c.buf[c.r%INPUTBUF]
		c.r++
		if ch == ctrlD {
			if got == 0 {
				got = -1
			}
			break
		}
		dst[got] = ch
		got++
		if ch == '\n' {
			break
		}
	}
	c.mu.Unlock()
	if got < 0 {
		return 0, 0
	}
	return got, 0
}

// Write sends src to the UART one byte at a time (console.c's consolewrite).
func (c *Console) Write(src []byte) (int, defs.Err_t) {
	for _, b := range src {
		c.uart.PutcSync(b)
	}
	return len(src), 0
}
