package main

import (
	"bufio"
	"os"
)

// stdioUART satisfies console.UART by writing to the host's stdout,
// standing in for the real ns16550 UART transmit register
// (spec.md's external UART collaborator).
type stdioUART struct {
	w *bufio.Writer
}

func newStdioUART() *stdioUART {
	u := &stdioUART{w: bufio.NewWriter(os.Stdout)}
	return u
}

func (u *stdioUART) PutcSync(c byte) {
	u.w.WriteByte(c)
	if c == '\n' {
		u.w.Flush()
	}
}

// stdinRead reads one byte from the host's stdin, standing in for the
// real UART's receive-data-ready interrupt source.
func stdinRead(buf []byte) (int, error) {
	return os.Stdin.Read(buf)
}
