package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// ttyRenderer writes terminal output straight to stdout. Completion is
// synchronous: stdout writes finish before the callback runs.
type ttyRenderer struct {
	fd int
}

func newTTYRenderer() *ttyRenderer {
	return &ttyRenderer{fd: int(os.Stdin.Fd())}
}

func (r *ttyRenderer) Write(p []byte, done func()) {
	_, _ = os.Stdout.Write(p)
	if done != nil {
		done()
	}
}

func (r *ttyRenderer) Reset() {
	fmt.Fprint(os.Stdout, "\x1b[2J\x1b[H")
}

func (r *ttyRenderer) Focus() {}

func (r *ttyRenderer) Size() (cols, rows int) {
	cols, rows, err := term.GetSize(r.fd)
	if err != nil {
		return 0, 0
	}
	return cols, rows
}

func (r *ttyRenderer) width() int {
	cols, _ := r.Size()
	return cols
}
