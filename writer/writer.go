// Package writer is the terminal side of a streamed response: it keeps a
// spinner going until the first byte arrives and then gets out of the way.
package writer

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/blixt/llama-stream/spinner"
)

const (
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
)

type Writer struct {
	out         io.Writer
	interactive bool

	mu      sync.Mutex
	spinner *spinner.Spinner
	cursor  bool // cursor hidden by us
}

// New wraps out. Spinners and cursor handling only happen when out is a
// terminal; otherwise the Writer is a plain pass-through.
func New(out io.Writer) *Writer {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Writer{out: out, interactive: interactive}
}

// Start hides the cursor and shows a spinner with label until the first
// Write.
func (w *Writer) Start(label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.interactive || w.spinner != nil {
		return
	}
	fmt.Fprint(w.out, hideCursor)
	w.cursor = true
	w.spinner = spinner.Dots1.New(w.out)
	w.spinner.SetLabel(label)
	w.spinner.Start()
}

func (w *Writer) stopSpinner() {
	if w.spinner != nil {
		w.spinner.Stop()
		w.spinner = nil
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopSpinner()
	return w.out.Write(p)
}

// Close stops the spinner if nothing was written and restores the cursor.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopSpinner()
	if w.cursor {
		w.cursor = false
		_, err := fmt.Fprint(w.out, showCursor)
		return err
	}
	return nil
}
