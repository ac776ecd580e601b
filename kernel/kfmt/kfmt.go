// Package kfmt provides formatted output for the kernel. Output produced
// before a console or tty driver registers an output sink is captured in a
// ring buffer and replayed once a sink attaches.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer buffers Printf output generated before an output
	// sink is registered, e.g. the memory-map report printed while the
	// frame table bootstraps.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While it
	// is nil, output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any data
// accumulated in the early print buffer into it. Passing nil detaches the
// current sink and sends future output back to the buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats its arguments and writes the result to the registered output
// sink, or to the early print buffer when no sink is attached yet.
func Printf(format string, args ...interface{}) {
	w := outputSink
	if w == nil {
		w = &earlyPrintBuffer
	}

	fmt.Fprintf(w, format, args...)
}
