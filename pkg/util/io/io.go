// Package io contains wrappers around net.Conn halves that count traffic and
// apply per-call deadlines.
package io

import (
	"io"
	"sync/atomic"
	"time"
)

// Stat represents statistics about underlying io.{Reader,Writer} usage.
type Stat struct {
	Bytes uint64 // Bytes sent/read from underlying object.
	Calls uint64 // Read/Write calls made to the underlying object.
}

// Reader counts bytes read from the underlying reader.
// Underlying reader should not be *bufio.Reader.
// Stat may be called concurrently with Read.
type Reader struct {
	r     io.Reader
	bytes uint64
	calls uint64
}

// WrapReader wraps r into Reader to calculate usage stats of r.
func WrapReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read implements io.Reader interface.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	atomic.AddUint64(&r.bytes, uint64(n))
	atomic.AddUint64(&r.calls, 1)

	return n, err
}

// Stat returns underlying io.Reader usage statistics.
func (r *Reader) Stat() Stat {
	return Stat{
		Bytes: atomic.LoadUint64(&r.bytes),
		Calls: atomic.LoadUint64(&r.calls),
	}
}

// Writer counts bytes written to the underlying writer.
// Stat may be called concurrently with Write.
type Writer struct {
	w     io.Writer
	bytes uint64
	calls uint64
}

// WrapWriter wraps w into Writer to calculate usage stats of w.
func WrapWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	atomic.AddUint64(&w.bytes, uint64(n))
	atomic.AddUint64(&w.calls, 1)

	return n, err
}

// Stat returns underlying io.Writer usage statistics.
func (w *Writer) Stat() Stat {
	return Stat{
		Bytes: atomic.LoadUint64(&w.bytes),
		Calls: atomic.LoadUint64(&w.calls),
	}
}

// DeadlineWriter describes object that could prepare io.Writer methods with
// some deadline.
type DeadlineWriter interface {
	io.Writer
	SetWriteDeadline(time.Time) error
}

// DeadlineReader describes object that could prepare io.Reader methods with
// some deadline.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// TimeoutWriter sets write deadline on each Write() call.
// Zero Timeout leaves the deadline untouched.
type TimeoutWriter struct {
	Dest    DeadlineWriter
	Timeout time.Duration
}

// Write implements io.Writer interface.
func (w TimeoutWriter) Write(p []byte) (int, error) {
	if w.Timeout > 0 {
		if err := w.Dest.SetWriteDeadline(time.Now().Add(w.Timeout)); err != nil {
			return 0, err
		}
	}

	return w.Dest.Write(p)
}

// TimeoutReader sets read deadline on each Read() call. It is useful as
// source for bufio.Reader, when you do not exactly know when Read() will
// occur, but want to bound every such call.
// Zero Timeout leaves the deadline untouched.
type TimeoutReader struct {
	Dest    DeadlineReader
	Timeout time.Duration
}

// Read implements io.Reader interface.
func (r TimeoutReader) Read(p []byte) (int, error) {
	if r.Timeout > 0 {
		if err := r.Dest.SetReadDeadline(time.Now().Add(r.Timeout)); err != nil {
			return 0, err
		}
	}

	return r.Dest.Read(p)
}
