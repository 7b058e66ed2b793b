// Package stream assembles encoded blocks into the byte stream consumed by
// the NEM command processor.
package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/tcb"
)

// Entry is one emitted task and its block.
type Entry struct {
	Task   *graph.Task
	Block  *tcb.Block
	Offset int
}

// Stream is an assembled, reset-terminated block stream.
type Stream struct {
	Entries []Entry
	buf     bytes.Buffer
	sealed  bool
}

// Assembler appends blocks in emission order.
type Assembler struct {
	s *Stream
}

// NewAssembler starts an empty stream.
func NewAssembler() *Assembler {
	return &Assembler{s: &Stream{}}
}

// Append adds the block of t. Tasks must be appended in emission order.
func (a *Assembler) Append(t *graph.Task, b *tcb.Block) error {
	if a.s.sealed {
		return fmt.Errorf("stream: append after reset marker")
	}

	if want := len(a.s.Entries); t.Position != want {
		return fmt.Errorf("stream: %s has emission position %d, expected %d", t.Label(), t.Position, want)
	}

	a.s.Entries = append(a.s.Entries, Entry{Task: t, Block: b, Offset: a.s.buf.Len()})
	a.s.buf.Write(b.AppendBinary(nil))

	return nil
}

// Finish writes the reset marker and returns the stream.
func (a *Assembler) Finish() *Stream {
	if !a.s.sealed {
		a.s.buf.Write(tcb.Reset().AppendBinary(nil))
		a.s.sealed = true
	}

	return a.s
}

// Bytes returns the encoded stream.
func (s *Stream) Bytes() []byte {
	return s.buf.Bytes()
}

// Len returns the number of task blocks, excluding the reset marker.
func (s *Stream) Len() int {
	return len(s.Entries)
}

// WriteTo implements io.WriterTo.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.buf.Bytes())
	return int64(n), err
}

// Listing renders one line per block for inspection.
func (s *Stream) Listing() string {
	var b bytes.Buffer

	for _, e := range s.Entries {
		fmt.Fprintf(&b, "%06x  %-14s %s\n", e.Offset, e.Task.Label(), e.Block)
	}

	if s.sealed {
		fmt.Fprintf(&b, "%06x  %-14s %s\n", s.buf.Len()-tcb.HeaderSize, "", tcb.Reset())
	}

	return b.String()
}
