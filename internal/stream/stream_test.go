package stream

import (
	"bytes"
	"testing"

	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/tcb"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func TestAssembleTerminatesWithReset(t *testing.T) {
	a := NewAssembler()

	t0 := &graph.Task{Name: "a", Iter: -1, Position: 0}
	t1 := &graph.Task{Name: "b", Iter: -1, Position: 1}
	b0 := &tcb.Block{Header: tcb.Header{TaskID: 0x04000000, Count: 1, Produce: 1}, Pairs: []tcb.Pair{{Addr: 0x300, Value: 7}}}
	b1 := &tcb.Block{Header: tcb.Header{TaskID: 0x04000001, Wait: 1}}

	assert.NoError(t, a.Append(t0, b0))
	assert.NoError(t, a.Append(t1, b1))

	s := a.Finish()
	assert.Equal(t, s.Len(), 2)
	assert.Equal(t, s.Entries[1].Offset, 24)
	assert.Len(t, s.Bytes(), 24+16+16)

	blocks, err := tcb.DecodeStream(s.Bytes())
	assert.NoError(t, err)
	assert.Len(t, blocks, 3)
	assert.True(t, blocks[2].IsReset())

	var out bytes.Buffer
	n, err := s.WriteTo(&out)
	assert.NoError(t, err)
	assert.Equal(t, n, int64(56))

	assert.Contains(t, s.Listing(), "RESET")
	assert.Error(t, a.Append(&graph.Task{Position: 2}, b1))
}

func TestAppendChecksEmissionOrder(t *testing.T) {
	a := NewAssembler()
	err := a.Append(&graph.Task{Name: "late", Iter: -1, Position: 3}, &tcb.Block{})
	assert.Error(t, err)
}

func TestEmptyStreamIsJustReset(t *testing.T) {
	s := NewAssembler().Finish()
	assert.Len(t, s.Bytes(), tcb.HeaderSize)
	assert.Equal(t, s.Len(), 0)
}
