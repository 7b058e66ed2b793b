package tcb

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
	"github.com/nem-lang/nembind/internal/testrunner/fuzz"
	"github.com/nem-lang/nembind/internal/testrunner/prop"
)

func genBlock(r *rand.Rand, size int) *Block {
	b := &Block{Header: Header{TaskID: r.Uint32() &^ 0x80000000, Wait: r.Uint32(), Produce: r.Uint32()}}

	b.Pairs = make([]Pair, r.Intn(size+1))
	for i := range b.Pairs {
		b.Pairs[i] = Pair{Addr: r.Uint32(), Value: r.Uint32()}
	}

	b.Header.Count = uint32(len(b.Pairs))

	return b
}

func TestBlockRoundTrip(t *testing.T) {
	prop.Check(t, prop.Generator[*Block](genBlock), nil, func(b *Block) bool {
		data, err := b.MarshalBinary()
		if err != nil || len(data) != b.Size() {
			return false
		}

		var got Block
		if err := got.UnmarshalBinary(data); err != nil {
			return false
		}

		if got.Header != b.Header || len(got.Pairs) != len(b.Pairs) {
			return false
		}

		for i := range b.Pairs {
			if got.Pairs[i] != b.Pairs[i] {
				return false
			}
		}

		return true
	}, prop.Options{Trials: 300, Seed: 17, Size: 24})
}

func TestLittleEndianLayout(t *testing.T) {
	b := &Block{Header: Header{TaskID: 0x03010002, Wait: 0x5, Produce: 0x8}, Pairs: []Pair{{Addr: 0x100, Value: 0xDEADBEEF}}}
	data, _ := b.MarshalBinary()

	want := []byte{
		0x02, 0x00, 0x01, 0x03,
		0x01, 0x00, 0x00, 0x00,
		0x05, 0x00, 0x00, 0x00,
		0x08, 0x00, 0x00, 0x00,
		0x00, 0x01, 0x00, 0x00,
		0xEF, 0xBE, 0xAD, 0xDE,
	}
	assert.True(t, bytes.Equal(data, want))
}

func TestTaskID(t *testing.T) {
	id, err := TaskID(graph.UnitNMU, 1, 300)
	assert.NoError(t, err)
	assert.Equal(t, id, uint32(0x0101012C))

	unit, inst, seq, ok := SplitTaskID(id)
	assert.True(t, ok)
	assert.Equal(t, unit, graph.UnitNMU)
	assert.Equal(t, inst, 1)
	assert.Equal(t, seq, 300)

	_, err = TaskID(graph.UnitVPU, 256, 0)
	assert.Error(t, err)
	_, err = TaskID(graph.UnitVPU, 0, 1<<16)
	assert.Error(t, err)
	_, err = TaskID("GPU", 0, 0)
	assert.Error(t, err)
}

func TestDecodeStream(t *testing.T) {
	a := &Block{Header: Header{TaskID: 0x04000000, Produce: 1}, Pairs: []Pair{{Addr: 1, Value: 2}}}
	b := &Block{Header: Header{TaskID: 0x04000001, Wait: 1}}

	var stream []byte
	for _, blk := range []*Block{a, b, Reset()} {
		stream = blk.AppendBinary(stream)
	}

	blocks, err := DecodeStream(stream)
	assert.NoError(t, err)
	assert.Len(t, blocks, 3)
	assert.True(t, blocks[2].IsReset())
	assert.Equal(t, blocks[0].Pairs[0], Pair{Addr: 1, Value: 2})
	assert.Equal(t, blocks[1].String(), "VPU[0]#1 wait=00000001 produce=00000000")

	_, err = DecodeStream(stream[:len(stream)-HeaderSize])
	assert.Error(t, err, "missing reset")

	_, err = DecodeStream(append(append([]byte(nil), stream...), 0))
	assert.Error(t, err, "trailing byte")

	_, err = DecodeStream(stream[:HeaderSize+4])
	assert.Error(t, err, "truncated pairs")
}

func TestResetMarker(t *testing.T) {
	data, _ := Reset().MarshalBinary()
	assert.Len(t, data, HeaderSize)
	assert.True(t, bytes.Equal(data[:4], []byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.True(t, bytes.Equal(data[4:], make([]byte, 12)))
}

func TestDecodeStreamSurvivesMutation(t *testing.T) {
	r := rand.New(rand.NewSource(11))

	var corpus [][]byte
	for i := 0; i < 4; i++ {
		var buf []byte
		for j := 0; j < 1+r.Intn(4); j++ {
			buf = genBlock(r, 6).AppendBinary(buf)
		}
		corpus = append(corpus, Reset().AppendBinary(buf))
	}

	// Whatever the decoder accepts must re-encode to the same bytes.
	target := func(data []byte) error {
		blocks, err := DecodeStream(data)
		if err != nil {
			return nil
		}

		var again []byte
		for _, b := range blocks {
			again = b.AppendBinary(again)
		}

		if !bytes.Equal(again, data) {
			return fmt.Errorf("re-encoding differs: %d vs %d bytes", len(again), len(data))
		}

		return nil
	}

	for _, mut := range []fuzz.Mutator{fuzz.ByteMutator(), fuzz.WordMutator()} {
		stats := fuzz.Run(fuzz.Options{Execs: 1500, Workers: 2, Seed: 5}, corpus, target, mut)
		assert.Equal(t, stats.Executions, 3000)
		assert.Len(t, stats.Crashes, 0, stats.Crashes)
	}
}
