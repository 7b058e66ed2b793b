// Package tcb encodes tasks as hardware Task Control Blocks.
//
// A block is a 16-byte little-endian header followed by Count register
// writes of 8 bytes each:
//
//	u32 task_id   unit_code<<24 | instance<<16 | queue_seq
//	u32 count     number of register pairs
//	u32 wait      SBTS: bits that must be set before the task starts
//	u32 produce   SBTP: bits set when the task completes
//	count × (u32 addr, u32 value)
//
// A stream ends with the reset marker, a block whose task_id is 0xFFFFFFFF
// and whose other fields are zero.
package tcb

import (
	"encoding/binary"
	"fmt"

	"github.com/nem-lang/nembind/internal/graph"
)

const (
	HeaderSize = 16
	PairSize   = 8

	// ResetID is the task id of the stream terminator.
	ResetID uint32 = 0xFFFFFFFF

	MaxInstance = 0xFF
	MaxSeq      = 0xFFFF
)

// Header is the fixed part of a block.
type Header struct {
	TaskID  uint32 `json:"task_id"`
	Count   uint32 `json:"count"`
	Wait    uint32 `json:"wait"`
	Produce uint32 `json:"produce"`
}

// Pair is one register write.
type Pair struct {
	Addr  uint32 `json:"addr"`
	Value uint32 `json:"value"`
}

// Block is one encoded task.
type Block struct {
	Header Header `json:"header"`
	Pairs  []Pair `json:"pairs"`
}

// Reset returns the stream terminator block.
func Reset() *Block {
	return &Block{Header: Header{TaskID: ResetID}}
}

// IsReset reports whether b is the stream terminator.
func (b *Block) IsReset() bool {
	return b.Header.TaskID == ResetID && b.Header.Count == 0 && b.Header.Wait == 0 && b.Header.Produce == 0
}

// Size returns the encoded size of b in bytes.
func (b *Block) Size() int {
	return HeaderSize + PairSize*len(b.Pairs)
}

// AppendBinary appends the encoding of b to dst.
func (b *Block) AppendBinary(dst []byte) []byte {
	le := binary.LittleEndian

	dst = le.AppendUint32(dst, b.Header.TaskID)
	dst = le.AppendUint32(dst, uint32(len(b.Pairs)))
	dst = le.AppendUint32(dst, b.Header.Wait)
	dst = le.AppendUint32(dst, b.Header.Produce)

	for _, p := range b.Pairs {
		dst = le.AppendUint32(dst, p.Addr)
		dst = le.AppendUint32(dst, p.Value)
	}

	return dst
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Block) MarshalBinary() ([]byte, error) {
	return b.AppendBinary(make([]byte, 0, b.Size())), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. data must hold
// exactly one block.
func (b *Block) UnmarshalBinary(data []byte) error {
	blk, n, err := DecodeBlock(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return fmt.Errorf("tcb: %d trailing bytes after block", len(data)-n)
	}

	*b = *blk

	return nil
}

// DecodeBlock decodes the block at the start of data and returns the number
// of bytes consumed.
func DecodeBlock(data []byte) (*Block, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, fmt.Errorf("tcb: short header: %d bytes", len(data))
	}

	le := binary.LittleEndian
	h := Header{
		TaskID:  le.Uint32(data[0:]),
		Count:   le.Uint32(data[4:]),
		Wait:    le.Uint32(data[8:]),
		Produce: le.Uint32(data[12:]),
	}

	need := HeaderSize + PairSize*int64(h.Count)
	if int64(len(data)) < need {
		return nil, 0, fmt.Errorf("tcb: block 0x%08x declares %d pairs but only %d bytes remain", h.TaskID, h.Count, len(data))
	}

	b := &Block{Header: h, Pairs: make([]Pair, h.Count)}
	for i := range b.Pairs {
		off := HeaderSize + PairSize*i
		b.Pairs[i] = Pair{Addr: le.Uint32(data[off:]), Value: le.Uint32(data[off+4:])}
	}

	return b, int(need), nil
}

// DecodeStream splits a stream into blocks. The stream must end with exactly
// one reset marker; the marker is included as the last block.
func DecodeStream(data []byte) ([]*Block, error) {
	var out []*Block

	for off := 0; off < len(data); {
		b, n, err := DecodeBlock(data[off:])
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}

		out = append(out, b)
		off += n

		if b.Header.TaskID == ResetID {
			if !b.IsReset() {
				return nil, fmt.Errorf("offset %d: malformed reset marker", off-n)
			}

			if off != len(data) {
				return nil, fmt.Errorf("offset %d: %d bytes after reset marker", off, len(data)-off)
			}

			return out, nil
		}
	}

	return nil, fmt.Errorf("tcb: stream of %d blocks has no reset marker", len(out))
}

// TaskID packs the queue coordinates of a task.
func TaskID(unit graph.UnitType, instance, seq int) (uint32, error) {
	code, ok := unit.Code()
	if !ok {
		return 0, fmt.Errorf("tcb: unit %q has no wire code", unit)
	}

	if instance < 0 || instance > MaxInstance {
		return 0, fmt.Errorf("tcb: instance %d of %s does not fit 8 bits", instance, unit)
	}

	if seq < 0 || seq > MaxSeq {
		return 0, fmt.Errorf("tcb: queue sequence %d on %s[%d] does not fit 16 bits", seq, unit, instance)
	}

	return uint32(code)<<24 | uint32(instance)<<16 | uint32(seq), nil
}

// SplitTaskID is the inverse of TaskID.
func SplitTaskID(id uint32) (unit graph.UnitType, instance, seq int, ok bool) {
	unit, ok = graph.UnitFromCode(uint8(id >> 24))

	return unit, int(id>>16) & 0xFF, int(id & 0xFFFF), ok
}

// String renders the block in a compact, disassembly-like form.
func (b *Block) String() string {
	if b.IsReset() {
		return "RESET"
	}

	s := fmt.Sprintf("%08x", b.Header.TaskID)
	if unit, inst, seq, ok := SplitTaskID(b.Header.TaskID); ok {
		s = fmt.Sprintf("%s[%d]#%d", unit, inst, seq)
	}

	s += fmt.Sprintf(" wait=%08x produce=%08x", b.Header.Wait, b.Header.Produce)
	for _, p := range b.Pairs {
		s += fmt.Sprintf(" %04x=%08x", p.Addr, p.Value)
	}

	return s
}
