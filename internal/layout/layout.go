// Package layout places the program's static buffers inside the memory
// levels of the device and resolves the absolute addresses of regions.
// Placement is first-fit in declaration order with per-buffer alignment;
// the padding inserted for alignment is recorded for reporting.
package layout

import (
	"fmt"
	"strings"

	"github.com/nem-lang/nembind/internal/device"
	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
)

// PaddingInfo represents padding bytes inserted for alignment.
type PaddingInfo struct {
	Offset int64  // Offset where padding starts
	Size   int64  // Number of padding bytes
	Reason string // Buffer whose alignment required the padding
}

// LevelLayout is the placement of all buffers of one memory level.
type LevelLayout struct {
	Level      graph.MemoryLevel
	Base       uint32
	Capacity   int64
	Used       int64
	Buffers    []*graph.Buffer
	PaddingMap []PaddingInfo
}

// Plan is the placement of every buffer of a graph.
type Plan struct {
	Levels map[graph.MemoryLevel]*LevelLayout
}

// Place assigns Base to every buffer of g. A level missing from the device
// table, or a level whose buffers do not fit, is a structural error.
func Place(g *graph.Graph, dev *device.Device) (*Plan, error) {
	plan := &Plan{Levels: make(map[graph.MemoryLevel]*LevelLayout)}

	for _, b := range g.Buffers {
		ll, err := plan.level(b, dev)
		if err != nil {
			return nil, err
		}

		align := b.Align
		if align <= 0 {
			align = 1
		}

		if !isPowerOfTwo(align) {
			return nil, berr.Structural("BAD_ALIGNMENT",
				fmt.Sprintf("buffer %s: alignment must be a power of 2, got %d", b.Name, align),
				map[string]interface{}{"buffer": b.Name, "location": b.Location})
		}

		base := alignUp(ll.Used, align)
		if pad := base - ll.Used; pad > 0 {
			ll.PaddingMap = append(ll.PaddingMap, PaddingInfo{Offset: ll.Used, Size: pad, Reason: b.Name})
		}

		if base+b.Size > ll.Capacity {
			return nil, berr.Structural("LEVEL_OVERFLOW",
				fmt.Sprintf("buffer %s (%d bytes at %d) exceeds %s capacity of %d bytes", b.Name, b.Size, base, ll.Level, ll.Capacity),
				map[string]interface{}{"buffer": b.Name, "level": string(ll.Level), "size": b.Size, "location": b.Location})
		}

		b.Base = base
		b.Placed = true
		ll.Used = base + b.Size
		ll.Buffers = append(ll.Buffers, b)
	}

	return plan, nil
}

func (p *Plan) level(b *graph.Buffer, dev *device.Device) (*LevelLayout, error) {
	if ll, ok := p.Levels[b.Level]; ok {
		return ll, nil
	}

	m, ok := dev.Level(b.Level)
	if !ok {
		return nil, berr.Structural("UNKNOWN_LEVEL",
			fmt.Sprintf("buffer %s: device %s has no %s memory", b.Name, dev.Name, b.Level),
			map[string]interface{}{"buffer": b.Name, "level": string(b.Level), "location": b.Location})
	}

	ll := &LevelLayout{Level: b.Level, Base: m.Base, Capacity: m.Size}
	p.Levels[b.Level] = ll

	return ll, nil
}

// Address returns the absolute device address of a region:
// level base + buffer base + region offset.
func Address(dev *device.Device, r *graph.Region) (uint32, error) {
	b := r.Buffer
	if !b.Placed {
		return 0, fmt.Errorf("buffer %s has not been placed", b.Name)
	}

	m, ok := dev.Level(b.Level)
	if !ok {
		return 0, fmt.Errorf("device %s has no %s memory", dev.Name, b.Level)
	}

	addr := int64(m.Base) + b.Base + r.Offset
	if addr < 0 || addr+r.Extent > 1<<32 {
		return 0, fmt.Errorf("region %s at 0x%x does not fit a 32-bit address", r.Name, addr)
	}

	return uint32(addr), nil
}

// GetPaddingBytes returns the total number of padding bytes in the level.
func (ll *LevelLayout) GetPaddingBytes() int64 {
	var total int64
	for _, pad := range ll.PaddingMap {
		total += pad.Size
	}

	return total
}

// GetEfficiencyRatio returns the ratio of buffer bytes to bytes consumed.
func (ll *LevelLayout) GetEfficiencyRatio() float64 {
	if ll.Used == 0 {
		return 1.0
	}

	return float64(ll.Used-ll.GetPaddingBytes()) / float64(ll.Used)
}

func (ll *LevelLayout) String() string {
	return fmt.Sprintf("%s @0x%08x (%d buffers, %d/%d bytes, %d padding, %.1f%% efficiency)",
		ll.Level, ll.Base, len(ll.Buffers), ll.Used, ll.Capacity, ll.GetPaddingBytes(), ll.GetEfficiencyRatio()*100)
}

func (p *Plan) String() string {
	var b strings.Builder

	for _, level := range graph.Levels {
		if ll, ok := p.Levels[level]; ok {
			b.WriteString(ll.String())
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// isPowerOfTwo checks if a number is a power of 2
func isPowerOfTwo(n int64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// alignUp rounds up to the next multiple of alignment
func alignUp(value, alignment int64) int64 {
	if alignment <= 1 {
		return value
	}

	return (value + alignment - 1) & ^(alignment - 1)
}
