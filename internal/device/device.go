// Package device loads the NEM device capability table consumed by the
// binder: unit counts, bindable unit types, memory levels, the sync-tag pool
// width and the encoder policy.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	semver "github.com/Masterminds/semver/v3"

	"github.com/nem-lang/nembind/internal/graph"
)

// MaxTagWidth is the width of the wait/produce masks in a TCB header.
const MaxTagWidth = 32

// MemoryRegion is the address window of one memory level.
type MemoryRegion struct {
	Base uint32 `json:"base"`
	Size int64  `json:"size"`
}

// Policy carries encoder choices that are fixed per device.
type Policy struct {
	BurstMode   uint32            `json:"burst_mode"`
	BankSelect  uint32            `json:"bank_select"`
	Arbitration uint32            `json:"arbitration"`
	StoreFormat graph.ElementType `json:"store_format,omitempty"`
}

// Device is the capability table for one NEM configuration.
type Device struct {
	Name       string                             `json:"name"`
	ISAVersion string                             `json:"isa_version"`
	UnitCounts map[graph.UnitType]int             `json:"unit_counts"`
	Bindable   []graph.UnitType                   `json:"bindable,omitempty"`
	Memory     map[graph.MemoryLevel]MemoryRegion `json:"memory"`
	TagWidth   int                                `json:"tag_width"`
	Policy     Policy                             `json:"policy"`

	isa *semver.Version
}

// DefaultBindable are the unit types accepted as @resource targets when the
// table does not list them explicitly.
var DefaultBindable = []graph.UnitType{graph.UnitNMU, graph.UnitCSTL, graph.UnitDMA, graph.UnitVPU}

// Parse decodes and validates a device table.
func Parse(data []byte) (*Device, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	d := new(Device)
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("parse device: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// Load reads a device table from disk.
func Load(path string) (*Device, error) {
	clean := filepath.Clean(path)

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read device: %w", err)
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}

	return d, nil
}

// Validate applies the device conformance rules and fills defaults.
func (d *Device) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("device: name is required")
	}

	v, err := semver.NewVersion(d.ISAVersion)
	if err != nil {
		return fmt.Errorf("device %s: isa_version %q: %w", d.Name, d.ISAVersion, err)
	}

	d.isa = v

	if d.TagWidth < 1 || d.TagWidth > MaxTagWidth {
		return fmt.Errorf("device %s: tag_width must be in 1..%d, got %d", d.Name, MaxTagWidth, d.TagWidth)
	}

	for _, u := range sortedUnits(d.UnitCounts) {
		if !u.Valid() {
			return fmt.Errorf("device %s: unknown unit type %q", d.Name, u)
		}

		if n := d.UnitCounts[u]; n < 0 || n > 256 {
			return fmt.Errorf("device %s: unit_counts[%s] must be in 0..256, got %d", d.Name, u, n)
		}
	}

	for _, u := range d.Bindable {
		if !u.Valid() {
			return fmt.Errorf("device %s: unknown bindable unit type %q", d.Name, u)
		}

		if u.Control() {
			return fmt.Errorf("device %s: bindable lists control unit type %s", d.Name, u)
		}
	}

	if len(d.Bindable) == 0 {
		d.Bindable = append([]graph.UnitType(nil), DefaultBindable...)
	}

	for level := range d.Memory {
		if !level.Valid() {
			return fmt.Errorf("device %s: unknown memory level %q", d.Name, level)
		}
	}

	for _, level := range graph.Levels {
		m, ok := d.Memory[level]
		if !ok {
			continue
		}

		if m.Size <= 0 {
			return fmt.Errorf("device %s: memory size of %s must be positive", d.Name, level)
		}

		if int64(m.Base)+m.Size > 1<<32 {
			return fmt.Errorf("device %s: memory level %s exceeds the 32-bit address space", d.Name, level)
		}
	}

	if d.Policy.StoreFormat != "" && !d.Policy.StoreFormat.Valid() {
		return fmt.Errorf("device %s: unknown store_format %q", d.Name, d.Policy.StoreFormat)
	}

	return nil
}

// ISA returns the parsed isa_version.
func (d *Device) ISA() *semver.Version {
	if d.isa == nil {
		d.isa, _ = semver.NewVersion(d.ISAVersion)
	}

	return d.isa
}

// CheckISA reports whether the device ISA satisfies the constraint.
func (d *Device) CheckISA(constraint *semver.Constraints) error {
	v := d.ISA()
	if v == nil {
		return fmt.Errorf("device %s: invalid isa_version %q", d.Name, d.ISAVersion)
	}

	if ok, errs := constraint.Validate(v); !ok {
		msg := fmt.Sprintf("device %s: isa %s does not satisfy %s", d.Name, v, constraint)
		if len(errs) > 0 {
			msg += ": " + errs[0].Error()
		}

		return fmt.Errorf("%s", msg)
	}

	return nil
}

// Count returns the number of instances of a unit type and whether the table
// lists it at all.
func (d *Device) Count(u graph.UnitType) (int, bool) {
	n, ok := d.UnitCounts[u]
	return n, ok
}

// IsBindable reports whether u may carry an explicit resource index.
// Control unit types are never bindable.
func (d *Device) IsBindable(u graph.UnitType) bool {
	if u.Control() {
		return false
	}

	for _, b := range d.Bindable {
		if b == u {
			return true
		}
	}

	return false
}

// Level returns the address window of a memory level.
func (d *Device) Level(l graph.MemoryLevel) (MemoryRegion, bool) {
	m, ok := d.Memory[l]
	return m, ok
}

// WithTagWidth returns a copy of d with a different tag pool width.
func (d *Device) WithTagWidth(w int) (*Device, error) {
	c := *d
	c.TagWidth = w

	if w < 1 || w > MaxTagWidth {
		return nil, fmt.Errorf("device %s: tag_width must be in 1..%d, got %d", d.Name, MaxTagWidth, w)
	}

	return &c, nil
}

func sortedUnits(m map[graph.UnitType]int) []graph.UnitType {
	out := make([]graph.UnitType, 0, len(m))
	for u := range m {
		out = append(out, u)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
