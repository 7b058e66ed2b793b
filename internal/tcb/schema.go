package tcb

import (
	"fmt"
	"sort"

	semver "github.com/Masterminds/semver/v3"

	"github.com/nem-lang/nembind/internal/device"
	"github.com/nem-lang/nembind/internal/graph"
)

// Operand is a region together with its absolute device address.
type Operand struct {
	Addr   uint32
	Region *graph.Region
}

// Request is everything a schema may use to produce register writes.
type Request struct {
	Task    *graph.Task
	Inputs  []Operand
	Outputs []Operand
	Policy  device.Policy
}

// Attr returns a task attribute, or def when absent.
func (r *Request) Attr(name string, def int64) int64 {
	if v, ok := r.Task.Attrs[name]; ok {
		return v
	}

	return def
}

// EncodeFunc is a pure register schema: the same request always yields the
// same pairs.
type EncodeFunc func(req *Request) ([]Pair, error)

// Key selects a schema.
type Key struct {
	Unit   graph.UnitType
	Opcode string
}

func (k Key) String() string { return string(k.Unit) + "/" + k.Opcode }

// Registry is a closed table of schemas with the ISA range it was written for.
type Registry struct {
	constraint *semver.Constraints
	schemas    map[Key]EncodeFunc
}

// NewRegistry creates an empty registry valid for the given ISA constraint.
func NewRegistry(isa string) (*Registry, error) {
	c, err := semver.NewConstraint(isa)
	if err != nil {
		return nil, fmt.Errorf("tcb: isa constraint %q: %w", isa, err)
	}

	return &Registry{constraint: c, schemas: make(map[Key]EncodeFunc)}, nil
}

// Register adds a schema. Registering the same key twice panics; the table
// is assembled once at start-up.
func (r *Registry) Register(unit graph.UnitType, opcode string, fn EncodeFunc) {
	k := Key{Unit: unit, Opcode: opcode}
	if _, dup := r.schemas[k]; dup {
		panic(fmt.Sprintf("tcb: schema %s registered twice", k))
	}

	r.schemas[k] = fn
}

// Lookup returns the schema for (unit, opcode).
func (r *Registry) Lookup(unit graph.UnitType, opcode string) (EncodeFunc, bool) {
	fn, ok := r.schemas[Key{Unit: unit, Opcode: opcode}]
	return fn, ok
}

// Keys lists the registered schemas in a stable order.
func (r *Registry) Keys() []Key {
	out := make([]Key, 0, len(r.schemas))
	for k := range r.schemas {
		out = append(out, k)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}

		return out[i].Opcode < out[j].Opcode
	})

	return out
}

// Constraint returns the ISA range the schemas target.
func (r *Registry) Constraint() *semver.Constraints {
	return r.constraint
}

// Supports reports whether the device ISA is within the registry's range.
func (r *Registry) Supports(dev *device.Device) error {
	return dev.CheckISA(r.constraint)
}
