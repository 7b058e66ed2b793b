package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nem-lang/nembind/internal/position"
)

// Program is the validated, type-checked task graph handed to the binder by
// the NEM front end. All numeric fields that may depend on constants or the
// loop variable are integer expressions (see package expr).
type Program struct {
	Name    string       `json:"name"`
	Device  string       `json:"device,omitempty"`
	Consts  []ConstDecl  `json:"consts,omitempty"`
	Buffers []BufferDecl `json:"buffers"`
	Regions []RegionDecl `json:"regions,omitempty"`
	Body    []Statement  `json:"body"`
}

// ConstDecl is `const NAME = expr`. Constants are evaluated in order.
type ConstDecl struct {
	Name     string            `json:"name"`
	Value    string            `json:"value"`
	Location position.Position `json:"location,omitempty"`
}

// BufferDecl is a static allocation at a memory level. Slots > 1 declares a
// ring buffer of equally sized slots.
type BufferDecl struct {
	Name         string            `json:"name"`
	Level        MemoryLevel       `json:"level"`
	Size         string            `json:"size"`
	Align        int64             `json:"align,omitempty"`
	Slots        int               `json:"slots,omitempty"`
	Readonly     bool              `json:"readonly,omitempty"`
	Materialized bool              `json:"materialized,omitempty"`
	Location     position.Position `json:"location,omitempty"`
}

// RegionDecl is a typed view into a buffer. Inside a loop, Slot selects the
// ring slot (default "i mod K" for ring buffers) and Offset is relative to it.
type RegionDecl struct {
	Name         string            `json:"name"`
	Buffer       string            `json:"buffer"`
	Offset       string            `json:"offset,omitempty"`
	Extent       string            `json:"extent"`
	Slot         string            `json:"slot,omitempty"`
	Elem         ElementType       `json:"elem,omitempty"`
	Shape        []string          `json:"shape,omitempty"`
	Layout       string            `json:"layout,omitempty"`
	Materialized bool              `json:"materialized,omitempty"`
	Readonly     bool              `json:"readonly,omitempty"`
	Location     position.Position `json:"location,omitempty"`
}

// TaskDecl is one statement producing a task per enclosing iteration.
type TaskDecl struct {
	Name     string            `json:"name"`
	Opcode   string            `json:"opcode"`
	Unit     UnitType          `json:"unit"`
	Resource string            `json:"resource,omitempty"`
	Inputs   []string          `json:"inputs,omitempty"`
	Outputs  []string          `json:"outputs,omitempty"`
	Deps     []DepRef          `json:"deps,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Location position.Position `json:"location,omitempty"`
}

// DepRef names the task a statement waits on. Iter selects the iteration of
// a loop task (default: the current iteration); it is ignored for top-level
// tasks. In JSON a bare string is accepted as shorthand for {"task": name}.
type DepRef struct {
	Task string `json:"task"`
	Iter string `json:"iter,omitempty"`
}

// UnmarshalJSON accepts either "name" or {"task": "name", "iter": "i-1"}.
func (d *DepRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &d.Task)
	}

	type plain DepRef

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*d = DepRef(p)

	return nil
}

// LoopDecl is a parameterized loop body: Var runs 0..Trip-1 with at most
// MaxInFlight iterations live at once.
type LoopDecl struct {
	Name        string            `json:"name"`
	Var         string            `json:"var,omitempty"`
	Trip        string            `json:"trip"`
	MaxInFlight string            `json:"max_in_flight,omitempty"`
	Regions     []RegionDecl      `json:"regions,omitempty"`
	Body        []TaskDecl        `json:"body"`
	Location    position.Position `json:"location,omitempty"`
}

// Statement is a top-level program item: exactly one of Task or Loop.
type Statement struct {
	Task *TaskDecl `json:"task,omitempty"`
	Loop *LoopDecl `json:"loop,omitempty"`
}

// ParseProgram decodes a program from JSON, rejecting unknown fields.
func ParseProgram(data []byte) (*Program, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	p := new(Program)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}

	for i, st := range p.Body {
		if (st.Task == nil) == (st.Loop == nil) {
			return nil, fmt.Errorf("parse program: statement %d must be exactly one of task or loop", i)
		}
	}

	return p, nil
}

// LoadProgram reads a JSON encoded program from disk.
func LoadProgram(path string) (*Program, error) {
	clean := filepath.Clean(path)

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}

	p, err := ParseProgram(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}

	return p, nil
}
