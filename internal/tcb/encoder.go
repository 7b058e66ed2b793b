package tcb

import (
	"fmt"

	"github.com/nem-lang/nembind/internal/device"
	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/layout"
)

// Encoder turns bound, tagged tasks into blocks for one device.
type Encoder struct {
	reg *Registry
	dev *device.Device
}

// NewEncoder checks that the registry's schemas target the device ISA.
func NewEncoder(reg *Registry, dev *device.Device) (*Encoder, error) {
	if reg == nil {
		reg = Default()
	}

	if err := reg.Supports(dev); err != nil {
		return nil, berr.Schema("ISA_MISMATCH", err.Error(),
			map[string]interface{}{"field": "isa_version", "isa": dev.ISAVersion, "schemas": reg.Constraint().String()})
	}

	return &Encoder{reg: reg, dev: dev}, nil
}

// Encode builds the block of t. The task must be bound, sequenced and tagged.
func (e *Encoder) Encode(t *graph.Task) (*Block, error) {
	label := t.Label()

	fn, ok := e.reg.Lookup(t.Unit, t.Opcode)
	if !ok {
		return nil, withLocation(berr.MissingSchema(label, string(t.Unit), t.Opcode), t)
	}

	id, err := TaskID(t.Unit, t.Physical, t.Seq)
	if err != nil {
		return nil, e.fail("TASK_ID", label, err, t)
	}

	req := &Request{Task: t, Policy: e.dev.Policy}

	if req.Inputs, err = e.operands(t.Inputs); err != nil {
		return nil, e.fail("OPERAND_ADDRESS", label, err, t)
	}

	if req.Outputs, err = e.operands(t.Outputs); err != nil {
		return nil, e.fail("OPERAND_ADDRESS", label, err, t)
	}

	pairs, err := fn(req)
	if err != nil {
		return nil, e.fail("ENCODE", label, err, t)
	}

	return &Block{
		Header: Header{TaskID: id, Count: uint32(len(pairs)), Wait: t.Wait, Produce: t.Produce},
		Pairs:  pairs,
	}, nil
}

func (e *Encoder) operands(regions []*graph.Region) ([]Operand, error) {
	out := make([]Operand, len(regions))

	for i, r := range regions {
		addr, err := layout.Address(e.dev, r)
		if err != nil {
			return nil, err
		}

		out[i] = Operand{Addr: addr, Region: r}
	}

	return out, nil
}

func (e *Encoder) fail(code, task string, err error, t *graph.Task) error {
	return withLocation(berr.Schema(code, fmt.Sprintf("task %s: %v", task, err),
		map[string]interface{}{"task": task, "unit": string(t.Unit), "opcode": t.Opcode}), t)
}

func withLocation(e *berr.BindError, t *graph.Task) *berr.BindError {
	if t.Location.IsValid() {
		e.Context["location"] = t.Location
	}

	return e
}
