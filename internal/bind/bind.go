// Package bind maps logical resource indices onto the physical unit instances
// a device provides.
package bind

import (
	"fmt"

	"github.com/nem-lang/nembind/internal/device"
	"github.com/nem-lang/nembind/internal/diagnostic"
	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/expr"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/position"
)

// Remap returns the physical instance for logical index l on a unit with u
// instances. The result is in [0, u) for every l, including negative ones.
func Remap(l int64, u int) int {
	return int(expr.FloorMod(l, int64(u)))
}

// Result lists the remaps performed while binding.
type Result struct {
	Remapped []*diagnostic.Diagnostic
	PerUnit  map[graph.UnitType]int
}

// Bind assigns a physical instance to every task of g.
func Bind(g *graph.Graph, dev *device.Device) (*Result, error) {
	res := &Result{PerUnit: make(map[graph.UnitType]int)}

	for _, t := range g.Tasks {
		ctx := map[string]interface{}{"task": t.Label(), "unit": string(t.Unit)}
		if t.Location.IsValid() {
			ctx["location"] = t.Location
		}

		if t.HasResource && !dev.IsBindable(t.Unit) {
			return nil, berr.Binding("NOT_BINDABLE",
				fmt.Sprintf("task %s: unit type %s cannot be the target of a resource binding on device %s", t.Label(), t.Unit, dev.Name), ctx)
		}

		count, ok := dev.Count(t.Unit)
		if !ok || count <= 0 {
			ctx["field"] = fmt.Sprintf("unit_counts.%s", t.Unit)

			return nil, berr.Binding("NO_UNITS",
				fmt.Sprintf("task %s: device %s provides no %s units", t.Label(), dev.Name, t.Unit), ctx)
		}

		phys := 0
		if t.HasResource {
			phys = Remap(t.Logical, count)

			if t.Logical >= int64(count) || t.Logical < 0 {
				res.Remapped = append(res.Remapped, diagnostic.Remap(position.At(t.Location),
					t.Label(), string(t.Unit), int(t.Logical), phys, count))
			}
		}

		t.Physical = phys
		t.Bound = true
		res.PerUnit[t.Unit]++
	}

	return res, nil
}
