// Package expand instantiates loop bodies into concrete task instances.
//
// Every statement of a loop body is instantiated once per iteration, in
// iteration-major order, with its regions, resource index and attributes
// evaluated under {consts, i, T, K}. Ring regions resolve their slot and are
// placed at slot*slotSize+offset inside the ring buffer. Explicit
// dependencies are resolved to instances once every task exists, so a
// dependency may name a statement that appears later in the program.
package expand

import (
	"fmt"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/expr"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/position"
)

const defaultVar = "i"

// Names bound implicitly inside every loop body.
const (
	tripName  = "T"
	depthName = "K"
)

func implicit(name string) bool { return name == tripName || name == depthName }

// family groups the instances of one task statement.
type family struct {
	loop      *loopScope
	instances []*graph.Task
}

type loopScope struct {
	decl    *graph.LoopDecl
	varName string
	trip    int64
	depth   int64
	regions map[string]*graph.RegionDecl
}

type pending struct {
	task *graph.Task
	decl *graph.TaskDecl
	env  expr.Env
	loop *loopScope
}

// Expander holds the state of one expansion.
type Expander struct {
	prog     *graph.Program
	g        *graph.Graph
	consts   expr.Env
	regions  map[string]*graph.RegionDecl
	families map[string]*family
	pending  []pending
}

// Expand builds the expanded task graph of prog with its explicit edges.
func Expand(prog *graph.Program) (*graph.Graph, error) {
	x := &Expander{
		prog:     prog,
		g:        graph.New(prog.Name),
		consts:   expr.Env{},
		regions:  make(map[string]*graph.RegionDecl),
		families: make(map[string]*family),
	}

	if err := x.evalConsts(); err != nil {
		return nil, err
	}

	if err := x.declareBuffers(); err != nil {
		return nil, err
	}

	for i := range prog.Regions {
		r := &prog.Regions[i]
		if _, dup := x.regions[r.Name]; dup {
			return nil, structural("DUPLICATE_REGION", fmt.Sprintf("region %s declared twice", r.Name), r.Location, nil)
		}

		x.regions[r.Name] = r
	}

	for i := range prog.Body {
		var err error

		if st := prog.Body[i]; st.Task != nil {
			err = x.instantiate(st.Task, x.consts, nil)
		} else {
			err = x.expandLoop(st.Loop)
		}

		if err != nil {
			return nil, err
		}
	}

	for _, p := range x.pending {
		if err := x.resolveDeps(p); err != nil {
			return nil, err
		}
	}

	return x.g, nil
}

func (x *Expander) evalConsts() error {
	for _, c := range x.prog.Consts {
		if _, dup := x.consts[c.Name]; dup {
			return structural("DUPLICATE_CONST", fmt.Sprintf("constant %s declared twice", c.Name), c.Location, nil)
		}

		if implicit(c.Name) {
			return structural("NAME_CONFLICT",
				fmt.Sprintf("constant %s collides with the implicit loop binding %s", c.Name, c.Name), c.Location,
				map[string]interface{}{"const": c.Name})
		}

		v, err := expr.Eval(c.Value, x.consts)
		if err != nil {
			return structural("BAD_CONST", fmt.Sprintf("constant %s: %v", c.Name, err), c.Location, nil)
		}

		x.consts[c.Name] = v
	}

	return nil
}

func (x *Expander) declareBuffers() error {
	for _, d := range x.prog.Buffers {
		ctx := map[string]interface{}{"buffer": d.Name}

		if _, clash := x.consts[d.Name]; clash {
			return structural("NAME_CONFLICT", fmt.Sprintf("buffer %s has the same name as a constant", d.Name), d.Location, ctx)
		}

		if !d.Level.Valid() {
			return structural("BAD_LEVEL", fmt.Sprintf("buffer %s: unknown memory level %q", d.Name, d.Level), d.Location, ctx)
		}

		size, err := expr.Eval(d.Size, x.consts)
		if err != nil {
			return structural("BAD_SIZE", fmt.Sprintf("buffer %s: size: %v", d.Name, err), d.Location, ctx)
		}

		if size <= 0 {
			return structural("BAD_SIZE", fmt.Sprintf("buffer %s: size must be positive, got %d", d.Name, size), d.Location, ctx)
		}

		slots := d.Slots
		if slots < 0 {
			return structural("BAD_SLOTS", fmt.Sprintf("buffer %s: negative slot count %d", d.Name, slots), d.Location, ctx)
		}

		if slots == 0 {
			slots = 1
		}

		if size%int64(slots) != 0 {
			return structural("BAD_SLOTS",
				fmt.Sprintf("buffer %s: size %d is not divisible into %d slots", d.Name, size, slots), d.Location, ctx)
		}

		b := &graph.Buffer{
			Name:         d.Name,
			Level:        d.Level,
			Size:         size,
			Align:        d.Align,
			Slots:        slots,
			SlotSize:     size / int64(slots),
			Readonly:     d.Readonly,
			Materialized: d.Materialized,
			Location:     d.Location,
		}

		if !x.g.AddBuffer(b) {
			return structural("DUPLICATE_BUFFER", fmt.Sprintf("buffer %s declared twice", d.Name), d.Location, ctx)
		}
	}

	return nil
}

func (x *Expander) expandLoop(l *graph.LoopDecl) error {
	ctx := map[string]interface{}{"loop": l.Name}

	trip, err := expr.Eval(l.Trip, x.consts)
	if err != nil {
		return structural("BAD_TRIP", fmt.Sprintf("loop %s: trip count: %v", l.Name, err), l.Location, ctx)
	}

	if trip < 0 {
		return structural("BAD_TRIP", fmt.Sprintf("loop %s: negative trip count %d", l.Name, trip), l.Location, ctx)
	}

	depth, err := expr.EvalOr(l.MaxInFlight, 1, x.consts)
	if err != nil {
		return structural("BAD_MAX_IN_FLIGHT", fmt.Sprintf("loop %s: max_in_flight: %v", l.Name, err), l.Location, ctx)
	}

	if depth <= 0 {
		return structural("BAD_MAX_IN_FLIGHT",
			fmt.Sprintf("loop %s: max_in_flight must be positive, got %d", l.Name, depth), l.Location, ctx)
	}

	scope := &loopScope{
		decl:    l,
		varName: l.Var,
		trip:    trip,
		depth:   depth,
		regions: make(map[string]*graph.RegionDecl),
	}

	if scope.varName == "" {
		scope.varName = defaultVar
	}

	if _, clash := x.consts[scope.varName]; clash || implicit(scope.varName) {
		ctx["var"] = scope.varName

		return structural("NAME_CONFLICT",
			fmt.Sprintf("loop %s: variable %s shadows a constant or implicit binding", l.Name, scope.varName), l.Location, ctx)
	}

	for i := range l.Regions {
		r := &l.Regions[i]
		if _, dup := scope.regions[r.Name]; dup {
			return structural("DUPLICATE_REGION", fmt.Sprintf("loop %s: region %s declared twice", l.Name, r.Name), r.Location, ctx)
		}

		scope.regions[r.Name] = r
	}

	// Families are registered up front so trip == 0 still yields known names.
	for i := range l.Body {
		if err := x.register(&l.Body[i], scope); err != nil {
			return err
		}
	}

	for it := int64(0); it < trip; it++ {
		env := x.consts.With(scope.varName, it).With(tripName, trip).With(depthName, depth)

		for i := range l.Body {
			if err := x.instantiate(&l.Body[i], env, scope); err != nil {
				return err
			}
		}
	}

	return nil
}

func (x *Expander) register(d *graph.TaskDecl, scope *loopScope) error {
	if _, dup := x.families[d.Name]; dup {
		return structural("DUPLICATE_TASK", fmt.Sprintf("task %s declared twice", d.Name), d.Location,
			map[string]interface{}{"task": d.Name})
	}

	x.families[d.Name] = &family{loop: scope}

	return nil
}

func (x *Expander) instantiate(d *graph.TaskDecl, env expr.Env, scope *loopScope) error {
	if scope == nil {
		if err := x.register(d, nil); err != nil {
			return err
		}
	}

	t := &graph.Task{
		Name:     d.Name,
		Iter:     -1,
		Opcode:   d.Opcode,
		Unit:     d.Unit,
		Location: d.Location,
	}

	if scope != nil {
		t.Loop = scope.decl.Name
		t.Iter = int(env[scope.varName])
	}

	label := t.Label()
	ctx := func() map[string]interface{} { return map[string]interface{}{"task": label} }

	if !d.Unit.Valid() {
		return structural("UNKNOWN_UNIT", fmt.Sprintf("task %s: unknown unit type %q", label, d.Unit), d.Location, ctx())
	}

	if d.Opcode == "" {
		return structural("MISSING_OPCODE", fmt.Sprintf("task %s has no opcode", label), d.Location, ctx())
	}

	if d.Resource != "" {
		l, err := expr.Eval(d.Resource, env)
		if err != nil {
			return structural("BAD_RESOURCE", fmt.Sprintf("task %s: resource: %v", label, err), d.Location, ctx())
		}

		t.Logical = l
		t.HasResource = true
	}

	if len(d.Attrs) > 0 {
		t.Attrs = make(map[string]int64, len(d.Attrs))

		for name, src := range d.Attrs {
			v, err := expr.Eval(src, env)
			if err != nil {
				return structural("BAD_ATTR", fmt.Sprintf("task %s: attribute %s: %v", label, name, err), d.Location, ctx())
			}

			t.Attrs[name] = v
		}
	}

	for _, name := range d.Inputs {
		r, err := x.resolveRegion(name, label, env, scope, d.Location, false)
		if err != nil {
			return err
		}

		t.Inputs = append(t.Inputs, r)
	}

	for _, name := range d.Outputs {
		r, err := x.resolveRegion(name, label, env, scope, d.Location, true)
		if err != nil {
			return err
		}

		t.Outputs = append(t.Outputs, r)
	}

	x.g.AddTask(t)

	f := x.families[d.Name]
	f.instances = append(f.instances, t)
	x.pending = append(x.pending, pending{task: t, decl: d, env: env, loop: scope})

	return nil
}

func (x *Expander) lookupRegion(name string, scope *loopScope) *graph.RegionDecl {
	if scope != nil {
		if r, ok := scope.regions[name]; ok {
			return r
		}
	}

	return x.regions[name]
}

func (x *Expander) resolveRegion(name, task string, env expr.Env, scope *loopScope, loc position.Position, write bool) (*graph.Region, error) {
	ctx := map[string]interface{}{"task": task, "region": name}

	d := x.lookupRegion(name, scope)
	if d == nil {
		return nil, structural("UNKNOWN_REGION", fmt.Sprintf("task %s: unknown region %s", task, name), loc, ctx)
	}

	if d.Location.IsValid() {
		loc = d.Location
	}

	buf := x.g.Buffer(d.Buffer)
	if buf == nil {
		return nil, structural("UNKNOWN_BUFFER", fmt.Sprintf("region %s: unknown buffer %s", name, d.Buffer), loc, ctx)
	}

	ctx["buffer"] = buf.Name

	readonly := d.Readonly || buf.Readonly
	if write && readonly {
		return nil, structural("READONLY_WRITE", fmt.Sprintf("task %s writes readonly region %s", task, name), loc, ctx)
	}

	offset, err := expr.EvalOr(d.Offset, 0, env)
	if err != nil {
		return nil, structural("BAD_OFFSET", fmt.Sprintf("region %s: offset: %v", name, err), loc, ctx)
	}

	extent, err := expr.Eval(d.Extent, env)
	if err != nil {
		return nil, structural("BAD_EXTENT", fmt.Sprintf("region %s: extent: %v", name, err), loc, ctx)
	}

	if offset < 0 || extent <= 0 {
		return nil, structural("BAD_EXTENT",
			fmt.Sprintf("region %s: offset %d and extent %d must be non-negative and positive", name, offset, extent), loc, ctx)
	}

	slot := -1

	if buf.IsRing() {
		s, err := x.resolveSlot(d, env, scope)
		if err != nil {
			return nil, structural("BAD_SLOT", fmt.Sprintf("region %s: slot: %v", name, err), loc, ctx)
		}

		if s < 0 || s >= int64(buf.Slots) {
			ctx["slot"] = s
			ctx["slots"] = buf.Slots

			return nil, berr.Hazard("SLOT_OUT_OF_RANGE",
				fmt.Sprintf("task %s: region %s resolves to slot %d but ring %s has %d slots; max_in_flight exceeds the ring depth",
					task, name, s, buf.Name, buf.Slots),
				withLocation(ctx, loc))
		}

		if offset+extent > buf.SlotSize {
			return nil, withLoc(berr.RegionOutOfBounds(task, name, buf.Name, offset, extent, buf.SlotSize), loc)
		}

		slot = int(s)
		offset += s * buf.SlotSize
	} else if d.Slot != "" {
		return nil, structural("BAD_SLOT", fmt.Sprintf("region %s: slot given for plain buffer %s", name, buf.Name), loc, ctx)
	}

	if offset+extent > buf.Size {
		return nil, withLoc(berr.RegionOutOfBounds(task, name, buf.Name, offset, extent, buf.Size), loc)
	}

	if d.Elem != "" && !d.Elem.Valid() {
		return nil, structural("BAD_ELEM", fmt.Sprintf("region %s: unknown element type %q", name, d.Elem), loc, ctx)
	}

	r := &graph.Region{
		Name:         name,
		Buffer:       buf,
		Offset:       offset,
		Extent:       extent,
		Slot:         slot,
		Elem:         d.Elem,
		Layout:       d.Layout,
		Materialized: d.Materialized,
		Readonly:     readonly,
	}

	for _, src := range d.Shape {
		v, err := expr.Eval(src, env)
		if err != nil {
			return nil, structural("BAD_SHAPE", fmt.Sprintf("region %s: shape: %v", name, err), loc, ctx)
		}

		if v <= 0 {
			return nil, structural("BAD_SHAPE", fmt.Sprintf("region %s: shape dimension %d must be positive", name, v), loc, ctx)
		}

		r.Shape = append(r.Shape, v)
	}

	return r, nil
}

// resolveSlot evaluates the slot expression; a ring region defaults to
// "i mod K" inside a loop and to slot 0 outside one.
func (x *Expander) resolveSlot(d *graph.RegionDecl, env expr.Env, scope *loopScope) (int64, error) {
	if d.Slot != "" {
		return expr.Eval(d.Slot, env)
	}

	if scope == nil {
		return 0, nil
	}

	return expr.FloorMod(env[scope.varName], scope.depth), nil
}

func (x *Expander) resolveDeps(p pending) error {
	label := p.task.Label()

	for _, dep := range p.decl.Deps {
		f, ok := x.families[dep.Task]
		if !ok {
			return structural("UNKNOWN_DEP",
				fmt.Sprintf("task %s depends on unknown task %s", label, dep.Task), p.task.Location,
				map[string]interface{}{"task": label, "dep": dep.Task})
		}

		preds, err := x.depInstances(f, dep, p)
		if err != nil {
			return structural("BAD_DEP", fmt.Sprintf("task %s: dependency %s: %v", label, dep.Task, err), p.task.Location,
				map[string]interface{}{"task": label, "dep": dep.Task})
		}

		for _, pred := range preds {
			x.g.AddEdge(pred.ID, p.task.ID, graph.EdgeExplicit, "")
		}
	}

	return nil
}

// depInstances maps a dependency reference to the instances it names. An
// iteration outside 0..T-1 names nothing. Without an iteration, a dependent
// in the same loop waits on the same iteration and any other dependent waits
// on every iteration.
func (x *Expander) depInstances(f *family, dep graph.DepRef, p pending) ([]*graph.Task, error) {
	if f.loop == nil {
		return f.instances, nil
	}

	if dep.Iter == "" && p.loop != f.loop {
		return f.instances, nil
	}

	src := dep.Iter
	if src == "" {
		src = p.loop.varName
	}

	env := p.env.With(tripName, f.loop.trip).With(depthName, f.loop.depth)

	it, err := expr.Eval(src, env)
	if err != nil {
		return nil, err
	}

	if it < 0 || it >= int64(len(f.instances)) {
		return nil, nil
	}

	return f.instances[it : it+1], nil
}

func structural(code, msg string, loc position.Position, ctx map[string]interface{}) *berr.BindError {
	return berr.Structural(code, msg, withLocation(ctx, loc))
}

func withLocation(ctx map[string]interface{}, loc position.Position) map[string]interface{} {
	if ctx == nil {
		ctx = make(map[string]interface{})
	}

	if loc.IsValid() {
		ctx["location"] = loc
	}

	return ctx
}

func withLoc(e *berr.BindError, loc position.Position) *berr.BindError {
	e.Context = withLocation(e.Context, loc)
	return e
}
