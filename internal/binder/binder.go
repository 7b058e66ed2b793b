// Package binder runs the full lowering pipeline: expansion, buffer
// placement, hazard insertion, resource binding, emission ordering, tag
// allocation, encoding and stream assembly. The pipeline is single-threaded
// and deterministic; any stage error aborts the bind with no partial output.
package binder

import (
	"io"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/nem-lang/nembind/internal/bind"
	"github.com/nem-lang/nembind/internal/device"
	"github.com/nem-lang/nembind/internal/diagnostic"
	"github.com/nem-lang/nembind/internal/expand"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/hazard"
	"github.com/nem-lang/nembind/internal/layout"
	"github.com/nem-lang/nembind/internal/schedule"
	"github.com/nem-lang/nembind/internal/stream"
	"github.com/nem-lang/nembind/internal/syncalloc"
	"github.com/nem-lang/nembind/internal/tcb"
)

// Stage names used in error wrapping and traces.
const (
	StageExpand   = "expand"
	StageLayout   = "layout"
	StageHazard   = "hazard"
	StageBind     = "bind"
	StageSchedule = "schedule"
	StageTags     = "syncalloc"
	StageEncode   = "encode"
)

// Stats summarizes a bind.
type Stats struct {
	Tasks         int `json:"tasks"`
	ExplicitEdges int `json:"explicit_edges"`
	ImplicitEdges int `json:"implicit_edges"`
	PrunedHazards int `json:"pruned_hazards"`
	PeakTags      int `json:"peak_tags"`
	TagWidth      int `json:"tag_width"`
	Remaps        int `json:"remaps"`
	Blocks        int `json:"blocks"`
	Bytes         int `json:"bytes"`
}

// Result is the output of a successful bind.
type Result struct {
	Graph       *graph.Graph
	Layout      *layout.Plan
	Order       []*graph.Task
	Blocks      []*tcb.Block
	Stream      *stream.Stream
	Diagnostics *diagnostic.DiagnosticEngine
	Stats       Stats
}

type config struct {
	logger   *log.Logger
	registry *tcb.Registry
	trace    bool
	tagWidth int
	diag     diagnostic.DiagnosticConfig
}

// Option configures a bind.
type Option func(*config)

// WithLogger directs stage progress to l.
func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRegistry replaces the built-in register schemas.
func WithRegistry(r *tcb.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithTrace logs the duration and output size of every stage.
func WithTrace(on bool) Option {
	return func(c *config) { c.trace = on }
}

// WithTagWidth overrides the device's synchronization pool width.
func WithTagWidth(w int) Option {
	return func(c *config) { c.tagWidth = w }
}

// WithDiagnostics sets the diagnostic engine configuration.
func WithDiagnostics(dc diagnostic.DiagnosticConfig) Option {
	return func(c *config) { c.diag = dc }
}

// Bind lowers prog for dev.
func Bind(prog *graph.Program, dev *device.Device, opts ...Option) (*Result, error) {
	c := &config{
		logger:   log.New(io.Discard, "", 0),
		registry: tcb.Default(),
		diag:     diagnostic.DefaultConfig(),
	}

	for _, o := range opts {
		o(c)
	}

	width := dev.TagWidth
	if c.tagWidth > 0 {
		d, err := dev.WithTagWidth(c.tagWidth)
		if err != nil {
			return nil, errors.Wrap(err, "tag width override")
		}

		dev, width = d, d.TagWidth
	}

	enc, err := tcb.NewEncoder(c.registry, dev)
	if err != nil {
		return nil, errors.Wrapf(err, "stage %s", StageEncode)
	}

	p := &pipeline{cfg: c, res: &Result{Diagnostics: diagnostic.NewDiagnosticEngine(c.diag)}}

	var g *graph.Graph

	err = p.stage(StageExpand, func() (err error) {
		g, err = expand.Expand(prog)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.res.Graph = g

	if err := p.stage(StageLayout, func() (err error) {
		p.res.Layout, err = layout.Place(g, dev)
		return err
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageHazard, func() error {
		rep, err := hazard.Insert(g)
		if err != nil {
			return err
		}

		p.res.Stats.PrunedHazards = rep.Pruned

		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageBind, func() error {
		br, err := bind.Bind(g, dev)
		if err != nil {
			return err
		}

		for _, d := range br.Remapped {
			p.res.Diagnostics.AddDiagnostic(d)
		}

		p.res.Stats.Remaps = len(br.Remapped)

		return nil
	}); err != nil {
		return nil, err
	}

	var order *schedule.Order

	if err := p.stage(StageSchedule, func() (err error) {
		order, err = schedule.Emit(g)
		return err
	}); err != nil {
		return nil, err
	}

	p.res.Order = order.Tasks

	if err := p.stage(StageTags, func() error {
		ar, err := syncalloc.Allocate(g, order, width)
		if err != nil {
			return err
		}

		p.res.Stats.PeakTags = ar.Peak

		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageEncode, func() error {
		asm := stream.NewAssembler()

		for _, t := range order.Tasks {
			blk, err := enc.Encode(t)
			if err != nil {
				return err
			}

			if err := asm.Append(t, blk); err != nil {
				return err
			}

			p.res.Blocks = append(p.res.Blocks, blk)
		}

		p.res.Stream = asm.Finish()

		return nil
	}); err != nil {
		return nil, err
	}

	p.res.Stats.Tasks = len(g.Tasks)
	p.res.Stats.ExplicitEdges = g.CountEdges(graph.EdgeExplicit)
	p.res.Stats.ImplicitEdges = g.CountEdges(graph.EdgeImplicit)
	p.res.Stats.TagWidth = width
	p.res.Stats.Blocks = p.res.Stream.Len()
	p.res.Stats.Bytes = len(p.res.Stream.Bytes())

	c.logger.Printf("bound %s for %s: %d tasks, %d implicit edges, peak %d/%d tags, %d bytes",
		prog.Name, dev.Name, p.res.Stats.Tasks, p.res.Stats.ImplicitEdges, p.res.Stats.PeakTags, width, p.res.Stats.Bytes)

	return p.res, nil
}

type pipeline struct {
	cfg *config
	res *Result
}

func (p *pipeline) stage(name string, fn func() error) error {
	start := time.Now()

	if err := fn(); err != nil {
		p.cfg.logger.Printf("%s failed: %v", name, err)
		return errors.Wrapf(err, "stage %s", name)
	}

	if p.cfg.trace {
		p.cfg.logger.Printf("%-9s %v", name, time.Since(start))
	}

	return nil
}

// Diagnose converts a bind error to a diagnostic.
func Diagnose(err error) *diagnostic.Diagnostic {
	return diagnostic.FromError(err)
}

// BindFiles loads a program and a device table from disk and binds them.
func BindFiles(programPath, devicePath string, opts ...Option) (*Result, error) {
	dev, err := device.Load(devicePath)
	if err != nil {
		return nil, err
	}

	prog, err := graph.LoadProgram(programPath)
	if err != nil {
		return nil, err
	}

	return Bind(prog, dev, opts...)
}
