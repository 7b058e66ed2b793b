package binder

import (
	"bytes"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nem-lang/nembind/internal/device"
	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/tcb"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
	"github.com/nem-lang/nembind/internal/testrunner/golden"
)

var (
	devicePath  = filepath.Join("..", "..", "examples", "devices", "nem-small.json")
	programPath = filepath.Join("..", "..", "examples", "programs", "tile_pipeline.json")
)

func load(t *testing.T) (*graph.Program, *device.Device) {
	t.Helper()

	dev, err := device.Load(devicePath)
	assert.NoError(t, err)

	prog, err := graph.LoadProgram(programPath)
	assert.NoError(t, err)

	return prog, dev
}

func TestTilePipelineEndToEnd(t *testing.T) {
	res, err := BindFiles(programPath, devicePath)
	assert.NoError(t, err)

	assert.Equal(t, res.Stream.Len(), 20)
	assert.Len(t, res.Blocks, 20)
	assert.Equal(t, res.Stats.ExplicitEdges, 16)
	assert.Equal(t, res.Stats.ImplicitEdges, 8)
	assert.Equal(t, res.Stats.Remaps, 2)
	assert.True(t, res.Stats.PeakTags <= 16)

	g := res.Graph
	post0 := g.FindTask("post", 0)
	compute0 := g.FindTask("compute", 0)
	compute2 := g.FindTask("compute", 2)

	e, ok := g.EdgeBetween(post0.ID, compute2.ID)
	assert.True(t, ok)
	assert.Equal(t, e.Kind, graph.EdgeImplicit)
	assert.True(t, compute2.Wait&post0.Produce != 0)

	for _, name := range []string{"load_x", "load_w"} {
		assert.Equal(t, len(g.Preds(g.FindTask(name, 0).ID)), 0)
	}

	// compute[2] runs on NMU[0] after compute[0].
	assert.Equal(t, compute2.Physical, 0)
	assert.Equal(t, compute2.Seq, 1)
	assert.True(t, compute0.Position < compute2.Position)

	blocks, err := tcb.DecodeStream(res.Stream.Bytes())
	assert.NoError(t, err)
	assert.Len(t, blocks, 21)
	assert.True(t, blocks[20].IsReset())

	for i, b := range res.Blocks {
		assert.Equal(t, blocks[i].Header, b.Header)
	}

	unit, inst, seq, ok := tcb.SplitTaskID(res.Blocks[compute2.Position].Header.TaskID)
	assert.True(t, ok)
	assert.Equal(t, unit, graph.UnitNMU)
	assert.Equal(t, inst, 0)
	assert.Equal(t, seq, 1)
}

func TestEmissionRespectsEveryEdge(t *testing.T) {
	prog, dev := load(t)

	res, err := Bind(prog, dev)
	assert.NoError(t, err)

	for _, e := range res.Graph.Edges {
		from, to := res.Graph.Tasks[e.From], res.Graph.Tasks[e.To]
		assert.True(t, from.Position < to.Position, from.Label(), to.Label())
		assert.True(t, to.Wait&from.Produce != 0, from.Label(), to.Label())
	}
}

func TestBindIsDeterministic(t *testing.T) {
	prog, dev := load(t)

	first, err := Bind(prog, dev)
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Bind(prog, dev)
		assert.NoError(t, err)
		assert.True(t, bytes.Equal(first.Stream.Bytes(), again.Stream.Bytes()))
	}
}

func TestEmissionOrderGolden(t *testing.T) {
	prog, dev := load(t)

	res, err := Bind(prog, dev)
	assert.NoError(t, err)

	var b strings.Builder
	for _, task := range res.Order {
		fmt.Fprintf(&b, "%s %s[%d]#%d\n", task.Label(), task.Unit, task.Physical, task.Seq)
	}

	golden.Check(t, b.String())
}

func TestRemapDiagnostics(t *testing.T) {
	prog, dev := load(t)

	res, err := Bind(prog, dev)
	assert.NoError(t, err)

	diags := res.Diagnostics.GetDiagnostics()
	assert.Len(t, diags, 2)
	assert.Equal(t, diags[0].Code, "NB6001")
	assert.Contains(t, diags[0].Message, "compute[2]: NMU[2] bound to NMU[0]")
	assert.False(t, res.Diagnostics.HasErrors())
}

func TestTagWidthOverrideExhausts(t *testing.T) {
	prog, dev := load(t)

	_, err := Bind(prog, dev, WithTagWidth(2))
	assert.ErrorIs(t, err, berr.ErrCapacity)
	assert.Contains(t, err.Error(), "stage syncalloc")

	d := Diagnose(err)
	assert.Equal(t, d.Code, "NB4001")
}

func TestRingOverflowRejected(t *testing.T) {
	prog, dev := load(t)
	prog.Consts[1].Value = "3"
	prog.Buffers[3].Size = "TILE * 2"
	prog.Buffers[4].Size = "TILE * 2"
	prog.Buffers[5].Size = "TILE * 2"
	prog.Buffers[6].Size = "TILE * 2"

	_, err := Bind(prog, dev)
	assert.ErrorIs(t, err, berr.ErrHazard)
	assert.Contains(t, err.Error(), "stage expand")
}

func TestISAMismatchRejected(t *testing.T) {
	prog, _ := load(t)

	future, err := device.Parse([]byte(`{"name":"future","isa_version":"3.0.0","tag_width":16}`))
	assert.NoError(t, err)

	_, err = Bind(prog, future)
	assert.ErrorIs(t, err, berr.ErrSchema)
}

func TestTraceLogging(t *testing.T) {
	prog, dev := load(t)

	var buf bytes.Buffer
	_, err := Bind(prog, dev, WithLogger(log.New(&buf, "", 0)), WithTrace(true))
	assert.NoError(t, err)

	out := buf.String()
	for _, stage := range []string{StageExpand, StageLayout, StageHazard, StageBind, StageSchedule, StageTags, StageEncode} {
		assert.True(t, strings.Contains(out, stage), stage)
	}

	assert.Contains(t, out, "bound tile_pipeline for nem-small: 20 tasks")
}

func TestMissingUnitIsBindingError(t *testing.T) {
	prog, dev := load(t)
	delete(dev.UnitCounts, graph.UnitVPU)

	_, err := Bind(prog, dev)
	assert.ErrorIs(t, err, berr.ErrBinding)
}
