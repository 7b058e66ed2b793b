package graph

import (
	"testing"

	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func chain(n int) *Graph {
	g := New("chain")
	for i := 0; i < n; i++ {
		g.AddTask(&Task{Name: "t", Iter: i, Unit: UnitVPU})
	}

	for i := 0; i+1 < n; i++ {
		g.AddEdge(i, i+1, EdgeExplicit, "")
	}

	return g
}

func TestAddEdgeDeduplicates(t *testing.T) {
	g := chain(3)

	assert.False(t, g.AddEdge(0, 1, EdgeImplicit, "dup"))
	assert.True(t, g.AddEdge(0, 2, EdgeImplicit, "x_ring slot 0"))
	assert.Equal(t, g.CountEdges(EdgeExplicit), 2)
	assert.Equal(t, g.CountEdges(EdgeImplicit), 1)
	assert.SliceEqual(t, g.Preds(2), []int{1, 0})

	e, ok := g.EdgeBetween(0, 2)
	assert.True(t, ok)
	assert.Equal(t, e.Reason, "x_ring slot 0")
}

func TestReachable(t *testing.T) {
	g := chain(4)

	assert.True(t, g.Reachable(0, 3))
	assert.True(t, g.Reachable(2, 2))
	assert.False(t, g.Reachable(3, 0))
}

func TestFindCycle(t *testing.T) {
	g := chain(4)
	assert.Nil(t, g.FindCycle())

	g.AddEdge(3, 1, EdgeExplicit, "")
	assert.SliceEqual(t, g.FindCycle(), []int{1, 2, 3})
	assert.SliceEqual(t, g.Labels(g.FindCycle()), []string{"t[1]", "t[2]", "t[3]"})
}

func TestFindCycleSelfLoop(t *testing.T) {
	g := chain(2)
	g.AddEdge(1, 1, EdgeExplicit, "")

	assert.SliceEqual(t, g.FindCycle(), []int{1})
}

func TestBufferRegistry(t *testing.T) {
	g := New("b")

	assert.True(t, g.AddBuffer(&Buffer{Name: "x", Size: 64}))
	assert.False(t, g.AddBuffer(&Buffer{Name: "x", Size: 32}))
	assert.Equal(t, g.Buffer("x").Size, int64(64))
	assert.Nil(t, g.Buffer("y"))
}

func TestTaskLabelAndRegion(t *testing.T) {
	buf := &Buffer{Name: "acc", Size: 8192, Slots: 2, SlotSize: 4096}
	r := &Region{Name: "acc_tile", Buffer: buf, Offset: 4096, Extent: 4096, Slot: 1, Shape: []int64{32, 32}}

	assert.Equal(t, r.End(), int64(8192))
	assert.Equal(t, r.Elements(), int64(1024))
	assert.Equal(t, r.String(), "acc_tile@acc[slot 1][4096,+4096)")
	assert.Equal(t, (&Task{Name: "init", Iter: -1}).Label(), "init")
	assert.Equal(t, (&Task{Name: "compute", Iter: 2}).Label(), "compute[2]")
}

func TestElementTypes(t *testing.T) {
	assert.Equal(t, I4.Bitwidth(), 4)
	assert.Equal(t, BF16.Bitwidth(), 16)
	assert.True(t, U16.IsInteger())
	assert.True(t, TF32.IsFloat())
	assert.False(t, Bool.IsFloat())
	assert.False(t, ElementType("f8").Valid())
}

func TestUnitCodesRoundTrip(t *testing.T) {
	for _, u := range []UnitType{UnitNMU, UnitCSTL, UnitDMA, UnitVPU, UnitSEQ, UnitSDMA, UnitWDM} {
		c, ok := u.Code()
		assert.True(t, ok)

		back, ok := UnitFromCode(c)
		assert.True(t, ok)
		assert.Equal(t, back, u)
	}
}

func TestParseProgramDepShorthand(t *testing.T) {
	src := `{
	  "name": "p",
	  "buffers": [{"name": "x", "level": "L1", "size": "64"}],
	  "body": [
	    {"task": {"name": "a", "opcode": "relu", "unit": "VPU"}},
	    {"loop": {"name": "l", "trip": "2", "body": [
	      {"name": "b", "opcode": "relu", "unit": "VPU", "deps": ["a", {"task": "b", "iter": "i-1"}]}
	    ]}}
	  ]
	}`

	p, err := ParseProgram([]byte(src))
	assert.NoError(t, err)
	assert.Len(t, p.Body, 2)

	deps := p.Body[1].Loop.Body[0].Deps
	assert.Equal(t, deps[0], DepRef{Task: "a"})
	assert.Equal(t, deps[1], DepRef{Task: "b", Iter: "i-1"})
}

func TestParseProgramRejectsAmbiguousStatement(t *testing.T) {
	_, err := ParseProgram([]byte(`{"name":"p","buffers":[],"body":[{}]}`))
	assert.Error(t, err)

	_, err = ParseProgram([]byte(`{"name":"p","bogus":1}`))
	assert.Error(t, err)
}
