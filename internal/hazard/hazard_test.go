package hazard

import (
	"fmt"
	"testing"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/expand"
	"github.com/nem-lang/nembind/internal/graph"
	"github.com/nem-lang/nembind/internal/testrunner/assert"
	"github.com/nem-lang/nembind/internal/testrunner/prop"
)

func produceConsume(trip, k int64) *graph.Program {
	return &graph.Program{
		Name: "pc",
		Buffers: []graph.BufferDecl{
			{Name: "ring", Level: graph.LevelL1, Size: fmt.Sprint(16 * k), Slots: int(k)},
		},
		Body: []graph.Statement{{Loop: &graph.LoopDecl{
			Name:        "l",
			Trip:        fmt.Sprint(trip),
			MaxInFlight: fmt.Sprint(k),
			Regions:     []graph.RegionDecl{{Name: "s", Buffer: "ring", Extent: "16"}},
			Body: []graph.TaskDecl{
				{Name: "produce", Opcode: "load", Unit: graph.UnitDMA, Outputs: []string{"s"}},
				{Name: "consume", Opcode: "relu", Unit: graph.UnitVPU, Inputs: []string{"s"}, Deps: []graph.DepRef{{Task: "produce"}}},
			},
		}}},
	}
}

func TestHazardCompleteness(t *testing.T) {
	gen := prop.GenPair(prop.GenRange(0, 12), prop.GenRange(1, 4))
	shrink := prop.ShrinkPair(prop.ShrinkToward(0), prop.ShrinkToward(1))

	prop.Check(t, gen, shrink, func(p prop.Pair[int64, int64]) bool {
		trip, k := p.First, p.Second

		g, err := expand.Expand(produceConsume(trip, k))
		if err != nil {
			return false
		}

		if _, err := Insert(g); err != nil {
			return false
		}

		want := 0
		for i := k; i < trip; i++ {
			prior := g.FindTask("consume", int(i-k))
			next := g.FindTask("produce", int(i))

			e, ok := g.EdgeBetween(prior.ID, next.ID)
			if !ok || e.Kind != graph.EdgeImplicit {
				return false
			}

			want++
		}

		return g.CountEdges(graph.EdgeImplicit) == want
	}, prop.Options{Trials: 100, Seed: 11})
}

func tiles() *graph.Program {
	ring := func(name string) graph.BufferDecl {
		return graph.BufferDecl{Name: name, Level: graph.LevelL1, Size: "TILE * 2", Slots: 2}
	}

	slot := func(name, buf string) graph.RegionDecl {
		return graph.RegionDecl{Name: name, Buffer: buf, Extent: "TILE"}
	}

	dep := func(names ...string) []graph.DepRef {
		out := make([]graph.DepRef, len(names))
		for i, n := range names {
			out[i] = graph.DepRef{Task: n}
		}

		return out
	}

	return &graph.Program{
		Name:   "tiles",
		Consts: []graph.ConstDecl{{Name: "TILE", Value: "1024"}},
		Buffers: []graph.BufferDecl{
			{Name: "x", Level: graph.LevelDDR, Size: "TILE * 4", Readonly: true},
			{Name: "w", Level: graph.LevelDDR, Size: "TILE * 4", Readonly: true},
			ring("x_ring"), ring("w_ring"), ring("acc"), ring("y_ring"),
			{Name: "out", Level: graph.LevelDDR, Size: "TILE * 4"},
		},
		Body: []graph.Statement{{Loop: &graph.LoopDecl{
			Name: "tile", Trip: "4", MaxInFlight: "2",
			Regions: []graph.RegionDecl{
				{Name: "x_in", Buffer: "x", Offset: "i * TILE", Extent: "TILE"},
				{Name: "w_in", Buffer: "w", Offset: "i * TILE", Extent: "TILE"},
				{Name: "o", Buffer: "out", Offset: "i * TILE", Extent: "TILE"},
				slot("xs", "x_ring"), slot("ws", "w_ring"), slot("as", "acc"), slot("ys", "y_ring"),
			},
			Body: []graph.TaskDecl{
				{Name: "load_x", Opcode: "load", Unit: graph.UnitDMA, Inputs: []string{"x_in"}, Outputs: []string{"xs"}},
				{Name: "load_w", Opcode: "load", Unit: graph.UnitDMA, Inputs: []string{"w_in"}, Outputs: []string{"ws"}},
				{Name: "compute", Opcode: "gemm", Unit: graph.UnitNMU, Inputs: []string{"xs", "ws"}, Outputs: []string{"as"}, Deps: dep("load_x", "load_w")},
				{Name: "post", Opcode: "relu", Unit: graph.UnitVPU, Inputs: []string{"as"}, Outputs: []string{"ys"}, Deps: dep("compute")},
				{Name: "store", Opcode: "store", Unit: graph.UnitDMA, Inputs: []string{"ys"}, Outputs: []string{"o"}, Deps: dep("post")},
			},
		}}},
	}
}

func TestTilePipelineSlotReuse(t *testing.T) {
	g, err := expand.Expand(tiles())
	assert.NoError(t, err)

	rep, err := Insert(g)
	assert.NoError(t, err)

	post0 := g.FindTask("post", 0)
	compute0 := g.FindTask("compute", 0)
	compute2 := g.FindTask("compute", 2)

	e, ok := g.EdgeBetween(post0.ID, compute2.ID)
	assert.True(t, ok)
	assert.Equal(t, e.Kind, graph.EdgeImplicit)
	assert.Equal(t, e.Reason, "WAR acc slot 0")

	assert.False(t, g.HasEdge(compute0.ID, compute2.ID))
	assert.True(t, g.Reachable(compute0.ID, compute2.ID))

	assert.True(t, g.HasEdge(compute0.ID, g.FindTask("load_x", 2).ID))
	assert.True(t, g.HasEdge(compute0.ID, g.FindTask("load_w", 2).ID))
	assert.True(t, g.HasEdge(g.FindTask("store", 1).ID, g.FindTask("post", 3).ID))

	assert.Equal(t, rep.Inserted, 8)
	assert.Equal(t, rep.ByKind[WAR], 8)
	assert.Equal(t, g.CountEdges(graph.EdgeImplicit), 8)
}

func TestPartialOverlap(t *testing.T) {
	p := &graph.Program{
		Name:    "overlap",
		Buffers: []graph.BufferDecl{{Name: "b", Level: graph.LevelL1, Size: "128"}},
		Regions: []graph.RegionDecl{
			{Name: "lo", Buffer: "b", Offset: "0", Extent: "64"},
			{Name: "mid", Buffer: "b", Offset: "32", Extent: "64"},
			{Name: "hi", Buffer: "b", Offset: "64", Extent: "64"},
		},
		Body: []graph.Statement{
			{Task: &graph.TaskDecl{Name: "wlo", Opcode: "load", Unit: graph.UnitDMA, Outputs: []string{"lo"}}},
			{Task: &graph.TaskDecl{Name: "whi", Opcode: "load", Unit: graph.UnitDMA, Outputs: []string{"hi"}}},
			{Task: &graph.TaskDecl{Name: "rmid", Opcode: "relu", Unit: graph.UnitVPU, Inputs: []string{"mid"}}},
			{Task: &graph.TaskDecl{Name: "whi2", Opcode: "load", Unit: graph.UnitDMA, Outputs: []string{"hi"}}},
		},
	}

	g, err := expand.Expand(p)
	assert.NoError(t, err)

	_, err = Insert(g)
	assert.NoError(t, err)

	assert.True(t, g.HasEdge(0, 2))
	assert.True(t, g.HasEdge(1, 2))
	assert.True(t, g.HasEdge(2, 3))
	assert.False(t, g.HasEdge(1, 3))
	assert.False(t, g.HasEdge(0, 1))
	assert.False(t, g.HasEdge(0, 3))
}

func TestExplicitCycleRejected(t *testing.T) {
	p := &graph.Program{
		Name: "cyc",
		Body: []graph.Statement{
			{Task: &graph.TaskDecl{Name: "a", Opcode: "relu", Unit: graph.UnitVPU, Deps: []graph.DepRef{{Task: "c"}}}},
			{Task: &graph.TaskDecl{Name: "b", Opcode: "relu", Unit: graph.UnitVPU, Deps: []graph.DepRef{{Task: "a"}}}},
			{Task: &graph.TaskDecl{Name: "c", Opcode: "relu", Unit: graph.UnitVPU, Deps: []graph.DepRef{{Task: "b"}}}},
		},
	}

	g, err := expand.Expand(p)
	assert.NoError(t, err)

	_, err = Insert(g)
	assert.ErrorIs(t, err, berr.ErrHazard)

	var be *berr.BindError
	if assert.ErrorAs(t, err, &be) {
		assert.Equal(t, be.Code, "DEPENDENCY_CYCLE")
		assert.Equal(t, be.Get("tasks"), "a,b,c")
	}
}

func TestWindowSplitting(t *testing.T) {
	buf := &graph.Buffer{Name: "b", Size: 100, Slots: 1, SlotSize: 100}
	tr := &tracker{windows: make(map[*graph.Buffer][]*window)}

	first := tr.cover(buf, 10, 50)
	assert.Len(t, first, 1)
	first[0].writer = 7

	second := tr.cover(buf, 30, 70)
	assert.Len(t, second, 2)
	assert.Equal(t, second[0].writer, 7)
	assert.Equal(t, second[1].writer, -1)

	ws := tr.windows[buf]
	assert.Len(t, ws, 3)
	assert.Equal(t, ws[0].end, int64(30))
	assert.Equal(t, ws[2].start, int64(50))
}
