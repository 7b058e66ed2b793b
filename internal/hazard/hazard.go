// Package hazard inserts the implicit dependencies that make slot reuse safe.
//
// Each buffer is tracked as a set of disjoint byte windows. A window remembers
// its last writer and the readers since that writer. Tasks are visited in
// expansion order; a read waits on the window's writer (RAW) and a write
// waits on the window's readers and previous writer (WAR, WAW). An edge is
// only inserted when the ordering is not already implied by the edges present
// at that point. The resulting edge set must be acyclic.
package hazard

import (
	"fmt"
	"sort"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/graph"
)

// Kind classifies an inserted edge.
type Kind int

const (
	RAW Kind = iota
	WAR
	WAW
)

func (k Kind) String() string {
	switch k {
	case RAW:
		return "RAW"
	case WAR:
		return "WAR"
	default:
		return "WAW"
	}
}

// Report summarizes one insertion pass.
type Report struct {
	Inserted int
	ByKind   map[Kind]int
	Pruned   int // hazards already ordered by existing edges
}

type window struct {
	start, end int64
	writer     int
	readers    []int
}

type tracker struct {
	windows map[*graph.Buffer][]*window
}

// Insert adds implicit edges to g and verifies the result is a DAG.
func Insert(g *graph.Graph) (*Report, error) {
	rep := &Report{ByKind: make(map[Kind]int)}
	tr := &tracker{windows: make(map[*graph.Buffer][]*window)}

	for _, t := range g.Tasks {
		for _, r := range t.Inputs {
			for _, w := range tr.cover(r.Buffer, r.Offset, r.End()) {
				if w.writer >= 0 && w.writer != t.ID {
					link(g, rep, w.writer, t.ID, RAW, r.Buffer, w)
				}

				w.addReader(t.ID)
			}
		}

		for _, r := range t.Outputs {
			for _, w := range tr.cover(r.Buffer, r.Offset, r.End()) {
				for _, c := range w.candidates() {
					if c == t.ID {
						continue
					}

					kind := WAR
					if c == w.writer {
						kind = WAW
					}

					link(g, rep, c, t.ID, kind, r.Buffer, w)
				}

				w.writer = t.ID
				w.readers = nil
			}
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		return nil, berr.DependencyCycle(g.Labels(cycle))
	}

	return rep, nil
}

func link(g *graph.Graph, rep *Report, from, to int, kind Kind, buf *graph.Buffer, w *window) {
	if g.Reachable(from, to) {
		rep.Pruned++
		return
	}

	g.AddEdge(from, to, graph.EdgeImplicit, reason(buf, w, kind))
	rep.Inserted++
	rep.ByKind[kind]++
}

func reason(buf *graph.Buffer, w *window, kind Kind) string {
	if buf.IsRing() {
		return fmt.Sprintf("%s %s slot %d", kind, buf.Name, w.start/buf.SlotSize)
	}

	return fmt.Sprintf("%s %s [%d,%d)", kind, buf.Name, w.start, w.end)
}

// candidates returns readers and writer, latest first.
func (w *window) candidates() []int {
	out := append([]int(nil), w.readers...)
	if w.writer >= 0 {
		out = append(out, w.writer)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(out)))

	return out
}

func (w *window) addReader(id int) {
	for _, r := range w.readers {
		if r == id {
			return
		}
	}

	w.readers = append(w.readers, id)
}

// cover returns the windows exactly tiling [a,b), splitting existing windows
// at a and b and filling gaps with fresh windows.
func (tr *tracker) cover(buf *graph.Buffer, a, b int64) []*window {
	ws := tr.split(tr.split(tr.windows[buf], a), b)

	var (
		out    []*window
		merged []*window
		cursor = a
	)

	for _, w := range ws {
		if w.end <= a || w.start >= b {
			merged = append(merged, w)
			continue
		}

		if w.start > cursor {
			gap := &window{start: cursor, end: w.start, writer: -1}
			merged = append(merged, gap)
			out = append(out, gap)
		}

		merged = append(merged, w)
		out = append(out, w)
		cursor = w.end
	}

	if cursor < b {
		gap := &window{start: cursor, end: b, writer: -1}
		merged = append(merged, gap)
		out = append(out, gap)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].start < merged[j].start })
	tr.windows[buf] = merged

	return out
}

func (tr *tracker) split(ws []*window, at int64) []*window {
	for i, w := range ws {
		if w.start < at && at < w.end {
			right := &window{start: at, end: w.end, writer: w.writer, readers: append([]int(nil), w.readers...)}
			w.end = at

			out := make([]*window, 0, len(ws)+1)
			out = append(out, ws[:i+1]...)
			out = append(out, right)

			return append(out, ws[i+1:]...)
		}
	}

	return ws
}
