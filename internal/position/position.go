// Package position carries source locations from the upstream NEM front end
// through the binder so diagnostics can point back at the authored program.
package position

import (
	"fmt"
	"path/filepath"
)

// Position represents a single point in NEM source code.
type Position struct {
	Filename string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`   // 1-based line number
	Column   int    `json:"column,omitempty"` // 1-based column number
}

// IsValid returns true if the position refers to a real source location.
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0
}

// String returns a file:line:col representation of the position.
func (p Position) String() string {
	if !p.IsValid() {
		return "<unknown>"
	}

	if p.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
	}

	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Before returns true if this position comes before other.
func (p Position) Before(other Position) bool {
	if p.Filename != other.Filename {
		return p.Filename < other.Filename
	}

	if p.Line != other.Line {
		return p.Line < other.Line
	}

	return p.Column < other.Column
}

// Span represents a range of source code between two positions.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end,omitempty"`
}

// At returns a zero-width span at pos.
func At(pos Position) Span {
	return Span{Start: pos, End: pos}
}

// IsValid returns true if the span has a valid start.
func (s Span) IsValid() bool {
	return s.Start.IsValid()
}

// String returns a string representation of the span.
func (s Span) String() string {
	if !s.End.IsValid() || s.End == s.Start {
		return s.Start.String()
	}

	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%s-%d", s.Start.String(), s.End.Column)
	}

	return fmt.Sprintf("%s-%d:%d", s.Start.String(), s.End.Line, s.End.Column)
}
