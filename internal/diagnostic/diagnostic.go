// Diagnostic reporting for the NEM binder.
// Fatal binder errors, designed degradations (resource remaps) and
// informational stage summaries all surface through this package.

package diagnostic

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	berr "github.com/nem-lang/nembind/internal/errors"
	"github.com/nem-lang/nembind/internal/position"
)

// DiagnosticLevel represents the severity level of a diagnostic message.
type DiagnosticLevel int

const (
	DiagnosticError DiagnosticLevel = iota
	DiagnosticWarning
	DiagnosticInfo
)

func (dl DiagnosticLevel) String() string {
	switch dl {
	case DiagnosticError:
		return "error"
	case DiagnosticWarning:
		return "warning"
	case DiagnosticInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON output.
func (dl DiagnosticLevel) MarshalText() ([]byte, error) {
	return []byte(dl.String()), nil
}

// UnmarshalText parses a level name.
func (dl *DiagnosticLevel) UnmarshalText(text []byte) error {
	for l := DiagnosticError; l <= DiagnosticInfo; l++ {
		if l.String() == string(text) {
			*dl = l
			return nil
		}
	}

	return fmt.Errorf("unknown diagnostic level %q", text)
}

// DiagnosticCategory represents the binder stage family a diagnostic belongs to.
type DiagnosticCategory int

const (
	DiagnosticStructural DiagnosticCategory = iota
	DiagnosticBinding
	DiagnosticHazard
	DiagnosticCapacity
	DiagnosticSchema
	DiagnosticRemap
	DiagnosticPipeline
)

func (dc DiagnosticCategory) String() string {
	switch dc {
	case DiagnosticStructural:
		return "structural"
	case DiagnosticBinding:
		return "binding"
	case DiagnosticHazard:
		return "hazard"
	case DiagnosticCapacity:
		return "capacity"
	case DiagnosticSchema:
		return "schema"
	case DiagnosticRemap:
		return "remap"
	case DiagnosticPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// MarshalText renders the category by name in JSON output.
func (dc DiagnosticCategory) MarshalText() ([]byte, error) {
	return []byte(dc.String()), nil
}

// UnmarshalText parses a category name.
func (dc *DiagnosticCategory) UnmarshalText(text []byte) error {
	for c := DiagnosticStructural; c <= DiagnosticPipeline; c++ {
		if c.String() == string(text) {
			*dc = c
			return nil
		}
	}

	return fmt.Errorf("unknown diagnostic category %q", text)
}

// Diagnostic represents a single diagnostic message.
type Diagnostic struct {
	Code        string               `json:"code"`
	Title       string               `json:"title"`
	Message     string               `json:"message,omitempty"`
	RelatedInfo []RelatedInformation `json:"related,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Span        position.Span        `json:"span"`
	Level       DiagnosticLevel      `json:"level"`
	Category    DiagnosticCategory   `json:"category"`
}

// String renders the diagnostic in the collector's one-line form.
func (d Diagnostic) String() string {
	loc := ""
	if d.Span.IsValid() {
		loc = d.Span.Start.String() + ": "
	}

	msg := d.Title
	if d.Message != "" {
		msg = d.Message
	}

	return fmt.Sprintf("%s%s[%s]: %s", loc, d.Level, d.Code, msg)
}

// RelatedInformation provides additional context for a diagnostic.
type RelatedInformation struct {
	Message string        `json:"message"`
	Span    position.Span `json:"span"`
}

// DiagnosticBuilder helps construct diagnostic messages with fluent API.
type DiagnosticBuilder struct {
	diagnostic *Diagnostic
}

// NewDiagnostic creates a new diagnostic builder.
func NewDiagnostic() *DiagnosticBuilder {
	return &DiagnosticBuilder{diagnostic: &Diagnostic{}}
}

func (db *DiagnosticBuilder) Error() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticError

	return db
}

func (db *DiagnosticBuilder) Warning() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticWarning

	return db
}

func (db *DiagnosticBuilder) Info() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticInfo

	return db
}

func (db *DiagnosticBuilder) Category(c DiagnosticCategory) *DiagnosticBuilder {
	db.diagnostic.Category = c

	return db
}

func (db *DiagnosticBuilder) Code(code string) *DiagnosticBuilder {
	db.diagnostic.Code = code

	return db
}

func (db *DiagnosticBuilder) Title(title string) *DiagnosticBuilder {
	db.diagnostic.Title = title

	return db
}

func (db *DiagnosticBuilder) Message(message string) *DiagnosticBuilder {
	db.diagnostic.Message = message

	return db
}

func (db *DiagnosticBuilder) Span(span position.Span) *DiagnosticBuilder {
	db.diagnostic.Span = span

	return db
}

func (db *DiagnosticBuilder) Related(span position.Span, message string) *DiagnosticBuilder {
	db.diagnostic.RelatedInfo = append(db.diagnostic.RelatedInfo, RelatedInformation{
		Span:    span,
		Message: message,
	})

	return db
}

func (db *DiagnosticBuilder) Tag(tag string) *DiagnosticBuilder {
	db.diagnostic.Tags = append(db.diagnostic.Tags, tag)

	return db
}

func (db *DiagnosticBuilder) Build() *Diagnostic {
	return db.diagnostic
}

// DiagnosticEngine manages the collection and processing of diagnostics.
type DiagnosticEngine struct {
	diagnostics []Diagnostic
	config      DiagnosticConfig
}

// DiagnosticConfig controls diagnostic behavior.
type DiagnosticConfig struct {
	IgnoreCodes      []string
	MaxErrors        int
	WarningsAsErrors bool
	ShowRelatedInfo  bool
	ShowInfo         bool
}

// DefaultConfig returns the configuration used by the binder tools.
func DefaultConfig() DiagnosticConfig {
	return DiagnosticConfig{
		MaxErrors:       20,
		ShowRelatedInfo: true,
		ShowInfo:        true,
	}
}

// NewDiagnosticEngine creates a new diagnostic engine.
func NewDiagnosticEngine(config DiagnosticConfig) *DiagnosticEngine {
	if config.MaxErrors <= 0 {
		config.MaxErrors = DefaultConfig().MaxErrors
	}

	return &DiagnosticEngine{
		diagnostics: make([]Diagnostic, 0),
		config:      config,
	}
}

// AddDiagnostic adds a diagnostic to the engine.
func (de *DiagnosticEngine) AddDiagnostic(diagnostic *Diagnostic) {
	if de.shouldIgnore(diagnostic) {
		return
	}

	if len(de.GetErrors()) >= de.config.MaxErrors {
		return
	}

	if de.config.WarningsAsErrors && diagnostic.Level == DiagnosticWarning {
		diagnostic.Level = DiagnosticError
	}

	de.diagnostics = append(de.diagnostics, *diagnostic)

	if diagnostic.Level == DiagnosticError && len(de.GetErrors()) == de.config.MaxErrors {
		truncationDiag := NewDiagnostic().
			Info().
			Category(DiagnosticPipeline).
			Code("NB0001").
			Title("Too many errors").
			Message(fmt.Sprintf("Stopping after %d errors", de.config.MaxErrors)).
			Build()
		de.diagnostics = append(de.diagnostics, *truncationDiag)
	}
}

// AddError converts a binder error into an error diagnostic.
func (de *DiagnosticEngine) AddError(err error) {
	if err == nil {
		return
	}

	de.AddDiagnostic(FromError(err))
}

func (de *DiagnosticEngine) shouldIgnore(diagnostic *Diagnostic) bool {
	for _, code := range de.config.IgnoreCodes {
		if diagnostic.Code == code {
			return true
		}
	}

	return diagnostic.Level == DiagnosticInfo && !de.config.ShowInfo
}

// GetDiagnostics returns all diagnostics.
func (de *DiagnosticEngine) GetDiagnostics() []Diagnostic {
	return de.diagnostics
}

// GetErrors returns only error-level diagnostics.
func (de *DiagnosticEngine) GetErrors() []Diagnostic {
	return de.filter(DiagnosticError)
}

// GetWarnings returns only warning-level diagnostics.
func (de *DiagnosticEngine) GetWarnings() []Diagnostic {
	return de.filter(DiagnosticWarning)
}

func (de *DiagnosticEngine) filter(level DiagnosticLevel) []Diagnostic {
	out := make([]Diagnostic, 0)

	for _, diag := range de.diagnostics {
		if diag.Level == level {
			out = append(out, diag)
		}
	}

	return out
}

// HasErrors returns true if there are any errors.
func (de *DiagnosticEngine) HasErrors() bool {
	return len(de.GetErrors()) > 0
}

// Clear removes all diagnostics.
func (de *DiagnosticEngine) Clear() {
	de.diagnostics = de.diagnostics[:0]
}

// SortDiagnostics sorts diagnostics by severity and then by position. The
// sort is stable so diagnostics without a location keep emission order.
func (de *DiagnosticEngine) SortDiagnostics() {
	sort.SliceStable(de.diagnostics, func(i, j int) bool {
		a, b := de.diagnostics[i], de.diagnostics[j]

		if a.Level != b.Level {
			return a.Level < b.Level
		}

		return a.Span.Start.Before(b.Span.Start)
	})
}

// FormatDiagnostics returns a formatted string representation of all diagnostics.
func (de *DiagnosticEngine) FormatDiagnostics() string {
	if len(de.diagnostics) == 0 {
		return ""
	}

	de.SortDiagnostics()

	var result strings.Builder

	for i := range de.diagnostics {
		result.WriteString(de.formatSingleDiagnostic(&de.diagnostics[i]))
	}

	result.WriteString(de.formatSummary())

	return result.String()
}

// MarshalJSON renders the collected diagnostics as a JSON array.
func (de *DiagnosticEngine) MarshalJSON() ([]byte, error) {
	return json.Marshal(de.diagnostics)
}

func (de *DiagnosticEngine) formatSingleDiagnostic(diag *Diagnostic) string {
	var result strings.Builder

	if diag.Span.IsValid() {
		fmt.Fprintf(&result, "%s: ", diag.Span.Start)
	}

	fmt.Fprintf(&result, "%s[%s]: %s\n", diag.Level, diag.Code, diag.Title)

	if diag.Message != "" {
		fmt.Fprintf(&result, "  %s\n", diag.Message)
	}

	if de.config.ShowRelatedInfo {
		for _, related := range diag.RelatedInfo {
			if related.Span.IsValid() {
				fmt.Fprintf(&result, "    %s: %s\n", related.Span.Start, related.Message)
			} else {
				fmt.Fprintf(&result, "    %s\n", related.Message)
			}
		}
	}

	return result.String()
}

func (de *DiagnosticEngine) formatSummary() string {
	errorCount := len(de.GetErrors())
	warningCount := len(de.GetWarnings())

	if errorCount == 0 && warningCount == 0 {
		return "no issues found\n"
	}

	var parts []string
	if errorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errorCount))
	}

	if warningCount > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warningCount))
	}

	return fmt.Sprintf("found %s\n", strings.Join(parts, ", "))
}

// codeFor maps binder error kinds to stable diagnostic codes.
var codeFor = map[berr.Kind]struct {
	code     string
	title    string
	category DiagnosticCategory
}{
	berr.KindStructural: {"NB1001", "Structural error", DiagnosticStructural},
	berr.KindBinding:    {"NB2001", "Resource binding error", DiagnosticBinding},
	berr.KindHazard:     {"NB3001", "Hazard error", DiagnosticHazard},
	berr.KindCapacity:   {"NB4001", "Synchronization capacity exceeded", DiagnosticCapacity},
	berr.KindSchema:     {"NB5001", "Register schema error", DiagnosticSchema},
}

// FromError converts any error into an error diagnostic. BindErrors keep
// their kind, code and context; a "location" context entry becomes the span.
func FromError(err error) *Diagnostic {
	var be *berr.BindError
	if !stderrors.As(err, &be) {
		return NewDiagnostic().
			Error().
			Category(DiagnosticPipeline).
			Code("NB0000").
			Title("Binder failure").
			Message(err.Error()).
			Build()
	}

	meta, ok := codeFor[be.Kind]
	if !ok {
		meta = codeFor[berr.KindStructural]
	}

	b := NewDiagnostic().
		Error().
		Category(meta.category).
		Code(meta.code).
		Title(meta.title).
		Message(err.Error()).
		Tag(be.Code)

	if loc, ok := be.Context["location"].(position.Position); ok {
		b.Span(position.At(loc))
	}

	return b.Build()
}

// Remap creates the informational diagnostic for a same-type resource remap.
func Remap(span position.Span, task, unit string, logical, physical, count int) *Diagnostic {
	return NewDiagnostic().
		Info().
		Category(DiagnosticRemap).
		Code("NB6001").
		Title("Resource remapped").
		Message(fmt.Sprintf("%s: %s[%d] bound to %s[%d] (device has %d)", task, unit, logical, unit, physical, count)).
		Span(span).
		Tag("remap").
		Build()
}
