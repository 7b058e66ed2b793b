// Package errors provides the standardized fatal error shape shared by every
// binder stage. Each error carries a kind, a stable code, and the context
// (task, buffer, slot or device field) needed to localize the cause.
package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Kind represents the category of a binder failure.
type Kind string

const (
	KindStructural Kind = "STRUCTURAL"
	KindBinding    Kind = "BINDING"
	KindHazard     Kind = "HAZARD"
	KindCapacity   Kind = "CAPACITY"
	KindSchema     Kind = "SCHEMA"
)

// Sentinels usable with errors.Is to test the kind of any BindError.
var (
	ErrStructural = &BindError{Kind: KindStructural}
	ErrBinding    = &BindError{Kind: KindBinding}
	ErrHazard     = &BindError{Kind: KindHazard}
	ErrCapacity   = &BindError{Kind: KindCapacity}
	ErrSchema     = &BindError{Kind: KindSchema}
)

// BindError provides a consistent error format.
type BindError struct {
	Context map[string]interface{}
	Kind    Kind
	Code    string
	Message string
	Caller  string
}

// Error implements the error interface.
func (e *BindError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s:%s] %s", e.Kind, e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		b.WriteString(" (")

		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}

		b.WriteString(")")
	}

	return b.String()
}

// Is reports whether target is a BindError of the same kind. A target with an
// empty code matches any code of that kind.
func (e *BindError) Is(target error) bool {
	t, ok := target.(*BindError)
	if !ok {
		return false
	}

	if t.Kind != e.Kind {
		return false
	}

	return t.Code == "" || t.Code == e.Code
}

// Get returns a context value as a string, or "" if absent.
func (e *BindError) Get(key string) string {
	v, ok := e.Context[key]
	if !ok {
		return ""
	}

	return fmt.Sprint(v)
}

// New creates a new binder error recording the calling function.
func New(kind Kind, code, message string, context map[string]interface{}) *BindError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"

	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &BindError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Context: context,
		Caller:  caller,
	}
}

// Structural reports a malformed buffer/region/task declaration.
func Structural(code, message string, context map[string]interface{}) *BindError {
	return New(KindStructural, code, message, context)
}

// Binding reports a resource binding that cannot be satisfied by the device.
func Binding(code, message string, context map[string]interface{}) *BindError {
	return New(KindBinding, code, message, context)
}

// Hazard reports an inconsistent ring/slot declaration or a dependency cycle.
func Hazard(code, message string, context map[string]interface{}) *BindError {
	return New(KindHazard, code, message, context)
}

// Capacity reports exhaustion of a fixed hardware budget.
func Capacity(code, message string, context map[string]interface{}) *BindError {
	return New(KindCapacity, code, message, context)
}

// Schema reports a missing or failing register-encoding schema.
func Schema(code, message string, context map[string]interface{}) *BindError {
	return New(KindSchema, code, message, context)
}

// RegionOutOfBounds is the common structural failure for region placement.
func RegionOutOfBounds(task, region, buffer string, offset, extent, size int64) *BindError {
	return New(KindStructural, "REGION_OUT_OF_BOUNDS",
		fmt.Sprintf("region %s [%d,+%d) exceeds buffer %s of %d bytes", region, offset, extent, buffer, size),
		map[string]interface{}{"task": task, "region": region, "buffer": buffer, "offset": offset, "extent": extent, "size": size})
}

// DependencyCycle is the fatal hazard failure raised when the edge set is not a DAG.
func DependencyCycle(tasks []string) *BindError {
	return New(KindHazard, "DEPENDENCY_CYCLE",
		fmt.Sprintf("dependency graph contains a cycle through %s", strings.Join(tasks, " -> ")),
		map[string]interface{}{"tasks": strings.Join(tasks, ",")})
}

// TagPoolExhausted is the fatal capacity failure of the tag allocator.
func TagPoolExhausted(task string, width int, live []string) *BindError {
	return New(KindCapacity, "TAG_POOL_EXHAUSTED",
		fmt.Sprintf("no free synchronization bit for %s: all %d bits live; lower max_in_flight or restructure the program", task, width),
		map[string]interface{}{"task": task, "width": width, "live": strings.Join(live, ",")})
}

// MissingSchema is the schema failure for an unregistered (unit, opcode) pair.
func MissingSchema(task, unit, opcode string) *BindError {
	return New(KindSchema, "MISSING_SCHEMA",
		fmt.Sprintf("no register schema for %s/%s", unit, opcode),
		map[string]interface{}{"task": task, "unit": unit, "opcode": opcode})
}
