package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
)

// ShapeError is the interface implemented by every error this module reports.
type ShapeError interface {
	error
	Kind() string // "Allocation", "Property", "Script"
	// Message returns the specific error message without decoration.
	Message() string
	Unwrap() error
}

// ErrAllocationFailed is the sentinel every AllocationError unwraps to.
var ErrAllocationFailed = stderrors.New("allocation failed")

// --- Concrete Error Types ---

// AllocationError reports that the allocator could not provide the requested cells.
// It must be propagated unchanged by every caller.
type AllocationError struct {
	Space string
	Cells int
	Used  int
	Limit int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("Allocation Error: %d cells for %s (used %d of %d)", e.Cells, e.Space, e.Used, e.Limit)
}
func (e *AllocationError) Kind() string { return "Allocation" }
func (e *AllocationError) Message() string {
	return fmt.Sprintf("cannot allocate %d cells for %s", e.Cells, e.Space)
}
func (e *AllocationError) Unwrap() error { return ErrAllocationFailed }

// PropertyKind classifies language-level property failures.
type PropertyKind uint8

const (
	ReadOnly PropertyKind = iota
	NotConfigurable
	NotExtensible
	Accessor // the property is an accessor; the caller has to run the setter itself
)

func (k PropertyKind) String() string {
	switch k {
	case ReadOnly:
		return "read-only"
	case NotConfigurable:
		return "not configurable"
	case NotExtensible:
		return "not extensible"
	case Accessor:
		return "accessor"
	default:
		return "unknown"
	}
}

// PropertyError is raised when attribute or extensibility rules forbid a write.
type PropertyError struct {
	Reason PropertyKind
	Key    string
	Cause  error
}

func (e *PropertyError) Error() string {
	switch e.Reason {
	case ReadOnly:
		return fmt.Sprintf("Property Error: cannot assign to read-only property '%s'", e.Key)
	case NotConfigurable:
		return fmt.Sprintf("Property Error: cannot redefine non-configurable property '%s'", e.Key)
	case NotExtensible:
		return fmt.Sprintf("Property Error: cannot add property '%s', object is not extensible", e.Key)
	case Accessor:
		return fmt.Sprintf("Property Error: property '%s' is an accessor", e.Key)
	default:
		return fmt.Sprintf("Property Error: '%s'", e.Key)
	}
}
func (e *PropertyError) Kind() string    { return "Property" }
func (e *PropertyError) Message() string { return e.Reason.String() + ": " + e.Key }
func (e *PropertyError) Unwrap() error   { return e.Cause }

// IsProperty reports whether err is a PropertyError of the given kind.
func IsProperty(err error, kind PropertyKind) bool {
	var pe *PropertyError
	return stderrors.As(err, &pe) && pe.Reason == kind
}

// ScriptError is reported by the shapes script runner.
type ScriptError struct {
	Position
	Msg   string
	Cause error
}

func (e *ScriptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Script Error at %d:%d: %s: %v", e.Line, e.Column, e.Msg, e.Cause)
	}
	return fmt.Sprintf("Script Error at %d:%d: %s", e.Line, e.Column, e.Msg)
}
func (e *ScriptError) Kind() string    { return "Script" }
func (e *ScriptError) Message() string { return e.Msg }
func (e *ScriptError) Unwrap() error   { return e.Cause }
func (e *ScriptError) CausedBy(cause error) *ScriptError {
	e.Cause = cause
	return e
}

// InvariantError is the panic payload for broken internal contracts.
// It is never returned as an error value.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Msg }

// Invariant aborts the current operation. Invariant violations are programming
// errors and must not be recovered from.
func Invariant(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

// Is, As and New re-export the standard helpers so callers need a single import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func New(text string) error         { return stderrors.New(text) }
func As(err error, target any) bool { return stderrors.As(err, target) }

// --- Error Reporting ---

// DisplayErrors writes script errors to w, followed by the offending source
// line when it is known.
func DisplayErrors(w io.Writer, source string, errs []ShapeError) {
	if len(errs) == 0 {
		return
	}
	lines := strings.Split(source, "\n")

	for _, err := range errs {
		se, ok := err.(*ScriptError)
		if !ok {
			fmt.Fprintf(w, "%s Error: %s\n", err.Kind(), err.Message())
			continue
		}
		lineIdx := se.Line - 1
		if lineIdx < 0 || lineIdx >= len(lines) {
			fmt.Fprintln(w, se.Error())
			continue
		}
		fmt.Fprintln(w, se.Error())
		fmt.Fprintf(w, "  %s\n", strings.TrimRight(lines[lineIdx], "\r\n\t "))
		if se.Column > 0 {
			fmt.Fprintf(w, "  %s^\n", strings.Repeat(" ", se.Column-1))
		}
		fmt.Fprintln(w)
	}
}
