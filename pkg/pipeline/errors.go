package pipeline

import (
	"fmt"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var errorsLog = logger.New("pipeline:errors")

// ValidationError describes one violated rule of a pipeline definition.
type ValidationError struct {
	Field      string
	Value      string
	Reason     string
	Suggestion string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "invalid %s", e.Field)

	if e.Value != "" {
		value := e.Value
		if len(value) > 100 {
			value = value[:97] + "..."
		}
		fmt.Fprintf(&b, " %q", value)
	}

	fmt.Fprintf(&b, ": %s", e.Reason)

	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (%s)", e.Suggestion)
	}

	return b.String()
}

// NewValidationError creates a new validation error with context
func NewValidationError(field, value, reason, suggestion string) *ValidationError {
	errorsLog.Printf("Creating validation error: field=%s, reason=%s", field, reason)
	return &ValidationError{
		Field:      field,
		Value:      value,
		Reason:     reason,
		Suggestion: suggestion,
	}
}

// LoadError is an error located in a pipeline definition file.
type LoadError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Source  []byte
}

// Error implements the error interface
func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// CompilerError converts the error for console rendering, with up to three
// lines of source context around the location.
func (e *LoadError) CompilerError() console.CompilerError {
	ce := console.CompilerError{
		Position: console.ErrorPosition{File: e.Path, Line: e.Line, Column: e.Column},
		Type:     "error",
		Message:  e.Message,
	}
	if e.Line > 0 && len(e.Source) > 0 {
		lines := strings.Split(string(e.Source), "\n")
		start := max(e.Line-2, 0)
		end := min(e.Line+1, len(lines))
		if start < end {
			ce.Context = lines[start:end]
		}
	}
	return ce
}
