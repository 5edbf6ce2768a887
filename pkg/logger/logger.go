// Package logger provides namespaced debug loggers controlled by the DEBUG environment variable.
//
// Loggers are created per file with a "package:file" namespace and are silent unless
// DEBUG matches the namespace. Patterns are comma separated, support a trailing "*"
// wildcard and exclusions prefixed with "-":
//
//	DEBUG=*                       enable everything
//	DEBUG=github:*,server:*       enable two packages
//	DEBUG=*,-github:lock          everything except the lock logger
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes debug messages for a single namespace.
type Logger struct {
	namespace string
	enabled   bool

	mu   sync.Mutex
	last time.Time
}

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
)

// New creates a logger for the given namespace. Whether the logger is enabled is
// decided once, from the DEBUG environment variable at construction time.
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   computeEnabled(namespace, os.Getenv("DEBUG")),
	}
}

// SetOutput redirects the output of every logger. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// Enabled reports whether the logger writes anything.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Namespace returns the logger namespace.
func (l *Logger) Namespace() string {
	return l.namespace
}

// Printf formats like fmt.Printf and writes a single line.
func (l *Logger) Printf(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

// Print concatenates its arguments like fmt.Sprint and writes a single line.
func (l *Logger) Print(args ...any) {
	if !l.enabled {
		return
	}
	l.write(fmt.Sprint(args...))
}

func (l *Logger) write(msg string) {
	l.mu.Lock()
	now := time.Now()
	var delta time.Duration
	if !l.last.IsZero() {
		delta = now.Sub(l.last)
	}
	l.last = now
	l.mu.Unlock()

	outputMu.Lock()
	defer outputMu.Unlock()
	fmt.Fprintf(output, "%s %s +%s\n", l.namespace, strings.TrimRight(msg, "\n"), formatDelta(delta))
}

func formatDelta(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// computeEnabled evaluates the DEBUG patterns for a namespace. Exclusions win over
// inclusions regardless of their order.
func computeEnabled(namespace, debug string) bool {
	if debug == "" {
		return false
	}

	enabled := false
	for _, raw := range strings.Split(debug, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(pattern, "-") {
			if matchPattern(namespace, pattern[1:]) {
				return false
			}
			continue
		}
		if matchPattern(namespace, pattern) {
			enabled = true
		}
	}
	return enabled
}

func matchPattern(namespace, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(namespace, prefix)
	}
	return namespace == pattern
}
