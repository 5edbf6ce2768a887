// Package console formats user-facing messages for the terminal.
//
// Every helper returns a string; callers decide which stream to print to. Styling is
// applied only when stderr is a terminal, so piped output stays plain text.
package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sgtm-bot/sgtm/pkg/tty"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#0EA5E9"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#D97706"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	verboseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	commandStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	locationStyle = lipgloss.NewStyle().Bold(true)
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

// applyStyle renders text with the style only when stderr is a terminal.
func applyStyle(style lipgloss.Style, text string) string {
	if !tty.IsStderrTerminal() {
		return text
	}
	return style.Render(text)
}

// FormatSuccessMessage formats a success message.
func FormatSuccessMessage(message string) string {
	return applyStyle(successStyle, "✓ ") + message
}

// FormatInfoMessage formats an informational message.
func FormatInfoMessage(message string) string {
	return applyStyle(infoStyle, "ℹ ") + message
}

// FormatWarningMessage formats a warning message.
func FormatWarningMessage(message string) string {
	return applyStyle(warningStyle, "⚠ ") + message
}

// FormatErrorMessage formats an error message.
func FormatErrorMessage(message string) string {
	return applyStyle(errorStyle, "✗ ") + message
}

// FormatVerboseMessage formats a low priority diagnostic message.
func FormatVerboseMessage(message string) string {
	return applyStyle(verboseStyle, "🔍 "+message)
}

// FormatProgressMessage formats a message for a step that is still running.
func FormatProgressMessage(message string) string {
	return applyStyle(infoStyle, "⏳ ") + message
}

// FormatCommandMessage formats a shell command about to be executed.
func FormatCommandMessage(command string) string {
	return applyStyle(commandStyle, "$ "+command)
}

// FormatListItem formats a bullet list entry.
func FormatListItem(item string) string {
	return "  • " + item
}

// ErrorPosition is a location inside a source file. Line and Column are 1-based;
// zero means unknown.
type ErrorPosition struct {
	File   string
	Line   int
	Column int
}

// CompilerError is a positioned diagnostic, in the style of compiler output.
type CompilerError struct {
	Position ErrorPosition
	Type     string // "error" or "warning"
	Message  string
	Context  []string // source lines around Position.Line, starting one line before it
	Hint     string
}

// FormatError renders a CompilerError as "file:line:col: type: message" followed by
// the source context, if any.
func FormatError(err CompilerError) string {
	var b strings.Builder

	location := ToRelativePath(err.Position.File)
	if err.Position.Line > 0 {
		location = fmt.Sprintf("%s:%d:%d:", location, err.Position.Line, max(err.Position.Column, 1))
	} else {
		location += ":"
	}

	kind := err.Type
	if kind == "" {
		kind = "error"
	}
	kindStyle := errorStyle
	if kind == "warning" {
		kindStyle = warningStyle
	}

	fmt.Fprintf(&b, "%s %s %s\n", applyStyle(locationStyle, location), applyStyle(kindStyle, kind+":"), err.Message)

	if len(err.Context) > 0 && err.Position.Line > 0 {
		startLine := max(err.Position.Line-1, 1)
		width := len(fmt.Sprintf("%d", startLine+len(err.Context)-1))
		for i, line := range err.Context {
			lineNum := startLine + i
			fmt.Fprintf(&b, "%*d | %s\n", width, lineNum, line)
			if lineNum == err.Position.Line && err.Position.Column > 0 {
				pointer := strings.Repeat(" ", err.Position.Column-1) + "^"
				fmt.Fprintf(&b, "%s | %s\n", strings.Repeat(" ", width), applyStyle(errorStyle, pointer))
			}
		}
	}

	return b.String()
}

// FormatErrorWithSuggestions renders an error followed by a list of suggestions.
func FormatErrorWithSuggestions(message string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(FormatErrorMessage(message))
	if len(suggestions) > 0 {
		b.WriteString("\n\nSuggestions:\n")
		for _, s := range suggestions {
			b.WriteString(FormatListItem(s))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// TableConfig describes a table to render.
type TableConfig struct {
	Title     string
	Headers   []string
	Rows      [][]string
	ShowTotal bool
	TotalRow  []string
}

// RenderTable renders a table with a normal border. An empty config renders nothing.
func RenderTable(config TableConfig) string {
	if len(config.Headers) == 0 && len(config.Rows) == 0 {
		return ""
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(config.Headers...).
		Rows(config.Rows...)
	if config.ShowTotal && len(config.TotalRow) > 0 {
		t = t.Row(config.TotalRow...)
	}

	var b strings.Builder
	if config.Title != "" {
		b.WriteString(applyStyle(titleStyle, config.Title))
		b.WriteString("\n")
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}

// ToRelativePath converts an absolute path to one relative to the working directory
// when that is shorter and stays inside it.
func ToRelativePath(path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
