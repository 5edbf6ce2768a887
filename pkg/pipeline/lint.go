package pipeline

import (
	"fmt"
	"io"
	"sort"

	"github.com/rhysd/actionlint"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var lintLog = logger.New("pipeline:lint")

// LintIssue is one problem actionlint found in a rendered workflow.
type LintIssue struct {
	Filepath string `json:"filepath"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// String formats the issue like compiler output.
func (i LintIssue) String() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s]", i.Filepath, i.Line, i.Column, i.Message, i.Kind)
}

// Lint checks a rendered GitHub Actions workflow with actionlint. External
// linters for run scripts (shellcheck, pyflakes) are not invoked.
func Lint(name string, workflowYAML []byte) ([]LintIssue, error) {
	lintLog.Printf("Linting workflow %s (%d bytes)", name, len(workflowYAML))

	linter, err := actionlint.NewLinter(io.Discard, &actionlint.LinterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create actionlint linter: %w", err)
	}

	errs, err := linter.Lint(name, workflowYAML, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to lint workflow: %w", err)
	}

	issues := make([]LintIssue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, LintIssue{
			Filepath: name,
			Line:     e.Line,
			Column:   e.Column,
			Kind:     e.Kind,
			Message:  e.Message,
		})
	}
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].Line != issues[b].Line {
			return issues[a].Line < issues[b].Line
		}
		return issues[a].Column < issues[b].Column
	})

	lintLog.Printf("actionlint reported %d issue(s)", len(issues))
	return issues, nil
}

// RenderAndLint renders the pipeline and lints the result.
func RenderAndLint(p *Pipeline, name string) ([]byte, []LintIssue, error) {
	rendered, err := Render(p)
	if err != nil {
		return nil, nil, err
	}
	issues, err := Lint(name, rendered)
	if err != nil {
		return rendered, nil, err
	}
	return rendered, issues, nil
}
