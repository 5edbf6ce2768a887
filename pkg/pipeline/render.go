package pipeline

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var renderLog = logger.New("pipeline:render")

const (
	// RunnerLabel is the GitHub-hosted runner every rendered job uses; the job
	// itself runs inside its runtime container.
	RunnerLabel = "ubuntu-latest"

	// CheckoutAction is the action used for the checkout setup step.
	CheckoutAction = "actions/checkout@v4"
)

var plainScalarPattern = regexp.MustCompile(`^[A-Za-z0-9_./$-][A-Za-z0-9_./:@$= -]*[A-Za-z0-9_./@$-]$|^[A-Za-z0-9_./]$`)

var yamlReservedScalars = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "on": true, "off": true,
	"null": true, "~": true, "y": true, "n": true,
}

// Render renders the pipeline as a GitHub Actions workflow. Jobs keep the
// workflow order; branch filters become "if:" conditions on github.ref_name.
// Regular expression filters cannot be expressed in workflow expressions and
// are rejected.
func Render(p *Pipeline) ([]byte, error) {
	renderLog.Printf("Rendering workflow %q with %d job(s)", p.Workflow.Name, len(p.Workflow.Jobs))

	var b strings.Builder
	b.WriteString("# This file is generated by sgtm. DO NOT EDIT.\n")
	if p.source != "" {
		fmt.Fprintf(&b, "# Source: %s\n", p.source)
	}
	b.WriteString("#\n# To regenerate: sgtm pipeline render\n\n")

	name := p.Workflow.Name
	if name == "" {
		name = "build"
	}
	fmt.Fprintf(&b, "name: %s\n", yamlScalar(name))
	b.WriteString("on: push\n")
	b.WriteString("jobs:\n")

	for _, wj := range p.Workflow.Jobs {
		job := p.Job(wj.Job)
		if job == nil {
			return nil, fmt.Errorf("workflow references undeclared job %q", wj.Job)
		}
		if err := renderJob(&b, p, job, wj.Branches); err != nil {
			return nil, fmt.Errorf("failed to render job %q: %w", job.Name, err)
		}
	}

	return []byte(b.String()), nil
}

func renderJob(b *strings.Builder, p *Pipeline, job *Job, filter BranchFilter) error {
	fmt.Fprintf(b, "  %s:\n", job.Name)
	fmt.Fprintf(b, "    runs-on: %s\n", RunnerLabel)

	condition, err := branchCondition(filter)
	if err != nil {
		return err
	}
	if condition != "" {
		fmt.Fprintf(b, "    if: %s\n", yamlScalar(condition))
	}

	if image := p.ImageFor(job); image != "" {
		fmt.Fprintf(b, "    container: %s\n", yamlScalar(image))
	}

	if len(job.Env) > 0 {
		b.WriteString("    env:\n")
		for _, key := range slices.Sorted(maps.Keys(job.Env)) {
			fmt.Fprintf(b, "      %s: %s\n", key, yamlScalar(job.Env[key]))
		}
	}

	b.WriteString("    steps:\n")
	if p.Setup.Checkout {
		b.WriteString("      - name: Checkout\n")
		fmt.Fprintf(b, "        uses: %s\n", CheckoutAction)
	}
	for _, step := range p.Setup.Steps {
		stepName := step.Name
		if stepName == "" {
			stepName = step.Run
		}
		fmt.Fprintf(b, "      - name: %s\n", yamlScalar(stepName))
		fmt.Fprintf(b, "        run: %s\n", yamlScalar(step.Run))
	}
	if cmd := p.Setup.Install.Command(); cmd != "" {
		b.WriteString("      - name: Install dependencies\n")
		fmt.Fprintf(b, "        run: %s\n", yamlScalar(cmd))
	}
	for _, cmd := range job.Commands {
		fmt.Fprintf(b, "      - name: %s\n", yamlScalar("Run "+job.Name))
		fmt.Fprintf(b, "        run: %s\n", yamlScalar(cmd))
	}
	return nil
}

// branchCondition converts a branch filter into a workflow expression.
func branchCondition(filter BranchFilter) (string, error) {
	if filter.IsEmpty() {
		return "", nil
	}

	var clauses []string
	if len(filter.Only) > 0 {
		var only []string
		for _, pattern := range filter.Only {
			if _, isRegex, _ := compileBranchPattern(pattern); isRegex {
				return "", fmt.Errorf("regular expression branch filter %s cannot be rendered", pattern)
			}
			only = append(only, fmt.Sprintf("github.ref_name == %s", expressionString(pattern)))
		}
		if len(only) == 1 {
			clauses = append(clauses, only[0])
		} else {
			clauses = append(clauses, "("+strings.Join(only, " || ")+")")
		}
	}
	for _, pattern := range filter.Ignore {
		if _, isRegex, _ := compileBranchPattern(pattern); isRegex {
			return "", fmt.Errorf("regular expression branch filter %s cannot be rendered", pattern)
		}
		clauses = append(clauses, fmt.Sprintf("github.ref_name != %s", expressionString(pattern)))
	}
	return strings.Join(clauses, " && "), nil
}

// expressionString quotes a string literal for a workflow expression.
func expressionString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// yamlScalar returns s as a plain scalar when a YAML parser reads it back as
// the same string and as a double-quoted scalar otherwise.
func yamlScalar(s string) string {
	switch {
	case !plainScalarPattern.MatchString(s),
		strings.Contains(s, ": "),
		strings.Contains(s, " #"),
		strings.HasPrefix(s, "- "),
		yamlReservedScalars[strings.ToLower(s)],
		!decodesAsString(s):
		return strconv.Quote(s)
	}
	return s
}

// decodesAsString reports whether the plain scalar s parses back as the
// string s. Hex, octal, infinity and NaN forms decode as numbers and fail.
func decodesAsString(s string) bool {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	str, ok := v.(string)
	return ok && str == s
}
