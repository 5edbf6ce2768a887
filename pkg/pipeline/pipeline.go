// Package pipeline models the repository's continuous integration pipeline.
//
// A pipeline is a reusable setup procedure, a set of independent jobs, and a
// workflow deciding which jobs run for a branch. Each job is a stateless
// invocation of an external tool against the checked-out tree: its exit status
// is its result, there are no retries, and jobs share no state.
//
// The package can load a pipeline definition, validate it, plan it for a
// branch, render it as a GitHub Actions workflow, lint that rendering, run the
// planned jobs locally, and watch a definition file for changes.
package pipeline

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var pipelineLog = logger.New("pipeline:pipeline")

const (
	// CurrentVersion is the only pipeline definition version understood.
	CurrentVersion = 1

	// DefaultMainBranch is the main integration branch.
	DefaultMainBranch = "main"

	// DefaultImage pins the language runtime every job runs in.
	DefaultImage = "python:3.9"

	// TestRegion is the fixed region literal the test job must export.
	TestRegion = "us-east-1"

	// PlaceholderCredential is the fake credential value exported to tests.
	PlaceholderCredential = "fake"

	RegionEnvVar     = "AWS_DEFAULT_REGION"
	CredentialEnvVar = "AWS_ACCESS_KEY_ID"
	SecretEnvVar     = "AWS_SECRET_ACCESS_KEY"

	TestJob      = "test"
	FormatJob    = "black"
	TypeCheckJob = "mypy"
)

// SourceDirs are the trees the formatting and type-check jobs run over.
var SourceDirs = []string{"src", "test", "scripts"}

// Pipeline is a complete pipeline definition.
type Pipeline struct {
	Version    int             `yaml:"version" json:"version" jsonschema:"Definition format version, must be 1"`
	MainBranch string          `yaml:"main-branch,omitempty" json:"main-branch,omitempty" jsonschema:"Main integration branch name"`
	Runtime    Runtime         `yaml:"runtime" json:"runtime" jsonschema:"Language runtime shared by all jobs"`
	Setup      Setup           `yaml:"setup" json:"setup" jsonschema:"Setup procedure run at the start of every job"`
	Jobs       map[string]*Job `yaml:"jobs" json:"jobs" jsonschema:"Jobs keyed by name"`
	Workflow   Workflow        `yaml:"workflow" json:"workflow" jsonschema:"Which jobs run on which branches"`

	// source is the file the pipeline was loaded from, if any.
	source string
}

// Setup is the procedure shared by every job: fetch the source, run any extra
// steps, then install the declared dependencies.
type Setup struct {
	Checkout bool    `yaml:"checkout" json:"checkout" jsonschema:"Fetch the source tree"`
	Steps    []Step  `yaml:"steps,omitempty" json:"steps,omitempty" jsonschema:"Extra steps run after checkout"`
	Install  Install `yaml:"install" json:"install" jsonschema:"Dependency installation"`
}

// Step is a named shell command.
type Step struct {
	Name string `yaml:"name" json:"name"`
	Run  string `yaml:"run" json:"run"`
}

// Install declares the dependency manager and whether development-only
// dependencies are installed.
type Install struct {
	Manager string `yaml:"manager" json:"manager" jsonschema:"Package manager executable"`
	Dev     bool   `yaml:"dev" json:"dev" jsonschema:"Include development dependencies"`
}

// Command returns the installation command line, or "" when no manager is set.
func (i Install) Command() string {
	if i.Manager == "" {
		return ""
	}
	if i.Dev {
		return i.Manager + " install --dev"
	}
	return i.Manager + " install"
}

// Job is one isolated unit of execution.
type Job struct {
	Name     string            `yaml:"-" json:"-"`
	Image    string            `yaml:"image,omitempty" json:"image,omitempty" jsonschema:"Container image overriding the runtime image"`
	Env      map[string]string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"Environment variables"`
	Commands []string          `yaml:"commands" json:"commands" jsonschema:"Commands run in order after setup"`
}

// Workflow composes jobs with branch filters.
type Workflow struct {
	Name string        `yaml:"name" json:"name"`
	Jobs []WorkflowJob `yaml:"jobs" json:"jobs"`
}

// WorkflowJob schedules a job, optionally restricted to some branches.
type WorkflowJob struct {
	Job      string       `yaml:"job" json:"job"`
	Branches BranchFilter `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// BranchFilter restricts a job to a subset of branches. A pattern is either an
// exact branch name or a regular expression between slashes, matched against
// the whole branch name. An empty filter matches every branch.
type BranchFilter struct {
	Only   []string `yaml:"only,omitempty" json:"only,omitempty"`
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// IsEmpty reports whether the filter matches every branch.
func (f BranchFilter) IsEmpty() bool {
	return len(f.Only) == 0 && len(f.Ignore) == 0
}

// Matches reports whether the branch passes the filter. Patterns that fail to
// compile never match; Validate reports them.
func (f BranchFilter) Matches(branch string) bool {
	if len(f.Only) > 0 && !matchAny(f.Only, branch) {
		return false
	}
	return !matchAny(f.Ignore, branch)
}

func matchAny(patterns []string, branch string) bool {
	for _, pattern := range patterns {
		if matchBranch(pattern, branch) {
			return true
		}
	}
	return false
}

func matchBranch(pattern, branch string) bool {
	re, isRegex, err := compileBranchPattern(pattern)
	if !isRegex {
		return pattern == branch
	}
	if err != nil {
		return false
	}
	return re.MatchString(branch)
}

// compileBranchPattern compiles "/expr/" patterns, anchored on both ends.
func compileBranchPattern(pattern string) (*regexp.Regexp, bool, error) {
	if len(pattern) < 2 || !strings.HasPrefix(pattern, "/") || !strings.HasSuffix(pattern, "/") {
		return nil, false, nil
	}
	re, err := regexp.Compile("^(?:" + pattern[1:len(pattern)-1] + ")$")
	return re, true, err
}

// Default returns the repository's pipeline: tests on every branch, formatting
// and type checks on every branch except the main one.
func Default() *Pipeline {
	dirs := strings.Join(SourceDirs, " ")
	return &Pipeline{
		Version:    CurrentVersion,
		MainBranch: DefaultMainBranch,
		Runtime:    Runtime{Image: DefaultImage},
		Setup: Setup{
			Checkout: true,
			Steps:    []Step{{Name: "Install pipenv", Run: "pip install pipenv"}},
			Install:  Install{Manager: "pipenv", Dev: true},
		},
		Jobs: map[string]*Job{
			TestJob: {
				Name: TestJob,
				Env: map[string]string{
					RegionEnvVar:     TestRegion,
					CredentialEnvVar: PlaceholderCredential,
					SecretEnvVar:     PlaceholderCredential,
				},
				Commands: []string{"pipenv run python -m unittest discover"},
			},
			FormatJob: {
				Name:     FormatJob,
				Commands: []string{"pipenv run black --check " + dirs},
			},
			TypeCheckJob: {
				Name:     TypeCheckJob,
				Commands: []string{"pipenv run mypy " + dirs},
			},
		},
		Workflow: Workflow{
			Name: "build",
			Jobs: []WorkflowJob{
				{Job: TestJob},
				{Job: FormatJob, Branches: BranchFilter{Ignore: []string{DefaultMainBranch}}},
				{Job: TypeCheckJob, Branches: BranchFilter{Ignore: []string{DefaultMainBranch}}},
			},
		},
	}
}

// Source returns the file the pipeline was loaded from, or "" for built-in pipelines.
func (p *Pipeline) Source() string {
	return p.source
}

// mainBranch returns the configured main branch, defaulting to DefaultMainBranch.
func (p *Pipeline) mainBranch() string {
	if p.MainBranch == "" {
		return DefaultMainBranch
	}
	return p.MainBranch
}

// Job returns the named job, or nil.
func (p *Pipeline) Job(name string) *Job {
	job := p.Jobs[name]
	if job != nil && job.Name == "" {
		job.Name = name
	}
	return job
}

// JobNames returns the declared job names, sorted.
func (p *Pipeline) JobNames() []string {
	return slices.Sorted(maps.Keys(p.Jobs))
}

// Plan returns the jobs scheduled for a branch, in workflow order. Workflow
// entries naming undeclared jobs are skipped.
func (p *Pipeline) Plan(branch string) []*Job {
	pipelineLog.Printf("Planning workflow %q for branch %q", p.Workflow.Name, branch)

	var jobs []*Job
	for _, wj := range p.Workflow.Jobs {
		job := p.Job(wj.Job)
		if job == nil {
			pipelineLog.Printf("Skipping undeclared job %q", wj.Job)
			continue
		}
		if !wj.Branches.Matches(branch) {
			pipelineLog.Printf("Job %q filtered out on branch %q", wj.Job, branch)
			continue
		}
		jobs = append(jobs, job)
	}

	pipelineLog.Printf("Planned %d job(s) for branch %q", len(jobs), branch)
	return jobs
}

// ImageFor returns the container image a job runs in.
func (p *Pipeline) ImageFor(job *Job) string {
	if job.Image != "" {
		return job.Image
	}
	return p.Runtime.Image
}

// Environment returns the job's environment as sorted KEY=value pairs.
func (p *Pipeline) Environment(job *Job) []string {
	keys := slices.Sorted(maps.Keys(job.Env))
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, job.Env[k]))
	}
	return env
}

// SetupScript returns the setup commands every job runs before its own
// commands. Checkout is not included: locally the tree is already present.
func (p *Pipeline) SetupScript() []string {
	var script []string
	for _, step := range p.Setup.Steps {
		script = append(script, step.Run)
	}
	if cmd := p.Setup.Install.Command(); cmd != "" {
		script = append(script, cmd)
	}
	return script
}

// normalize fills derived fields after decoding.
func (p *Pipeline) normalize() {
	for name, job := range p.Jobs {
		if job == nil {
			continue
		}
		job.Name = name
	}
}
