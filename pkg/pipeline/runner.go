package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/sourcegraph/conc/pool"
)

var runnerLog = logger.New("pipeline:runner")

// ExitCodeUnknown is reported when a step could not be started or did not exit
// normally.
const ExitCodeUnknown = -1

// Command is one shell step of a job.
type Command struct {
	Job    string
	Script string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs a single step and reports its exit status. A non-nil error
// means the step did not run to completion.
type Executor interface {
	Exec(ctx context.Context, cmd Command) (exitCode int, err error)
}

// ShellExecutor runs steps with "sh -c" in the process environment extended
// with the job environment.
type ShellExecutor struct{}

// Exec implements Executor.
func (ShellExecutor) Exec(ctx context.Context, cmd Command) (int, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}
	return ExitCodeUnknown, err
}

// JobResult is the outcome of one job.
type JobResult struct {
	Job      string
	ExitCode int
	Duration time.Duration
	Output   string
	Err      error
}

// Succeeded reports whether the job ran every step with exit status zero.
func (r JobResult) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Dir is the checked-out tree the steps run in.
	Dir string
	// Executor runs steps; defaults to ShellExecutor.
	Executor Executor
	// MaxParallel bounds concurrently running jobs; zero means one goroutine per job.
	MaxParallel int
	// Output receives each job's combined output once the job finishes.
	Output io.Writer
	// SkipSetup skips the setup procedure, for trees already set up.
	SkipSetup bool
}

// Runner runs planned jobs. Jobs run concurrently and independently: a failing
// job neither cancels nor affects the others, and nothing is retried.
type Runner struct {
	pipeline *Pipeline
	opts     RunnerOptions
	outputMu sync.Mutex
}

// NewRunner creates a runner for the pipeline.
func NewRunner(p *Pipeline, opts RunnerOptions) *Runner {
	if opts.Executor == nil {
		opts.Executor = ShellExecutor{}
	}
	return &Runner{pipeline: p, opts: opts}
}

// Run runs the jobs and returns one result per job, in the order given. The
// returned error lists the failed jobs, if any.
func (r *Runner) Run(ctx context.Context, jobs []*Job) ([]JobResult, error) {
	runnerLog.Printf("Running %d job(s), max parallel=%d", len(jobs), r.opts.MaxParallel)

	p := pool.NewWithResults[indexedResult]()
	if r.opts.MaxParallel > 0 {
		p = p.WithMaxGoroutines(r.opts.MaxParallel)
	}
	for i, job := range jobs {
		p.Go(func() indexedResult {
			return indexedResult{index: i, result: r.runJob(ctx, job)}
		})
	}

	results := make([]JobResult, len(jobs))
	for _, ir := range p.Wait() {
		results[ir.index] = ir.result
	}

	var failed []string
	for _, res := range results {
		if !res.Succeeded() {
			failed = append(failed, fmt.Sprintf("%s (exit %d)", res.Job, res.ExitCode))
		}
	}
	if len(failed) > 0 {
		runnerLog.Printf("Failed jobs: %v", failed)
		return results, fmt.Errorf("%d job(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

type indexedResult struct {
	index  int
	result JobResult
}

// runJob runs setup then the job's commands, stopping at the first failure.
func (r *Runner) runJob(ctx context.Context, job *Job) JobResult {
	start := time.Now()
	result := JobResult{Job: job.Name}
	var output bytes.Buffer

	var script []string
	if !r.opts.SkipSetup {
		script = append(script, r.pipeline.SetupScript()...)
	}
	script = append(script, job.Commands...)
	env := r.pipeline.Environment(job)

	for _, step := range script {
		if err := ctx.Err(); err != nil {
			result.ExitCode = ExitCodeUnknown
			result.Err = err
			break
		}

		runnerLog.Printf("Job %s: running %q", job.Name, step)
		fmt.Fprintf(&output, "$ %s\n", step)
		code, err := r.opts.Executor.Exec(ctx, Command{
			Job:    job.Name,
			Script: step,
			Env:    env,
			Dir:    r.opts.Dir,
			Stdout: &output,
			Stderr: &output,
		})
		result.ExitCode = code
		if err != nil {
			result.Err = fmt.Errorf("step %q: %w", step, err)
			break
		}
		if code != 0 {
			runnerLog.Printf("Job %s: step %q exited with %d", job.Name, step, code)
			break
		}
	}

	result.Duration = time.Since(start)
	result.Output = output.String()
	r.flush(result)
	return result
}

func (r *Runner) flush(result JobResult) {
	if r.opts.Output == nil {
		return
	}
	r.outputMu.Lock()
	defer r.outputMu.Unlock()
	fmt.Fprintf(r.opts.Output, "==> %s (exit %d, %s)\n%s", result.Job, result.ExitCode, result.Duration.Round(time.Millisecond), result.Output)
}
