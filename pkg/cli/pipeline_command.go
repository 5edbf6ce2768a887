package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/gitutil"
	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/sgtm-bot/sgtm/pkg/pipeline"
	"github.com/spf13/cobra"
)

var pipelineLog = logger.New("cli:pipeline_command")

// DefaultWorkflowPath is where the rendered GitHub Actions workflow lives.
const DefaultWorkflowPath = ".github/workflows/build.yml"

// NewPipelineCommand creates the pipeline command and its subcommands.
func NewPipelineCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Plan, validate, render and run the CI pipeline",
		Long: `Work with the CI pipeline definition.

The definition is read from ` + pipeline.DefaultPath + ` unless --file is given. When the
default file does not exist, the built-in pipeline is used.`,
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", pipeline.DefaultPath, "Pipeline definition file")

	cmd.AddCommand(
		newPipelinePlanCommand(&file),
		newPipelineValidateCommand(&file),
		newPipelineRenderCommand(&file),
		newPipelineLintCommand(&file),
		newPipelineRunCommand(&file),
		newPipelineWatchCommand(&file),
		newPipelineSchemaCommand(),
	)
	return cmd
}

// loadPipeline loads and validates the definition at path. A missing default
// file falls back to the built-in pipeline.
func loadPipeline(path string, stderr io.Writer) (*pipeline.Pipeline, error) {
	p, err := pipeline.Load(path)
	if err != nil {
		if path == pipeline.DefaultPath && errors.Is(err, fs.ErrNotExist) {
			pipelineLog.Printf("%s not found, using built-in pipeline", path)
			fmt.Fprintln(stderr, console.FormatVerboseMessage(fmt.Sprintf("%s not found, using the built-in pipeline", path)))
			p = pipeline.Default()
		} else {
			reportPipelineError(stderr, err)
			return nil, err
		}
	}
	if err := p.Validate(); err != nil {
		reportPipelineError(stderr, err)
		return nil, err
	}
	return p, nil
}

// reportPipelineError prints load errors with source context and each
// validation violation on its own line.
func reportPipelineError(w io.Writer, err error) {
	var loadErr *pipeline.LoadError
	if errors.As(err, &loadErr) {
		fmt.Fprint(w, console.FormatError(loadErr.CompilerError()))
		return
	}
	for _, msg := range errorMessages(err) {
		fmt.Fprintln(w, console.FormatErrorMessage(msg))
	}
}

// resolveBranch returns the flag value or the checked-out branch.
func resolveBranch(ctx context.Context, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	branch, err := gitutil.CurrentBranch(ctx, ".")
	if err != nil {
		return "", fmt.Errorf("cannot determine the branch, pass --branch: %w", err)
	}
	return branch, nil
}

func newPipelinePlanCommand(file *string) *cobra.Command {
	var branch string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the jobs that run on a branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(*file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			branch, err := resolveBranch(cmd.Context(), branch)
			if err != nil {
				return err
			}
			jobs := p.Plan(branch)

			if jsonOutput {
				names := make([]string, 0, len(jobs))
				for _, job := range jobs {
					names = append(names, job.Name)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"branch": branch, "jobs": names})
			}

			if len(jobs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatInfoMessage(fmt.Sprintf("No jobs run on %s", branch)))
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{job.Name, p.ImageFor(job), strings.Join(job.Commands, " && ")})
			}
			fmt.Fprint(cmd.OutOrStdout(), console.RenderTable(console.TableConfig{
				Title:   "Jobs on " + branch,
				Headers: []string{"Job", "Image", "Commands"},
				Rows:    rows,
			}))
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to plan for (default: the current branch)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the plan as JSON")
	return cmd
}

func newPipelineValidateCommand(file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(*file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), console.FormatSuccessMessage(
				fmt.Sprintf("Pipeline is valid: %d job(s), runtime %s", len(p.Jobs), p.Runtime.Image)))
			return nil
		},
	}
}

func newPipelineRenderCommand(file *string) *cobra.Command {
	var output string
	var check bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the pipeline as a GitHub Actions workflow",
		Long: `Render the pipeline as a GitHub Actions workflow.

Without --output the workflow is printed. With --check the rendered workflow is
compared with the file at --output (default ` + DefaultWorkflowPath + `) and the command
fails when it is out of date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(*file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rendered, err := pipeline.Render(p)
			if err != nil {
				return err
			}

			if check {
				path := output
				if path == "" {
					path = DefaultWorkflowPath
				}
				existing, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				if !bytes.Equal(existing, rendered) {
					fmt.Fprintln(cmd.ErrOrStderr(), console.FormatCommandMessage("sgtm pipeline render --output "+path))
					return fmt.Errorf("%s is out of date", path)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatSuccessMessage(path+" is up to date"))
				return nil
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(rendered)
				return err
			}
			if err := os.WriteFile(output, rendered, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), console.FormatSuccessMessage("Wrote "+console.ToRelativePath(output)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the workflow to this file")
	cmd.Flags().BoolVar(&check, "check", false, "Fail when the workflow file is out of date")
	return cmd
}

func newPipelineLintCommand(file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Render the pipeline and lint the workflow with actionlint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(*file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			_, issues, err := pipeline.RenderAndLint(p, DefaultWorkflowPath)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatSuccessMessage("No lint issues"))
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatErrorMessage(issue.String()))
			}
			return fmt.Errorf("actionlint reported %d issue(s)", len(issues))
		},
	}
}

func newPipelineRunCommand(file *string) *cobra.Command {
	var (
		branch      string
		jobNames    []string
		maxParallel int
		skipSetup   bool
		repeat      int
		dir         string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the planned jobs locally",
		Long: `Run the jobs planned for a branch in the current checkout.

Steps run through "sh -c" with the job environment added; container images are
not used locally. Jobs run concurrently and a failing job does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(*file, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var jobs []*pipeline.Job
			if len(jobNames) > 0 {
				for _, name := range jobNames {
					job := p.Job(name)
					if job == nil {
						return fmt.Errorf("unknown job %q, declared jobs: %s", name, strings.Join(p.JobNames(), ", "))
					}
					jobs = append(jobs, job)
				}
			} else {
				branch, err := resolveBranch(cmd.Context(), branch)
				if err != nil {
					return err
				}
				jobs = p.Plan(branch)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatInfoMessage("No jobs to run"))
				return nil
			}

			fmt.Fprintln(cmd.ErrOrStderr(), console.FormatProgressMessage(fmt.Sprintf("Running %d job(s)", len(jobs))))
			runner := pipeline.NewRunner(p, pipeline.RunnerOptions{
				Dir:         dir,
				MaxParallel: maxParallel,
				Output:      cmd.OutOrStdout(),
				SkipSetup:   skipSetup,
			})
			return ExecuteWithRepeat(cmd.Context(), RepeatOptions{
				RepeatCount: repeat,
				Output:      cmd.ErrOrStderr(),
				ExecuteFunc: func(ctx context.Context) error {
					results, err := runner.Run(ctx, jobs)
					fmt.Fprint(cmd.ErrOrStderr(), renderResults(results))
					return err
				},
			})
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to plan for (default: the current branch)")
	cmd.Flags().StringSliceVarP(&jobNames, "job", "j", nil, "Run these jobs instead of the plan")
	_ = cmd.RegisterFlagCompletionFunc("job", completeJobNames(file))
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Maximum jobs running at once (0 = all)")
	cmd.Flags().BoolVar(&skipSetup, "skip-setup", false, "Skip the setup steps")
	cmd.Flags().IntVar(&repeat, "repeat", 0, "Run again this many times")
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "Directory to run the jobs in")
	return cmd
}

func renderResults(results []pipeline.JobResult) string {
	rows := make([][]string, 0, len(results))
	passed := 0
	var longest time.Duration
	for _, r := range results {
		status := "passed"
		if r.Succeeded() {
			passed++
		} else {
			status = "failed"
		}
		longest = max(longest, r.Duration)
		rows = append(rows, []string{r.Job, status, strconv.Itoa(r.ExitCode), r.Duration.Round(time.Millisecond).String()})
	}
	return console.RenderTable(console.TableConfig{
		Title:     "Results",
		Headers:   []string{"Job", "Status", "Exit", "Duration"},
		Rows:      rows,
		ShowTotal: len(results) > 1,
		TotalRow:  []string{"Total", fmt.Sprintf("%d/%d passed", passed, len(results)), "", longest.Round(time.Millisecond).String()},
	})
}

func newPipelineWatchCommand(file *string) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Validate the pipeline definition every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if IsRunningInCI() {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatErrorWithSuggestions("watch is interactive and does not run in CI", []string{
					"sgtm pipeline validate",
					"sgtm pipeline render --check",
				}))
				return errors.New("watch does not run in CI")
			}
			stderr := cmd.ErrOrStderr()
			fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("Watching %s. Press Ctrl+C to stop.", *file)))
			return pipeline.Watch(cmd.Context(), *file, debounce, func(p *pipeline.Pipeline, err error) {
				if err != nil {
					reportPipelineError(stderr, err)
					return
				}
				fmt.Fprintln(stderr, console.FormatSuccessMessage(fmt.Sprintf("Pipeline is valid: %d job(s)", len(p.Jobs))))
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", pipeline.DefaultWatchDebounce, "Quiet period before reloading")
	return cmd
}

func newPipelineSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := pipeline.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
