package pipeline

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var validateLog = logger.New("pipeline:validate")

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// jobNamePattern matches the job ids GitHub Actions accepts.
var jobNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Validate checks the definition and returns every violation joined into one
// error, or nil. Beyond structure it enforces the properties the workflow is
// relied upon for:
//
//   - on the main branch only the test job is scheduled;
//   - on any other branch every workflow job is scheduled;
//   - the test job exports the fixed region and a non-empty placeholder credential.
func (p *Pipeline) Validate() error {
	validateLog.Printf("Validating pipeline: source=%q, jobs=%d, workflow entries=%d", p.source, len(p.Jobs), len(p.Workflow.Jobs))

	var errs []error
	errs = append(errs, p.validateHeader()...)
	errs = append(errs, p.validateJobs()...)
	errs = append(errs, p.validateWorkflow()...)
	if len(errs) == 0 {
		errs = append(errs, p.validateSchedule()...)
	}

	if len(errs) > 0 {
		validateLog.Printf("Validation failed with %d error(s)", len(errs))
		return errors.Join(errs...)
	}
	validateLog.Print("Validation passed")
	return nil
}

func (p *Pipeline) validateHeader() []error {
	var errs []error
	if p.Version != CurrentVersion {
		errs = append(errs, NewValidationError("version", fmt.Sprint(p.Version),
			fmt.Sprintf("unsupported pipeline version, expected %d", CurrentVersion), ""))
	}
	if p.Runtime.Image == "" {
		errs = append(errs, NewValidationError("runtime.image", "", "a runtime image is required",
			"pin a language runtime, e.g. "+DefaultImage))
	} else if !p.Runtime.IsPinned() {
		errs = append(errs, NewValidationError("runtime.image", p.Runtime.Image,
			"image does not pin a runtime version", "use a versioned tag such as "+DefaultImage))
	}
	if p.Setup.Install.Dev && p.Setup.Install.Manager == "" {
		errs = append(errs, NewValidationError("setup.install.manager", "",
			"development dependencies requested without a package manager", ""))
	}
	for i, step := range p.Setup.Steps {
		if step.Run == "" {
			errs = append(errs, NewValidationError(fmt.Sprintf("setup.steps[%d].run", i), step.Name,
				"setup step has no command", ""))
		}
	}
	return errs
}

func (p *Pipeline) validateJobs() []error {
	var errs []error
	if len(p.Jobs) == 0 {
		return append(errs, NewValidationError("jobs", "", "at least one job is required", ""))
	}

	for _, name := range p.JobNames() {
		job := p.Job(name)
		field := "jobs." + name
		if !jobNamePattern.MatchString(name) {
			errs = append(errs, NewValidationError("jobs", name, "not a valid job name",
				"use letters, digits, '-' and '_', starting with a letter or '_'"))
		}
		if job == nil {
			errs = append(errs, NewValidationError(field, "", "job is empty", ""))
			continue
		}
		if len(job.Commands) == 0 {
			errs = append(errs, NewValidationError(field+".commands", "", "job has no commands", ""))
		}
		for i, cmd := range job.Commands {
			if cmd == "" {
				errs = append(errs, NewValidationError(fmt.Sprintf("%s.commands[%d]", field, i), "", "command is empty", ""))
			}
		}
		for key := range job.Env {
			if !envNamePattern.MatchString(key) {
				errs = append(errs, NewValidationError(field+".env", key, "not a valid environment variable name", ""))
			}
		}
		if job.Image != "" {
			if !isPinnedImage(job.Image) {
				errs = append(errs, NewValidationError(field+".image", job.Image,
					"image does not pin a runtime version", ""))
			} else if v := imageVersion(job.Image); v != "" && p.Runtime.Version() != "" && !isSameMajorMinor(v, p.Runtime.Version()) {
				errs = append(errs, NewValidationError(field+".image", job.Image,
					fmt.Sprintf("job runtime differs from the pipeline runtime %s", p.Runtime.Version()),
					"all jobs must run on the same runtime version"))
			}
		}
	}

	errs = append(errs, p.validateTestEnvironment()...)
	return errs
}

// validateTestEnvironment enforces the fixed region literal and placeholder
// credential of the test job, so tests never reach a real account.
func (p *Pipeline) validateTestEnvironment() []error {
	job := p.Job(TestJob)
	if job == nil {
		return []error{NewValidationError("jobs."+TestJob, "", "the test job is required", "")}
	}

	var errs []error
	if region := job.Env[RegionEnvVar]; region != TestRegion {
		errs = append(errs, NewValidationError("jobs.test.env."+RegionEnvVar, region,
			"the test job must set the fixed region "+TestRegion, ""))
	}
	if job.Env[CredentialEnvVar] == "" {
		errs = append(errs, NewValidationError("jobs.test.env."+CredentialEnvVar, "",
			"the test job must set a placeholder credential", "use "+PlaceholderCredential))
	}
	return errs
}

func (p *Pipeline) validateWorkflow() []error {
	var errs []error
	if len(p.Workflow.Jobs) == 0 {
		return append(errs, NewValidationError("workflow.jobs", "", "workflow schedules no jobs", ""))
	}

	seen := make(map[string]bool)
	for i, wj := range p.Workflow.Jobs {
		field := fmt.Sprintf("workflow.jobs[%d]", i)
		if p.Job(wj.Job) == nil {
			errs = append(errs, NewValidationError(field+".job", wj.Job, "job is not declared",
				fmt.Sprintf("declared jobs: %v", p.JobNames())))
		}
		if seen[wj.Job] {
			errs = append(errs, NewValidationError(field+".job", wj.Job, "job is scheduled more than once", ""))
		}
		seen[wj.Job] = true

		for _, pattern := range append(append([]string{}, wj.Branches.Only...), wj.Branches.Ignore...) {
			if _, isRegex, err := compileBranchPattern(pattern); isRegex && err != nil {
				errs = append(errs, NewValidationError(field+".branches", pattern,
					fmt.Sprintf("invalid branch pattern: %v", err), ""))
			}
		}
	}
	return errs
}

// validateSchedule checks which jobs the workflow schedules: only the test job
// on the main branch, every job on any other branch. The second property holds
// for all branch names only if filters do nothing but exclude the main branch.
func (p *Pipeline) validateSchedule() []error {
	var errs []error

	main := p.mainBranch()
	mainPlan := p.Plan(main)
	if len(mainPlan) != 1 || mainPlan[0].Name != TestJob {
		errs = append(errs, NewValidationError("workflow", main,
			fmt.Sprintf("only the test job may run on the main branch, planned %v", jobNames(mainPlan)),
			"add the main branch to the ignore filter of the other jobs"))
	}

	for i, wj := range p.Workflow.Jobs {
		field := fmt.Sprintf("workflow.jobs[%d].branches", i)
		if len(wj.Branches.Only) > 0 {
			errs = append(errs, NewValidationError(field+".only", fmt.Sprint(wj.Branches.Only),
				"every job must run on non-main branches", "use an ignore filter on the main branch instead"))
		}
		for _, pattern := range wj.Branches.Ignore {
			if pattern != main {
				errs = append(errs, NewValidationError(field+".ignore", pattern,
					"only the main branch may be ignored", ""))
			}
		}
	}
	return errs
}

func jobNames(jobs []*Job) []string {
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name)
	}
	return names
}
