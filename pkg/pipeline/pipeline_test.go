//go:build !integration

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanMainBranchSchedulesOnlyTests(t *testing.T) {
	p := Default()

	jobs := p.Plan(DefaultMainBranch)

	require.Len(t, jobs, 1, "only the test job should run on the main branch")
	assert.Equal(t, TestJob, jobs[0].Name)
}

func TestPlanOtherBranchesScheduleEveryJob(t *testing.T) {
	p := Default()

	branches := []string{"feature/automerge", "mainline", "release-1.2", "fix-main", ""}
	for _, branch := range branches {
		t.Run("branch "+branch, func(t *testing.T) {
			jobs := p.Plan(branch)
			assert.Equal(t, []string{TestJob, FormatJob, TypeCheckJob}, jobNames(jobs))
		})
	}
}

func TestPlanSkipsUndeclaredJobs(t *testing.T) {
	p := Default()
	p.Workflow.Jobs = append(p.Workflow.Jobs, WorkflowJob{Job: "docs"})

	assert.Equal(t, []string{TestJob, FormatJob, TypeCheckJob}, jobNames(p.Plan("feature")))
}

func TestBranchFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter BranchFilter
		branch string
		want   bool
	}{
		{"empty filter matches everything", BranchFilter{}, "anything", true},
		{"ignore exact", BranchFilter{Ignore: []string{"main"}}, "main", false},
		{"ignore is not a prefix match", BranchFilter{Ignore: []string{"main"}}, "main-2", true},
		{"only exact", BranchFilter{Only: []string{"release"}}, "release", true},
		{"only excludes others", BranchFilter{Only: []string{"release"}}, "feature", false},
		{"regex only", BranchFilter{Only: []string{"/release-.*/"}}, "release-1.0", true},
		{"regex is anchored", BranchFilter{Only: []string{"/release/"}}, "pre-release", false},
		{"regex ignore", BranchFilter{Ignore: []string{"/dependabot/.+/"}}, "dependabot/pip/black", false},
		{"ignore wins over only", BranchFilter{Only: []string{"/.*/"}, Ignore: []string{"main"}}, "main", false},
		{"invalid regex never matches", BranchFilter{Only: []string{"/(/"}}, "(", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.branch))
		})
	}
}

func TestDefaultTestJobEnvironment(t *testing.T) {
	p := Default()
	job := p.Job(TestJob)
	require.NotNil(t, job)

	assert.Equal(t, []string{
		"AWS_ACCESS_KEY_ID=fake",
		"AWS_DEFAULT_REGION=us-east-1",
		"AWS_SECRET_ACCESS_KEY=fake",
	}, p.Environment(job))
}

func TestSetupScript(t *testing.T) {
	p := Default()
	assert.Equal(t, []string{"pip install pipenv", "pipenv install --dev"}, p.SetupScript())

	p.Setup.Install.Dev = false
	assert.Equal(t, "pipenv install", p.Setup.Install.Command())

	p.Setup.Install.Manager = ""
	assert.Empty(t, p.Setup.Install.Command())
}

func TestFormatAndTypeCheckRunOverSourceDirs(t *testing.T) {
	p := Default()

	assert.Equal(t, []string{"pipenv run black --check src test scripts"}, p.Job(FormatJob).Commands)
	assert.Equal(t, []string{"pipenv run mypy src test scripts"}, p.Job(TypeCheckJob).Commands)
	assert.Equal(t, DefaultImage, p.ImageFor(p.Job(FormatJob)))
}
