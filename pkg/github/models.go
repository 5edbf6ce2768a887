package github

import (
	"fmt"
	"slices"
	"time"
)

// MergeableState mirrors the GraphQL MergeableState enum.
type MergeableState string

const (
	MergeableStateMergeable   MergeableState = "MERGEABLE"
	MergeableStateConflicting MergeableState = "CONFLICTING"
	MergeableStateUnknown     MergeableState = "UNKNOWN"
)

// ReviewState mirrors the GraphQL PullRequestReviewState enum.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
	ReviewStateDismissed        ReviewState = "DISMISSED"
	ReviewStatePending          ReviewState = "PENDING"
)

// Typename values of the two comment kinds a pull request carries.
const (
	TypenameIssueComment             = "IssueComment"
	TypenamePullRequestReviewComment = "PullRequestReviewComment"
)

// StatusStateSuccess is the status check rollup state of a green commit.
const StatusStateSuccess = "SUCCESS"

type User struct {
	Login string
	Name  string
}

type Label struct {
	Name string
}

// CheckRun is a single check. CompletedAt is nil while the run is in progress.
type CheckRun struct {
	DatabaseID  int64
	Name        string
	Status      string
	Conclusion  string
	CompletedAt *time.Time
}

type CheckSuite struct {
	CheckRuns []CheckRun
}

type Commit struct {
	OID         string
	StatusState string
	CheckSuites []CheckSuite
}

// Comment is either an issue comment on the pull request conversation or a
// review comment attached to a line of the diff.
type Comment struct {
	Typename    string
	ID          string
	DatabaseID  int64
	Author      User
	Body        string
	URL         string
	PublishedAt time.Time

	// Review is the review a PullRequestReviewComment belongs to.
	Review *Review
}

// AuthorHandle returns the login of the comment author.
func (c *Comment) AuthorHandle() string {
	return c.Author.Login
}

// IsReviewComment reports whether the comment is attached to a review.
func (c *Comment) IsReviewComment() bool {
	return c.Typename == TypenamePullRequestReviewComment
}

type Review struct {
	ID          string
	DatabaseID  int64
	Author      User
	Body        string
	URL         string
	State       ReviewState
	SubmittedAt time.Time
	Comments    []Comment
}

// ReviewFromComment returns the review a review comment belongs to.
func ReviewFromComment(c *Comment) (*Review, error) {
	if !c.IsReviewComment() {
		return nil, fmt.Errorf("comment %s is a %s, not a review comment", c.ID, c.Typename)
	}
	if c.Review == nil {
		return nil, fmt.Errorf("review comment %s has no review", c.ID)
	}
	return c.Review, nil
}

// AuthorHandle returns the login of the reviewer.
func (r *Review) AuthorHandle() string {
	return r.Author.Login
}

func (r *Review) IsApproval() bool {
	return r.State == ReviewStateApproved
}

func (r *Review) IsApprovalOrChangesRequested() bool {
	return r.State == ReviewStateApproved || r.State == ReviewStateChangesRequested
}

// RequestedReviewer is a user or a team asked to review. Team requests carry
// the team members.
type RequestedReviewer struct {
	Login   string
	Team    string
	Members []User
}

// IsTeam reports whether the request was made to a team.
func (r RequestedReviewer) IsTeam() bool {
	return r.Team != ""
}

type PullRequest struct {
	ID          string
	Number      int
	Title       string
	Body        string
	URL         string
	Owner       string
	Repository  string
	BaseRefName string

	Author             User
	Assignees          []User
	RequestedReviewers []RequestedReviewer
	Labels             []Label

	Closed         bool
	Merged         bool
	MergedAt       *time.Time
	Mergeable      MergeableState
	ReviewDecision string

	Reviews  []Review
	Comments []Comment
	// Commits holds the head commit first.
	Commits []Commit
}

// AuthorHandle returns the login of the pull request author.
func (pr *PullRequest) AuthorHandle() string {
	return pr.Author.Login
}

// IsOpen reports whether the pull request is neither closed nor merged.
func (pr *PullRequest) IsOpen() bool {
	return !pr.Closed && !pr.Merged
}

// IsApproved reports whether GitHub considers the review requirements met.
func (pr *PullRequest) IsApproved() bool {
	return pr.ReviewDecision == string(ReviewStateApproved)
}

// IsMergeable reports whether the pull request merges cleanly.
func (pr *PullRequest) IsMergeable() bool {
	return pr.Mergeable == MergeableStateMergeable
}

// IsBuildSuccessful reports whether the head commit's checks all passed.
func (pr *PullRequest) IsBuildSuccessful() bool {
	head, ok := pr.HeadCommit()
	return ok && head.StatusState == StatusStateSuccess
}

// HeadCommit returns the most recent commit.
func (pr *PullRequest) HeadCommit() (Commit, bool) {
	if len(pr.Commits) == 0 {
		return Commit{}, false
	}
	return pr.Commits[0], true
}

// HasLabel reports whether the pull request carries a label with the given name.
func (pr *PullRequest) HasLabel(name string) bool {
	return slices.ContainsFunc(pr.Labels, func(l Label) bool { return l.Name == name })
}

// AssigneeHandles returns the logins of the assignees.
func (pr *PullRequest) AssigneeHandles() []string {
	handles := make([]string, 0, len(pr.Assignees))
	for _, u := range pr.Assignees {
		handles = append(handles, u.Login)
	}
	return handles
}

// RequestedReviewerHandles returns the logins of requested reviewers. Team
// requests contribute their members when includeTeamMembers is set.
func (pr *PullRequest) RequestedReviewerHandles(includeTeamMembers bool) []string {
	var handles []string
	for _, r := range pr.RequestedReviewers {
		if !r.IsTeam() {
			handles = append(handles, r.Login)
			continue
		}
		if includeTeamMembers {
			for _, m := range r.Members {
				handles = append(handles, m.Login)
			}
		}
	}
	return handles
}

// String identifies the pull request in log messages.
func (pr *PullRequest) String() string {
	return fmt.Sprintf("%s/%s#%d", pr.Owner, pr.Repository, pr.Number)
}
