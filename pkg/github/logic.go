package github

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var logicLog = logger.New("github:logic")

var (
	mentionPattern        = regexp.MustCompile(`\B@([a-zA-Z0-9_\-]+)`)
	approvalMarkerPattern = regexp.MustCompile(`sgtm|lgtm|sounds good|sound good|looks good|look good|looks great|look great|\+1|ship\s?it|👍|🚢`)
)

// AutomergeLabel is a label that asks the bot to merge a pull request.
type AutomergeLabel string

const (
	AutomergeAfterTestsAndApproval AutomergeLabel = "merge after tests and approval"
	AutomergeAfterTests            AutomergeLabel = "merge after tests"
	AutomergeAfterApproval         AutomergeLabel = "merge after approval"
	AutomergeImmediately           AutomergeLabel = "merge immediately"
)

// Warning comments left for reviewers of pull requests that merge on approval.
const (
	AutomergeWarningAfterTestsAndApproval = "**:warning: Reviewer:** If you approve this PR, it will be auto-merged as soon as" +
		" tests pass. If you don't want this to be auto-merged, either Request Changes or" +
		" remove the auto-merge label before accepting."
	AutomergeWarningAfterApproval = "**:warning: Reviewer:** If you approve this PR, it will be auto-merged immediately." +
		" If you don't want this to be auto-merged, either Request Changes or" +
		" remove the auto-merge label before accepting."
)

// ApprovedBeforeMergeStatus is the review outcome of a merged pull request.
type ApprovedBeforeMergeStatus int

const (
	ApprovedBeforeMergeNo ApprovedBeforeMergeStatus = iota
	ApprovedBeforeMergeNeedsFollowup
	ApprovedBeforeMergeApproved
)

func (s ApprovedBeforeMergeStatus) String() string {
	switch s {
	case ApprovedBeforeMergeNeedsFollowup:
		return "NEEDS_FOLLOWUP"
	case ApprovedBeforeMergeApproved:
		return "APPROVED"
	default:
		return "NO"
	}
}

// ExtractMentions returns the handles @-mentioned in text, in order of appearance.
func ExtractMentions(text string) []string {
	var mentions []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, m[1])
	}
	return mentions
}

// InjectTaskIntoPullRequestBody appends a link to the synchronized task.
func InjectTaskIntoPullRequestBody(body, taskURL string) string {
	return body + "\n\n\n" + fmt.Sprintf("Pull Request synchronized with [Asana task](%s)", taskURL)
}

// CommentParticipantsAndMentions returns the author and everyone mentioned in the comment.
func CommentParticipantsAndMentions(c *Comment) []string {
	return uniqueHandles(append([]string{c.AuthorHandle()}, ExtractMentions(c.Body)...))
}

// ReviewParticipantsAndMentions returns the reviewer and everyone mentioned in
// the review summary or its comments.
func ReviewParticipantsAndMentions(r *Review) []string {
	handles := append([]string{r.AuthorHandle()}, ExtractMentions(r.Body)...)
	for _, c := range r.Comments {
		handles = append(handles, ExtractMentions(c.Body)...)
	}
	return uniqueHandles(handles)
}

// PullRequestParticipants returns the author, assignees, requested reviewers
// and the handles mentioned in the description. Members of requested teams
// count unless team subscription is disabled.
func PullRequestParticipants(pr *PullRequest, cfg config.Config) []string {
	handles := []string{pr.AuthorHandle()}
	handles = append(handles, pr.AssigneeHandles()...)
	handles = append(handles, pr.RequestedReviewerHandles(!cfg.DisableGitHubTeamSubscription)...)
	handles = append(handles, ExtractMentions(pr.Body)...)
	return uniqueHandles(handles)
}

// uniqueHandles drops empty and duplicate handles and sorts the rest.
func uniqueHandles(handles []string) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		if h != "" {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// PullRequestApprovedBeforeMerging decides from the last approval or changes
// request submitted before the merge. An approval from a follow-up reviewer
// only counts when the last review from anyone else was an approval too.
func PullRequestApprovedBeforeMerging(pr *PullRequest, cfg config.Config) (ApprovedBeforeMergeStatus, error) {
	if !pr.Merged {
		return ApprovedBeforeMergeNo, fmt.Errorf("checked for pre-merge approval on %s, which is not merged", pr)
	}
	if pr.MergedAt == nil {
		// Merged at an unknown time, assume any approval came after.
		return ApprovedBeforeMergeNo, nil
	}

	var premerge []Review
	for _, r := range pr.Reviews {
		if r.IsApprovalOrChangesRequested() && r.SubmittedAt.Before(*pr.MergedAt) {
			premerge = append(premerge, r)
		}
	}
	if len(premerge) == 0 {
		return ApprovedBeforeMergeNo, nil
	}
	sort.SliceStable(premerge, func(i, j int) bool {
		return premerge[i].SubmittedAt.Before(premerge[j].SubmittedAt)
	})

	latest := premerge[len(premerge)-1]
	if !latest.IsApproval() {
		return ApprovedBeforeMergeNo, nil
	}
	if cfg.NeedsFollowupReview(latest.Author.Login) {
		var last *Review
		for i := range premerge {
			if !cfg.NeedsFollowupReview(premerge[i].Author.Login) {
				last = &premerge[i]
			}
		}
		if last == nil || !last.IsApproval() {
			return ApprovedBeforeMergeNeedsFollowup, nil
		}
	}
	return ApprovedBeforeMergeApproved, nil
}

// IsApprovalCommentBody reports whether body contains an approval marker such
// as "LGTM" or "ship it".
func IsApprovalCommentBody(body string) bool {
	return approvalMarkerPattern.MatchString(strings.ToLower(body))
}

// PullRequestApprovedAfterMerging reports whether someone other than the
// author approved in a comment or review summary posted after the merge.
// Follow-up reviewers are ignored.
func PullRequestApprovedAfterMerging(pr *PullRequest, cfg config.Config) bool {
	if pr.MergedAt == nil {
		return false
	}
	mergedAt := *pr.MergedAt

	for _, c := range pr.Comments {
		if c.PublishedAt.Before(mergedAt) || c.AuthorHandle() == pr.AuthorHandle() || cfg.NeedsFollowupReview(c.Author.Login) {
			continue
		}
		if IsApprovalCommentBody(c.Body) {
			return true
		}
	}
	for _, r := range pr.Reviews {
		if r.SubmittedAt.Before(mergedAt) || cfg.NeedsFollowupReview(r.Author.Login) {
			continue
		}
		if IsApprovalCommentBody(r.Body) {
			return true
		}
	}
	return false
}

// Logic runs the actions the bot takes on pull requests.
type Logic struct {
	client Client
	cfg    config.Config
	now    func() time.Time
}

// NewLogic creates the pull request logic.
func NewLogic(client Client, cfg config.Config) *Logic {
	return &Logic{client: client, cfg: cfg, now: time.Now}
}

// Config returns the configuration the logic runs with.
func (l *Logic) Config() config.Config {
	return l.cfg
}

// MaybeAddAutomergeWarningComment warns reviewers of a pull request that will
// be merged on approval. The comment is added once, and not at all after the
// pull request is approved.
func (l *Logic) MaybeAddAutomergeWarningComment(ctx context.Context, pr *PullRequest) error {
	if !l.cfg.AutomergeEnabled {
		return nil
	}

	afterTestsAndApproval := pr.HasLabel(string(AutomergeAfterTestsAndApproval))
	afterApproval := pr.HasLabel(string(AutomergeAfterApproval))
	if !afterTestsAndApproval && !afterApproval {
		return nil
	}

	warning := AutomergeWarningAfterApproval
	if afterTestsAndApproval {
		warning = AutomergeWarningAfterTestsAndApproval
	}
	if hasComment(pr, warning) || pr.IsApproved() {
		return nil
	}

	logicLog.Printf("Adding automerge warning to %s", pr)
	return l.client.AddPullRequestComment(ctx, pr.Owner, pr.Repository, pr.Number, warning)
}

func hasComment(pr *PullRequest, body string) bool {
	return slices.ContainsFunc(pr.Comments, func(c Comment) bool { return c.Body == body })
}

// MaybeAutomergePullRequest merges an open pull request whose automerge label
// conditions hold. With several labels the most permissive one applies. A pull
// request whose stale checks were just rerun waits for the new results.
func (l *Logic) MaybeAutomergePullRequest(ctx context.Context, pr *PullRequest) (bool, error) {
	if !l.cfg.AutomergeEnabled || !pr.IsOpen() {
		logicLog.Printf("Skipping automerge for %s: enabled=%t, open=%t", pr, l.cfg.AutomergeEnabled, pr.IsOpen())
		return false, nil
	}

	ready := false
	rerun := false
	var err error
	switch {
	case pr.HasLabel(string(AutomergeImmediately)):
		ready = pr.Mergeable == MergeableStateMergeable || pr.Mergeable == MergeableStateUnknown
	case pr.HasLabel(string(AutomergeAfterTests)):
		ready = pr.IsBuildSuccessful() && pr.IsMergeable()
		if ready {
			rerun, err = l.maybeRerunStaleChecks(ctx, pr)
		}
	case pr.HasLabel(string(AutomergeAfterTestsAndApproval)):
		ready = pr.IsBuildSuccessful() && pr.IsMergeable() && pr.IsApproved()
		if ready {
			rerun, err = l.maybeRerunStaleChecks(ctx, pr)
		}
	case pr.HasLabel(string(AutomergeAfterApproval)):
		ready = pr.IsMergeable() && pr.IsApproved()
	}
	if err != nil {
		return false, err
	}

	logicLog.Printf("%s status: build successful=%t, mergeable=%t, approved=%t, ready=%t, reran stale checks=%t",
		pr, pr.IsBuildSuccessful(), pr.IsMergeable(), pr.IsApproved(), ready, rerun)

	if !ready || rerun {
		return false, nil
	}
	if err := l.client.MergePullRequest(ctx, pr.Owner, pr.Repository, pr.Number, pr.Title, pr.Body); err != nil {
		return false, fmt.Errorf("failed to merge %s: %w", pr, err)
	}
	return true, nil
}

// MaybeRerunStaleChecksOnApprovedPullRequest reruns stale checks as soon as an
// open pull request is approved, so results are fresh by the time it merges.
func (l *Logic) MaybeRerunStaleChecksOnApprovedPullRequest(ctx context.Context, pr *PullRequest) (bool, error) {
	if !l.cfg.CheckRerunOnApprovalEnabled || !pr.IsOpen() || !pr.IsApproved() {
		logicLog.Printf("Not rerunning checks on %s: open=%t, approved=%t", pr, pr.IsOpen(), pr.IsApproved())
		return false, nil
	}
	logicLog.Printf("%s is open and approved, maybe rerun stale checks", pr)
	return l.maybeRerunStaleChecks(ctx, pr)
}

// maybeRerunStaleChecks rerequests check runs of the head commit that
// completed before the freshness threshold. Only the first stale run of each
// suite is rerequested, since rerunning one run reruns its whole suite.
func (l *Logic) maybeRerunStaleChecks(ctx context.Context, pr *PullRequest) (bool, error) {
	if !l.cfg.RerunsChecksFor(pr.BaseRefName) {
		logicLog.Printf("%s base %s not in %v or rerun threshold unset", pr, pr.BaseRefName, l.cfg.CheckRerunBaseRefNames)
		return false, nil
	}
	head, found := pr.HeadCommit()
	if !found {
		return false, nil
	}

	freshness := l.now().Add(-time.Duration(l.cfg.CheckRerunThresholdHours) * time.Hour)
	logicLog.Printf("Looking for check runs completed before %s", freshness.Format(time.RFC3339))

	didRerun := false
	for _, suite := range head.CheckSuites {
		for _, run := range suite.CheckRuns {
			// Runs without a completion time are still in progress.
			if run.CompletedAt == nil || !run.CompletedAt.Before(freshness) {
				continue
			}
			logicLog.Printf("Check run %d (%s) is stale", run.DatabaseID, run.Name)
			accepted, err := l.client.RerequestCheckRun(ctx, pr.Owner, pr.Repository, run.DatabaseID)
			if err != nil {
				return didRerun, err
			}
			didRerun = didRerun || accepted
			break
		}
	}
	return didRerun, nil
}
