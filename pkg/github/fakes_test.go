//go:build !integration

package github

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeClient serves canned models and records writes.
type fakeClient struct {
	mu sync.Mutex

	pullRequests map[string]*PullRequest
	byNumber     map[int]*PullRequest
	byCommit     map[string]*PullRequest
	comments     map[string]*Comment
	reviews      map[string]*Review

	err         error
	rerunResult bool

	calls  []string
	added  []string
	merged []int
	reruns []int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pullRequests: map[string]*PullRequest{},
		byNumber:     map[int]*PullRequest{},
		byCommit:     map[string]*PullRequest{},
		comments:     map[string]*Comment{},
		reviews:      map[string]*Review{},
		rerunResult:  true,
	}
}

func (f *fakeClient) addPullRequest(pr *PullRequest) {
	f.pullRequests[pr.ID] = pr
	f.byNumber[pr.Number] = pr
}

func (f *fakeClient) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeClient) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) GetPullRequest(ctx context.Context, id string) (*PullRequest, error) {
	f.record("GetPullRequest(%s)", id)
	return f.pullRequests[id], f.err
}

func (f *fakeClient) GetPullRequestByNumber(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	f.record("GetPullRequestByNumber(%s/%s#%d)", owner, repo, number)
	return f.byNumber[number], f.err
}

func (f *fakeClient) GetPullRequestForCommit(ctx context.Context, commitID string) (*PullRequest, error) {
	f.record("GetPullRequestForCommit(%s)", commitID)
	return f.byCommit[commitID], f.err
}

func (f *fakeClient) GetPullRequestAndComment(ctx context.Context, prID, commentID string) (*PullRequest, *Comment, error) {
	f.record("GetPullRequestAndComment(%s, %s)", prID, commentID)
	return f.pullRequests[prID], f.comments[commentID], f.err
}

func (f *fakeClient) GetPullRequestAndReview(ctx context.Context, prID, reviewID string) (*PullRequest, *Review, error) {
	f.record("GetPullRequestAndReview(%s, %s)", prID, reviewID)
	return f.pullRequests[prID], f.reviews[reviewID], f.err
}

func (f *fakeClient) GetReviewForDatabaseID(ctx context.Context, prID string, databaseID int64) (*Review, error) {
	f.record("GetReviewForDatabaseID(%s, %d)", prID, databaseID)
	for _, r := range f.reviews {
		if r.DatabaseID == databaseID {
			return r, f.err
		}
	}
	return nil, f.err
}

func (f *fakeClient) AddPullRequestComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.record("AddPullRequestComment(%s/%s#%d)", owner, repo, number)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, body)
	return f.err
}

func (f *fakeClient) MergePullRequest(ctx context.Context, owner, repo string, number int, title, body string) error {
	f.record("MergePullRequest(%s/%s#%d)", owner, repo, number)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, number)
	return f.err
}

func (f *fakeClient) RerequestCheckRun(ctx context.Context, owner, repo string, checkRunID int64) (bool, error) {
	f.record("RerequestCheckRun(%d)", checkRunID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reruns = append(f.reruns, checkRunID)
	return f.rerunResult, f.err
}

// recordingSyncer records what it was asked to synchronize.
type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSyncer) record(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *recordingSyncer) UpsertPullRequest(ctx context.Context, pr *PullRequest) error {
	return s.record("UpsertPullRequest(%s)", pr.ID)
}

func (s *recordingSyncer) UpsertComment(ctx context.Context, pr *PullRequest, c *Comment) error {
	return s.record("UpsertComment(%s, %s)", pr.ID, c.ID)
}

func (s *recordingSyncer) UpsertReview(ctx context.Context, pr *PullRequest, r *Review) error {
	return s.record("UpsertReview(%s, %s)", pr.ID, r.ID)
}

func (s *recordingSyncer) DeleteComment(ctx context.Context, commentID string) error {
	return s.record("DeleteComment(%s)", commentID)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return baseTime.Add(time.Duration(hours) * time.Hour)
}

func timeAt(hours int) *time.Time {
	t := at(hours)
	return &t
}

// openPullRequest returns an open, mergeable, green and approved pull request.
func openPullRequest() *PullRequest {
	return &PullRequest{
		ID:             "PR_abcde",
		Number:         42,
		Title:          "Add retries",
		Body:           "Adds retries, cc @carol",
		Owner:          "acme",
		Repository:     "widgets",
		BaseRefName:    "main",
		Author:         User{Login: "alice"},
		Mergeable:      MergeableStateMergeable,
		ReviewDecision: string(ReviewStateApproved),
		Commits: []Commit{{
			OID:         "deadbeef",
			StatusState: StatusStateSuccess,
		}},
	}
}

func review(login string, state ReviewState, hours int) Review {
	return Review{
		ID:          fmt.Sprintf("PRR_%s_%d", login, hours),
		Author:      User{Login: login},
		State:       state,
		SubmittedAt: at(hours),
	}
}

func comment(login, body string, hours int) Comment {
	return Comment{
		Typename:    TypenameIssueComment,
		ID:          fmt.Sprintf("IC_%s_%d", login, hours),
		Author:      User{Login: login},
		Body:        body,
		PublishedAt: at(hours),
	}
}
