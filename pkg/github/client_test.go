//go:build !integration

package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeTransport answers requests by path with canned status codes and bodies.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []recordedRequest
}

type fakeResponse struct {
	status int
	body   string
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body map[string]any
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				return nil, err
			}
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Body: body})
	resp, ok := f.responses[req.Method+" "+req.URL.Path]
	f.mu.Unlock()
	if !ok {
		resp = fakeResponse{status: http.StatusNotFound, body: `{"message": "Not Found"}`}
	}

	return &http.Response{
		StatusCode: resp.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

func newTestAPIClient(t *testing.T, responses map[string]fakeResponse) (*APIClient, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{responses: responses}
	client, err := NewAPIClient(ClientOptions{Host: "github.com", AuthToken: "test-token", Transport: transport})
	require.NoError(t, err)
	return client, transport
}

const pullRequestJSON = `{
  "id": "PR_abcde",
  "number": 42,
  "title": "Add retries",
  "body": "cc @carol",
  "url": "https://github.com/acme/widgets/pull/42",
  "closed": false,
  "merged": false,
  "mergedAt": null,
  "mergeable": "MERGEABLE",
  "reviewDecision": "APPROVED",
  "baseRefName": "main",
  "author": {"login": "alice"},
  "repository": {"name": "widgets", "owner": {"login": "acme"}},
  "assignees": {"nodes": [{"login": "bob", "name": "Bob"}]},
  "reviewRequests": {"nodes": [
    {"requestedReviewer": {"__typename": "User", "login": "dave"}},
    {"requestedReviewer": {"__typename": "Team", "slug": "platform", "members": {"nodes": [{"login": "erin"}]}}},
    {"requestedReviewer": null}
  ]},
  "labels": {"nodes": [{"name": "merge after tests"}]},
  "reviews": {"nodes": [{
    "id": "PRR_1",
    "databaseId": 7,
    "author": {"login": "bob"},
    "body": "LGTM",
    "url": "https://github.com/acme/widgets/pull/42#pullrequestreview-7",
    "state": "APPROVED",
    "submittedAt": "2024-03-01T10:00:00Z",
    "comments": {"nodes": [{
      "__typename": "PullRequestReviewComment",
      "id": "PRRC_1",
      "databaseId": 8,
      "author": {"login": "bob"},
      "body": "nit",
      "url": "https://github.com/acme/widgets/pull/42#discussion_r8",
      "publishedAt": "2024-03-01T09:59:00Z"
    }]}
  }]},
  "comments": {"nodes": [{
    "__typename": "IssueComment",
    "id": "IC_1",
    "databaseId": 9,
    "author": null,
    "body": "from a deleted account",
    "url": "https://github.com/acme/widgets/pull/42#issuecomment-9",
    "publishedAt": "2024-03-01T08:00:00Z"
  }]},
  "commits": {"nodes": [{"commit": {
    "oid": "deadbeef",
    "statusCheckRollup": {"state": "SUCCESS"},
    "checkSuites": {"nodes": [{"checkRuns": {"nodes": [
      {"databaseId": 11, "name": "test", "status": "COMPLETED", "conclusion": "SUCCESS", "completedAt": "2024-03-01T07:00:00Z"},
      {"databaseId": 12, "name": "lint", "status": "IN_PROGRESS", "conclusion": null, "completedAt": null}
    ]}}]}
  }}]}
}`

func TestAPIClientGetPullRequest(t *testing.T) {
	client, transport := newTestAPIClient(t, map[string]fakeResponse{
		"POST /graphql": {http.StatusOK, `{"data": {"node": ` + pullRequestJSON + `}}`},
	})

	pr, err := client.GetPullRequest(context.Background(), "PR_abcde")
	require.NoError(t, err)
	require.NotNil(t, pr)

	assert.Equal(t, "acme/widgets#42", pr.String())
	assert.Equal(t, "alice", pr.AuthorHandle())
	assert.True(t, pr.IsOpen())
	assert.True(t, pr.IsApproved())
	assert.True(t, pr.IsMergeable())
	assert.True(t, pr.IsBuildSuccessful())
	assert.True(t, pr.HasLabel("merge after tests"))
	assert.Equal(t, []string{"bob"}, pr.AssigneeHandles())
	assert.Equal(t, []string{"dave", "erin"}, pr.RequestedReviewerHandles(true))
	assert.Equal(t, []string{"dave"}, pr.RequestedReviewerHandles(false))

	require.Len(t, pr.Reviews, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), pr.Reviews[0].SubmittedAt.UTC())
	require.Len(t, pr.Reviews[0].Comments, 1)
	assert.True(t, pr.Reviews[0].Comments[0].IsReviewComment())

	require.Len(t, pr.Comments, 1)
	assert.Empty(t, pr.Comments[0].AuthorHandle(), "deleted accounts have no login")

	head, ok := pr.HeadCommit()
	require.True(t, ok)
	require.Len(t, head.CheckSuites, 1)
	runs := head.CheckSuites[0].CheckRuns
	require.Len(t, runs, 2)
	assert.NotNil(t, runs[0].CompletedAt)
	assert.Nil(t, runs[1].CompletedAt)

	require.Len(t, transport.requests, 1)
	assert.Equal(t, map[string]any{"id": "PR_abcde"}, transport.requests[0].Body["variables"])
	assert.Contains(t, transport.requests[0].Body["query"], "fragment FullPullRequest")
}

func TestAPIClientGetPullRequestMissing(t *testing.T) {
	client, _ := newTestAPIClient(t, map[string]fakeResponse{
		"POST /graphql": {http.StatusOK, `{"data": {"node": null}}`},
	})

	pr, err := client.GetPullRequest(context.Background(), "PR_gone")
	require.NoError(t, err)
	assert.Nil(t, pr)
}

func TestAPIClientGraphQLError(t *testing.T) {
	client, _ := newTestAPIClient(t, map[string]fakeResponse{
		"POST /graphql": {http.StatusOK, `{"data": null, "errors": [{"message": "Something went wrong"}]}`},
	})

	_, err := client.GetPullRequest(context.Background(), "PR_abcde")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Something went wrong")
}

func TestAPIClientGetPullRequestAndComment(t *testing.T) {
	commentJSON := `{
	  "__typename": "PullRequestReviewComment",
	  "id": "PRRC_1",
	  "databaseId": 8,
	  "author": {"login": "bob"},
	  "body": "nit",
	  "publishedAt": "2024-03-01T09:59:00Z",
	  "pullRequestReview": {"id": "PRR_1", "databaseId": 7, "author": {"login": "bob"}, "state": "COMMENTED", "submittedAt": "2024-03-01T10:00:00Z", "comments": {"nodes": []}}
	}`
	client, _ := newTestAPIClient(t, map[string]fakeResponse{
		"POST /graphql": {http.StatusOK, `{"data": {"pullRequest": ` + pullRequestJSON + `, "comment": ` + commentJSON + `}}`},
	})

	pr, c, err := client.GetPullRequestAndComment(context.Background(), "PR_abcde", "PRRC_1")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	require.NotNil(t, c)

	r, err := ReviewFromComment(c)
	require.NoError(t, err)
	assert.Equal(t, "PRR_1", r.ID)
	assert.Equal(t, ReviewStateCommented, r.State)
}

func TestAPIClientGetReviewForDatabaseID(t *testing.T) {
	client, _ := newTestAPIClient(t, map[string]fakeResponse{
		"POST /graphql": {http.StatusOK, `{"data": {"node": {"reviews": {"nodes": [
		  {"id": "PRR_1", "databaseId": 7, "author": {"login": "bob"}, "state": "APPROVED", "submittedAt": "2024-03-01T10:00:00Z", "comments": {"nodes": []}},
		  {"id": "PRR_2", "databaseId": 8, "author": {"login": "carol"}, "state": "PENDING", "submittedAt": null, "comments": {"nodes": []}}
		]}}}}`},
	})

	r, err := client.GetReviewForDatabaseID(context.Background(), "PR_abcde", 8)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "PRR_2", r.ID)
	assert.True(t, r.SubmittedAt.IsZero())

	r, err = client.GetReviewForDatabaseID(context.Background(), "PR_abcde", 99)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestAPIClientWrites(t *testing.T) {
	client, transport := newTestAPIClient(t, map[string]fakeResponse{
		"POST /repos/acme/widgets/issues/42/comments":      {http.StatusCreated, `{"id": 1}`},
		"PUT /repos/acme/widgets/pulls/42/merge":           {http.StatusOK, `{"merged": true}`},
		"POST /repos/acme/widgets/check-runs/11/rerequest": {http.StatusCreated, `{}`},
		"POST /repos/acme/widgets/check-runs/12/rerequest": {http.StatusForbidden, `{"message": "Resource not accessible by integration"}`},
		"POST /repos/acme/widgets/check-runs/13/rerequest": {http.StatusInternalServerError, `{"message": "boom"}`},
	})
	ctx := context.Background()

	require.NoError(t, client.AddPullRequestComment(ctx, "acme", "widgets", 42, "hello"))
	require.NoError(t, client.MergePullRequest(ctx, "acme", "widgets", 42, "Add retries", "Adds retries"))

	reran, err := client.RerequestCheckRun(ctx, "acme", "widgets", 11)
	require.NoError(t, err)
	assert.True(t, reran)

	reran, err = client.RerequestCheckRun(ctx, "acme", "widgets", 12)
	require.NoError(t, err)
	assert.False(t, reran)

	_, err = client.RerequestCheckRun(ctx, "acme", "widgets", 13)
	require.Error(t, err)

	require.GreaterOrEqual(t, len(transport.requests), 2)
	assert.Equal(t, map[string]any{"body": "hello"}, transport.requests[0].Body)
	assert.Equal(t, map[string]any{
		"commit_title":   "Add retries (#42)",
		"commit_message": "Adds retries",
		"merge_method":   "squash",
	}, transport.requests[1].Body)
}

func TestNewComment(t *testing.T) {
	c, err := NewComment([]byte(`{"__typename": "IssueComment", "id": "IC_1", "author": {"login": "bob"}, "body": "hi"}`))
	require.NoError(t, err)
	assert.False(t, c.IsReviewComment())
	assert.Equal(t, "bob", c.AuthorHandle())

	_, err = ReviewFromComment(c)
	require.Error(t, err)

	_, err = NewComment([]byte(`{"__typename": "CommitComment", "id": "CC_1"}`))
	require.Error(t, err)
}
