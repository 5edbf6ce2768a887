//go:build !integration

package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pullRequestNodeID = "abcde"
	commentNodeID     = "hijkl"
	issueNodeID       = "ksjklsdf"
	reviewDatabaseID  = 123456
)

type webhookFixture struct {
	client *fakeClient
	syncer *recordingSyncer
	hook   *Webhook
}

func newWebhookFixture(cfg config.Config) *webhookFixture {
	client := newFakeClient()
	syncer := &recordingSyncer{}
	hook := NewWebhook(client, NewLogic(client, cfg), syncer, NewKeyedLocker(time.Second))
	return &webhookFixture{client: client, syncer: syncer, hook: hook}
}

func (f *webhookFixture) handle(t *testing.T, eventType string, payload map[string]any) Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.hook.Handle(context.Background(), Event{Type: eventType, DeliveryID: "test", Payload: body})
}

func TestHandleUnknownEventType(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.hook.Handle(context.Background(), Event{Type: "unknown_event_type", Payload: []byte("{}")})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHandleMalformedPayload(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.hook.Handle(context.Background(), Event{Type: "pull_request", Payload: []byte(`{"action": 1}`)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	assert.Equal(t, []string{
		"check_run", "check_suite", "issue_comment", "pull_request",
		"pull_request_review", "pull_request_review_comment", "status",
	}, f.hook.Events())
}

func issueCommentPayload(action string) map[string]any {
	return map[string]any{
		"action":  action,
		"comment": map[string]any{"node_id": commentNodeID},
		"issue": map[string]any{
			"node_id":      issueNodeID,
			"pull_request": map[string]any{"url": "https://api.github.com/repos/acme/widgets/pulls/42"},
		},
	}
}

func TestHandleIssueCommentUnknownAction(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "issue_comment", issueCommentPayload("erroneous_action"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.client.recorded())
}

func TestHandleIssueCommentCreated(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	pr := openPullRequest()
	pr.ID = issueNodeID
	f.client.addPullRequest(pr)
	c := comment("bob", "lgtm", 1)
	c.ID = commentNodeID
	f.client.comments[commentNodeID] = &c

	resp := f.handle(t, "issue_comment", issueCommentPayload("created"))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{"GetPullRequestAndComment(ksjklsdf, hijkl)"}, f.client.recorded())
	assert.Equal(t, []string{"UpsertComment(ksjklsdf, hijkl)"}, f.syncer.calls)
}

func TestHandleIssueCommentDeleted(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "issue_comment", issueCommentPayload("deleted"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.client.recorded())
	assert.Equal(t, []string{"DeleteComment(hijkl)"}, f.syncer.calls)
}

func TestHandleIssueCommentOnPlainIssue(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	payload := issueCommentPayload("created")
	delete(payload["issue"].(map[string]any), "pull_request")

	resp := f.handle(t, "issue_comment", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.client.recorded())
	assert.Empty(t, f.syncer.calls)
}

func reviewCommentPayload(action string) map[string]any {
	return map[string]any{
		"action":       action,
		"pull_request": map[string]any{"node_id": pullRequestNodeID},
		"comment": map[string]any{
			"node_id":                commentNodeID,
			"pull_request_review_id": reviewDatabaseID,
		},
	}
}

func TestHandlePullRequestReviewCommentEdited(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	f.client.addPullRequest(pr)
	r := review("bob", ReviewStateCommented, 1)
	f.client.comments[commentNodeID] = &Comment{
		Typename: TypenamePullRequestReviewComment,
		ID:       commentNodeID,
		Review:   &r,
	}

	resp := f.handle(t, "pull_request_review_comment", reviewCommentPayload("edited"))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{"GetPullRequestAndComment(abcde, hijkl)"}, f.client.recorded())
	assert.Equal(t, []string{"UpsertReview(abcde, " + r.ID + ")"}, f.syncer.calls)
}

func TestHandlePullRequestReviewCommentDeletedReviewStillPresent(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	f.client.addPullRequest(pr)
	r := review("bob", ReviewStateCommented, 1)
	r.DatabaseID = reviewDatabaseID
	f.client.reviews[r.ID] = &r

	resp := f.handle(t, "pull_request_review_comment", reviewCommentPayload("deleted"))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{
		"GetReviewForDatabaseID(abcde, 123456)",
		"GetPullRequest(abcde)",
	}, f.client.recorded())
	assert.Equal(t, []string{"UpsertReview(abcde, " + r.ID + ")"}, f.syncer.calls)
}

func TestHandlePullRequestReviewCommentDeletedReviewNotFound(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "pull_request_review_comment", reviewCommentPayload("deleted"))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{"GetReviewForDatabaseID(abcde, 123456)"}, f.client.recorded())
	assert.Equal(t, []string{"DeleteComment(hijkl)"}, f.syncer.calls)
}

func TestHandlePullRequestReviewCommentUnknownAction(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "pull_request_review_comment", reviewCommentPayload("resolved"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePullRequest(t *testing.T) {
	f := newWebhookFixture(config.Config{AutomergeEnabled: true})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	pr.ReviewDecision = ""
	pr.Labels = []Label{{Name: string(AutomergeAfterApproval)}}
	f.client.addPullRequest(pr)

	resp := f.handle(t, "pull_request", map[string]any{
		"action":       "labeled",
		"pull_request": map[string]any{"node_id": pullRequestNodeID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{AutomergeWarningAfterApproval}, f.client.added)
	assert.Empty(t, f.client.merged)
	assert.Equal(t, []string{"UpsertPullRequest(abcde)"}, f.syncer.calls)
}

func TestHandlePullRequestNotFound(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "pull_request", map[string]any{
		"action":       "opened",
		"pull_request": map[string]any{"node_id": "missing"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlePullRequestClientError(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	f.client.err = errors.New("502 Bad Gateway")

	resp := f.handle(t, "pull_request", map[string]any{
		"action":       "opened",
		"pull_request": map[string]any{"node_id": pullRequestNodeID},
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Body, "502 Bad Gateway")
}

func TestHandlePullRequestMissingNodeID(t *testing.T) {
	f := newWebhookFixture(config.Config{})

	resp := f.handle(t, "pull_request", map[string]any{"action": "opened"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePullRequestReviewApprovalMerges(t *testing.T) {
	f := newWebhookFixture(config.Config{AutomergeEnabled: true})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	pr.Labels = []Label{{Name: string(AutomergeAfterApproval)}}
	f.client.addPullRequest(pr)
	r := review("bob", ReviewStateApproved, 1)
	f.client.reviews[r.ID] = &r

	resp := f.handle(t, "pull_request_review", map[string]any{
		"action":       "submitted",
		"pull_request": map[string]any{"node_id": pullRequestNodeID},
		"review":       map[string]any{"node_id": r.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []int{42}, f.client.merged)
	assert.Equal(t, []string{"UpsertReview(abcde, " + r.ID + ")"}, f.syncer.calls)
}

func TestHandlePullRequestReviewRerunSkipsMerge(t *testing.T) {
	f := newWebhookFixture(staleChecksConfig())
	f.hook.logic.now = func() time.Time { return baseTime }
	pr := withCheckSuites(openPullRequest())
	pr.ID = pullRequestNodeID
	pr.Labels = []Label{{Name: string(AutomergeAfterApproval)}}
	f.client.addPullRequest(pr)
	r := review("bob", ReviewStateApproved, 1)
	f.client.reviews[r.ID] = &r

	resp := f.handle(t, "pull_request_review", map[string]any{
		"action":       "submitted",
		"pull_request": map[string]any{"node_id": pullRequestNodeID},
		"review":       map[string]any{"node_id": r.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []int64{2, 5}, f.client.reruns)
	assert.Empty(t, f.client.merged)
}

func TestHandleCheckSuiteCompleted(t *testing.T) {
	f := newWebhookFixture(config.Config{AutomergeEnabled: true})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	pr.Labels = []Label{{Name: string(AutomergeAfterTests)}}
	f.client.addPullRequest(pr)

	resp := f.handle(t, "check_suite", map[string]any{
		"action":      "completed",
		"check_suite": map[string]any{"pull_requests": []any{map[string]any{"number": 42}}},
		"repository":  map[string]any{"name": "widgets", "owner": map[string]any{"login": "acme"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{
		"GetPullRequestByNumber(acme/widgets#42)",
		"GetPullRequest(abcde)",
		"MergePullRequest(acme/widgets#42)",
	}, f.client.recorded())
}

func TestHandleCheckRunIgnoresOtherActions(t *testing.T) {
	f := newWebhookFixture(config.Config{AutomergeEnabled: true})

	resp := f.handle(t, "check_run", map[string]any{
		"action":    "created",
		"check_run": map[string]any{"pull_requests": []any{map[string]any{"number": 42}}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.client.recorded())

	resp = f.handle(t, "check_run", map[string]any{
		"action":    "exploded",
		"check_run": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	f := newWebhookFixture(config.Config{})
	pr := openPullRequest()
	pr.ID = pullRequestNodeID
	f.client.addPullRequest(pr)
	f.client.byCommit["C_commit"] = pr

	resp := f.handle(t, "status", map[string]any{"commit": map[string]any{"node_id": "C_commit"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, []string{"UpsertPullRequest(abcde)"}, f.syncer.calls)

	resp = f.handle(t, "status", map[string]any{"commit": map[string]any{"node_id": "C_orphan"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.syncer.calls, 1)
}

// blockingLocker never grants the lock.
type blockingLocker struct{}

func (blockingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, ErrLockTimeout
}

func TestHandleLockTimeout(t *testing.T) {
	client := newFakeClient()
	hook := NewWebhook(client, NewLogic(client, config.Config{}), &recordingSyncer{}, blockingLocker{})

	body, err := json.Marshal(map[string]any{"pull_request": map[string]any{"node_id": pullRequestNodeID}})
	require.NoError(t, err)
	resp := hook.Handle(context.Background(), Event{Type: "pull_request", Payload: body})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, client.recorded())
}
