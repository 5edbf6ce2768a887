package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var webhookLog = logger.New("github:webhook")

// Event is a webhook delivery.
type Event struct {
	// Type is the X-GitHub-Event header value.
	Type       string
	DeliveryID string
	Payload    []byte
}

// Response is the outcome of handling an event, as an HTTP status code and message.
type Response struct {
	StatusCode int
	Body       string
}

func respond(status int, format string, args ...any) Response {
	return Response{StatusCode: status, Body: fmt.Sprintf(format, args...)}
}

func ok() Response {
	return Response{StatusCode: http.StatusOK}
}

type nodeRef struct {
	NodeID string `json:"node_id"`
}

type pullRequestRef struct {
	Number int `json:"number"`
}

type checkSuitePayload struct {
	PullRequests []pullRequestRef `json:"pull_requests"`
}

type payload struct {
	Action      string   `json:"action"`
	PullRequest *nodeRef `json:"pull_request"`
	Review      *nodeRef `json:"review"`
	Commit      *nodeRef `json:"commit"`
	Issue       *struct {
		NodeID      string          `json:"node_id"`
		PullRequest json.RawMessage `json:"pull_request"`
	} `json:"issue"`
	Comment *struct {
		NodeID              string `json:"node_id"`
		PullRequestReviewID int64  `json:"pull_request_review_id"`
	} `json:"comment"`
	CheckSuite *checkSuitePayload `json:"check_suite"`
	CheckRun   *struct {
		PullRequests []pullRequestRef `json:"pull_requests"`
	} `json:"check_run"`
	Repository *struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// Webhook dispatches GitHub webhook events. Work on a pull request happens
// under its lock.
type Webhook struct {
	client Client
	logic  *Logic
	syncer Syncer
	locker Locker

	handlers map[string]func(context.Context, *payload) Response
}

// NewWebhook creates the dispatcher.
func NewWebhook(client Client, logic *Logic, syncer Syncer, locker Locker) *Webhook {
	w := &Webhook{client: client, logic: logic, syncer: syncer, locker: locker}
	w.handlers = map[string]func(context.Context, *payload) Response{
		"pull_request":                w.handlePullRequest,
		"pull_request_review":         w.handlePullRequestReview,
		"pull_request_review_comment": w.handlePullRequestReviewComment,
		"issue_comment":               w.handleIssueComment,
		"status":                      w.handleStatus,
		"check_suite":                 w.handleCheckSuite,
		"check_run":                   w.handleCheckRun,
	}
	return w
}

// Events returns the event types the webhook handles.
func (w *Webhook) Events() []string {
	events := make([]string, 0, len(w.handlers))
	for e := range w.handlers {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}

// Handle dispatches an event. Unknown event types get 501, unknown actions and
// malformed payloads 400.
func (w *Webhook) Handle(ctx context.Context, event Event) Response {
	handler, found := w.handlers[event.Type]
	if !found {
		webhookLog.Printf("Delivery %s: unsupported event %q", event.DeliveryID, event.Type)
		return respond(http.StatusNotImplemented, "No handler for event type %s", event.Type)
	}

	var p payload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return respond(http.StatusBadRequest, "Invalid %s payload: %v", event.Type, err)
		}
	}

	webhookLog.Printf("Delivery %s: handling %s/%s", event.DeliveryID, event.Type, p.Action)
	resp := handler(ctx, &p)
	webhookLog.Printf("Delivery %s: %d %s", event.DeliveryID, resp.StatusCode, resp.Body)
	return resp
}

// withLock runs fn holding the lock for key.
func (w *Webhook) withLock(ctx context.Context, key string, fn func() Response) Response {
	unlock, err := w.locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return respond(http.StatusServiceUnavailable, "%v", err)
		}
		return respond(http.StatusInternalServerError, "Failed to lock %s: %v", key, err)
	}
	defer unlock()
	return fn()
}

func failed(err error) Response {
	return respond(http.StatusInternalServerError, "%v", err)
}

func (w *Webhook) handlePullRequest(ctx context.Context, p *payload) Response {
	if p.PullRequest == nil || p.PullRequest.NodeID == "" {
		return respond(http.StatusBadRequest, "Missing pull_request.node_id")
	}
	return w.syncPullRequest(ctx, p.PullRequest.NodeID)
}

// syncPullRequest fetches the pull request under its lock, runs automerge and
// hands it to the syncer. Label changes arrive here, so this is also where the
// automerge warning is added.
func (w *Webhook) syncPullRequest(ctx context.Context, pullRequestID string) Response {
	return w.withLock(ctx, pullRequestID, func() Response {
		pr, err := w.client.GetPullRequest(ctx, pullRequestID)
		if err != nil {
			return failed(err)
		}
		if pr == nil {
			return respond(http.StatusNotFound, "Pull request %s not found", pullRequestID)
		}
		if _, err := w.logic.MaybeAutomergePullRequest(ctx, pr); err != nil {
			return failed(err)
		}
		if err := w.logic.MaybeAddAutomergeWarningComment(ctx, pr); err != nil {
			return failed(err)
		}
		if err := w.syncer.UpsertPullRequest(ctx, pr); err != nil {
			return failed(err)
		}
		return ok()
	})
}

func (w *Webhook) handlePullRequestReview(ctx context.Context, p *payload) Response {
	switch p.Action {
	case "submitted", "edited", "dismissed":
	default:
		return respond(http.StatusBadRequest, "Unknown action %s for pull_request_review", p.Action)
	}
	if p.PullRequest == nil || p.Review == nil {
		return respond(http.StatusBadRequest, "Missing pull_request or review")
	}

	pullRequestID, reviewID := p.PullRequest.NodeID, p.Review.NodeID
	return w.withLock(ctx, pullRequestID, func() Response {
		pr, review, err := w.client.GetPullRequestAndReview(ctx, pullRequestID, reviewID)
		if err != nil {
			return failed(err)
		}
		if review == nil {
			return respond(http.StatusNotFound, "Review %s not found", reviewID)
		}
		reran, err := w.logic.MaybeRerunStaleChecksOnApprovedPullRequest(ctx, pr)
		if err != nil {
			return failed(err)
		}
		// Rerun checks report back through check_suite events.
		if !reran {
			if _, err := w.logic.MaybeAutomergePullRequest(ctx, pr); err != nil {
				return failed(err)
			}
		}
		if err := w.syncer.UpsertReview(ctx, pr, review); err != nil {
			return failed(err)
		}
		return ok()
	})
}

func (w *Webhook) handlePullRequestReviewComment(ctx context.Context, p *payload) Response {
	switch p.Action {
	case "created", "edited", "deleted":
	default:
		return respond(http.StatusBadRequest, "Unknown action %s for pull_request_review_comment", p.Action)
	}
	if p.PullRequest == nil || p.Comment == nil {
		return respond(http.StatusBadRequest, "Missing pull_request or comment")
	}

	pullRequestID, commentID := p.PullRequest.NodeID, p.Comment.NodeID
	return w.withLock(ctx, pullRequestID, func() Response {
		if p.Action == "deleted" {
			return w.syncDeletedReviewComment(ctx, pullRequestID, commentID, p.Comment.PullRequestReviewID)
		}

		pr, comment, err := w.client.GetPullRequestAndComment(ctx, pullRequestID, commentID)
		if err != nil {
			return failed(err)
		}
		if comment == nil {
			return respond(http.StatusNotFound, "Comment %s not found", commentID)
		}
		review, err := ReviewFromComment(comment)
		if err != nil {
			return failed(err)
		}
		if err := w.syncer.UpsertReview(ctx, pr, review); err != nil {
			return failed(err)
		}
		return ok()
	})
}

// syncDeletedReviewComment updates the review the comment belonged to. A
// review deleted along with its last comment is gone too, then only the
// comment is removed.
func (w *Webhook) syncDeletedReviewComment(ctx context.Context, pullRequestID, commentID string, reviewDatabaseID int64) Response {
	review, err := w.client.GetReviewForDatabaseID(ctx, pullRequestID, reviewDatabaseID)
	if err != nil {
		return failed(err)
	}
	if review == nil {
		if err := w.syncer.DeleteComment(ctx, commentID); err != nil {
			return failed(err)
		}
		return ok()
	}

	pr, err := w.client.GetPullRequest(ctx, pullRequestID)
	if err != nil {
		return failed(err)
	}
	if pr == nil {
		return respond(http.StatusNotFound, "Pull request %s not found", pullRequestID)
	}
	if err := w.syncer.UpsertReview(ctx, pr, review); err != nil {
		return failed(err)
	}
	return ok()
}

func (w *Webhook) handleIssueComment(ctx context.Context, p *payload) Response {
	switch p.Action {
	case "created", "edited", "deleted":
	default:
		return respond(http.StatusBadRequest, "Unknown action %s for issue_comment", p.Action)
	}
	if p.Issue == nil || p.Comment == nil {
		return respond(http.StatusBadRequest, "Missing issue or comment")
	}
	// Issue comments also fire for plain issues.
	if len(p.Issue.PullRequest) == 0 || string(p.Issue.PullRequest) == "null" {
		return respond(http.StatusOK, "Issue %s is not a pull request", p.Issue.NodeID)
	}

	pullRequestID, commentID := p.Issue.NodeID, p.Comment.NodeID
	return w.withLock(ctx, pullRequestID, func() Response {
		if p.Action == "deleted" {
			if err := w.syncer.DeleteComment(ctx, commentID); err != nil {
				return failed(err)
			}
			return ok()
		}

		pr, comment, err := w.client.GetPullRequestAndComment(ctx, pullRequestID, commentID)
		if err != nil {
			return failed(err)
		}
		if comment == nil {
			return respond(http.StatusNotFound, "Comment %s not found", commentID)
		}
		if err := w.syncer.UpsertComment(ctx, pr, comment); err != nil {
			return failed(err)
		}
		return ok()
	})
}

// handleStatus reacts to commit status changes, which may complete the
// requirements for automerge.
func (w *Webhook) handleStatus(ctx context.Context, p *payload) Response {
	if p.Commit == nil || p.Commit.NodeID == "" {
		return respond(http.StatusBadRequest, "Missing commit.node_id")
	}
	pr, err := w.client.GetPullRequestForCommit(ctx, p.Commit.NodeID)
	if err != nil {
		return failed(err)
	}
	if pr == nil {
		return respond(http.StatusOK, "No pull request for commit %s", p.Commit.NodeID)
	}
	return w.syncPullRequest(ctx, pr.ID)
}

func (w *Webhook) handleCheckSuite(ctx context.Context, p *payload) Response {
	if p.CheckSuite == nil {
		return respond(http.StatusBadRequest, "Missing check_suite")
	}
	return w.handleCheckCompletion(ctx, p, "check_suite", p.CheckSuite.PullRequests)
}

func (w *Webhook) handleCheckRun(ctx context.Context, p *payload) Response {
	if p.CheckRun == nil {
		return respond(http.StatusBadRequest, "Missing check_run")
	}
	return w.handleCheckCompletion(ctx, p, "check_run", p.CheckRun.PullRequests)
}

// handleCheckCompletion syncs the pull requests of a finished check. Other
// check actions are acknowledged and ignored.
func (w *Webhook) handleCheckCompletion(ctx context.Context, p *payload, event string, refs []pullRequestRef) Response {
	switch p.Action {
	case "completed":
	case "created", "requested", "rerequested", "requested_action":
		return respond(http.StatusOK, "Ignoring %s action %s", event, p.Action)
	default:
		return respond(http.StatusBadRequest, "Unknown action %s for %s", p.Action, event)
	}
	if p.Repository == nil {
		return respond(http.StatusBadRequest, "Missing repository")
	}

	owner, repo := p.Repository.Owner.Login, p.Repository.Name
	for _, ref := range refs {
		pr, err := w.client.GetPullRequestByNumber(ctx, owner, repo, ref.Number)
		if err != nil {
			return failed(err)
		}
		if pr == nil {
			webhookLog.Printf("Pull request %s/%s#%d not found", owner, repo, ref.Number)
			continue
		}
		if resp := w.syncPullRequest(ctx, pr.ID); resp.StatusCode != http.StatusOK {
			return resp
		}
	}
	return ok()
}
