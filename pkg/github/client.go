package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cli/go-gh/v2/pkg/api"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var clientLog = logger.New("github:client")

// Client is the subset of the GitHub API the bot needs. Reads return fully
// populated models; methods returning a pointer return nil when the node does
// not exist.
type Client interface {
	GetPullRequest(ctx context.Context, pullRequestID string) (*PullRequest, error)
	GetPullRequestByNumber(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPullRequestForCommit(ctx context.Context, commitID string) (*PullRequest, error)
	GetPullRequestAndComment(ctx context.Context, pullRequestID, commentID string) (*PullRequest, *Comment, error)
	GetPullRequestAndReview(ctx context.Context, pullRequestID, reviewID string) (*PullRequest, *Review, error)
	GetReviewForDatabaseID(ctx context.Context, pullRequestID string, reviewDatabaseID int64) (*Review, error)

	AddPullRequestComment(ctx context.Context, owner, repo string, number int, body string) error
	MergePullRequest(ctx context.Context, owner, repo string, number int, title, body string) error
	// RerequestCheckRun reports whether GitHub accepted the rerun.
	RerequestCheckRun(ctx context.Context, owner, repo string, checkRunID int64) (bool, error)
}

// ClientOptions configures NewAPIClient.
type ClientOptions struct {
	// Host is the bare host name, e.g. github.com.
	Host      string
	AuthToken string
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// APIClient implements Client on top of the gh API clients: GraphQL for reads
// and REST for writes.
type APIClient struct {
	gql  *api.GraphQLClient
	rest *api.RESTClient
}

var _ Client = (*APIClient)(nil)

// NewAPIClient creates a client. Without an explicit token the gh CLI
// credentials for the host are used.
func NewAPIClient(opts ClientOptions) (*APIClient, error) {
	apiOpts := api.ClientOptions{
		Host:      opts.Host,
		AuthToken: opts.AuthToken,
		Transport: opts.Transport,
	}
	gql, err := api.NewGraphQLClient(apiOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL client: %w", err)
	}
	rest, err := api.NewRESTClient(apiOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create REST client: %w", err)
	}
	clientLog.Printf("Created GitHub API client for host %q", opts.Host)
	return &APIClient{gql: gql, rest: rest}, nil
}

func (c *APIClient) GetPullRequest(ctx context.Context, pullRequestID string) (*PullRequest, error) {
	var resp struct {
		Node *pullRequestNode `json:"node"`
	}
	if err := c.query(ctx, getPullRequestQuery, map[string]any{"id": pullRequestID}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil {
		return nil, nil
	}
	return resp.Node.toModel()
}

func (c *APIClient) GetPullRequestByNumber(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var resp struct {
		Repository *struct {
			PullRequest *pullRequestNode `json:"pullRequest"`
		} `json:"repository"`
	}
	vars := map[string]any{"owner": owner, "name": repo, "number": number}
	if err := c.query(ctx, getPullRequestByNumberQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Repository == nil || resp.Repository.PullRequest == nil {
		return nil, nil
	}
	return resp.Repository.PullRequest.toModel()
}

func (c *APIClient) GetPullRequestForCommit(ctx context.Context, commitID string) (*PullRequest, error) {
	var resp struct {
		Node *struct {
			AssociatedPullRequests connection[pullRequestNode] `json:"associatedPullRequests"`
		} `json:"node"`
	}
	if err := c.query(ctx, getPullRequestForCommitQuery, map[string]any{"id": commitID}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil || len(resp.Node.AssociatedPullRequests.Nodes) == 0 {
		return nil, nil
	}
	return resp.Node.AssociatedPullRequests.Nodes[0].toModel()
}

func (c *APIClient) GetPullRequestAndComment(ctx context.Context, pullRequestID, commentID string) (*PullRequest, *Comment, error) {
	var resp struct {
		PullRequest *pullRequestNode `json:"pullRequest"`
		Comment     json.RawMessage  `json:"comment"`
	}
	vars := map[string]any{"pullRequestId": pullRequestID, "commentId": commentID}
	if err := c.query(ctx, getPullRequestAndCommentQuery, vars, &resp); err != nil {
		return nil, nil, err
	}
	if resp.PullRequest == nil {
		return nil, nil, fmt.Errorf("pull request %s not found", pullRequestID)
	}
	pr, err := resp.PullRequest.toModel()
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Comment) == 0 || string(resp.Comment) == "null" {
		return pr, nil, nil
	}
	comment, err := NewComment(resp.Comment)
	if err != nil {
		return nil, nil, err
	}
	return pr, comment, nil
}

func (c *APIClient) GetPullRequestAndReview(ctx context.Context, pullRequestID, reviewID string) (*PullRequest, *Review, error) {
	var resp struct {
		PullRequest *pullRequestNode `json:"pullRequest"`
		Review      *reviewNode      `json:"review"`
	}
	vars := map[string]any{"pullRequestId": pullRequestID, "reviewId": reviewID}
	if err := c.query(ctx, getPullRequestAndReviewQuery, vars, &resp); err != nil {
		return nil, nil, err
	}
	if resp.PullRequest == nil {
		return nil, nil, fmt.Errorf("pull request %s not found", pullRequestID)
	}
	pr, err := resp.PullRequest.toModel()
	if err != nil {
		return nil, nil, err
	}
	if resp.Review == nil {
		return pr, nil, nil
	}
	review, err := resp.Review.toModel()
	if err != nil {
		return nil, nil, err
	}
	return pr, review, nil
}

// GetReviewForDatabaseID finds a review of the pull request by its REST id, as
// webhook payloads for review comments only carry that.
func (c *APIClient) GetReviewForDatabaseID(ctx context.Context, pullRequestID string, reviewDatabaseID int64) (*Review, error) {
	var resp struct {
		Node *struct {
			Reviews connection[reviewNode] `json:"reviews"`
		} `json:"node"`
	}
	if err := c.query(ctx, getReviewsQuery, map[string]any{"id": pullRequestID}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil {
		return nil, nil
	}
	for _, n := range resp.Node.Reviews.Nodes {
		if n.DatabaseID == reviewDatabaseID {
			return n.toModel()
		}
	}
	clientLog.Printf("Review %d not found on %s", reviewDatabaseID, pullRequestID)
	return nil, nil
}

func (c *APIClient) AddPullRequestComment(ctx context.Context, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, repo, number)
	clientLog.Printf("Adding comment to %s/%s#%d", owner, repo, number)
	return c.post(ctx, http.MethodPost, path, map[string]any{"body": body})
}

// MergePullRequest squash merges with GitHub's default "<title> (#<number>)"
// commit title.
func (c *APIClient) MergePullRequest(ctx context.Context, owner, repo string, number int, title, body string) error {
	path := fmt.Sprintf("repos/%s/%s/pulls/%d/merge", owner, repo, number)
	clientLog.Printf("Merging %s/%s#%d", owner, repo, number)
	return c.post(ctx, http.MethodPut, path, map[string]any{
		"commit_title":   fmt.Sprintf("%s (#%d)", title, number),
		"commit_message": body,
		"merge_method":   "squash",
	})
}

// RerequestCheckRun reports false without an error when GitHub refuses the
// rerun, e.g. for check runs of a GitHub App other than the caller.
func (c *APIClient) RerequestCheckRun(ctx context.Context, owner, repo string, checkRunID int64) (bool, error) {
	path := fmt.Sprintf("repos/%s/%s/check-runs/%d/rerequest", owner, repo, checkRunID)
	err := c.rest.DoWithContext(ctx, http.MethodPost, path, nil, nil)
	if err == nil {
		clientLog.Printf("Rerequested check run %d", checkRunID)
		return true, nil
	}
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
		clientLog.Printf("Check run %d rerun refused: %s", checkRunID, httpErr.Message)
		return false, nil
	}
	return false, fmt.Errorf("failed to rerequest check run %d: %w", checkRunID, err)
}

func (c *APIClient) query(ctx context.Context, query string, vars map[string]any, resp any) error {
	if err := c.gql.DoWithContext(ctx, query, vars, resp); err != nil {
		return fmt.Errorf("GraphQL query failed: %w", err)
	}
	return nil
}

func (c *APIClient) post(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	if err := c.rest.DoWithContext(ctx, method, path, bytes.NewReader(body), nil); err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	return nil
}
