package github

import (
	"encoding/json"
	"fmt"
	"time"
)

const pullRequestFragment = `
fragment FullReview on PullRequestReview {
  id
  databaseId
  author { login }
  body
  url
  state
  submittedAt
  comments(first: 50) {
    nodes {
      __typename
      id
      databaseId
      author { login }
      body
      url
      publishedAt
    }
  }
}

fragment FullPullRequest on PullRequest {
  id
  number
  title
  body
  url
  closed
  merged
  mergedAt
  mergeable
  reviewDecision
  baseRefName
  author { login }
  repository { name owner { login } }
  assignees(first: 20) { nodes { login name } }
  reviewRequests(first: 20) {
    nodes {
      requestedReviewer {
        __typename
        ... on User { login }
        ... on Team { slug members(first: 50) { nodes { login } } }
      }
    }
  }
  labels(first: 20) { nodes { name } }
  reviews(last: 50) { nodes { ...FullReview } }
  comments(last: 100) {
    nodes {
      __typename
      id
      databaseId
      author { login }
      body
      url
      publishedAt
    }
  }
  commits(last: 1) {
    nodes {
      commit {
        oid
        statusCheckRollup { state }
        checkSuites(first: 20) {
          nodes {
            checkRuns(first: 50) {
              nodes { databaseId name status conclusion completedAt }
            }
          }
        }
      }
    }
  }
}
`

const getPullRequestQuery = `
query GetPullRequest($id: ID!) {
  node(id: $id) { ...FullPullRequest }
}
` + pullRequestFragment

const getPullRequestByNumberQuery = `
query GetPullRequestByNumber($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) { ...FullPullRequest }
  }
}
` + pullRequestFragment

const getPullRequestForCommitQuery = `
query GetPullRequestForCommit($id: ID!) {
  node(id: $id) {
    ... on Commit {
      associatedPullRequests(first: 1) { nodes { ...FullPullRequest } }
    }
  }
}
` + pullRequestFragment

const getPullRequestAndCommentQuery = `
query GetPullRequestAndComment($pullRequestId: ID!, $commentId: ID!) {
  pullRequest: node(id: $pullRequestId) { ...FullPullRequest }
  comment: node(id: $commentId) {
    __typename
    ... on IssueComment { id databaseId author { login } body url publishedAt }
    ... on PullRequestReviewComment {
      id databaseId author { login } body url publishedAt
      pullRequestReview { ...FullReview }
    }
  }
}
` + pullRequestFragment

const getPullRequestAndReviewQuery = `
query GetPullRequestAndReview($pullRequestId: ID!, $reviewId: ID!) {
  pullRequest: node(id: $pullRequestId) { ...FullPullRequest }
  review: node(id: $reviewId) { ...FullReview }
}
` + pullRequestFragment

const getReviewsQuery = `
query GetReviews($id: ID!) {
  node(id: $id) {
    ... on PullRequest { reviews(last: 100) { nodes { ...FullReview } } }
  }
}

fragment FullReview on PullRequestReview {
  id
  databaseId
  author { login }
  body
  url
  state
  submittedAt
  comments(first: 50) {
    nodes { __typename id databaseId author { login } body url publishedAt }
  }
}
`

type connection[T any] struct {
	Nodes []T `json:"nodes"`
}

// actorNode is nil for deleted ("ghost") accounts.
type actorNode struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

func (a *actorNode) toModel() User {
	if a == nil {
		return User{}
	}
	return User{Login: a.Login, Name: a.Name}
}

type commentNode struct {
	Typename          string      `json:"__typename"`
	ID                string      `json:"id"`
	DatabaseID        int64       `json:"databaseId"`
	Author            *actorNode  `json:"author"`
	Body              string      `json:"body"`
	URL               string      `json:"url"`
	PublishedAt       time.Time   `json:"publishedAt"`
	PullRequestReview *reviewNode `json:"pullRequestReview"`
}

// NewComment decodes a comment node, dispatching on its __typename.
func NewComment(raw json.RawMessage) (*Comment, error) {
	var node commentNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to decode comment: %w", err)
	}
	return node.toModel()
}

func (n *commentNode) toModel() (*Comment, error) {
	c := &Comment{
		Typename:    n.Typename,
		ID:          n.ID,
		DatabaseID:  n.DatabaseID,
		Author:      n.Author.toModel(),
		Body:        n.Body,
		URL:         n.URL,
		PublishedAt: n.PublishedAt,
	}
	switch n.Typename {
	case TypenameIssueComment:
	case TypenamePullRequestReviewComment:
		if n.PullRequestReview != nil {
			review, err := n.PullRequestReview.toModel()
			if err != nil {
				return nil, err
			}
			c.Review = review
		}
	default:
		return nil, fmt.Errorf("unknown comment type %q", n.Typename)
	}
	return c, nil
}

type reviewNode struct {
	ID          string                  `json:"id"`
	DatabaseID  int64                   `json:"databaseId"`
	Author      *actorNode              `json:"author"`
	Body        string                  `json:"body"`
	URL         string                  `json:"url"`
	State       ReviewState             `json:"state"`
	SubmittedAt *time.Time              `json:"submittedAt"`
	Comments    connection[commentNode] `json:"comments"`
}

func (n *reviewNode) toModel() (*Review, error) {
	r := &Review{
		ID:         n.ID,
		DatabaseID: n.DatabaseID,
		Author:     n.Author.toModel(),
		Body:       n.Body,
		URL:        n.URL,
		State:      n.State,
	}
	// Pending reviews have not been submitted yet.
	if n.SubmittedAt != nil {
		r.SubmittedAt = *n.SubmittedAt
	}
	for i := range n.Comments.Nodes {
		c, err := n.Comments.Nodes[i].toModel()
		if err != nil {
			return nil, err
		}
		r.Comments = append(r.Comments, *c)
	}
	return r, nil
}

type checkRunNode struct {
	DatabaseID  int64      `json:"databaseId"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	CompletedAt *time.Time `json:"completedAt"`
}

type commitNode struct {
	Commit struct {
		OID               string `json:"oid"`
		StatusCheckRollup *struct {
			State string `json:"state"`
		} `json:"statusCheckRollup"`
		CheckSuites connection[struct {
			CheckRuns connection[checkRunNode] `json:"checkRuns"`
		}] `json:"checkSuites"`
	} `json:"commit"`
}

func (n *commitNode) toModel() Commit {
	c := Commit{OID: n.Commit.OID}
	if n.Commit.StatusCheckRollup != nil {
		c.StatusState = n.Commit.StatusCheckRollup.State
	}
	for _, suite := range n.Commit.CheckSuites.Nodes {
		var s CheckSuite
		for _, run := range suite.CheckRuns.Nodes {
			s.CheckRuns = append(s.CheckRuns, CheckRun(run))
		}
		c.CheckSuites = append(c.CheckSuites, s)
	}
	return c
}

type pullRequestNode struct {
	ID             string         `json:"id"`
	Number         int            `json:"number"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	URL            string         `json:"url"`
	Closed         bool           `json:"closed"`
	Merged         bool           `json:"merged"`
	MergedAt       *time.Time     `json:"mergedAt"`
	Mergeable      MergeableState `json:"mergeable"`
	ReviewDecision string         `json:"reviewDecision"`
	BaseRefName    string         `json:"baseRefName"`
	Author         *actorNode     `json:"author"`
	Repository     struct {
		Name  string    `json:"name"`
		Owner actorNode `json:"owner"`
	} `json:"repository"`
	Assignees      connection[actorNode] `json:"assignees"`
	ReviewRequests connection[struct {
		RequestedReviewer *struct {
			Typename string                `json:"__typename"`
			Login    string                `json:"login"`
			Slug     string                `json:"slug"`
			Members  connection[actorNode] `json:"members"`
		} `json:"requestedReviewer"`
	}] `json:"reviewRequests"`
	Labels   connection[Label]       `json:"labels"`
	Reviews  connection[reviewNode]  `json:"reviews"`
	Comments connection[commentNode] `json:"comments"`
	Commits  connection[commitNode]  `json:"commits"`
}

func (n *pullRequestNode) toModel() (*PullRequest, error) {
	pr := &PullRequest{
		ID:             n.ID,
		Number:         n.Number,
		Title:          n.Title,
		Body:           n.Body,
		URL:            n.URL,
		Owner:          n.Repository.Owner.Login,
		Repository:     n.Repository.Name,
		BaseRefName:    n.BaseRefName,
		Author:         n.Author.toModel(),
		Closed:         n.Closed,
		Merged:         n.Merged,
		MergedAt:       n.MergedAt,
		Mergeable:      n.Mergeable,
		ReviewDecision: n.ReviewDecision,
		Labels:         n.Labels.Nodes,
	}
	for i := range n.Assignees.Nodes {
		pr.Assignees = append(pr.Assignees, n.Assignees.Nodes[i].toModel())
	}
	for _, req := range n.ReviewRequests.Nodes {
		reviewer := req.RequestedReviewer
		if reviewer == nil {
			continue
		}
		if reviewer.Typename == "Team" {
			r := RequestedReviewer{Team: reviewer.Slug}
			for i := range reviewer.Members.Nodes {
				r.Members = append(r.Members, reviewer.Members.Nodes[i].toModel())
			}
			pr.RequestedReviewers = append(pr.RequestedReviewers, r)
			continue
		}
		pr.RequestedReviewers = append(pr.RequestedReviewers, RequestedReviewer{Login: reviewer.Login})
	}
	for i := range n.Reviews.Nodes {
		r, err := n.Reviews.Nodes[i].toModel()
		if err != nil {
			return nil, err
		}
		pr.Reviews = append(pr.Reviews, *r)
	}
	for i := range n.Comments.Nodes {
		c, err := n.Comments.Nodes[i].toModel()
		if err != nil {
			return nil, err
		}
		pr.Comments = append(pr.Comments, *c)
	}
	for i := range n.Commits.Nodes {
		pr.Commits = append(pr.Commits, n.Commits.Nodes[i].toModel())
	}
	return pr, nil
}
