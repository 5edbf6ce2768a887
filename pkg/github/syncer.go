package github

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var syncLog = logger.New("github:syncer")

// Syncer receives the pull request state the webhook assembled, to mirror it
// into an external tracker.
type Syncer interface {
	UpsertPullRequest(ctx context.Context, pr *PullRequest) error
	UpsertComment(ctx context.Context, pr *PullRequest, c *Comment) error
	UpsertReview(ctx context.Context, pr *PullRequest, r *Review) error
	DeleteComment(ctx context.Context, commentID string) error
}

// LogSyncer reports what would be synchronized as console messages.
type LogSyncer struct {
	cfg config.Config

	mu  sync.Mutex
	out io.Writer
}

var _ Syncer = (*LogSyncer)(nil)

// NewLogSyncer creates a syncer writing to out.
func NewLogSyncer(cfg config.Config, out io.Writer) *LogSyncer {
	return &LogSyncer{cfg: cfg, out: out}
}

func (s *LogSyncer) UpsertPullRequest(ctx context.Context, pr *PullRequest) error {
	participants := PullRequestParticipants(pr, s.cfg)
	syncLog.Printf("Upserting %s with %d participants", pr, len(participants))

	msg := fmt.Sprintf("Pull request %s %q (%s), participants: %s",
		pr, pr.Title, pullRequestState(pr), strings.Join(participants, ", "))
	if pr.Merged {
		status, err := PullRequestApprovedBeforeMerging(pr, s.cfg)
		if err != nil {
			return err
		}
		msg += fmt.Sprintf(", approved before merging: %s, approved after merging: %t",
			status, PullRequestApprovedAfterMerging(pr, s.cfg))
	}
	s.println(console.FormatInfoMessage(msg))
	return nil
}

func (s *LogSyncer) UpsertComment(ctx context.Context, pr *PullRequest, c *Comment) error {
	participants := CommentParticipantsAndMentions(c)
	syncLog.Printf("Upserting comment %s on %s", c.ID, pr)
	s.println(console.FormatInfoMessage(fmt.Sprintf("Comment %s on %s by %s, participants: %s",
		c.ID, pr, c.AuthorHandle(), strings.Join(participants, ", "))))
	return nil
}

func (s *LogSyncer) UpsertReview(ctx context.Context, pr *PullRequest, r *Review) error {
	participants := ReviewParticipantsAndMentions(r)
	syncLog.Printf("Upserting review %s on %s", r.ID, pr)
	s.println(console.FormatInfoMessage(fmt.Sprintf("Review %s on %s by %s (%s), participants: %s",
		r.ID, pr, r.AuthorHandle(), r.State, strings.Join(participants, ", "))))
	return nil
}

func (s *LogSyncer) DeleteComment(ctx context.Context, commentID string) error {
	syncLog.Printf("Deleting comment %s", commentID)
	s.println(console.FormatInfoMessage("Comment " + commentID + " deleted"))
	return nil
}

func (s *LogSyncer) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

func pullRequestState(pr *PullRequest) string {
	switch {
	case pr.Merged:
		return "merged"
	case pr.Closed:
		return "closed"
	default:
		return "open"
	}
}
