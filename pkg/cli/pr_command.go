package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cli/go-gh/v2/pkg/repository"
	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/github"
	"github.com/sgtm-bot/sgtm/pkg/gitutil"
	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/spf13/cobra"
)

var prLog = logger.New("cli:pr_command")

// newClient creates the GitHub client used by commands. Tests replace it.
var newClient = func(cfg config.Config) (github.Client, error) {
	return github.NewAPIClient(github.ClientOptions{Host: cfg.APIHost(), AuthToken: cfg.GitHubToken})
}

// NewPRCommand creates the pr command and its subcommands.
func NewPRCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Inspect and sync pull requests",
		Long: `Inspect and sync a single pull request with the same logic the webhook runs.

The repository defaults to the one of the current directory.`,
	}
	cmd.AddCommand(newPRStatusCommand(), newPRSyncCommand())
	return cmd
}

// pullRequestRef parses "[OWNER/REPO] NUMBER".
func pullRequestRef(args []string) (repository.Repository, int, error) {
	var repo repository.Repository
	var err error
	numberArg := args[len(args)-1]
	if len(args) == 2 {
		repo, err = repository.Parse(args[0])
	} else {
		repo, err = repository.Current()
	}
	if err != nil {
		return repository.Repository{}, 0, fmt.Errorf("cannot determine the repository: %w", err)
	}

	number, err := strconv.Atoi(strings.TrimPrefix(numberArg, "#"))
	if err != nil || number <= 0 {
		return repository.Repository{}, 0, fmt.Errorf("invalid pull request number %q", numberArg)
	}
	return repo, number, nil
}

func fetchPullRequest(ctx context.Context, client github.Client, args []string) (*github.PullRequest, error) {
	repo, number, err := pullRequestRef(args)
	if err != nil {
		return nil, err
	}
	prLog.Printf("Fetching %s/%s#%d", repo.Owner, repo.Name, number)
	pr, err := client.GetPullRequestByNumber(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		if gitutil.IsAuthError(err.Error()) {
			return nil, fmt.Errorf("%w (set GH_TOKEN or run: gh auth login)", err)
		}
		return nil, err
	}
	if pr == nil {
		return nil, fmt.Errorf("pull request %s/%s#%d not found", repo.Owner, repo.Name, number)
	}
	return pr, nil
}

func newPRStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [OWNER/REPO] NUMBER",
		Short: "Show participants, approval and automerge state of a pull request",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			pr, err := fetchPullRequest(cmd.Context(), client, args)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPullRequestStatus(pr, cfg))
			return nil
		},
	}
}

func renderPullRequestStatus(pr *github.PullRequest, cfg config.Config) string {
	rows := [][]string{
		{"Title", pr.Title},
		{"State", pullRequestState(pr)},
		{"Participants", strings.Join(github.PullRequestParticipants(pr, cfg), ", ")},
		{"Approved", strconv.FormatBool(pr.IsApproved())},
		{"Mergeable", string(pr.Mergeable)},
		{"Build successful", strconv.FormatBool(pr.IsBuildSuccessful())},
		{"Automerge label", automergeLabel(pr)},
	}
	if pr.Merged {
		status, err := github.PullRequestApprovedBeforeMerging(pr, cfg)
		if err == nil {
			rows = append(rows,
				[]string{"Approved before merging", status.String()},
				[]string{"Approved after merging", strconv.FormatBool(github.PullRequestApprovedAfterMerging(pr, cfg))},
			)
		}
	}
	return console.RenderTable(console.TableConfig{
		Title:   pr.String(),
		Headers: []string{"Field", "Value"},
		Rows:    rows,
	})
}

func pullRequestState(pr *github.PullRequest) string {
	switch {
	case pr.Merged:
		return "merged"
	case pr.Closed:
		return "closed"
	default:
		return "open"
	}
}

func automergeLabel(pr *github.PullRequest) string {
	for _, label := range []github.AutomergeLabel{
		github.AutomergeImmediately,
		github.AutomergeAfterTests,
		github.AutomergeAfterTestsAndApproval,
		github.AutomergeAfterApproval,
	} {
		if pr.HasLabel(string(label)) {
			return string(label)
		}
	}
	return "none"
}

func newPRSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [OWNER/REPO] NUMBER",
		Short: "Run automerge and sync a pull request as a webhook delivery would",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			pr, err := fetchPullRequest(cmd.Context(), client, args)
			if err != nil {
				return err
			}

			hook := newWebhook(client, cfg, cmd.ErrOrStderr())
			payload, err := json.Marshal(map[string]any{
				"action":       "synchronize",
				"pull_request": map[string]any{"node_id": pr.ID},
			})
			if err != nil {
				return err
			}
			resp := hook.Handle(cmd.Context(), github.Event{Type: "pull_request", DeliveryID: "cli", Payload: payload})
			if resp.StatusCode != http.StatusOK {
				return errors.New(resp.Body)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), console.FormatSuccessMessage("Synced "+pr.String()))
			return nil
		},
	}
}
