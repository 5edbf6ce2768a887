package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/github"
	"github.com/sgtm-bot/sgtm/pkg/logger"
	"github.com/sgtm-bot/sgtm/pkg/server"
	"github.com/spf13/cobra"
)

var serveLog = logger.New("cli:serve_command")

// NewServeCommand creates the command serving the webhook endpoint.
func NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GitHub webhook endpoint",
		Long: `Serve the GitHub webhook endpoint.

Deliveries are accepted on POST /webhook and a health check is served on
GET /healthz. Configuration is read from the environment:

  GH_TOKEN or GITHUB_TOKEN: GitHub API token
  GITHUB_SERVER_URL or GH_HOST: GitHub host (default https://github.com)
  ` + config.WebhookSecretEnv + `: secret for X-Hub-Signature-256
  ` + config.ListenAddrEnv + `: listen address (default ` + config.DefaultListenAddr + `)
  ` + config.AutomergeEnabledEnv + `: enable label driven automerge
  ` + config.CheckRerunThresholdHoursEnv + `: rerun checks older than this
  ` + config.CheckRerunBaseRefNamesEnv + `: base branches whose checks are rerun
  ` + config.CheckRerunOnApprovalEnabledEnv + `: rerun stale checks on approval
  ` + config.FollowupReviewGitHubUsersEnv + `: reviewers needing a follow-up review
  ` + config.DisableTeamSubscriptionEnv + `: ignore members of requested teams`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			stderr := cmd.ErrOrStderr()
			if cfg.WebhookSecret == "" {
				fmt.Fprintln(stderr, console.FormatWarningMessage(config.WebhookSecretEnv+" is not set, webhook signatures are not verified"))
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			srv := server.New(server.Settings{Addr: cfg.ListenAddr, WebhookSecret: cfg.WebhookSecret}, newWebhook(client, cfg, stderr))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveLog.Printf("Serving on %s for %s", cfg.ListenAddr, cfg.GitHubHost)
			fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("Serving webhooks on %s. Press Ctrl+C to stop.", cfg.ListenAddr)))
			if err := srv.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintln(stderr, console.FormatSuccessMessage("Server stopped"))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultListenAddr, "Address to listen on (overrides "+config.ListenAddrEnv+")")
	return cmd
}

// newWebhook wires the webhook handler the way the server runs it.
func newWebhook(client github.Client, cfg config.Config, syncOutput io.Writer) *github.Webhook {
	return github.NewWebhook(
		client,
		github.NewLogic(client, cfg),
		github.NewLogSyncer(cfg, syncOutput),
		github.NewKeyedLocker(time.Duration(cfg.LockTimeoutSeconds)*time.Second),
	)
}
