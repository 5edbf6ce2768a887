// Package config holds the bot's runtime configuration, read from the environment.
package config

import (
	"slices"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/envutil"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var log = logger.New("config:config")

// Environment variables read by Load.
const (
	AutomergeEnabledEnv            = "SGTM_FEATURE__AUTOMERGE_ENABLED"
	DisableTeamSubscriptionEnv     = "SGTM_FEATURE__DISABLE_GITHUB_TEAM_SUBSCRIPTION"
	FollowupReviewGitHubUsersEnv   = "SGTM_FEATURE__FOLLOWUP_REVIEW_GITHUB_USERS"
	CheckRerunThresholdHoursEnv    = "SGTM_FEATURE__CHECK_RERUN_THRESHOLD_HOURS"
	CheckRerunBaseRefNamesEnv      = "SGTM_FEATURE__CHECK_RERUN_BASE_REF_NAMES"
	CheckRerunOnApprovalEnabledEnv = "SGTM_FEATURE__CHECK_RERUN_ON_APPROVAL_ENABLED"
	WebhookSecretEnv               = "SGTM_WEBHOOK_SECRET"
	ListenAddrEnv                  = "SGTM_LISTEN_ADDR"
	LockTimeoutSecondsEnv          = "SGTM_LOCK_TIMEOUT_SECONDS"
)

const (
	DefaultListenAddr         = ":8080"
	DefaultLockTimeoutSeconds = 30
	DefaultGitHubHost         = "https://github.com"
)

// DefaultCheckRerunBaseRefNames are the base branches whose pull requests get
// stale checks rerun.
var DefaultCheckRerunBaseRefNames = []string{"main", "master"}

// Config is the bot's feature flags and server settings.
type Config struct {
	// AutomergeEnabled turns on label driven automerge.
	AutomergeEnabled bool
	// DisableGitHubTeamSubscription stops members of requested reviewer teams
	// from counting as participants.
	DisableGitHubTeamSubscription bool
	// FollowupReviewGitHubUsers are reviewers whose approval needs a follow-up
	// review by someone else.
	FollowupReviewGitHubUsers []string
	// CheckRerunThresholdHours is the age after which a completed check run is
	// stale. Zero disables reruns.
	CheckRerunThresholdHours int
	// CheckRerunBaseRefNames restricts reruns to pull requests into these branches.
	CheckRerunBaseRefNames []string
	// CheckRerunOnApprovalEnabled reruns stale checks when a pull request is approved.
	CheckRerunOnApprovalEnabled bool

	WebhookSecret      string
	ListenAddr         string
	LockTimeoutSeconds int

	// GitHubHost is the server URL without a trailing slash, e.g. https://github.com.
	GitHubHost  string
	GitHubToken string
}

// Load reads the configuration from the environment.
func Load() Config {
	cfg := Config{
		AutomergeEnabled:              envutil.GetBoolFromEnv(AutomergeEnabledEnv, false, log),
		DisableGitHubTeamSubscription: envutil.GetBoolFromEnv(DisableTeamSubscriptionEnv, false, log),
		FollowupReviewGitHubUsers:     envutil.GetListFromEnv(FollowupReviewGitHubUsersEnv, nil, log),
		CheckRerunThresholdHours:      envutil.GetIntFromEnv(CheckRerunThresholdHoursEnv, 0, 0, 24*365, log),
		CheckRerunBaseRefNames:        envutil.GetListFromEnv(CheckRerunBaseRefNamesEnv, DefaultCheckRerunBaseRefNames, log),
		CheckRerunOnApprovalEnabled:   envutil.GetBoolFromEnv(CheckRerunOnApprovalEnabledEnv, false, log),
		WebhookSecret:                 envutil.GetStringFromEnv("", WebhookSecretEnv),
		ListenAddr:                    envutil.GetStringFromEnv(DefaultListenAddr, ListenAddrEnv),
		LockTimeoutSeconds:            envutil.GetIntFromEnv(LockTimeoutSecondsEnv, DefaultLockTimeoutSeconds, 1, 600, log),
		GitHubHost:                    gitHubHost(),
		GitHubToken:                   envutil.GetStringFromEnv("", "GH_TOKEN", "GITHUB_TOKEN"),
	}
	log.Printf("Loaded config: automerge=%t, rerun threshold=%dh, rerun bases=%v, followup users=%d",
		cfg.AutomergeEnabled, cfg.CheckRerunThresholdHours, cfg.CheckRerunBaseRefNames, len(cfg.FollowupReviewGitHubUsers))
	return cfg
}

// gitHubHost checks GITHUB_SERVER_URL first (GitHub Actions), then GH_HOST
// (gh CLI), and finally defaults to https://github.com.
func gitHubHost() string {
	host := envutil.GetStringFromEnv("", "GITHUB_SERVER_URL", "GH_HOST")
	if host == "" {
		host = DefaultGitHubHost
		log.Printf("Using default GitHub host: %s", DefaultGitHubHost)
	} else {
		log.Printf("Resolved GitHub host: %s", host)
	}
	return strings.TrimSuffix(host, "/")
}

// APIHost returns the bare host name expected by the GitHub API client.
func (c Config) APIHost() string {
	host := c.GitHubHost
	if host == "" {
		host = DefaultGitHubHost
	}
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// NeedsFollowupReview reports whether reviews by login need a follow-up review.
// Logins are compared case-insensitively, as GitHub does.
func (c Config) NeedsFollowupReview(login string) bool {
	return slices.ContainsFunc(c.FollowupReviewGitHubUsers, func(u string) bool {
		return strings.EqualFold(u, login)
	})
}

// RerunsChecksFor reports whether stale checks are rerun on pull requests into baseRef.
func (c Config) RerunsChecksFor(baseRef string) bool {
	return c.CheckRerunThresholdHours > 0 && slices.Contains(c.CheckRerunBaseRefNames, baseRef)
}
