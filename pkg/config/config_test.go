//go:build !integration

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, env := range []string{
		AutomergeEnabledEnv, DisableTeamSubscriptionEnv, FollowupReviewGitHubUsersEnv,
		CheckRerunThresholdHoursEnv, CheckRerunBaseRefNamesEnv, CheckRerunOnApprovalEnabledEnv,
		WebhookSecretEnv, ListenAddrEnv, LockTimeoutSecondsEnv,
	} {
		t.Setenv(env, "")
	}

	cfg := Load()

	assert.False(t, cfg.AutomergeEnabled)
	assert.False(t, cfg.DisableGitHubTeamSubscription)
	assert.Empty(t, cfg.FollowupReviewGitHubUsers)
	assert.Zero(t, cfg.CheckRerunThresholdHours)
	assert.False(t, cfg.CheckRerunOnApprovalEnabled)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultLockTimeoutSeconds, cfg.LockTimeoutSeconds)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(AutomergeEnabledEnv, "true")
	t.Setenv(DisableTeamSubscriptionEnv, "1")
	t.Setenv(FollowupReviewGitHubUsersEnv, "intern-1, intern-2")
	t.Setenv(CheckRerunThresholdHoursEnv, "12")
	t.Setenv(CheckRerunBaseRefNamesEnv, "main,next-master")
	t.Setenv(CheckRerunOnApprovalEnabledEnv, "yes")
	t.Setenv(WebhookSecretEnv, "s3cr3t")
	t.Setenv(ListenAddrEnv, "127.0.0.1:9000")

	cfg := Load()

	assert.True(t, cfg.AutomergeEnabled)
	assert.True(t, cfg.DisableGitHubTeamSubscription)
	assert.Equal(t, []string{"intern-1", "intern-2"}, cfg.FollowupReviewGitHubUsers)
	assert.Equal(t, 12, cfg.CheckRerunThresholdHours)
	assert.Equal(t, []string{"main", "next-master"}, cfg.CheckRerunBaseRefNames)
	assert.True(t, cfg.CheckRerunOnApprovalEnabled)
	assert.Equal(t, "s3cr3t", cfg.WebhookSecret)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
}

func TestNeedsFollowupReview(t *testing.T) {
	cfg := Config{FollowupReviewGitHubUsers: []string{"Intern-1"}}
	assert.True(t, cfg.NeedsFollowupReview("intern-1"))
	assert.False(t, cfg.NeedsFollowupReview("senior"))
}

func TestRerunsChecksFor(t *testing.T) {
	cfg := Config{CheckRerunThresholdHours: 4, CheckRerunBaseRefNames: []string{"main"}}
	assert.True(t, cfg.RerunsChecksFor("main"))
	assert.False(t, cfg.RerunsChecksFor("release"))

	cfg.CheckRerunThresholdHours = 0
	assert.False(t, cfg.RerunsChecksFor("main"))
}

func TestGitHubHost(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		ghHost    string
		want      string
	}{
		{"default", "", "", DefaultGitHubHost},
		{"actions server url", "https://ghe.example.com/", "", "https://ghe.example.com"},
		{"gh host fallback", "", "https://other.example.com", "https://other.example.com"},
		{"server url wins", "https://ghe.example.com", "https://other.example.com", "https://ghe.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GITHUB_SERVER_URL", tt.serverURL)
			t.Setenv("GH_HOST", tt.ghHost)
			assert.Equal(t, tt.want, gitHubHost())
		})
	}
}

func TestAPIHost(t *testing.T) {
	assert.Equal(t, "github.com", Config{}.APIHost())
	assert.Equal(t, "github.com", Config{GitHubHost: DefaultGitHubHost}.APIHost())
	assert.Equal(t, "ghe.example.com", Config{GitHubHost: "https://ghe.example.com/"}.APIHost())
}

func TestLoadToken(t *testing.T) {
	t.Setenv("GH_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "ghs_fallback")
	assert.Equal(t, "ghs_fallback", Load().GitHubToken)

	t.Setenv("GH_TOKEN", "ghp_primary")
	assert.Equal(t, "ghp_primary", Load().GitHubToken)
}
