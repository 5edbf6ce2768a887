package gitutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var log = logger.New("gitutil:gitutil")

// IsAuthError checks if an error message indicates an authentication issue.
// This is used to detect when GitHub API calls fail due to missing or invalid credentials.
func IsAuthError(errMsg string) bool {
	log.Printf("Checking if error is auth-related: %s", errMsg)
	lowerMsg := strings.ToLower(errMsg)
	isAuth := strings.Contains(lowerMsg, "gh_token") ||
		strings.Contains(lowerMsg, "github_token") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "bad credentials") ||
		strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "forbidden") ||
		strings.Contains(lowerMsg, "permission denied")
	if isAuth {
		log.Print("Detected authentication error")
	}
	return isAuth
}

// CurrentBranch returns the branch checked out in dir. CI providers expose the
// branch through environment variables because they check out a detached HEAD,
// so GITHUB_REF_NAME and CIRCLE_BRANCH are consulted before asking git.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	for _, envVar := range []string{"GITHUB_HEAD_REF", "GITHUB_REF_NAME", "CIRCLE_BRANCH"} {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			log.Printf("Using branch %q from %s", v, envVar)
			return v, nil
		}
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to determine current branch: %w", err)
	}

	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "", fmt.Errorf("repository in %s is in detached HEAD state", dir)
	}
	log.Printf("Current branch: %s", branch)
	return branch, nil
}
