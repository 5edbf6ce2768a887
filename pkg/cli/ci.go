package cli

import (
	"os"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var ciLog = logger.New("cli:ci")

// IsRunningInCI checks if we're running in a CI environment
func IsRunningInCI() bool {
	ciVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"CIRCLECI",
	}

	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			ciLog.Printf("CI environment detected via %s", v)
			return true
		}
	}
	ciLog.Print("No CI environment detected")
	return false
}
