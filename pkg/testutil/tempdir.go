// Package testutil provides helpers shared by package tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	testRunDir     string
	testRunDirOnce sync.Once
)

// GetTestRunDir returns a directory unique to this test binary run, created on
// first use under the system temp directory in "sgtm-test-runs/".
func GetTestRunDir() string {
	testRunDirOnce.Do(func() {
		base := filepath.Join(os.TempDir(), "sgtm-test-runs")
		name := fmt.Sprintf("%s-%d", time.Now().Format("20060102-150405"), os.Getpid())
		testRunDir = filepath.Join(base, name)
		if err := os.MkdirAll(testRunDir, 0755); err != nil {
			panic(fmt.Sprintf("failed to create test run directory: %v", err))
		}
	})
	return testRunDir
}

// TempDir creates a directory matching pattern under the test run directory and
// removes it when the test finishes.
func TempDir(t testing.TB, pattern string) string {
	t.Helper()

	dir, err := os.MkdirTemp(GetTestRunDir(), pattern)
	if err != nil {
		t.Fatalf("failed to create temp directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("failed to remove temp directory %s: %v", dir, err)
		}
	})
	return dir
}

// StripYAMLCommentHeader drops the leading comment block (and blank lines) of a
// generated YAML document. Input that is only comments is returned unchanged.
func StripYAMLCommentHeader(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return strings.Join(lines[i:], "\n")
	}
	return content
}
