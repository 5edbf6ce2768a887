package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var yamlErrorLog = logger.New("pipeline:yaml_error")

// goccy/go-yaml reports positions as "[line:column] message", optionally
// followed by an annotated source excerpt on the following lines.
var goccyLocationPattern = regexp.MustCompile(`\[(\d+):(\d+)\]\s*([^\n]*)`)

// extractYAMLError extracts line and column information from a YAML parse error.
// Unknown positions are reported as zero.
func extractYAMLError(err error) (line int, column int, message string) {
	errStr := err.Error()

	if m := goccyLocationPattern.FindStringSubmatch(errStr); m != nil {
		line, _ = strconv.Atoi(m[1])
		column, _ = strconv.Atoi(m[2])
		message = strings.TrimSpace(m[3])
		yamlErrorLog.Printf("Extracted error location from goccy format: line=%d, column=%d", line, column)
		return line, column, message
	}

	yamlErrorLog.Print("No location found in YAML error")
	first, _, _ := strings.Cut(errStr, "\n")
	return 0, 0, strings.TrimSpace(first)
}
