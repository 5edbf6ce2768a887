// Package envutil provides utilities for reading and validating environment variables.
package envutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

// GetIntFromEnv reads an integer value from an environment variable, validates it
// against min/max bounds, and returns a default value if invalid.
//
// Parameters:
//   - envVar: The environment variable name (e.g., "SGTM_FEATURE__CHECK_RERUN_THRESHOLD_HOURS")
//   - defaultValue: The default value to return if env var is not set or invalid
//   - minValue: Minimum allowed value (inclusive)
//   - maxValue: Maximum allowed value (inclusive)
//   - log: Optional logger for debug output
//
// Returns the parsed integer value, or defaultValue if:
//   - Environment variable is not set
//   - Value cannot be parsed as an integer
//   - Value is outside the [minValue, maxValue] range
//
// Invalid values trigger warning messages to stderr.
func GetIntFromEnv(envVar string, defaultValue, minValue, maxValue int, log *logger.Logger) int {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(envValue)
	if err != nil {
		fmt.Fprintln(os.Stderr, console.FormatWarningMessage(
			fmt.Sprintf("Invalid %s value '%s' (must be a number), using default %d", envVar, envValue, defaultValue),
		))
		return defaultValue
	}

	if val < minValue || val > maxValue {
		fmt.Fprintln(os.Stderr, console.FormatWarningMessage(
			fmt.Sprintf("%s value %d is out of bounds (must be %d-%d), using default %d", envVar, val, minValue, maxValue, defaultValue),
		))
		return defaultValue
	}

	if log != nil {
		log.Printf("Using %s=%d", envVar, val)
	}
	return val
}

// GetBoolFromEnv reads a boolean feature flag. Accepted values are the ones
// strconv.ParseBool understands plus "yes"/"no" and "on"/"off", case-insensitive.
// Unset or invalid values yield defaultValue; invalid values also print a warning.
func GetBoolFromEnv(envVar string, defaultValue bool, log *logger.Logger) bool {
	envValue := strings.TrimSpace(os.Getenv(envVar))
	if envValue == "" {
		return defaultValue
	}

	var val bool
	switch strings.ToLower(envValue) {
	case "yes", "on":
		val = true
	case "no", "off":
		val = false
	default:
		parsed, err := strconv.ParseBool(envValue)
		if err != nil {
			fmt.Fprintln(os.Stderr, console.FormatWarningMessage(
				fmt.Sprintf("Invalid %s value '%s' (must be true or false), using default %t", envVar, envValue, defaultValue),
			))
			return defaultValue
		}
		val = parsed
	}

	if log != nil {
		log.Printf("Using %s=%t", envVar, val)
	}
	return val
}

// GetListFromEnv reads a comma separated list. Entries are trimmed and empty
// entries dropped; an unset variable yields defaultValue.
func GetListFromEnv(envVar string, defaultValue []string, log *logger.Logger) []string {
	envValue, ok := os.LookupEnv(envVar)
	if !ok {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(envValue, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}

	if log != nil {
		log.Printf("Using %s=%v", envVar, values)
	}
	return values
}

// GetStringFromEnv returns the first non-empty value among the given variables,
// or defaultValue when none is set.
func GetStringFromEnv(defaultValue string, envVars ...string) string {
	for _, envVar := range envVars {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			return v
		}
	}
	return defaultValue
}
