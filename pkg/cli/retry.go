package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sgtm-bot/sgtm/pkg/console"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var retryLog = logger.New("cli:retry")

// RepeatOptions contains configuration for the repeat functionality
type RepeatOptions struct {
	// Number of times to repeat execution (0 = run once)
	RepeatCount int
	// Message to display when starting repeat mode
	StartMessage string
	// Function to execute on each iteration
	ExecuteFunc func(ctx context.Context) error
	// Output receives the informational messages
	Output io.Writer
}

// ExecuteWithRepeat runs a function once, and optionally repeats it the
// specified number of times until ctx is cancelled. Errors during repeats are
// reported and the last one is returned.
func ExecuteWithRepeat(ctx context.Context, options RepeatOptions) error {
	retryLog.Printf("Executing function with repeat count: %d", options.RepeatCount)
	err := options.ExecuteFunc(ctx)
	if options.RepeatCount <= 0 {
		return err
	}
	if err != nil {
		fmt.Fprintln(options.Output, console.FormatErrorMessage(fmt.Sprintf("Run 1/%d failed: %v", options.RepeatCount+1, err)))
	}

	startMsg := options.StartMessage
	if startMsg == "" {
		startMsg = fmt.Sprintf("Repeating %d more times. Press Ctrl+C to stop.", options.RepeatCount)
	}
	fmt.Fprintln(options.Output, console.FormatInfoMessage(startMsg))

	lastErr := err
	for i := 1; i <= options.RepeatCount; i++ {
		if ctx.Err() != nil {
			retryLog.Printf("Cancelled before iteration %d/%d", i, options.RepeatCount)
			fmt.Fprintln(options.Output, console.FormatInfoMessage("Received interrupt signal, stopping repeat..."))
			return lastErr
		}

		retryLog.Printf("Starting iteration %d/%d", i, options.RepeatCount)
		fmt.Fprintln(options.Output, console.FormatInfoMessage(fmt.Sprintf("Running repetition %d/%d", i, options.RepeatCount)))
		if err := options.ExecuteFunc(ctx); err != nil {
			retryLog.Printf("Error during iteration %d: %v", i, err)
			fmt.Fprintln(options.Output, console.FormatErrorMessage(fmt.Sprintf("Error during repeat %d/%d: %v", i, options.RepeatCount, err)))
			lastErr = err
		}
	}

	retryLog.Printf("Completed all %d iterations", options.RepeatCount)
	return lastErr
}
