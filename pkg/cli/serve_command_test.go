//go:build !integration

package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStopsOnCancel(t *testing.T) {
	t.Setenv(config.WebhookSecretEnv, "")
	useStubClient(t, &stubClient{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := NewServeCommand()
	var stderr bytes.Buffer
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, stderr.String(), "webhook signatures are not verified")
	assert.Contains(t, stderr.String(), "Server stopped")
}

func TestServeFailsOnBadAddress(t *testing.T) {
	useStubClient(t, &stubClient{})

	cmd := NewServeCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{"--addr", "127.0.0.1:-1"})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
