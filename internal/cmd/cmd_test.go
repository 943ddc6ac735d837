/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/internal/app"
	"github.com/acronis/watchtower/internal/buildinfo"
	"github.com/acronis/watchtower/testutil"
)

func executeCommand(ctx context.Context, args ...string) (string, error) {
	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func unsetEnvOnCleanup(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, key := range keys {
			_ = os.Unsetenv(key)
		}
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(context.Background(), "version")
	require.NoError(t, err)
	require.Equal(t, "watchtower "+buildinfo.GetVersion()+"\n", out)

	out, err = executeCommand(context.Background(), "version", "--extended")
	require.NoError(t, err)
	require.Contains(t, out, "Go: go")
}

func TestConfigCommand(t *testing.T) {
	t.Run("env file", func(t *testing.T) {
		envFile := filepath.Join(t.TempDir(), "watchtower.env")
		require.NoError(t, os.WriteFile(envFile, []byte(
			"WATCHTOWER_UPSTREAM_APITOKEN=super-secret-token\nWATCHTOWER_RATELIMIT_AUTH_MAXREQUESTS=20\n"), 0o600))
		unsetEnvOnCleanup(t, "WATCHTOWER_UPSTREAM_APITOKEN", "WATCHTOWER_RATELIMIT_AUTH_MAXREQUESTS")

		out, err := executeCommand(context.Background(), "config", "--env-file", envFile)
		require.NoError(t, err)
		require.Contains(t, out, "apiToken: "+app.RedactedValue)
		require.Contains(t, out, "maxRequests: 20")
		require.NotContains(t, out, "super-secret-token")
	})

	t.Run("config file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "watchtower.yml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("rateLimit:\n  storage: redis\n  redis:\n    addr: redis:6379\n"), 0o600))

		out, err := executeCommand(context.Background(), "config", "--config", cfgPath)
		require.NoError(t, err)
		require.Contains(t, out, "storage: redis")
		require.Contains(t, out, "redis:6379")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "watchtower.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("rateLimit:\n  storage: redis\n"), 0o600))

		_, err := executeCommand(context.Background(), "config", "--config", cfgPath)
		require.ErrorContains(t, err, "rateLimit.redis.addr")
	})

	t.Run("missing env file", func(t *testing.T) {
		_, err := executeCommand(context.Background(), "config", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
		require.ErrorContains(t, err, "load env file")
	})
}

func TestServeCommand(t *testing.T) {
	addr := testutil.GetLocalAddrWithFreeTCPPort()
	t.Setenv("WATCHTOWER_SERVER_ADDRESS", addr)
	t.Setenv("WATCHTOWER_LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := executeCommand(ctx, "serve")
		done <- err
	}()
	require.NoError(t, testutil.WaitListeningServer(addr, 3*time.Second))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "serve command did not stop after context cancellation")
	}
}
