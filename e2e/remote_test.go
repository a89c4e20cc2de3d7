//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/remote"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHSettings(t *testing.T) (models.Settings, string) {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.Settings{
		SSHUser:    user,
		SSHPort:    port,
		SSHKeyPath: keyPath,
	}, host
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func TestRemoteRun_E2E(t *testing.T) {
	settings, host := getSSHSettings(t)

	svc := remote.New(testLogger(), settings)
	output, err := svc.Run(context.Background(), host, "echo OK")

	require.NoError(t, err)
	assert.Contains(t, string(output), "OK")
}

func TestRemoteRunFailingCommand_E2E(t *testing.T) {
	settings, host := getSSHSettings(t)

	svc := remote.New(testLogger(), settings)
	_, err := svc.Run(context.Background(), host, "false")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote command failed")
}

func TestRemoteRunUnreachableHost_E2E(t *testing.T) {
	settings, _ := getSSHSettings(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := remote.New(testLogger(), settings)
	_, err := svc.Run(ctx, "192.168.255.254", "true")

	require.Error(t, err)
}
