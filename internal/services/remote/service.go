// Package remote runs commands on destination hosts over SSH.
package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for remote command execution.
type Service interface {
	Run(ctx context.Context, host, command string) ([]byte, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the remote Service interface.
type Impl struct {
	clientFactory ClientFactory
	settings      models.Settings
	logger        zerolog.Logger
}

// New creates a new remote service.
func New(logger zerolog.Logger, settings models.Settings) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		settings:      settings,
		logger:        logger,
	}
}

// NewWithClientFactory creates a new remote service with a custom
// client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, settings models.Settings, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		settings:      settings,
		logger:        logger,
	}
}

func (s *Impl) buildConfig() (*ssh.ClientConfig, error) {
	if s.settings.SSHKeyPath == "" {
		return nil, fmt.Errorf("no ssh_key configured for remote destinations")
	}

	key, err := os.ReadFile(s.settings.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", s.settings.SSHKeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: s.settings.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // homelab environment
		Timeout:         30 * time.Second,
	}, nil
}

// Run executes a single command on the given host and returns its
// combined output. Transport failures are surfaced to the caller and
// isolated there; one unreachable destination never blocks the rest.
func (s *Impl) Run(ctx context.Context, host, command string) ([]byte, error) {
	sshConfig, err := s.buildConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", s.settings.SSHPort))

	s.logger.Debug().Str("host", host).Str("command", command).Msg("running remote command")

	// Dial in a goroutine so context cancellation is honored.
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", host, res.err)
		}
		client = res.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session on %s: %w", host, err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	if err != nil {
		return output, fmt.Errorf("remote command failed on %s: %w", host, err)
	}
	return output, nil
}
