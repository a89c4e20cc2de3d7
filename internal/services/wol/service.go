// Package wol wakes remote destination hosts before replication.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// settleWait gives a freshly woken host time to bring its pools online
// before the first zfs command hits it.
const settleWait = 15 * time.Second

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, macAddress, broadcastIP string) error
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	settle    time.Duration
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		settle:    settleWait,
		logger:    logger,
	}
}

// NewWithClient creates a new WOL service with a custom client (for testing).
func NewWithClient(logger zerolog.Logger, client Client) *Impl {
	return &Impl{
		wolClient: client,
		settle:    0,
		logger:    logger,
	}
}

// Wake sends a magic packet and waits briefly for the host to settle.
func (s *Impl) Wake(ctx context.Context, macAddress, broadcastIP string) error {
	mac, err := net.ParseMAC(macAddress)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", macAddress, err)
	}
	if broadcastIP == "" {
		broadcastIP = "255.255.255.255"
	}

	s.logger.Info().
		Str("mac", macAddress).
		Str("broadcast", broadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(broadcastIP, mac); err != nil {
		return err
	}

	if s.settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.settle):
		}
	}

	return nil
}
