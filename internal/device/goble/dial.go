package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds scanning and connection establishment
const DefaultConnectTimeout = 30 * time.Second

// ConnectOptions selects the peripheral to connect to.
// Address takes precedence over Name.
type ConnectOptions struct {
	Address string
	Name    string
	Timeout time.Duration
}

// Connect opens the host adapter and establishes a link with the peripheral
// selected by opts. The returned transport owns the connection.
func Connect(ctx context.Context, opts ConnectOptions, logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	address := strings.TrimSpace(opts.Address)
	name := strings.TrimSpace(opts.Name)
	if address == "" && name == "" {
		return nil, fmt.Errorf("failed to connect to device: neither address nor name is set")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var client ble.Client
	if address != "" {
		logger.WithField("address", address).Info("Connecting to BLE device...")
		client, err = ble.Dial(connCtx, ble.NewAddr(address))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
		}
	} else {
		logger.WithField("name", name).Info("Scanning for BLE device...")
		client, err = ble.Connect(connCtx, MatchName(name))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to device named %q: %w", name, NormalizeError(err))
		}
	}

	logger.WithField("address", client.Addr().String()).Info("BLE device connected")
	return NewTransport(client, logger), nil
}

// MatchName returns an advertisement filter that accepts connectable
// peripherals advertising the given local name.
func MatchName(name string) ble.AdvFilter {
	return func(a ble.Advertisement) bool {
		return a.Connectable() && strings.EqualFold(a.LocalName(), name)
	}
}
