// Package goble implements device.Transport on top of a go-ble GATT client.
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/device"
)

// Client is the subset of ble.Client used by the transport
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ClearSubscriptions() error
	CancelConnection() error
}

// Transport adapts a connected go-ble client to device.Transport.
// Attribute operations must be serialized by the caller; Disconnect may run concurrently.
type Transport struct {
	client Client
	logger *logrus.Logger

	mu           sync.Mutex
	disconnected chan struct{}
	closed       bool
}

// NewTransport wraps an already connected client
func NewTransport(client Client, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		client:       client,
		logger:       logger,
		disconnected: make(chan struct{}),
	}
	// go-ble clients report link loss through Disconnected()
	if n, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		go func() {
			<-n.Disconnected()
			t.markDisconnected()
		}()
	}
	return t
}

func (t *Transport) markDisconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	close(t.disconnected)
	return true
}

// Disconnected implements device.DisconnectNotifier
func (t *Transport) Disconnected() <-chan struct{} {
	return t.disconnected
}

func (t *Transport) checkConnected() error {
	select {
	case <-t.disconnected:
		return device.ErrNotConnected
	default:
		return nil
	}
}

func parseUUID(s string) (ble.UUID, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// ResolveService discovers a single service by UUID
func (t *Transport) ResolveService(ctx context.Context, uuid string) (device.ServiceHandle, error) {
	if err := t.checkConnected(); err != nil {
		return nil, err
	}
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}

	services, err := t.client.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, NormalizeError(err)
	}
	for _, s := range services {
		if s.UUID.Equal(u) {
			t.logger.WithField("service", uuid).Debug("Service resolved")
			return &service{svc: s}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// ResolveCharacteristic discovers a single characteristic of svc. Descriptors of
// notify-capable characteristics are discovered too, since subscribing needs the CCCD.
func (t *Transport) ResolveCharacteristic(ctx context.Context, svc device.ServiceHandle, uuid string) (device.CharacteristicHandle, error) {
	if err := t.checkConnected(); err != nil {
		return nil, err
	}
	s, ok := svc.(*service)
	if !ok {
		return nil, fmt.Errorf("service handle %T was not created by this transport", svc)
	}
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}

	chars, err := t.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	if err != nil {
		return nil, NormalizeError(err)
	}
	for _, c := range chars {
		if !c.UUID.Equal(u) {
			continue
		}
		ch := &characteristic{char: c, serviceUUID: svc.UUID()}
		if ch.Properties().CanNotify() || ch.Properties().Has(device.PropExtendedProperties) {
			if _, err := t.client.DiscoverDescriptors(nil, c); err != nil {
				t.logger.WithFields(logrus.Fields{
					"characteristic": uuid,
					"error":          err,
				}).Warn("Descriptor discovery failed")
			}
		}
		return ch, nil
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID(), uuid}}
}

func asCharacteristic(ch device.CharacteristicHandle) (*characteristic, error) {
	c, ok := ch.(*characteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic handle %T was not created by this transport", ch)
	}
	return c, nil
}

// Read reads the characteristic value
func (t *Transport) Read(ctx context.Context, ch device.CharacteristicHandle) ([]byte, error) {
	if err := t.checkConnected(); err != nil {
		return nil, err
	}
	c, err := asCharacteristic(ch)
	if err != nil {
		return nil, err
	}
	data, err := t.client.ReadCharacteristic(c.char)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return data, nil
}

// Write writes with response when the characteristic supports it, otherwise without
func (t *Transport) Write(ctx context.Context, ch device.CharacteristicHandle, data []byte) error {
	if err := t.checkConnected(); err != nil {
		return err
	}
	c, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	props := c.Properties()
	if !props.CanWrite() {
		return fmt.Errorf("characteristic %s: write: %w", c.UUID(), device.ErrUnsupported)
	}
	noRsp := !props.Has(device.PropWrite)
	return NormalizeError(t.client.WriteCharacteristic(c.char, data, noRsp))
}

// Subscribe arms notifications, or indications when notify is not supported
func (t *Transport) Subscribe(ctx context.Context, ch device.CharacteristicHandle, handler device.NotificationHandler) error {
	if err := t.checkConnected(); err != nil {
		return err
	}
	c, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	props := c.Properties()
	if !props.CanNotify() {
		return fmt.Errorf("characteristic %s: subscribe: %w", c.UUID(), device.ErrUnsupported)
	}
	ind := !props.Has(device.PropNotify)
	if err := t.client.Subscribe(c.char, ind, ble.NotificationHandler(handler)); err != nil {
		return NormalizeError(err)
	}
	t.logger.WithFields(logrus.Fields{
		"characteristic": c.UUID(),
		"indicate":       ind,
	}).Debug("Subscribed")
	return nil
}

// Unsubscribe disarms notifications
func (t *Transport) Unsubscribe(ctx context.Context, ch device.CharacteristicHandle) error {
	if err := t.checkConnected(); err != nil {
		return err
	}
	c, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	ind := !c.Properties().Has(device.PropNotify)
	return NormalizeError(t.client.Unsubscribe(c.char, ind))
}

// ReadDescriptor reads a descriptor discovered with the characteristic
func (t *Transport) ReadDescriptor(ctx context.Context, ch device.CharacteristicHandle, uuid string) ([]byte, error) {
	if err := t.checkConnected(); err != nil {
		return nil, err
	}
	c, err := asCharacteristic(ch)
	if err != nil {
		return nil, err
	}
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}

	descriptors := c.char.Descriptors
	if len(descriptors) == 0 {
		if descriptors, err = t.client.DiscoverDescriptors([]ble.UUID{u}, c.char); err != nil {
			return nil, NormalizeError(err)
		}
	}
	for _, d := range descriptors {
		if d.UUID.Equal(u) {
			data, err := t.client.ReadDescriptor(d)
			if err != nil {
				return nil, NormalizeError(err)
			}
			return data, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID(), uuid}}
}

// Disconnect clears subscriptions best-effort and cancels the connection.
// It does not wait for in-flight operations and is idempotent.
func (t *Transport) Disconnect() error {
	if !t.markDisconnected() {
		return nil
	}
	if err := t.client.ClearSubscriptions(); err != nil {
		t.logger.WithError(err).Debug("Failed to clear subscriptions during disconnect")
	}
	if err := t.client.CancelConnection(); err != nil {
		t.logger.WithError(err).Warn("Device disconnected with errors")
		return NormalizeError(err)
	}
	t.logger.Info("Device disconnected")
	return nil
}

var (
	_ device.Transport          = (*Transport)(nil)
	_ device.DisconnectNotifier = (*Transport)(nil)
)
