// Package mocks holds testify mocks for the go-ble client surface.
package mocks

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of the go-ble GATT client methods used by the transport
type MockClient struct {
	mock.Mock
	disconnected chan struct{}
}

// NewMockClient creates a mock client and registers expectation assertions on cleanup
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{disconnected: make(chan struct{})}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Disconnected is closed by DropLink
func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// DropLink simulates the peripheral going away
func (m *MockClient) DropLink() {
	close(m.disconnected)
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	ret := m.Called(filter)
	svcs, _ := ret.Get(0).([]*ble.Service)
	return svcs, ret.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	ret := m.Called(filter, s)
	chars, _ := ret.Get(0).([]*ble.Characteristic)
	return chars, ret.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	ret := m.Called(filter, c)
	ds, _ := ret.Get(0).([]*ble.Descriptor)
	return ds, ret.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	ret := m.Called(c)
	data, _ := ret.Get(0).([]byte)
	return data, ret.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	ret := m.Called(d)
	data, _ := ret.Get(0).([]byte)
	return data, ret.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}
