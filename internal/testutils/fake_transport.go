package testutils

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/gate"
)

// Call is one recorded transport call
type Call struct {
	Op   gate.Op
	UUID string // normalized service or characteristic UUID
	Data []byte // written payload
}

type fakeService struct {
	uuid string
}

func (s *fakeService) UUID() string { return s.uuid }

type fakeCharacteristic struct {
	uuid        string
	serviceUUID string
	props       device.Properties
	description string

	mu    sync.Mutex
	value []byte
}

func (c *fakeCharacteristic) UUID() string                  { return c.uuid }
func (c *fakeCharacteristic) ServiceUUID() string           { return c.serviceUUID }
func (c *fakeCharacteristic) Properties() device.Properties { return c.props }

// FakeTransport is an in-memory device.Transport with concurrency probes.
//
// It records the maximum number of overlapping calls so tests can verify that
// callers never issue two attribute operations at once.
type FakeTransport struct {
	services map[string]*fakeService
	chars    map[string]map[string]*fakeCharacteristic // service -> characteristic

	mu       sync.Mutex
	calls    []Call
	failures map[string]error
	blocks   map[string]chan struct{}
	entered  map[string]chan struct{}
	handlers map[string]device.NotificationHandler
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	disconnectOnce sync.Once
	disconnected   chan struct{}
	disconnects    atomic.Int32
}

func newFakeTransport(profile DeviceProfileConfig) *FakeTransport {
	t := &FakeTransport{
		services:     make(map[string]*fakeService),
		chars:        make(map[string]map[string]*fakeCharacteristic),
		failures:     make(map[string]error),
		blocks:       make(map[string]chan struct{}),
		entered:      make(map[string]chan struct{}),
		handlers:     make(map[string]device.NotificationHandler),
		disconnected: make(chan struct{}),
	}
	for _, svc := range profile.Services {
		su := device.NormalizeUUID(svc.UUID)
		t.services[su] = &fakeService{uuid: svc.UUID}
		t.chars[su] = make(map[string]*fakeCharacteristic)
		for _, c := range svc.Characteristics {
			props := device.ParseProperties(c.Properties)
			if c.Properties == "" {
				props = device.Properties(device.PropRead)
			}
			t.chars[su][device.NormalizeUUID(c.UUID)] = &fakeCharacteristic{
				uuid:        c.UUID,
				serviceUUID: svc.UUID,
				props:       props,
				description: c.Description,
				value:       append([]byte(nil), c.Value...),
			}
		}
	}
	return t
}

func probeKey(op gate.Op, uuid string) string {
	return string(op) + ":" + device.NormalizeUUID(uuid)
}

// FailOn makes every call of op on uuid fail with err
func (t *FakeTransport) FailOn(op gate.Op, uuid string, err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[probeKey(op, uuid)] = err
	return t
}

// WithDelay makes every call sleep for d inside the transport
func (t *FakeTransport) WithDelay(d time.Duration) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
	return t
}

// Block makes the next calls of op on uuid hang until the returned func is called
// or the transport is disconnected. The entered channel is closed once a call is inside.
func (t *FakeTransport) Block(op gate.Op, uuid string) (entered <-chan struct{}, release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := probeKey(op, uuid)
	ch := make(chan struct{})
	in := make(chan struct{})
	t.blocks[k] = ch
	t.entered[k] = in
	var once sync.Once
	return in, func() { once.Do(func() { close(ch) }) }
}

func (t *FakeTransport) enter(op gate.Op, uuid string, data []byte) error {
	cur := t.inFlight.Add(1)
	for {
		prev := t.maxInFlight.Load()
		if cur <= prev || t.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	k := probeKey(op, uuid)
	t.mu.Lock()
	t.calls = append(t.calls, Call{Op: op, UUID: device.NormalizeUUID(uuid), Data: append([]byte(nil), data...)})
	failure := t.failures[k]
	block := t.blocks[k]
	if in, ok := t.entered[k]; ok {
		close(in)
		delete(t.entered, k)
	}
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if block != nil {
		select {
		case <-block:
		case <-t.disconnected:
			return device.ErrNotConnected
		}
	}
	if t.IsDisconnected() {
		return device.ErrNotConnected
	}
	return failure
}

func (t *FakeTransport) exit() {
	t.inFlight.Add(-1)
}

func (t *FakeTransport) characteristic(ch device.CharacteristicHandle) (*fakeCharacteristic, error) {
	svc, ok := t.chars[device.NormalizeUUID(ch.ServiceUUID())]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{ch.ServiceUUID()}}
	}
	c, ok := svc[device.NormalizeUUID(ch.UUID())]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ch.ServiceUUID(), ch.UUID()}}
	}
	return c, nil
}

// ResolveService implements device.Transport
func (t *FakeTransport) ResolveService(ctx context.Context, uuid string) (device.ServiceHandle, error) {
	defer t.exit()
	if err := t.enter(gate.OpResolveService, uuid, nil); err != nil {
		return nil, err
	}
	svc, ok := t.services[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// ResolveCharacteristic implements device.Transport
func (t *FakeTransport) ResolveCharacteristic(ctx context.Context, svc device.ServiceHandle, uuid string) (device.CharacteristicHandle, error) {
	defer t.exit()
	if err := t.enter(gate.OpResolveCharacteristic, uuid, nil); err != nil {
		return nil, err
	}
	c, ok := t.chars[device.NormalizeUUID(svc.UUID())][device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID(), uuid}}
	}
	return c, nil
}

// Read implements device.Transport
func (t *FakeTransport) Read(ctx context.Context, ch device.CharacteristicHandle) ([]byte, error) {
	defer t.exit()
	if err := t.enter(gate.OpRead, ch.UUID(), nil); err != nil {
		return nil, err
	}
	c, err := t.characteristic(ch)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

// Write implements device.Transport
func (t *FakeTransport) Write(ctx context.Context, ch device.CharacteristicHandle, data []byte) error {
	defer t.exit()
	if err := t.enter(gate.OpWrite, ch.UUID(), data); err != nil {
		return err
	}
	c, err := t.characteristic(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.value = append([]byte(nil), data...)
	c.mu.Unlock()
	return nil
}

// Subscribe implements device.Transport
func (t *FakeTransport) Subscribe(ctx context.Context, ch device.CharacteristicHandle, handler device.NotificationHandler) error {
	defer t.exit()
	if err := t.enter(gate.OpSubscribe, ch.UUID(), nil); err != nil {
		return err
	}
	if !ch.Properties().CanNotify() {
		return device.ErrUnsupported
	}
	t.mu.Lock()
	t.handlers[device.NormalizeUUID(ch.UUID())] = handler
	t.mu.Unlock()
	return nil
}

// Unsubscribe implements device.Transport
func (t *FakeTransport) Unsubscribe(ctx context.Context, ch device.CharacteristicHandle) error {
	defer t.exit()
	if err := t.enter(gate.OpUnsubscribe, ch.UUID(), nil); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.handlers, device.NormalizeUUID(ch.UUID()))
	t.mu.Unlock()
	return nil
}

// ReadDescriptor implements device.Transport
func (t *FakeTransport) ReadDescriptor(ctx context.Context, ch device.CharacteristicHandle, uuid string) ([]byte, error) {
	defer t.exit()
	if err := t.enter(gate.OpReadDescriptor, ch.UUID(), nil); err != nil {
		return nil, err
	}
	c, err := t.characteristic(ch)
	if err != nil {
		return nil, err
	}
	if !device.SameUUID(uuid, device.UserDescriptionUUID) || c.description == "" {
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{ch.UUID(), uuid}}
	}
	return []byte(c.description), nil
}

// Disconnect implements device.Transport. It never waits for in-flight calls.
func (t *FakeTransport) Disconnect() error {
	t.disconnects.Add(1)
	t.disconnectOnce.Do(func() { close(t.disconnected) })
	return nil
}

// Disconnected implements device.DisconnectNotifier
func (t *FakeTransport) Disconnected() <-chan struct{} {
	return t.disconnected
}

// IsDisconnected reports whether Disconnect was called
func (t *FakeTransport) IsDisconnected() bool {
	select {
	case <-t.disconnected:
		return true
	default:
		return false
	}
}

// DisconnectCount returns how many times Disconnect was called
func (t *FakeTransport) DisconnectCount() int {
	return int(t.disconnects.Load())
}

// Notify delivers data to the subscriber of uuid as the device would.
// It reports whether a subscriber was registered.
func (t *FakeTransport) Notify(uuid string, data []byte) bool {
	t.mu.Lock()
	h, ok := t.handlers[device.NormalizeUUID(uuid)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether uuid has a registered notification handler
func (t *FakeTransport) Subscribed(uuid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handlers[device.NormalizeUUID(uuid)]
	return ok
}

// SetValue replaces the stored value of a characteristic
func (t *FakeTransport) SetValue(uuid string, data []byte) {
	n := device.NormalizeUUID(uuid)
	for _, chars := range t.chars {
		if c, ok := chars[n]; ok {
			c.mu.Lock()
			c.value = append([]byte(nil), data...)
			c.mu.Unlock()
		}
	}
}

// Value returns the stored value of a characteristic
func (t *FakeTransport) Value(uuid string) []byte {
	n := device.NormalizeUUID(uuid)
	for _, chars := range t.chars {
		if c, ok := chars[n]; ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]byte(nil), c.value...)
		}
	}
	return nil
}

// Calls returns a copy of the call log
func (t *FakeTransport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsTo returns the logged calls of op on uuid
func (t *FakeTransport) CallsTo(op gate.Op, uuid string) []Call {
	n := device.NormalizeUUID(uuid)
	var out []Call
	for _, c := range t.Calls() {
		if c.Op == op && c.UUID == n {
			out = append(out, c)
		}
	}
	return out
}

// Written returns every payload written to uuid
func (t *FakeTransport) Written(uuid string) [][]byte {
	var out [][]byte
	for _, c := range t.CallsTo(gate.OpWrite, uuid) {
		out = append(out, c.Data)
	}
	return out
}

// WroteExactly reports whether the last payload written to uuid equals data
func (t *FakeTransport) WroteExactly(uuid string, data []byte) bool {
	w := t.Written(uuid)
	return len(w) > 0 && bytes.Equal(w[len(w)-1], data)
}

// MaxInFlight returns the highest number of overlapping calls observed
func (t *FakeTransport) MaxInFlight() int {
	return int(t.maxInFlight.Load())
}

// InFlight returns the number of calls currently inside the transport
func (t *FakeTransport) InFlight() int {
	return int(t.inFlight.Load())
}

var (
	_ device.Transport          = (*FakeTransport)(nil)
	_ device.DisconnectNotifier = (*FakeTransport)(nil)
)
