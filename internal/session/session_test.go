package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/codec"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/gate"
	"github.com/srg/bikeble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	lightsModeUUID   = "105c6761-74bf-4ffe-94ea-f8ba79f20611"
	lightsStatusUUID = "105c6761-74bf-4ffe-94ea-f8ba79f2060f"
	batteryUUID      = "105c6761-74bf-4ffe-94ea-f8ba79f20615"
	manufactureUUID  = "2f4ce2a3-fcbb-4f3a-b561-b9d78b5aae0d"
	frameNumberUUID  = "2f4ce2a3-fcbb-4f3a-b561-b9d78b5aae01"
	motorSNUUID      = "2f4ce2a3-fcbb-4f3a-b561-b9d78b5aae02"
)

type SessionSuite struct {
	suite.Suite

	Helper     *testutils.TestHelper
	Peripheral *testutils.PeripheralDeviceBuilder
	Transport  *testutils.FakeTransport
	Session    *Session
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *SessionSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Peripheral = testutils.NewBikePeripheral()
	s.Transport = nil
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *SessionSuite) TearDownTest() {
	if s.Session != nil {
		_ = s.Session.Close()
		s.Session = nil
	}
	s.cancel()
}

// start builds the transport from the configured peripheral and starts discovery
func (s *SessionSuite) start(opts ...Option) {
	if s.Transport == nil {
		s.Transport = s.Peripheral.Build()
	}
	opts = append([]Option{WithLogger(s.Helper.Logger)}, opts...)
	s.Session = New(s.Transport, catalog.Default(), opts...)
	s.Require().NoError(s.Session.Start(s.ctx))
}

func (s *SessionSuite) startAndWait() {
	s.start()
	s.Require().NoError(s.Session.Wait(s.ctx), "discovery MUST succeed")
}

func (s *SessionSuite) char(name string) *LiveCharacteristic {
	c, err := s.Session.Characteristic(name)
	s.Require().NoError(err)
	return c
}

func (s *SessionSuite) value(name string) string {
	st := s.char(name).State()
	s.Require().NotNil(st.Value, "%s MUST have a value", name)
	return st.Value.String()
}

// GOAL: a complete discovery decodes every configured characteristic
//
// TEST SCENARIO: bike peripheral exposes every catalog entry → session Ready → all values decoded
func (s *SessionSuite) TestDiscoveryDecodesEveryCharacteristic() {
	s.startAndWait()

	phase, err := s.Session.Phase()
	s.Equal(Ready, phase)
	s.NoError(err)

	for _, sec := range s.Session.Sections() {
		p, err := sec.Phase()
		s.Equal(Ready, p, "section %s MUST be ready", sec.Name())
		s.NoError(err)
		s.Len(sec.Characteristics(), len(sec.Descriptor().Characteristics))
	}
	s.Len(s.Session.Characteristics(), 24)

	s.Equal("2023-04-01", s.value("Manufacture Date"))
	s.Equal("12345", s.value("Motor S/N"))
	s.Equal("1.2.3.4", s.value("Controller FW Version"))
	s.Equal("true", s.value("Lights Fitted"))
	s.Equal("90%", s.value("Battery Charge"))
	s.Equal("Auto", s.value("Lights Mode"))
	s.Equal("2", s.value("Electric Assist Mode"))
	s.Equal("41.4 v", s.value("Akku Voltage"))
	s.Equal("12 hour(s)", s.value("Total On Time"))
	s.Equal("25.5 C", s.value("Max Motor FET Temperature"))
}

// GOAL: the transport never sees two overlapping operations
func (s *SessionSuite) TestDiscoveryNeverOverlapsOperations() {
	s.Transport = s.Peripheral.Build().WithDelay(200 * time.Microsecond)
	s.startAndWait()

	s.Equal(1, s.Transport.MaxInFlight(), "MUST NOT issue concurrent transport operations")

	st := s.Session.Gate().Stats()
	s.Equal(st.Acquired, st.Released, "every acquire MUST be released")
	s.Equal(uint64(len(s.Transport.Calls())), st.Acquired, "every transport call MUST go through the gate")
}

// GOAL: resolution and initial reads follow catalog order within a section
func (s *SessionSuite) TestSectionOrder() {
	s.startAndWait()

	for _, sec := range s.Session.Sections() {
		inSection := map[string]bool{}
		var expected []string
		for _, d := range sec.Descriptor().Characteristics {
			n := device.NormalizeUUID(d.UUID)
			inSection[n] = true
			expected = append(expected, n)
		}

		var resolved, read []string
		for _, c := range s.Transport.Calls() {
			if !inSection[c.UUID] {
				continue
			}
			switch c.Op {
			case gate.OpResolveCharacteristic:
				resolved = append(resolved, c.UUID)
			case gate.OpRead:
				read = append(read, c.UUID)
			}
		}
		s.Equal(expected, resolved, "%s: resolution MUST follow catalog order", sec.Name())
		s.Equal(expected, read, "%s: initial reads MUST follow catalog order", sec.Name())
	}
}

// GOAL: notify-capable characteristics are subscribed during discovery
func (s *SessionSuite) TestNotifyCapableCharacteristicsAreLive() {
	s.startAndWait()

	for _, c := range s.Session.Characteristics() {
		if c.Notifiable() {
			s.True(c.State().Live, "%s MUST be live", c.Name())
			s.True(s.Transport.Subscribed(c.UUID()))
		} else {
			s.False(c.State().Live)
			s.Empty(s.Transport.CallsTo(gate.OpSubscribe, c.UUID()), "%s MUST NOT be subscribed", c.Name())
		}
	}
	s.True(s.char("Battery Charge").Notifiable())
	s.False(s.char("Motor S/N").Notifiable())
}

// GOAL: a service that fails to resolve fails only its own section
//
// TEST SCENARIO: Stats service missing → Bike Info Ready, Stats Failed, session Failed with DiscoveryError
func (s *SessionSuite) TestFailedServiceDoesNotBlockSiblings() {
	s.Peripheral.WithoutService(catalog.StatsServiceUUID)
	s.start()

	err := s.Session.Wait(s.ctx)
	s.Require().Error(err)

	var derr *device.DiscoveryError
	s.Require().ErrorAs(err, &derr)
	s.Equal("service", derr.Resource)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf, "discovery error MUST wrap the not-found cause")

	phase, _ := s.Session.Phase()
	s.Equal(Failed, phase)

	sections := s.Session.Sections()
	p, _ := sections[0].Phase()
	s.Equal(Ready, p, "Bike Info MUST be ready independently")
	p, _ = sections[1].Phase()
	s.Equal(Failed, p)
	s.Empty(sections[1].Characteristics())

	s.Equal("1.2.3.4", s.value("Controller FW Version"))
	_, err = s.Session.Characteristic("Lights Mode")
	s.ErrorAs(err, &nf)
}

// GOAL: characteristic resolution is all-or-nothing per section
func (s *SessionSuite) TestMissingCharacteristicFailsWholeSection() {
	s.Transport = s.Peripheral.Build().FailOn(gate.OpResolveCharacteristic, lightsStatusUUID,
		&device.NotFoundError{Resource: "characteristic", UUIDs: []string{catalog.StatsServiceUUID, lightsStatusUUID}})
	s.start()
	s.Require().Error(s.Session.Wait(s.ctx))

	stats := s.Session.Sections()[1]
	<-stats.Done()
	p, err := stats.Phase()
	s.Equal(Failed, p)
	var derr *device.DiscoveryError
	s.Require().ErrorAs(err, &derr)
	s.Equal("characteristic", derr.Resource)
	s.Empty(stats.Characteristics(), "no characteristic MUST be exposed from a failed section")
	s.Empty(s.Transport.CallsTo(gate.OpRead, batteryUUID), "failed section MUST NOT start reading")

	p, _ = s.Session.Sections()[0].Phase()
	s.Equal(Ready, p)
}

// GOAL: a read failure is local to one characteristic
func (s *SessionSuite) TestReadFailureIsLocal() {
	linkErr := errors.New("att: insufficient authentication")
	s.Transport = s.Peripheral.Build().FailOn(gate.OpRead, frameNumberUUID, linkErr)
	s.startAndWait()

	st := s.char("Bike Frame Number").State()
	s.Nil(st.Value)
	var terr *device.TransportError
	s.Require().ErrorAs(st.Err, &terr)
	s.Equal("read", terr.Op)
	s.ErrorIs(st.Err, linkErr)

	s.Equal("12345", s.value("Motor S/N"), "sibling MUST still be read")
	s.Len(s.Transport.CallsTo(gate.OpRead, frameNumberUUID), 1, "MUST NOT retry automatically")
}

// GOAL: a decode failure is surfaced in state without dropping the session
func (s *SessionSuite) TestDecodeFailureSurfacesInState() {
	s.Peripheral = testutils.NewBikePeripheral()
	s.Transport = s.Peripheral.Build()
	s.Transport.SetValue(lightsModeUUID, []byte{0x07, 0, 0, 0})
	s.startAndWait()

	st := s.char("Lights Mode").State()
	s.Nil(st.Value)
	var derr *codec.DecodeError
	s.ErrorAs(st.Err, &derr)
}

// GOAL: notifications update the value without taking the gate
func (s *SessionSuite) TestNotificationUpdatesValue() {
	s.startAndWait()
	c := s.char("Battery Charge")
	w := c.Watch()
	<-w.C() // current state

	before := s.Session.Gate().Stats().Acquired
	s.Require().True(s.Transport.Notify(batteryUUID, []byte{0x00, 0x00, 0xa0, 0x42}))

	select {
	case st := <-w.C():
		s.Require().NotNil(st.Value)
		s.Equal("80%", st.Value.String())
	case <-time.After(time.Second):
		s.Fail("notification MUST be published")
	}
	s.Equal(before, s.Session.Gate().Stats().Acquired, "notification decode MUST NOT take the gate")

	// undecodable payload keeps the last value
	s.Transport.Notify(batteryUUID, []byte{0x01})
	st := c.State()
	s.Equal("80%", st.Value.String())
	var derr *codec.DecodeError
	s.ErrorAs(st.Err, &derr)
}

// GOAL: writes validate, publish optimistically and settle
func (s *SessionSuite) TestWrite() {
	s.startAndWait()
	c := s.char("Lights Status")
	s.True(c.Writable())
	s.Equal([]codec.Value{codec.EnumValue("Off"), codec.EnumValue("On")}, c.Domain())

	w := c.Watch()
	<-w.C()

	s.Require().NoError(c.Write(s.ctx, "Off"))
	s.True(s.Transport.WroteExactly(lightsStatusUUID, []byte{0x00, 0x00, 0x00, 0x00}))

	pending := <-w.C()
	s.True(pending.Pending, "optimistic value MUST be published before the write settles")
	s.Equal("Off", pending.Value.String())

	settled := <-w.C()
	s.False(settled.Pending)
	s.NoError(settled.Err)
	s.Equal("Off", settled.Value.String())
}

func (s *SessionSuite) TestWriteRejectsUnknownLabel() {
	s.startAndWait()
	c := s.char("Lights Mode")

	err := c.Write(s.ctx, "Blink")
	var eerr *codec.EncodeError
	s.Require().ErrorAs(err, &eerr)
	s.Empty(s.Transport.Written(lightsModeUUID), "invalid label MUST NOT reach the transport")
	s.Equal("Auto", c.State().Value.String())
}

func (s *SessionSuite) TestWriteReadOnly() {
	s.startAndWait()
	err := s.char("Battery Charge").Write(s.ctx, "On")
	s.ErrorIs(err, device.ErrUnsupported)
	s.False(s.char("Motor S/N").Writable())
	s.Nil(s.char("Motor S/N").Domain())
}

// GOAL: a failed write restores the previous value and exposes the error
func (s *SessionSuite) TestWriteFailureRestoresValue() {
	linkErr := errors.New("write rejected")
	s.Transport = s.Peripheral.Build().FailOn(gate.OpWrite, lightsModeUUID, linkErr)
	s.startAndWait()
	c := s.char("Lights Mode")

	err := c.Write(s.ctx, "Off")
	s.ErrorIs(err, linkErr)

	st := c.State()
	s.False(st.Pending)
	s.Equal("Auto", st.Value.String(), "previous value MUST be restored")
	var terr *device.TransportError
	s.ErrorAs(st.Err, &terr)

	// sibling unaffected
	s.NoError(s.char("Lights Status").State().Err)
}

// GOAL: a read issued before a write never replaces the optimistic value
//
// TEST SCENARIO: Lights Mode read hangs in the transport → Write("On") queues behind it →
// read returns the old "Auto" → value stays "On" and pending → write settles with "On"
func (s *SessionSuite) TestEarlierReadDoesNotOverrideOptimisticWrite() {
	s.startAndWait()
	c := s.char("Lights Mode")

	entered, release := s.Transport.Block(gate.OpRead, lightsModeUUID)
	defer release()

	readDone := make(chan error, 1)
	go func() {
		_, err := c.Refresh(s.ctx)
		readDone <- err
	}()
	select {
	case <-entered:
	case <-s.ctx.Done():
		s.FailNow("blocked read never started")
	}

	writeDone := make(chan error, 1)
	go func() { writeDone <- c.Write(s.ctx, "On") }()
	s.Eventually(func() bool { return c.State().Pending }, time.Second, time.Millisecond,
		"optimistic value MUST be published")

	release()
	s.Require().NoError(<-readDone)

	s.Equal("On", c.State().Value.String(), "stale read MUST NOT replace the optimistic value")

	s.Require().NoError(<-writeDone)
	st := c.State()
	s.False(st.Pending)
	s.NoError(st.Err)
	s.Equal("On", st.Value.String(), "settled write MUST display the written label")
	s.True(s.Transport.WroteExactly(lightsModeUUID, []byte{0x01, 0x00, 0x00, 0x00}))
}

// GOAL: a notification received while a write is in flight survives the write's failure
//
// TEST SCENARIO: Lights Mode write hangs and is set to fail → device notifies "Off" →
// write fails → value stays "Off" with the write error exposed
func (s *SessionSuite) TestFailedWriteKeepsNewerNotification() {
	writeErr := errors.New("write rejected")
	s.Transport = s.Peripheral.Build().FailOn(gate.OpWrite, lightsModeUUID, writeErr)
	s.startAndWait()
	c := s.char("Lights Mode")

	entered, release := s.Transport.Block(gate.OpWrite, lightsModeUUID)
	defer release()

	writeDone := make(chan error, 1)
	go func() { writeDone <- c.Write(s.ctx, "On") }()
	select {
	case <-entered:
	case <-s.ctx.Done():
		s.FailNow("blocked write never started")
	}
	s.Equal("On", c.State().Value.String())

	s.Require().True(s.Transport.Notify(lightsModeUUID, []byte{0x00, 0x00, 0x00, 0x00}))
	st := c.State()
	s.Equal("Off", st.Value.String(), "notification MUST overwrite the optimistic value")
	s.True(st.Pending, "write MUST still be pending")

	release()
	s.ErrorIs(<-writeDone, writeErr)

	st = c.State()
	s.False(st.Pending)
	s.Equal("Off", st.Value.String(), "failed write MUST NOT roll back over a newer device value")
	var terr *device.TransportError
	s.ErrorAs(st.Err, &terr)
}

func (s *SessionSuite) TestRefresh() {
	s.startAndWait()
	s.Transport.SetValue(motorSNUUID, []byte{0x01, 0x00, 0x00, 0x00})

	v, err := s.char("Motor S/N").Refresh(s.ctx)
	s.Require().NoError(err)
	s.Equal(codec.IntegerValue(1), v)
	s.Equal("1", s.value("Motor S/N"))
}

func (s *SessionSuite) TestDescribe() {
	s.Peripheral = testutils.NewPeripheralDeviceBuilder().
		WithService(catalog.BikeInfoServiceUUID)
	for _, d := range catalog.Default().Services()[0].Characteristics {
		s.Peripheral.WithCharacteristic(d.UUID, "read", testutils.BikeValues[d.Name])
	}
	s.Peripheral.WithDescription("Bike version")
	s.Peripheral.WithService(catalog.StatsServiceUUID)
	for _, d := range catalog.Default().Services()[1].Characteristics {
		s.Peripheral.WithCharacteristic(d.UUID, "read", testutils.BikeValues[d.Name])
	}
	s.startAndWait()

	text, err := s.char("Bike Version ID").Describe(s.ctx)
	s.Require().NoError(err)
	s.Equal("Bike version", text)

	_, err = s.char("Motor S/N").Describe(s.ctx)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *SessionSuite) TestUnsubscribe() {
	s.startAndWait()
	c := s.char("Battery Charge")
	s.Require().NoError(c.Unsubscribe(s.ctx))
	s.False(c.State().Live)
	s.False(s.Transport.Subscribed(batteryUUID))
	s.NoError(c.Unsubscribe(s.ctx), "unsubscribing twice MUST be a no-op")
	s.Len(s.Transport.CallsTo(gate.OpUnsubscribe, batteryUUID), 1)
}

func (s *SessionSuite) TestStartIsOneShot() {
	s.start()
	s.ErrorIs(s.Session.Start(s.ctx), ErrAlreadyStarted)
	s.NoError(s.Session.Wait(s.ctx))
}

// GOAL: disconnect drains the gate queue and nothing reaches the transport afterwards
//
// TEST SCENARIO: first Bike Info read hangs → Close → queued operations fail with ErrDisconnected
func (s *SessionSuite) TestCloseDrainsQueuedOperations() {
	s.Transport = s.Peripheral.Build()
	entered, release := s.Transport.Block(gate.OpRead, manufactureUUID)
	defer release()
	s.start()

	select {
	case <-entered:
	case <-s.ctx.Done():
		s.FailNow("blocked read never started")
	}

	s.Require().NoError(s.Session.Close())
	callsAtClose := len(s.Transport.Calls())

	err := s.Session.Wait(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrDisconnected)

	for _, sec := range s.Session.Sections() {
		p, _ := sec.Phase()
		s.Equal(Failed, p, "section %s MUST fail on disconnect", sec.Name())
	}
	s.Equal(callsAtClose, len(s.Transport.Calls()), "no operation MUST reach the transport after close")
	s.Equal(1, s.Transport.DisconnectCount())

	s.NoError(s.Session.Close(), "Close MUST be idempotent")
	s.Equal(1, s.Transport.DisconnectCount())
}

// GOAL: after disconnect, late notifications are dropped and streams are closed
func (s *SessionSuite) TestCloseDetachesSubscriptions() {
	s.startAndWait()
	c := s.char("Battery Charge")
	w := c.Watch()
	before := c.State()

	s.Require().NoError(s.Session.Close())
	s.Transport.Notify(batteryUUID, []byte{0x00, 0x00, 0x20, 0x41})

	var last State
	for st := range w.C() {
		last = st
	}
	s.False(last.Live, "final published state MUST not be live")
	s.Equal(before.Value, c.State().Value, "late notification MUST be dropped")

	_, err := c.Refresh(s.ctx)
	s.ErrorIs(err, device.ErrDisconnected)

	late := c.Watch()
	_, ok := <-late.C()
	s.True(ok, "a late watcher MUST receive the final state")
	_, ok = <-late.C()
	s.False(ok, "a late watcher MUST be closed")
}

// GOAL: link loss reported by the transport closes the session
func (s *SessionSuite) TestLinkLossClosesSession() {
	s.startAndWait()
	s.Require().NoError(s.Transport.Disconnect())

	select {
	case <-s.Session.Closed():
	case <-time.After(time.Second):
		s.FailNow("session MUST close on link loss")
	}
	// waits for the in-progress close to finish
	s.Require().NoError(s.Session.Close())

	s.ErrorIs(s.Session.Gate().Err(), device.ErrDisconnected)
	s.False(s.char("Battery Charge").State().Live)
}

func (s *SessionSuite) TestCloseBeforeStart() {
	s.Transport = s.Peripheral.Build()
	s.Session = New(s.Transport, nil, WithLogger(s.Helper.Logger))
	s.Require().NoError(s.Session.Close())

	s.ErrorIs(s.Session.Start(s.ctx), device.ErrDisconnected)
	s.ErrorIs(s.Session.Wait(s.ctx), device.ErrDisconnected)
	s.Empty(s.Transport.Calls())
}

// GOAL: concurrent caller-driven operations and notifications stay serialized
func (s *SessionSuite) TestConcurrentRefreshAndWrites() {
	s.Transport = s.Peripheral.Build().WithDelay(100 * time.Microsecond)
	s.startAndWait()

	errs := make(chan error, 64)
	var pending int
	for _, c := range s.Session.Characteristics() {
		c := c
		pending++
		go func() {
			_, err := c.Refresh(s.ctx)
			errs <- err
		}()
	}
	for _, label := range []string{"Off", "1", "2", "3"} {
		label := label
		pending++
		go func() { errs <- s.char("Electric Assist Mode").Write(s.ctx, label) }()
	}
	go func() {
		for i := 0; i < 50; i++ {
			s.Transport.Notify(batteryUUID, []byte{0x00, 0x00, 0xa0, 0x42})
		}
	}()

	for i := 0; i < pending; i++ {
		s.NoError(<-errs)
	}
	s.Equal(1, s.Transport.MaxInFlight())
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		NotStarted:               "not-started",
		ResolvingServices:        "resolving-services",
		ResolvingCharacteristics: "resolving-characteristics",
		Ready:                    "ready",
		Failed:                   "failed",
		Phase(42):                "phase(42)",
	} {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
