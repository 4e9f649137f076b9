package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/codec"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/gate"
	"github.com/srg/bikeble/internal/ringchan"
)

// State is an observable snapshot of a LiveCharacteristic
type State struct {
	Value     *codec.Value // nil until the first successful decode
	Err       error        // last read, decode, write or subscribe failure
	Live      bool         // notifications armed
	Pending   bool         // Value is an optimistic write that has not settled
	Seq       uint64
	UpdatedAt time.Time
}

// LiveCharacteristic is a resolved characteristic with its decoded value.
// Its state is only written by its own read, notification and write paths.
type LiveCharacteristic struct {
	s        *Session
	desc     *catalog.CharacteristicDescriptor
	handle   device.CharacteristicHandle
	notify   bool
	writable codec.Enumerated

	mu       sync.Mutex
	state    State
	watchers []*ringchan.RingChannel[State]
	detached bool

	// ops numbers reads and writes in issue order. pendingWrite is the number of
	// the newest unsettled write, optimistic whether its value is still displayed.
	ops          uint64
	pendingWrite uint64
	optimistic   bool
}

func newLiveCharacteristic(s *Session, d *catalog.CharacteristicDescriptor, h device.CharacteristicHandle) *LiveCharacteristic {
	c := &LiveCharacteristic{
		s:      s,
		desc:   d,
		handle: h,
		notify: d.Notify || h.Properties().CanNotify(),
	}
	if e, ok := d.Codec.(codec.Enumerated); ok && (d.Writable || h.Properties().CanWrite()) {
		c.writable = e
	}
	return c
}

// Name returns the catalog display name
func (c *LiveCharacteristic) Name() string { return c.desc.Name }

// UUID returns the characteristic UUID
func (c *LiveCharacteristic) UUID() string { return c.desc.UUID }

// Descriptor returns the catalog entry
func (c *LiveCharacteristic) Descriptor() *catalog.CharacteristicDescriptor { return c.desc }

// Properties returns the properties reported by the device
func (c *LiveCharacteristic) Properties() device.Properties { return c.handle.Properties() }

// Notifiable reports whether a subscription is armed during discovery
func (c *LiveCharacteristic) Notifiable() bool { return c.notify }

// Writable reports whether Write is supported
func (c *LiveCharacteristic) Writable() bool { return c.writable != nil }

// Domain returns the accepted write values, or nil for read-only characteristics
func (c *LiveCharacteristic) Domain() []codec.Value {
	if c.writable == nil {
		return nil
	}
	return c.writable.Domain()
}

// State returns the current snapshot
func (c *LiveCharacteristic) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch returns a stream of state snapshots starting with the current one.
// A slow reader loses the oldest snapshots. The stream is closed on disconnect.
func (c *LiveCharacteristic) Watch() *ringchan.RingChannel[State] {
	rc := ringchan.New[State](c.s.watchBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	rc.Send(c.state)
	if c.detached {
		rc.Close()
		return rc
	}
	c.watchers = append(c.watchers, rc)
	return rc
}

// Unwatch stops delivering to rc and closes it
func (c *LiveCharacteristic) Unwatch(rc *ringchan.RingChannel[State]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.watchers {
		if w == rc {
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			break
		}
	}
	rc.Close()
}

// update mutates the state under the lock and publishes the result.
// Updates after detach are dropped.
func (c *LiveCharacteristic) update(fn func(st *State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return false
	}
	fn(&c.state)
	c.state.Seq++
	c.state.UpdatedAt = time.Now()
	for _, w := range c.watchers {
		w.Send(c.state)
	}
	return true
}

func (c *LiveCharacteristic) request(op gate.Op) gate.Request {
	return gate.Request{Op: op, Service: c.desc.ServiceUUID, Characteristic: c.desc.UUID}
}

func (c *LiveCharacteristic) log() *logrus.Entry {
	return c.s.logger.WithFields(logrus.Fields{
		"characteristic": c.desc.Name,
		"uuid":           device.ShortenUUID(device.NormalizeUUID(c.desc.UUID)),
	})
}

func (c *LiveCharacteristic) transportErr(op gate.Op, err error) error {
	return &device.TransportError{Op: string(op), UUID: c.desc.UUID, Err: err}
}

// nextOp numbers a read or write in issue order
func (c *LiveCharacteristic) nextOp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops++
	return c.ops
}

// apply decodes data and publishes the result. A decode failure keeps the last good value.
// issued is the number of the read that produced data, or 0 for a notification.
// While a write is pending, reads issued before it are dropped and newer values
// replace the optimistic one without settling the write.
func (c *LiveCharacteristic) apply(data []byte, issued uint64) (codec.Value, error) {
	v, err := c.desc.Codec.Decode(data)
	c.update(func(st *State) {
		if err != nil {
			st.Err = err
			return
		}
		if c.pendingWrite != 0 {
			if issued != 0 && issued < c.pendingWrite {
				return
			}
			c.optimistic = false
			st.Value = &v
			st.Err = nil
			return
		}
		st.Value = &v
		st.Err = nil
		st.Pending = false
	})
	if err != nil {
		c.log().WithError(err).Warn("Failed to decode characteristic value")
		return codec.Value{}, err
	}
	return v, nil
}

// Refresh performs a gated read and publishes the decoded value.
// Nothing is retried: on failure the error is published and returned.
func (c *LiveCharacteristic) Refresh(ctx context.Context) (codec.Value, error) {
	issued := c.nextOp()
	data, err := gate.Call(ctx, c.s.gate, c.request(gate.OpRead), func(ctx context.Context) ([]byte, error) {
		b, err := c.s.transport.Read(ctx, c.handle)
		if err != nil {
			return nil, c.transportErr(gate.OpRead, err)
		}
		return b, nil
	})
	if err != nil {
		c.update(func(st *State) { st.Err = err })
		c.log().WithError(err).Debug("Read failed")
		return codec.Value{}, err
	}
	return c.apply(data, issued)
}

// Write validates label against the value domain, publishes it optimistically
// and issues a gated write. The optimistic value stays until the write settles
// unless the device reports a newer one. On failure the previous value is
// restored only if the optimistic one is still displayed.
func (c *LiveCharacteristic) Write(ctx context.Context, label string) error {
	if c.writable == nil {
		return fmt.Errorf("%s: write: %w", c.desc.Name, device.ErrUnsupported)
	}
	data, err := codec.EncodeLabel(c.writable, label)
	if err != nil {
		return err
	}
	v, err := c.desc.Codec.Decode(data)
	if err != nil {
		return err
	}

	var (
		prev *codec.Value
		op   uint64
	)
	c.update(func(st *State) {
		c.ops++
		op = c.ops
		c.pendingWrite = op
		c.optimistic = true
		prev = st.Value
		st.Value = &v
		st.Pending = true
	})

	err = gate.Do(ctx, c.s.gate, c.request(gate.OpWrite), func(ctx context.Context) error {
		if err := c.s.transport.Write(ctx, c.handle, data); err != nil {
			return c.transportErr(gate.OpWrite, err)
		}
		return nil
	})

	c.update(func(st *State) {
		if err != nil {
			st.Err = err
		}
		if c.pendingWrite != op {
			// a newer write owns the displayed value
			return
		}
		if err == nil {
			st.Value = &v
			st.Err = nil
		} else if c.optimistic {
			st.Value = prev
		}
		c.pendingWrite = 0
		c.optimistic = false
		st.Pending = false
	})

	if err != nil {
		c.log().WithError(err).WithField("label", label).Warn("Write failed")
		return err
	}
	c.log().WithField("label", label).Info("Characteristic written")
	return nil
}

// Describe fetches the Characteristic User Description through the gate
func (c *LiveCharacteristic) Describe(ctx context.Context) (string, error) {
	data, err := gate.Call(ctx, c.s.gate, c.request(gate.OpReadDescriptor), func(ctx context.Context) ([]byte, error) {
		b, err := c.s.transport.ReadDescriptor(ctx, c.handle, device.UserDescriptionUUID)
		if err != nil {
			var nf *device.NotFoundError
			if errors.As(err, &nf) {
				return nil, err
			}
			return nil, c.transportErr(gate.OpReadDescriptor, err)
		}
		return b, nil
	})
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(data, "\x00")), nil
}

// subscribe arms notifications through the gate. Deliveries decode without the gate.
func (c *LiveCharacteristic) subscribe(ctx context.Context) error {
	err := gate.Do(ctx, c.s.gate, c.request(gate.OpSubscribe), func(ctx context.Context) error {
		if err := c.s.transport.Subscribe(ctx, c.handle, c.onNotification); err != nil {
			return c.transportErr(gate.OpSubscribe, err)
		}
		return nil
	})
	c.update(func(st *State) {
		if err != nil {
			st.Err = err
			return
		}
		st.Live = true
	})
	if err != nil {
		c.log().WithError(err).Warn("Failed to arm notifications")
	}
	return err
}

func (c *LiveCharacteristic) onNotification(data []byte) {
	c.mu.Lock()
	detached := c.detached
	c.mu.Unlock()
	if detached {
		return
	}
	_, _ = c.apply(data, 0)
}

// Unsubscribe disarms notifications through the gate
func (c *LiveCharacteristic) Unsubscribe(ctx context.Context) error {
	if !c.State().Live {
		return nil
	}
	err := gate.Do(ctx, c.s.gate, c.request(gate.OpUnsubscribe), func(ctx context.Context) error {
		if err := c.s.transport.Unsubscribe(ctx, c.handle); err != nil {
			return c.transportErr(gate.OpUnsubscribe, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.update(func(st *State) { st.Live = false })
	return nil
}

// detach drops the notification callback and closes every watcher.
// It never touches the transport.
func (c *LiveCharacteristic) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return
	}
	if c.state.Live {
		c.state.Live = false
		c.state.Seq++
		c.state.UpdatedAt = time.Now()
		for _, w := range c.watchers {
			w.Send(c.state)
		}
	}
	c.detached = true
	for _, w := range c.watchers {
		w.Close()
	}
	c.watchers = nil
}
