package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/gate"
)

// Section is the discovery unit of one configured service.
// A failed section is never retried and does not affect its siblings.
type Section struct {
	s    *Session
	desc *catalog.ServiceDescriptor

	mu     sync.Mutex
	phase  Phase
	err    error
	handle device.ServiceHandle
	chars  []*LiveCharacteristic

	done     chan struct{}
	doneOnce sync.Once
}

func newSection(s *Session, d *catalog.ServiceDescriptor) *Section {
	return &Section{s: s, desc: d, done: make(chan struct{})}
}

// Name returns the service display name
func (sec *Section) Name() string { return sec.desc.Name }

// UUID returns the service UUID
func (sec *Section) UUID() string { return sec.desc.UUID }

// Descriptor returns the catalog entry of the service
func (sec *Section) Descriptor() *catalog.ServiceDescriptor { return sec.desc }

// Phase returns the section phase and its error once Failed
func (sec *Section) Phase() (Phase, error) {
	sec.mu.Lock()
	defer sec.mu.Unlock()
	return sec.phase, sec.err
}

// Done is closed once the section is Ready or Failed
func (sec *Section) Done() <-chan struct{} {
	return sec.done
}

// Characteristics returns the resolved characteristics in catalog order.
// It is empty until every characteristic of the section resolved.
func (sec *Section) Characteristics() []*LiveCharacteristic {
	sec.mu.Lock()
	defer sec.mu.Unlock()
	return sec.chars
}

func (sec *Section) log() *logrus.Entry {
	return sec.s.logger.WithFields(logrus.Fields{
		"section": sec.desc.Name,
		"service": device.ShortenUUID(device.NormalizeUUID(sec.desc.UUID)),
	})
}

func (sec *Section) setPhase(p Phase) {
	sec.mu.Lock()
	defer sec.mu.Unlock()
	if !sec.phase.Terminal() {
		sec.phase = p
	}
}

func (sec *Section) finish(p Phase, err error) {
	sec.mu.Lock()
	if sec.phase.Terminal() {
		sec.mu.Unlock()
		return
	}
	sec.phase = p
	sec.err = err
	sec.mu.Unlock()

	if err != nil {
		sec.log().WithError(err).Warn("Section failed")
	} else {
		sec.log().Debug("Section ready")
	}
	sec.doneOnce.Do(func() { close(sec.done) })
}

// resolveService resolves the service handle through the gate
func (sec *Section) resolveService(ctx context.Context) bool {
	sec.setPhase(ResolvingServices)

	req := gate.Request{Op: gate.OpResolveService, Service: sec.desc.UUID}
	h, err := gate.Call(ctx, sec.s.gate, req, func(ctx context.Context) (device.ServiceHandle, error) {
		return sec.s.transport.ResolveService(ctx, sec.desc.UUID)
	})
	if err != nil {
		sec.finish(Failed, &device.DiscoveryError{Resource: "service", UUID: sec.desc.UUID, Err: err})
		return false
	}

	sec.mu.Lock()
	sec.handle = h
	sec.mu.Unlock()
	return true
}

// run resolves every characteristic in list order, then performs the initial
// read and subscribe pass in the same order.
func (sec *Section) run(ctx context.Context) {
	sec.setPhase(ResolvingCharacteristics)

	sec.mu.Lock()
	svc := sec.handle
	sec.mu.Unlock()

	chars := make([]*LiveCharacteristic, 0, len(sec.desc.Characteristics))
	for i := range sec.desc.Characteristics {
		d := &sec.desc.Characteristics[i]
		req := gate.Request{Op: gate.OpResolveCharacteristic, Service: sec.desc.UUID, Characteristic: d.UUID}
		h, err := gate.Call(ctx, sec.s.gate, req, func(ctx context.Context) (device.CharacteristicHandle, error) {
			return sec.s.transport.ResolveCharacteristic(ctx, svc, d.UUID)
		})
		if err != nil {
			sec.finish(Failed, &device.DiscoveryError{Resource: "characteristic", UUID: d.UUID, Err: err})
			return
		}
		chars = append(chars, newLiveCharacteristic(sec.s, d, h))
	}

	sec.mu.Lock()
	sec.chars = chars
	sec.mu.Unlock()
	for _, c := range chars {
		sec.s.register(c)
	}

	for _, c := range chars {
		if _, err := c.Refresh(ctx); err != nil && isAbort(ctx, err) {
			sec.finish(Failed, err)
			return
		}
		if !c.Notifiable() {
			continue
		}
		if err := c.subscribe(ctx); err != nil && isAbort(ctx, err) {
			sec.finish(Failed, err)
			return
		}
	}

	sec.finish(Ready, nil)
}
