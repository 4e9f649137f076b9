// Package session discovers the configured services and characteristics of a
// connected device and keeps their decoded values live.
//
// A Session owns one gate. Every transport call except Disconnect goes through
// it. Discovery is a one-shot state machine:
//
//	NotStarted -> ResolvingServices -> ResolvingCharacteristics -> Ready
//	                    \                        \
//	                     `----------> Failed <----'
//
// Services are resolved serially in catalog order. Each service owns a
// Section; once all services are attempted, resolved sections proceed
// concurrently and settle independently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/gate"
	"github.com/srg/bikeble/internal/groutine"
)

const DefaultWatchBuffer = 16

var (
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("session already started")

	errLinkLost = errors.New("link lost")
)

// Session is the per-connection discovery and subscription orchestrator
type Session struct {
	transport   device.Transport
	registry    *catalog.Registry
	gate        *gate.Gate
	logger      *logrus.Logger
	watchBuffer int

	started atomic.Bool
	cancel  context.CancelFunc

	mu    sync.Mutex
	phase Phase
	err   error

	sections []*Section
	index    *hashmap.Map[string, *LiveCharacteristic]
	workers  groutine.Group

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Session
type Option func(*Session)

// WithGate injects the gate shared by every operation on the connection
func WithGate(g *gate.Gate) Option {
	return func(s *Session) { s.gate = g }
}

// WithLogger sets the session logger
func WithLogger(l *logrus.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithWatchBuffer sets the capacity of characteristic state streams
func WithWatchBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.watchBuffer = n
		}
	}
}

// New creates a session over an already connected transport.
// A nil registry selects catalog.Default().
func New(t device.Transport, registry *catalog.Registry, opts ...Option) *Session {
	s := &Session{
		transport:   t,
		registry:    registry,
		watchBuffer: DefaultWatchBuffer,
		index:       hashmap.New[string, *LiveCharacteristic](),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = catalog.Default()
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.gate == nil {
		s.gate = gate.New(gate.WithLogger(s.logger))
	}

	services := s.registry.Services()
	for i := range services {
		s.sections = append(s.sections, newSection(s, &services[i]))
	}
	return s
}

// Start triggers discovery once. It does not block; use Wait or the section
// Done channels to follow progress.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	select {
	case <-s.closed:
		s.settle(Failed, s.gate.Err())
		return s.gate.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if n, ok := s.transport.(device.DisconnectNotifier); ok {
		s.workers.Go(ctx, "session-link-monitor", func(ctx context.Context) {
			select {
			case <-n.Disconnected():
				s.logger.Warn("Link lost, closing session")
				s.closeWith(errLinkLost)
			case <-s.closed:
			case <-ctx.Done():
			}
		})
	}

	s.setPhase(ResolvingServices)
	s.workers.Go(ctx, "session-discovery", s.discover)
	return nil
}

func (s *Session) discover(ctx context.Context) {
	var resolved []*Section
	for _, sec := range s.sections {
		if sec.resolveService(ctx) {
			resolved = append(resolved, sec)
		}
	}

	s.setPhase(ResolvingCharacteristics)

	var g groutine.Group
	for _, sec := range resolved {
		g.Go(ctx, "section:"+sec.Name(), sec.run)
	}
	g.Wait()

	var errs []error
	for _, sec := range s.sections {
		if p, err := sec.Phase(); p == Failed {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.settle(Failed, errors.Join(errs...))
		return
	}
	s.settle(Ready, nil)
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.Terminal() {
		s.phase = p
	}
	s.logger.WithField("phase", p).Debug("Session phase changed")
}

func (s *Session) settle(p Phase, err error) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.err = err
	s.mu.Unlock()

	entry := s.logger.WithField("phase", p)
	if err != nil {
		entry.WithError(err).Warn("Discovery finished with failures")
	} else {
		entry.Info("Discovery finished")
	}
	close(s.done)
}

// Phase returns the session phase and, once Failed, the joined section errors
func (s *Session) Phase() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.err
}

// Done is closed once every section settled
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until discovery settles and returns the session error
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		_, err := s.Phase()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sections returns one section per configured service, in catalog order
func (s *Session) Sections() []*Section {
	return s.sections
}

// Gate returns the connection's operation gate
func (s *Session) Gate() *gate.Gate {
	return s.gate
}

// Characteristic finds a resolved characteristic by display name or UUID
func (s *Session) Characteristic(nameOrUUID string) (*LiveCharacteristic, error) {
	d, err := s.registry.LookupName(nameOrUUID)
	if err != nil {
		return nil, err
	}
	c, ok := s.index.Get(d.Key())
	if !ok {
		return nil, fmt.Errorf("%s is not resolved: %w", d.Name, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{d.ServiceUUID, d.UUID},
		})
	}
	return c, nil
}

// Characteristics returns every resolved characteristic in catalog order
func (s *Session) Characteristics() []*LiveCharacteristic {
	var out []*LiveCharacteristic
	for _, sec := range s.sections {
		out = append(out, sec.Characteristics()...)
	}
	return out
}

// Close disconnects: it fails every queued operation, detaches every
// subscription and state stream, then disconnects the transport.
// It never waits for the gate holder. Close is idempotent.
func (s *Session) Close() error {
	return s.closeWith(nil)
}

func (s *Session) closeWith(cause error) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.gate.Close(cause)

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		detached := 0
		s.index.Range(func(_ string, c *LiveCharacteristic) bool {
			c.detach()
			detached++
			return true
		})

		s.closeErr = s.transport.Disconnect()
		s.logger.WithFields(logrus.Fields{
			"characteristics": detached,
			"cause":           cause,
		}).Info("Session closed")

		if !s.started.Load() {
			s.settle(Failed, s.gate.Err())
		}
	})
	return s.closeErr
}

// Closed is closed once Close ran
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

func (s *Session) register(c *LiveCharacteristic) {
	s.index.Set(c.desc.Key(), c)
	// a characteristic registered after Close must not stay attached
	select {
	case <-s.closed:
		c.detach()
	default:
	}
}

func isAbort(ctx context.Context, err error) bool {
	return errors.Is(err, device.ErrDisconnected) || ctx.Err() != nil
}
