// Package gate serializes attribute operations on one connection.
//
// A Gate has at most one holder at any instant. Acquirers are granted in
// arrival order. Closing the gate fails every queued and future acquirer with
// device.ErrDisconnected without waiting for the current holder.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/device"
)

// Op names a kind of transport operation
type Op string

const (
	OpResolveService        Op = "resolve-service"
	OpResolveCharacteristic Op = "resolve-characteristic"
	OpRead                  Op = "read"
	OpWrite                 Op = "write"
	OpReadDescriptor        Op = "read-descriptor"
	OpSubscribe             Op = "subscribe"
	OpUnsubscribe           Op = "unsubscribe"
)

// Request describes a gated operation for observers and logs
type Request struct {
	Op             Op
	Service        string
	Characteristic string
}

func (r Request) String() string {
	switch {
	case r.Characteristic != "":
		return fmt.Sprintf("%s %s", r.Op, device.ShortenUUID(device.NormalizeUUID(r.Characteristic)))
	case r.Service != "":
		return fmt.Sprintf("%s %s", r.Op, device.ShortenUUID(device.NormalizeUUID(r.Service)))
	default:
		return string(r.Op)
	}
}

// Observer is notified around every operation run through Call/Do.
// Callbacks run on the caller's goroutine while the gate is held and must not block.
type Observer interface {
	OperationStarted(req Request, waited time.Duration)
	OperationFinished(req Request, took time.Duration, err error)
}

// Stats counts gate traffic
type Stats struct {
	Acquired  uint64
	Released  uint64
	Abandoned uint64 // acquirers that gave up (ctx or close) before being granted
	Queued    int
}

type waiter struct {
	ch      chan struct{}
	granted bool
	err     error
}

// Gate is a FIFO single-holder lock that can be closed with a cause
type Gate struct {
	mu     sync.Mutex
	held   bool
	queue  []*waiter
	closed error

	observer Observer
	logger   *logrus.Logger

	acquired  atomic.Uint64
	released  atomic.Uint64
	abandoned atomic.Uint64
}

// Option configures a Gate
type Option func(*Gate)

// WithObserver installs an operation observer
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// WithLogger sets the logger used for per-operation debug traces
func WithLogger(l *logrus.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates an open gate
func New(opts ...Option) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logrus.New()
	}
	return g
}

// Token is the proof of holding the gate
type Token struct {
	g        *Gate
	released atomic.Bool
}

// Release hands the gate to the next queued acquirer. Calling it more than once is a no-op.
func (t *Token) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.g.release()
}

// Acquire blocks until the caller holds the gate, ctx is done, or the gate is closed.
func (g *Gate) Acquire(ctx context.Context) (*Token, error) {
	g.mu.Lock()
	if g.closed != nil {
		g.mu.Unlock()
		g.abandoned.Add(1)
		return nil, g.closed
	}
	if err := ctx.Err(); err != nil {
		g.mu.Unlock()
		g.abandoned.Add(1)
		return nil, err
	}
	if !g.held && len(g.queue) == 0 {
		g.held = true
		g.mu.Unlock()
		g.acquired.Add(1)
		return &Token{g: g}, nil
	}

	w := &waiter{ch: make(chan struct{})}
	g.queue = append(g.queue, w)
	g.mu.Unlock()

	select {
	case <-w.ch:
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// granted concurrently with cancellation: pass it on
			g.mu.Unlock()
			g.acquired.Add(1)
			(&Token{g: g}).Release()
			g.abandoned.Add(1)
			return nil, ctx.Err()
		}
		if w.err == nil {
			g.remove(w)
			g.mu.Unlock()
			g.abandoned.Add(1)
			return nil, ctx.Err()
		}
		g.mu.Unlock()
	}

	if w.err != nil {
		g.abandoned.Add(1)
		return nil, w.err
	}
	g.acquired.Add(1)
	return &Token{g: g}, nil
}

// release must only be called once per grant
func (g *Gate) release() {
	g.released.Add(1)

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) == 0 {
		g.held = false
		return
	}
	next := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	next.granted = true
	close(next.ch)
}

func (g *Gate) remove(w *waiter) {
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
}

// Close fails every queued and future acquirer with ErrDisconnected wrapping cause.
// The current holder, if any, keeps the gate until it releases. Close is idempotent
// and never blocks on the holder.
func (g *Gate) Close(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed != nil {
		return
	}
	if cause == nil || errors.Is(cause, device.ErrDisconnected) {
		if cause == nil {
			cause = device.ErrDisconnected
		}
		g.closed = cause
	} else {
		g.closed = fmt.Errorf("%w: %w", device.ErrDisconnected, cause)
	}

	for _, w := range g.queue {
		w.err = g.closed
		close(w.ch)
	}
	if n := len(g.queue); n > 0 {
		g.logger.WithFields(logrus.Fields{
			"drained": n,
			"cause":   cause,
		}).Debug("Gate closed with queued operations")
	}
	g.queue = nil
}

// Err returns the close error, or nil while the gate is open
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Stats returns a snapshot of the gate counters
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	queued := len(g.queue)
	g.mu.Unlock()
	return Stats{
		Acquired:  g.acquired.Load(),
		Released:  g.released.Load(),
		Abandoned: g.abandoned.Load(),
		Queued:    queued,
	}
}

// PanicError is returned when a guarded operation panics
type PanicError struct {
	Request Request
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Request, e.Value)
}

type result[T any] struct {
	v   T
	err error
}

// Call acquires g, runs fn and releases g when fn returns, whatever the outcome.
//
// If ctx is done while fn is still running, Call returns ctx.Err() immediately,
// but the gate stays held until fn actually returns so the transport never sees
// two overlapping operations.
func Call[T any](ctx context.Context, g *Gate, req Request, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	queuedAt := time.Now()
	tok, err := g.Acquire(ctx)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"op":    req.String(),
			"error": err,
		}).Debug("Gate acquire failed")
		return zero, err
	}

	start := time.Now()
	waited := start.Sub(queuedAt)
	if g.observer != nil {
		g.observer.OperationStarted(req, waited)
	}

	done := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r = result[T]{err: &PanicError{Request: req, Value: p}}
			}
			took := time.Since(start)
			if g.observer != nil {
				g.observer.OperationFinished(req, took, r.err)
			}
			g.logger.WithFields(logrus.Fields{
				"op":     req.String(),
				"waited": waited,
				"took":   took,
				"error":  r.err,
			}).Debug("Gated operation finished")
			tok.Release()
			done <- r
		}()
		r.v, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.v, r.err
		default:
			return zero, ctx.Err()
		}
	}
}

// Do is Call for operations without a result
func Do(ctx context.Context, g *Gate, req Request, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, req, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
