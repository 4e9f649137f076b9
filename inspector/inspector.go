package inspector

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/device/goble"
	"github.com/srg/bikeble/internal/gate"
	"github.com/srg/bikeble/internal/session"
	"github.com/srg/bikeble/internal/trace"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// Connector establishes a link with the peripheral and returns its transport
type Connector func(ctx context.Context, opts goble.ConnectOptions, logger *logrus.Logger) (device.Transport, error)

// DefaultConnector dials through go-ble (can be overridden in tests)
var DefaultConnector Connector = func(ctx context.Context, opts goble.ConnectOptions, logger *logrus.Logger) (device.Transport, error) {
	return goble.Connect(ctx, opts, logger)
}

// InspectOptions defines options for inspecting the bike controller
type InspectOptions struct {
	Address          string
	DeviceName       string
	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	WatchBuffer      int
	Registry         *catalog.Registry // nil selects catalog.Default()
	Trace            io.Writer         // CBOR operation trace sink, nil disables tracing
	Connector        Connector         // nil selects DefaultConnector
}

// InspectCallback processes a discovered session and produces output of type R
type InspectCallback[R any] func(*session.Session) (R, error)

// InspectDevice connects to the bike, runs discovery to completion and executes
// the callback with the session. The connection is closed when the callback returns.
// Partially failed discovery is not an error here: the callback sees every
// section's phase and decides.
func InspectDevice[R any](ctx context.Context, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	connect := opts.Connector
	if connect == nil {
		connect = DefaultConnector
	}

	progressCallback("Connecting")
	transport, err := connect(ctx, goble.ConnectOptions{
		Address: opts.Address,
		Name:    opts.DeviceName,
		Timeout: opts.ConnectTimeout,
	}, logger)
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}
	progressCallback("Connected")

	gateOpts := []gate.Option{gate.WithLogger(logger)}
	var recorder *trace.Recorder
	if opts.Trace != nil {
		recorder = trace.NewRecorder(opts.Trace, trace.WithLogger(logger))
		gateOpts = append(gateOpts, gate.WithObserver(recorder))
		logger.WithField("connection_id", recorder.ConnectionID()).Debug("Operation trace enabled")
	}

	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithGate(gate.New(gateOpts...)),
	}
	if opts.WatchBuffer > 0 {
		sessOpts = append(sessOpts, session.WithWatchBuffer(opts.WatchBuffer))
	}
	sess := session.New(transport, opts.Registry, sessOpts...)

	// Ensure the session is closed after the callback completes
	defer func() {
		if err := sess.Close(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
		if recorder != nil {
			if err := recorder.Close(); err != nil {
				logger.WithError(err).Warn("failed to flush operation trace")
			}
		}
	}()

	progressCallback("Discovering")
	if err := sess.Start(ctx); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	waitCtx := ctx
	if opts.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.DiscoveryTimeout)
		defer cancel()
	}
	if err := sess.Wait(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			progressCallback("Failed")
			return zero, fmt.Errorf("discovery did not complete: %w", err)
		}
		logger.WithError(err).Warn("Discovery finished with failed sections")
	}

	progressCallback("Processing results")
	return callback(sess)
}
