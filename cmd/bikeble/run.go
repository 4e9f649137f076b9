package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/inspector"
	"github.com/srg/bikeble/internal/session"
)

// connector is the inspector connector used by every command (can be overridden in tests)
var connector inspector.Connector

// withSession connects to the bike, waits for discovery and runs fn.
// An empty address falls back to the configured address, then to the name filter.
func (a *app) withSession(cmd *cobra.Command, address, what string, fn func(ctx context.Context, sess *session.Session) error) error {
	if address == "" {
		address = a.cfg.Address
	}
	opts := &inspector.InspectOptions{
		Address:          address,
		DeviceName:       a.cfg.DeviceName,
		ConnectTimeout:   a.cfg.ConnectTimeout,
		DiscoveryTimeout: a.cfg.DiscoveryTimeout,
		WatchBuffer:      a.cfg.WatchBuffer,
		Connector:        connector,
	}

	if a.cfg.TraceFile != "" {
		f, err := os.Create(a.cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		opts.Trace = f
	}

	target := address
	if target == "" {
		target = a.cfg.DeviceName
	}

	progressCallback := func(string) {}
	if out := cmd.ErrOrStderr(); isTerminal(out) {
		progress := NewProgressPrinter(out, fmt.Sprintf("%s %s", what, target), "Connecting", "Processing results", "Failed")
		progress.Start()
		defer progress.Stop()
		progressCallback = progress.Callback()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := inspector.InspectDevice(ctx, opts, a.logger, progressCallback, func(sess *session.Session) (struct{}, error) {
		return struct{}{}, fn(ctx, sess)
	})
	return err
}

// operationContext bounds a single caller-driven operation by the configured timeout
func (a *app) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.OperationTimeout)
}
