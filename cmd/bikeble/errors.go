package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bikeble/internal/codec"
	"github.com/srg/bikeble/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE link dropped while a command was still running.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns internal error chains into a short message with a hint
func FormatUserError(err error) string {
	var (
		nf  *device.NotFoundError
		enc *codec.EncodeError
		dec *codec.DecodeError
	)
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	case errors.Is(err, ErrConnectionLost), errors.Is(err, device.ErrDisconnected):
		return fmt.Sprintf("the bike disconnected before the command finished (%v)", err)
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("the bike is not connected (%v)", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out - is the bike switched on and in range? (%v)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("operation not supported: %v", err)
	case errors.As(err, &enc):
		return fmt.Sprintf("%v (run 'bikeble catalog' for accepted values)", err)
	case errors.As(err, &dec):
		return fmt.Sprintf("the bike returned an unexpected value: %v", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v (run 'bikeble catalog' for known names)", err)
	default:
		return err.Error()
	}
}
