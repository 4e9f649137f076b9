//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/bikeble/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE host support on %s: %w", runtime.GOOS, device.ErrUnsupported)
}
