package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected ConnectionState = "not_connected"
	Disconnected ConnectionState = "disconnected"
	BluetoothOff ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected = &ConnectionError{State: NotConnected}
	ErrBluetoothOff = &ConnectionError{State: BluetoothOff}

	// ErrDisconnected is reported for operations that were queued or attempted
	// after the owning connection was torn down.
	ErrDisconnected = &ConnectionError{State: Disconnected}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// DiscoveryError reports that a configured service or characteristic could not
// be resolved on the device. It is fatal to the owning section only.
type DiscoveryError struct {
	Resource string
	UUID     string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s %s failed: %v", e.Resource, e.UUID, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// TransportError reports a link-level failure of a single attribute operation
type TransportError struct {
	Op   string
	UUID string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.UUID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
