package device

import (
	"context"
	"strings"
)

// UserDescriptionUUID is the Characteristic User Description descriptor
const UserDescriptionUUID = "2901"

// ServiceHandle is a resolved GATT service on a connected device
type ServiceHandle interface {
	UUID() string
}

// CharacteristicHandle is a resolved GATT characteristic on a connected device
type CharacteristicHandle interface {
	UUID() string
	ServiceUUID() string
	Properties() Properties
}

// NotificationHandler receives raw notification payloads.
// It is invoked out-of-band by the transport and must not block.
type NotificationHandler func(data []byte)

// Transport is the attribute-access surface of an already connected device.
//
// Implementations are not required to be safe for overlapping operations:
// callers serialize every method except Disconnect through a single gate.
type Transport interface {
	ResolveService(ctx context.Context, uuid string) (ServiceHandle, error)
	ResolveCharacteristic(ctx context.Context, svc ServiceHandle, uuid string) (CharacteristicHandle, error)
	Read(ctx context.Context, ch CharacteristicHandle) ([]byte, error)
	Write(ctx context.Context, ch CharacteristicHandle, data []byte) error
	Subscribe(ctx context.Context, ch CharacteristicHandle, handler NotificationHandler) error
	Unsubscribe(ctx context.Context, ch CharacteristicHandle) error
	ReadDescriptor(ctx context.Context, ch CharacteristicHandle, uuid string) ([]byte, error)

	// Disconnect tears the link down. It must be callable while another
	// operation is still in flight.
	Disconnect() error
}

// DisconnectNotifier is implemented by transports that report link loss
type DisconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// Property is a single characteristic property bit
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "signed-write"},
	{PropExtendedProperties, "extended"},
}

// Properties is the property bit set reported for a characteristic
type Properties uint8

// Has reports whether every bit of p is set
func (ps Properties) Has(p Property) bool {
	return ps&Properties(p) == Properties(p)
}

// CanWrite reports whether the characteristic accepts writes with or without response
func (ps Properties) CanWrite() bool {
	return ps.Has(PropWrite) || ps.Has(PropWriteWithoutResponse)
}

// CanNotify reports whether the characteristic can push value changes
func (ps Properties) CanNotify() bool {
	return ps.Has(PropNotify) || ps.Has(PropIndicate)
}

// Names returns the human-readable names of the set properties in bit order
func (ps Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if ps.Has(pn.p) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (ps Properties) String() string {
	return strings.Join(ps.Names(), ",")
}

// ParseProperties converts a comma-separated list such as "read,write,notify"
// into a property set. Unknown names are ignored.
func ParseProperties(s string) Properties {
	var ps Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, pn := range propertyNames {
			if pn.name == part {
				ps |= Properties(pn.p)
			}
		}
	}
	return ps
}
