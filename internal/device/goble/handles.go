package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bikeble/internal/device"
)

type service struct {
	svc *ble.Service
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

type characteristic struct {
	char        *ble.Characteristic
	serviceUUID string
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

func (c *characteristic) ServiceUUID() string {
	return c.serviceUUID
}

func (c *characteristic) Properties() device.Properties {
	return NewProperties(c.char.Property)
}

var propertyMap = []struct {
	ble ble.Property
	dev device.Property
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropAuthenticatedSignedWrites},
	{ble.CharExtended, device.PropExtendedProperties},
}

// NewProperties converts go-ble property flags to a device.Properties set
func NewProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			props |= device.Properties(m.dev)
		}
	}
	return props
}
