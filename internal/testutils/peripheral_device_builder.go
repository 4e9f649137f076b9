package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID        string `json:"uuid"`
	Properties  string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte `json:"value,omitempty"`
	Description string `json:"description,omitempty"` // served as the 0x2901 descriptor
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete fake peripheral profile
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a FakeTransport from a service/characteristic profile
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDescription sets the user description of the last added characteristic
func (b *PeripheralDeviceBuilder) WithDescription(text string) *PeripheralDeviceBuilder {
	last := len(b.profile.Services) - 1
	if last < 0 || len(b.profile.Services[last].Characteristics) == 0 {
		panic("WithDescription: no characteristic added yet")
	}
	chars := b.profile.Services[last].Characteristics
	chars[len(chars)-1].Description = text
	return b
}

// WithoutService removes a service from the profile
func (b *PeripheralDeviceBuilder) WithoutService(uuid string) *PeripheralDeviceBuilder {
	out := b.profile.Services[:0]
	for _, svc := range b.profile.Services {
		if !device.SameUUID(svc.UUID, uuid) {
			out = append(out, svc)
		}
	}
	b.profile.Services = out
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// Build creates a FakeTransport serving the configured profile
func (b *PeripheralDeviceBuilder) Build() *FakeTransport {
	return newFakeTransport(b.profile)
}

// BikeValues are realistic payloads for the default catalog, keyed by characteristic name
var BikeValues = map[string][]byte{
	"Manufacture Date":             []byte("2023-04-01\x00"),
	"Bike Frame Number":            []byte("FRM123456\x00"),
	"Motor S/N":                    {0x39, 0x30, 0x00, 0x00},
	"Controller S/N":               []byte("CTL-42"),
	"Torque Sensor S/N":            []byte("TQ-7"),
	"Battery S/N":                  []byte("BAT-9001\x00"),
	"Bike S/N":                     []byte("BIKE-1"),
	"Controller FW Version":        {0x04, 0x03, 0x02, 0x01},
	"Controller BL Version":        {0x00, 0x00, 0x01, 0x01},
	"Motor FW Version":             {0x07, 0x00, 0x02, 0x03},
	"Lights Fitted":                {0x01},
	"BLE Module FW Version":        {0x00, 0x01, 0x00, 0x02},
	"BLE Module BL Version":        {0x00, 0x00, 0x00, 0x01},
	"Calibration ID":               {0x05, 0x00, 0x00, 0x00},
	"Bike Version ID":              {0x01, 0x00, 0x00, 0x00},
	"Battery Charge":               {0x00, 0x00, 0xb4, 0x42},
	"Battery Charge Cycles":        {0x2a, 0x00, 0x00, 0x00},
	"Lights Status":                {0x01, 0x00, 0x00, 0x00},
	"Lights Mode":                  {0x02, 0x00, 0x00, 0x00},
	"Electric Assist Mode":         {0x02, 0x00, 0x00, 0x00},
	"Akku Voltage":                 {0x9a, 0x99, 0x25, 0x42},
	"Total On Time":                {0x0c, 0x00, 0x00, 0x00},
	"Max Motor FET Temperature":    {0x00, 0x00, 0xcc, 0x41},
	"Peak Motor Board Temperature": {0x00, 0x00, 0x20, 0x42},
}

// NewBikePeripheral returns a builder mirroring the default catalog.
// Writable characteristics report read,write,notify; the rest read,notify for
// Battery Charge and read for everything else.
func NewBikePeripheral() *PeripheralDeviceBuilder {
	b := NewPeripheralDeviceBuilder()
	for _, svc := range catalog.Default().Services() {
		b.WithService(svc.UUID)
		for _, d := range svc.Characteristics {
			props := "read"
			switch {
			case d.Writable:
				props = "read,write,notify"
			case d.Name == "Battery Charge":
				props = "read,notify"
			}
			b.WithCharacteristic(d.UUID, props, BikeValues[d.Name])
		}
	}
	return b
}
