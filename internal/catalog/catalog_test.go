package catalog

import (
	"strings"
	"testing"

	"github.com/srg/bikeble/internal/codec"
	"github.com/srg/bikeble/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	r := Default()
	require.Same(t, r, Default(), "Default MUST return the same registry instance")

	services := r.Services()
	require.Len(t, services, 2)
	assert.Equal(t, BikeInfoServiceUUID, services[0].UUID)
	assert.Equal(t, StatsServiceUUID, services[1].UUID)
	assert.Len(t, services[0].Characteristics, 15)
	assert.Len(t, services[1].Characteristics, 9)

	order, groups := r.Groups()
	assert.Equal(t, []string{GroupBikeInfo, GroupVersions, GroupBattery, GroupLights, GroupMotor}, order)
	assert.Len(t, groups[GroupLights], 2)
}

func TestLookup(t *testing.T) {
	r := Default()

	tests := []struct {
		name      string
		service   string
		char      string
		expected  string
		codecName string
	}{
		{"exact", StatsServiceUUID, "105c6761-74bf-4ffe-94ea-f8ba79f20611", "Lights Mode", "lights-on-off-auto"},
		{"uppercase", strings.ToUpper(StatsServiceUUID), "105C6761-74BF-4FFE-94EA-F8BA79F20612", "Electric Assist Mode", "assist-mode"},
		{"no dashes", "2f4ce2a3fcbb4f3ab561b9d78b5aae00", "2f4ce2a3fcbb4f3ab561b9d78b5aae04", "Controller FW Version", "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Lookup(tt.service, tt.char)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Name)
			assert.Equal(t, tt.codecName, d.Codec.Name())
		})
	}
}

func TestLookupNotFound(t *testing.T) {
	r := Default()

	// characteristic UUID exists, but in the other service
	_, err := r.Lookup(BikeInfoServiceUUID, "105c6761-74bf-4ffe-94ea-f8ba79f20611")
	var nf *device.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)
	assert.Len(t, nf.UUIDs, 2)

	_, err = r.LookupName("Rear Derailleur")
	assert.ErrorAs(t, err, &nf)
}

func TestLookupName(t *testing.T) {
	r := Default()

	d, err := r.LookupName("lights status")
	require.NoError(t, err)
	assert.Equal(t, "Lights Status", d.Name)

	d, err = r.LookupName("105C6761-74BF-4FFE-94EA-F8BA79F2061A")
	require.NoError(t, err)
	assert.Equal(t, "Akku Voltage", d.Name)
}

func TestWritableCharacteristics(t *testing.T) {
	var names []string
	for _, d := range Default().Characteristics() {
		e, ok := d.Enumerated()
		if !ok {
			assert.False(t, d.Writable, "%s: writable descriptors MUST carry an enumerated codec", d.Name)
			continue
		}
		names = append(names, d.Name)
		assert.NotEmpty(t, e.Domain())
	}
	assert.Equal(t, []string{"Lights Status", "Lights Mode", "Electric Assist Mode"}, names)
}

func TestUnconfirmedAnnotations(t *testing.T) {
	r := Default()
	for _, name := range []string{"Controller S/N", "Torque Sensor S/N", "Total On Time", "Calibration ID"} {
		d, err := r.LookupName(name)
		require.NoError(t, err)
		assert.True(t, d.Unconfirmed, "%s MUST be flagged unconfirmed", name)
	}
	d, err := r.LookupName("Bike Version ID")
	require.NoError(t, err)
	assert.False(t, d.Unconfirmed)
}

func TestNewValidation(t *testing.T) {
	good := CharacteristicDescriptor{UUID: "105c6761-74bf-4ffe-94ea-f8ba79f20615", Name: "A", Codec: codec.BatteryPercent}

	tests := []struct {
		name     string
		services []ServiceDescriptor
		errPart  string
	}{
		{
			name:     "invalid service uuid",
			services: []ServiceDescriptor{{UUID: "not-a-uuid", Name: "S"}},
			errPart:  "invalid UUID",
		},
		{
			name: "invalid characteristic uuid",
			services: []ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{
				{UUID: "zz", Name: "B", Codec: codec.Text},
			}}},
			errPart: "invalid UUID",
		},
		{
			name: "duplicate identity",
			services: []ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{
				good, {UUID: strings.ToUpper(good.UUID), Name: "B", Codec: codec.Text},
			}}},
			errPart: "duplicate identity",
		},
		{
			name: "writable without domain",
			services: []ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{
				{UUID: good.UUID, Name: "B", Codec: codec.Text, Writable: true},
			}}},
			errPart: "no value domain",
		},
		{
			name: "writable without codec",
			services: []ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{
				{UUID: good.UUID, Name: "B", Writable: true},
			}}},
			errPart: "no value domain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.services)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}

	r, err := New([]ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{good}}})
	require.NoError(t, err)
	d, err := r.Lookup(StatsServiceUUID, good.UUID)
	require.NoError(t, err)
	assert.Equal(t, StatsServiceUUID, d.ServiceUUID, "service UUID MUST be inherited from the enclosing service")

	raw := CharacteristicDescriptor{UUID: "105c6761-74bf-4ffe-94ea-f8ba79f20699", Name: "Unknown"}
	r, err = New([]ServiceDescriptor{{UUID: StatsServiceUUID, Name: "S", Characteristics: []CharacteristicDescriptor{raw}}})
	require.NoError(t, err)
	d, err = r.LookupName("unknown")
	require.NoError(t, err)
	assert.Equal(t, codec.Raw, d.Codec, "a descriptor without codec MUST fall back to raw")
}
