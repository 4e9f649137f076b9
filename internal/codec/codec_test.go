package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		codec    Codec
		input    []byte
		expected Value
	}{
		{"text plain", Text, []byte("BR-2023"), TextValue("BR-2023")},
		{"text trailing NUL", Text, []byte("2023-04-01\x00"), TextValue("2023-04-01")},
		{"text multiple trailing NULs", Text, []byte("abc\x00\x00\x00"), TextValue("abc")},
		{"text empty", Text, []byte{}, TextValue("")},
		{"text invalid utf8", Text, []byte{'a', 0xff, 'b'}, TextValue("a�b")},
		{"uint32 little endian", UnsignedInt32, []byte{0x01, 0x02, 0x00, 0x00}, IntegerValue(513)},
		{"uint32 max", UnsignedInt32, []byte{0xff, 0xff, 0xff, 0xff}, IntegerValue(4294967295)},
		{"uint32 longer buffer uses leading field", UnsignedInt32, []byte{0x2a, 0, 0, 0, 0x99}, IntegerValue(42)},
		{"version byte order", VersionQuad, []byte{0x04, 0x03, 0x02, 0x01}, Value{Kind: KindVersion, Text: "1.2.3.4"}},
		{"version zero", VersionQuad, []byte{0, 0, 0, 0}, Value{Kind: KindVersion, Text: "0.0.0.0"}},
		{"boolean zero", Boolean, []byte{0x00}, BoolValue(false)},
		{"boolean nonzero", Boolean, []byte{0x7f}, BoolValue(true)},
		{"hours", Hours, []byte{0x0c, 0x00, 0x00, 0x00}, Value{Kind: KindHours, Text: "12 hour(s)"}},
		{"temperature", Temperature, []byte{0x00, 0x00, 0xcc, 0x41}, Value{Kind: KindTemperature, Text: "25.5 C"}},
		{"temperature negative", Temperature, []byte{0x00, 0x00, 0x20, 0xc1}, Value{Kind: KindTemperature, Text: "-10 C"}},
		{"battery percent", BatteryPercent, []byte{0x00, 0x00, 0xb4, 0x42}, Value{Kind: KindPercentage, Text: "90%"}},
		{"battery percent fraction", BatteryPercent, []byte{0xcd, 0xcc, 0xcc, 0x3d}, Value{Kind: KindPercentage, Text: "0.1%"}},
		{"voltage", Voltage, []byte{0x9a, 0x99, 0x25, 0x42}, Value{Kind: KindVoltage, Text: "41.4 v"}},
		{"lights off", LightsOnOff, []byte{0x00}, EnumValue("Off")},
		{"lights on", LightsOnOff, []byte{0x01, 0x00, 0x00, 0x00}, EnumValue("On")},
		{"lights auto", LightsOnOffAuto, []byte{0x02, 0x00, 0x00, 0x00}, EnumValue("Auto")},
		{"assist mode 3", AssistMode, []byte{0x03}, EnumValue("3")},
		{"raw", Raw, []byte{1, 2, 3}, Value{Kind: KindRaw, Text: "(3 bytes)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.codec.Decode(tt.input)
			require.NoError(t, err, "decode MUST succeed")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		input []byte
	}{
		{"uint32 short", UnsignedInt32, []byte{0x01, 0x02, 0x03}},
		{"version short", VersionQuad, []byte{0x01}},
		{"hours empty", Hours, nil},
		{"temperature short", Temperature, []byte{0x00, 0x00}},
		{"boolean empty", Boolean, []byte{}},
		{"lights unexpected ordinal", LightsOnOff, []byte{0x02}},
		{"lights auto unexpected ordinal", LightsOnOffAuto, []byte{0x03, 0, 0, 0}},
		{"assist mode unexpected ordinal", AssistMode, []byte{0x04}},
		{"assist mode empty", AssistMode, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.codec.Decode(tt.input)
			require.Error(t, err)
			var derr *DecodeError
			require.True(t, errors.As(err, &derr), "error MUST be a *DecodeError, got %T", err)
			assert.Equal(t, tt.codec.Name(), derr.Codec)
			assert.True(t, got.IsZero(), "failed decode MUST NOT return a partial value")
		})
	}
}

// GOAL: every codec returns a value or a typed DecodeError for every buffer of
// its declared width, never a panic.
func TestDecodeTotality(t *testing.T) {
	for _, c := range All() {
		c := c
		t.Run(c.Name(), func(t *testing.T) {
			width := Width(c)
			if width == 0 {
				width = 2
			}
			buf := make([]byte, width)
			// exhaustive over the first byte, sampled over the rest
			for b := 0; b < 256; b++ {
				buf[0] = byte(b)
				for i := 1; i < width; i++ {
					buf[i] = byte(b * 31 >> i)
				}
				assert.NotPanics(t, func() {
					v, err := c.Decode(buf)
					if err != nil {
						var derr *DecodeError
						assert.ErrorAs(t, err, &derr)
						return
					}
					assert.False(t, v.IsZero(), "successful decode MUST carry a value")
				})
			}
		})
	}
}

func TestEnumeratedRoundTrip(t *testing.T) {
	for _, e := range []Enumerated{LightsOnOff, LightsOnOffAuto, AssistMode} {
		e := e
		t.Run(e.Name(), func(t *testing.T) {
			for i, v := range e.Domain() {
				data, err := e.Encode(v)
				require.NoError(t, err)
				assert.Equal(t, []byte{byte(i), 0, 0, 0}, data, "encoding MUST be [ordinal,0,0,0]")

				got, err := e.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, v, got, "decode(encode(v)) MUST equal v")
			}
		})
	}
}

func TestEnumeratedDomainOrder(t *testing.T) {
	labels := func(e Enumerated) []string {
		var out []string
		for _, v := range e.Domain() {
			out = append(out, v.String())
		}
		return out
	}
	assert.Equal(t, []string{"Off", "On"}, labels(LightsOnOff))
	assert.Equal(t, []string{"Off", "On", "Auto"}, labels(LightsOnOffAuto))
	assert.Equal(t, []string{"Off", "1", "2", "3"}, labels(AssistMode))
}

func TestLightsModeScenario(t *testing.T) {
	v, err := LightsOnOffAuto.Decode([]byte{0x02, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, "Auto", v.String())

	data, err := EncodeLabel(LightsOnOffAuto, "On")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, data)
}

func TestEncodeErrors(t *testing.T) {
	_, err := EncodeLabel(LightsOnOff, "Auto")
	var eerr *EncodeError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "lights-on-off", eerr.Codec)
	assert.Equal(t, "Auto", eerr.Value)
	assert.Equal(t, `lights-on-off: unexpected value "Auto"`, err.Error())

	_, err = AssistMode.Encode(TextValue("1"))
	assert.ErrorAs(t, err, &eerr, "non-enum values MUST be rejected")

	_, err = EncodeLabel(AssistMode, "off")
	assert.ErrorAs(t, err, &eerr, "labels are case-sensitive")
}

func TestDecodeErrorMessage(t *testing.T) {
	_, err := LightsOnOff.Decode([]byte{0x05, 0x00})
	require.Error(t, err)
	assert.Equal(t, "lights-on-off: cannot decode 05 00: unexpected value 5", err.Error())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "42", IntegerValue(42).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "Auto", EnumValue("Auto").String())
	assert.Equal(t, "", Value{}.String())
	assert.Equal(t, "temperature", KindTemperature.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
