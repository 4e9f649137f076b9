// Package codec converts fixed-layout characteristic payloads to display values and back.
//
// All codecs are stateless singletons. Multi-byte fields are little-endian.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Codec decodes raw characteristic bytes into a display value
type Codec interface {
	Name() string
	Decode(data []byte) (Value, error)
}

// Enumerated is implemented by codecs of writable characteristics
type Enumerated interface {
	Codec
	// Domain returns the accepted values in display order
	Domain() []Value
	// Encode returns the 4-byte little-endian payload for v
	Encode(v Value) ([]byte, error)
}

// Codec singletons
var (
	Text            Codec      = textCodec{}
	UnsignedInt32   Codec      = uint32Codec{}
	VersionQuad     Codec      = versionCodec{}
	Boolean         Codec      = boolCodec{}
	Hours           Codec      = hoursCodec{}
	Temperature     Codec      = floatCodec{name: "temperature", kind: KindTemperature, format: "%s C"}
	BatteryPercent  Codec      = floatCodec{name: "battery-percent", kind: KindPercentage, format: "%s%%"}
	Voltage         Codec      = floatCodec{name: "voltage", kind: KindVoltage, format: "%s v"}
	LightsOnOff     Enumerated = enumCodec{name: "lights-on-off", labels: []string{"Off", "On"}}
	LightsOnOffAuto Enumerated = enumCodec{name: "lights-on-off-auto", labels: []string{"Off", "On", "Auto"}}
	AssistMode      Enumerated = enumCodec{name: "assist-mode", labels: []string{"Off", "1", "2", "3"}}
	Raw             Codec      = rawCodec{}
)

// All returns every codec in a stable order
func All() []Codec {
	return []Codec{
		Text, UnsignedInt32, VersionQuad, Boolean, Hours,
		Temperature, BatteryPercent, Voltage,
		LightsOnOff, LightsOnOffAuto, AssistMode, Raw,
	}
}

// Width returns the fixed field width of c in bytes, or 0 for variable-length codecs
func Width(c Codec) int {
	switch c.(type) {
	case uint32Codec, versionCodec, hoursCodec, floatCodec:
		return 4
	case boolCodec, enumCodec:
		return 1
	default:
		return 0
	}
}

func need(name string, data []byte, n int) error {
	if len(data) < n {
		return decodeErr(name, data, "need %d bytes, got %d", n, len(data))
	}
	return nil
}

// ----------------------------
// Text
// ----------------------------

type textCodec struct{}

func (textCodec) Name() string { return "text" }

func (textCodec) Decode(data []byte) (Value, error) {
	b := bytes.TrimRight(data, "\x00")
	if !utf8.Valid(b) {
		return TextValue(strings.ToValidUTF8(string(b), "�")), nil
	}
	return TextValue(string(b)), nil
}

// ----------------------------
// Integers
// ----------------------------

type uint32Codec struct{}

func (uint32Codec) Name() string { return "uint32" }

func (c uint32Codec) Decode(data []byte) (Value, error) {
	if err := need(c.Name(), data, 4); err != nil {
		return Value{}, err
	}
	return IntegerValue(binary.LittleEndian.Uint32(data)), nil
}

type hoursCodec struct{}

func (hoursCodec) Name() string { return "hours" }

func (c hoursCodec) Decode(data []byte) (Value, error) {
	if err := need(c.Name(), data, 4); err != nil {
		return Value{}, err
	}
	n := binary.LittleEndian.Uint32(data)
	return Value{Kind: KindHours, Text: fmt.Sprintf("%d hour(s)", n)}, nil
}

// versionCodec renders byte 3 as major down to byte 0 as build
type versionCodec struct{}

func (versionCodec) Name() string { return "version" }

func (c versionCodec) Decode(data []byte) (Value, error) {
	if err := need(c.Name(), data, 4); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindVersion, Text: fmt.Sprintf("%d.%d.%d.%d", data[3], data[2], data[1], data[0])}, nil
}

type boolCodec struct{}

func (boolCodec) Name() string { return "boolean" }

func (c boolCodec) Decode(data []byte) (Value, error) {
	if err := need(c.Name(), data, 1); err != nil {
		return Value{}, err
	}
	return BoolValue(data[0] != 0), nil
}

// ----------------------------
// Floats
// ----------------------------

type floatCodec struct {
	name   string
	kind   Kind
	format string
}

func (c floatCodec) Name() string { return c.name }

func (c floatCodec) Decode(data []byte) (Value, error) {
	if err := need(c.name, data, 4); err != nil {
		return Value{}, err
	}
	f := math.Float32frombits(binary.LittleEndian.Uint32(data))
	return Value{Kind: c.kind, Text: fmt.Sprintf(c.format, formatFloat32(f))}, nil
}

// formatFloat32 renders the shortest decimal that round-trips f
func formatFloat32(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// ----------------------------
// Enumerations
// ----------------------------

// enumCodec decodes the first byte as an ordinal into labels and encodes a
// label as [ordinal, 0, 0, 0].
type enumCodec struct {
	name   string
	labels []string
}

func (c enumCodec) Name() string { return c.name }

func (c enumCodec) Decode(data []byte) (Value, error) {
	if err := need(c.name, data, 1); err != nil {
		return Value{}, err
	}
	ord := int(data[0])
	if ord >= len(c.labels) {
		return Value{}, decodeErr(c.name, data, "unexpected value %d", ord)
	}
	return EnumValue(c.labels[ord]), nil
}

func (c enumCodec) Domain() []Value {
	out := make([]Value, len(c.labels))
	for i, l := range c.labels {
		out[i] = EnumValue(l)
	}
	return out
}

func (c enumCodec) Encode(v Value) ([]byte, error) {
	if v.Kind == KindEnum {
		for i, l := range c.labels {
			if l == v.Text {
				return []byte{byte(i), 0x00, 0x00, 0x00}, nil
			}
		}
	}
	return nil, &EncodeError{Codec: c.name, Value: v.String()}
}

// Lookup returns the domain value with the given label
func Lookup(e Enumerated, label string) (Value, error) {
	for _, v := range e.Domain() {
		if v.Text == label {
			return v, nil
		}
	}
	return Value{}, &EncodeError{Codec: e.Name(), Value: label}
}

// EncodeLabel validates label against the domain of e and encodes it
func EncodeLabel(e Enumerated, label string) ([]byte, error) {
	v, err := Lookup(e, label)
	if err != nil {
		return nil, err
	}
	return e.Encode(v)
}

// ----------------------------
// Raw
// ----------------------------

// rawCodec describes payloads of characteristics without a known layout
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Decode(data []byte) (Value, error) {
	return Value{Kind: KindRaw, Text: fmt.Sprintf("(%d bytes)", len(data))}, nil
}
