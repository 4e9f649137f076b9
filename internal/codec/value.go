package codec

import (
	"fmt"
	"strconv"
)

// Kind discriminates the display value variants
type Kind uint8

const (
	KindText Kind = iota + 1
	KindInteger
	KindVersion
	KindBoolean
	KindHours
	KindTemperature
	KindPercentage
	KindVoltage
	KindEnum
	KindRaw
)

var kindNames = map[Kind]string{
	KindText:        "text",
	KindInteger:     "integer",
	KindVersion:     "version",
	KindBoolean:     "boolean",
	KindHours:       "hours",
	KindTemperature: "temperature",
	KindPercentage:  "percentage",
	KindVoltage:     "voltage",
	KindEnum:        "enum",
	KindRaw:         "raw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a decoded characteristic value as shown to a user.
// Values are comparable; two decodes of the same bytes are ==.
type Value struct {
	Kind Kind
	Text string // rendered text for every kind except Integer and Boolean
	Int  uint32 // KindInteger
	Bool bool   // KindBoolean
}

// TextValue returns a KindText value
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// IntegerValue returns a KindInteger value
func IntegerValue(n uint32) Value { return Value{Kind: KindInteger, Int: n} }

// BoolValue returns a KindBoolean value
func BoolValue(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// EnumValue returns a KindEnum value carrying label
func EnumValue(label string) Value { return Value{Kind: KindEnum, Text: label} }

// String renders the value for display
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatUint(uint64(v.Int), 10)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Text
	}
}

// IsZero reports whether v carries no value
func (v Value) IsZero() bool {
	return v == Value{}
}
