package codec

import "fmt"

// DecodeError reports a payload that violates the codec's byte layout
type DecodeError struct {
	Codec  string
	Data   []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: cannot decode % x: %s", e.Codec, e.Data, e.Reason)
}

// EncodeError reports a write request with a value outside the codec's domain
type EncodeError struct {
	Codec string
	Value string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: unexpected value %q", e.Codec, e.Value)
}

func decodeErr(c string, data []byte, format string, args ...any) *DecodeError {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &DecodeError{Codec: c, Data: cp, Reason: fmt.Sprintf(format, args...)}
}
