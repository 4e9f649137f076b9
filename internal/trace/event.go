// Package trace records every gated attribute operation as a CBOR event stream.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Phase marks the start or end of an operation
type Phase uint8

const (
	PhaseStarted Phase = iota + 1
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Event is one traced operation boundary. Integer keys keep the stream compact.
type Event struct {
	Seq            uint64        `cbor:"1,keyasint"`
	Timestamp      time.Time     `cbor:"2,keyasint"`
	ConnectionID   string        `cbor:"3,keyasint"`
	Phase          Phase         `cbor:"4,keyasint"`
	Op             string        `cbor:"5,keyasint"`
	Service        string        `cbor:"6,keyasint,omitempty"`
	Characteristic string        `cbor:"7,keyasint,omitempty"`
	Waited         time.Duration `cbor:"8,keyasint,omitempty"`
	Took           time.Duration `cbor:"9,keyasint,omitempty"`
	Error          string        `cbor:"10,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Reader streams events from a CBOR trace
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next event, or io.EOF at the end of the stream
func (r *Reader) Next() (Event, error) {
	var ev Event
	if err := r.dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ReadAll decodes every event in r
func ReadAll(r io.Reader) ([]Event, error) {
	rd := NewReader(r)
	var events []Event
	for {
		ev, err := rd.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode trace event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
}
