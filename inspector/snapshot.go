package inspector

import (
	"time"

	"github.com/srg/bikeble/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CharacteristicSnapshot is the JSON view of one live characteristic
type CharacteristicSnapshot struct {
	UUID        string    `json:"uuid"`
	Group       string    `json:"group"`
	Codec       string    `json:"codec"`
	Value       *string   `json:"value"`
	Error       string    `json:"error,omitempty"`
	Live        bool      `json:"live"`
	Pending     bool      `json:"pending,omitempty"`
	Writable    bool      `json:"writable,omitempty"`
	Domain      []string  `json:"domain,omitempty"`
	Unconfirmed bool      `json:"unconfirmed,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// SectionSnapshot is the JSON view of one service section
type SectionSnapshot struct {
	UUID            string                                                  `json:"uuid"`
	Phase           string                                                  `json:"phase"`
	Error           string                                                  `json:"error,omitempty"`
	Characteristics *orderedmap.OrderedMap[string, CharacteristicSnapshot] `json:"characteristics"`
}

// Snapshot renders the session keyed by display name, preserving catalog order
func Snapshot(sess *session.Session) *orderedmap.OrderedMap[string, SectionSnapshot] {
	out := orderedmap.New[string, SectionSnapshot]()
	for _, sec := range sess.Sections() {
		phase, err := sec.Phase()
		ss := SectionSnapshot{
			UUID:            sec.UUID(),
			Phase:           phase.String(),
			Characteristics: orderedmap.New[string, CharacteristicSnapshot](),
		}
		if err != nil {
			ss.Error = err.Error()
		}
		for _, c := range sec.Characteristics() {
			ss.Characteristics.Set(c.Name(), snapshotOf(c))
		}
		out.Set(sec.Name(), ss)
	}
	return out
}

func snapshotOf(c *session.LiveCharacteristic) CharacteristicSnapshot {
	st := c.State()
	d := c.Descriptor()
	cs := CharacteristicSnapshot{
		UUID:        c.UUID(),
		Group:       d.Group,
		Codec:       d.Codec.Name(),
		Live:        st.Live,
		Pending:     st.Pending,
		Writable:    c.Writable(),
		Unconfirmed: d.Unconfirmed,
		UpdatedAt:   st.UpdatedAt,
	}
	if st.Value != nil {
		s := st.Value.String()
		cs.Value = &s
	}
	if st.Err != nil {
		cs.Error = st.Err.Error()
	}
	for _, v := range c.Domain() {
		cs.Domain = append(cs.Domain, v.String())
	}
	return cs
}
