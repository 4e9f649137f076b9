package session

import "fmt"

// Phase is the discovery state of a session or one of its sections
type Phase int32

const (
	NotStarted Phase = iota
	ResolvingServices
	ResolvingCharacteristics
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not-started"
	case ResolvingServices:
		return "resolving-services"
	case ResolvingCharacteristics:
		return "resolving-characteristics"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Terminal reports whether p is Ready or Failed
func (p Phase) Terminal() bool {
	return p == Ready || p == Failed
}
