package models

import "fmt"

// MessageKind tags what a session Message carries
type MessageKind int

const (
	// KindChange carries an assembled ChangeEvent
	KindChange MessageKind = iota
	// KindUnknown passes through an event the decoder does not interpret
	KindUnknown
	// KindDataError reports an event whose body could not be decoded; the stream continues
	KindDataError
	// KindFatal reports the error that ended the session
	KindFatal
)

func (k MessageKind) String() string {
	switch k {
	case KindChange:
		return "change"
	case KindUnknown:
		return "unknown"
	case KindDataError:
		return "data-error"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Message is the single output type of a replication session
type Message struct {
	Kind   MessageKind
	Change *ChangeEvent
	// EventType names the binlog event for unknown and data-error messages
	EventType string
	LogPos    uint32
	Timestamp uint32
	Err       error
}
