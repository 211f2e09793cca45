package binlog

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed size of a v4 event header
	HeaderSize = 19
	// okMarker precedes every event in a dump stream
	okMarker = 0x00
)

// ErrFraming is returned when an event header cannot be parsed. The stream
// cannot be resynchronised after this.
var ErrFraming = errors.New("binlog: event framing error")

// Header is the common header of every binlog event
type Header struct {
	Timestamp   uint32
	Type        EventType
	ServerID    uint32
	EventLength uint32
	NextLogPos  uint32
	Flags       uint16
}

// ParseHeader reads the OK marker and event header at the start of a dump packet.
func ParseHeader(packet []byte) (Header, error) {
	if len(packet) < 1+HeaderSize {
		return Header{}, fmt.Errorf("%w: packet of %d bytes is shorter than an event header", ErrFraming, len(packet))
	}
	if packet[0] != okMarker {
		return Header{}, fmt.Errorf("%w: unexpected packet marker 0x%02x", ErrFraming, packet[0])
	}

	c := newCursor(packet[1:])
	h := Header{
		Timestamp:   c.int4(),
		Type:        EventType(c.int1()),
		ServerID:    c.int4(),
		EventLength: c.int4(),
		NextLogPos:  c.int4(),
		Flags:       c.int2(),
	}
	if h.EventLength < HeaderSize || int(h.EventLength) > len(packet)-1 {
		return Header{}, fmt.Errorf("%w: event length %d does not fit packet of %d bytes", ErrFraming, h.EventLength, len(packet))
	}
	return h, nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s ts=%d server=%d len=%d next=%d", h.Type, h.Timestamp, h.ServerID, h.EventLength, h.NextLogPos)
}
