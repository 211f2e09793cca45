package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/sirupsen/logrus"
)

// ErrChecksum is set on an event whose CRC32 trailer does not match its bytes
var ErrChecksum = errors.New("binlog: event checksum mismatch")

// Dispatcher frames dump packets and decodes event bodies for one session.
// TABLE_MAP events update the registry it was built with.
type Dispatcher struct {
	registry *Registry
	logger   *logrus.Logger
	format   *FormatDescriptionEvent
}

// NewDispatcher creates a dispatcher backed by registry.
func NewDispatcher(registry *Registry, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the table map registry the dispatcher writes to.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Format returns the last FORMAT_DESCRIPTION event seen, or nil.
func (d *Dispatcher) Format() *FormatDescriptionEvent {
	return d.format
}

// Reset forgets all per-connection state.
func (d *Dispatcher) Reset() {
	d.registry.Reset()
	d.format = nil
}

// Decode parses the header and body of a dump packet. The returned error is
// only set for framing failures; body failures are reported on Event.Err.
func (d *Dispatcher) Decode(packet []byte) (*Event, error) {
	h, err := ParseHeader(packet)
	if err != nil {
		return nil, err
	}
	return d.DecodeBody(h, packet), nil
}

// DecodeBody decodes the body of a packet whose header has already been parsed.
func (d *Dispatcher) DecodeBody(h Header, packet []byte) *Event {
	ev := &Event{Header: h}
	body := packet[1+HeaderSize : 1+h.EventLength]

	if h.Type != FormatDescriptionEventType && d.checksumEnabled() {
		if len(body) < checksumSize {
			ev.Err = fmt.Errorf("%s: body of %d bytes has no room for a checksum", h.Type, len(body))
			return ev
		}
		signed := packet[1 : 1+h.EventLength-checksumSize]
		want := binary.LittleEndian.Uint32(packet[1+h.EventLength-checksumSize:])
		if got := crc32.ChecksumIEEE(signed); got != want {
			ev.Err = fmt.Errorf("%w: %s at %d: got %08x want %08x", ErrChecksum, h.Type, h.NextLogPos, got, want)
			return ev
		}
		body = body[:len(body)-checksumSize]
	}

	c := newCursor(body)
	switch h.Type.Kind() {
	case KindQuery:
		q, err := decodeQuery(c)
		setBody(ev, q, err)
	case KindRotate:
		r, err := decodeRotate(c)
		setBody(ev, r, err)
	case KindXID:
		x, err := decodeXID(c)
		setBody(ev, x, err)
	case KindFormatDescription:
		fde, err := decodeFormatDescription(c)
		if setBody(ev, fde, err) {
			d.format = fde
		}
	case KindTableMap:
		m, err := decodeTableMap(c, d.tableIDSize())
		if setBody(ev, m, err) {
			d.registry.Put(m.TableID, m)
			d.logger.Debugf("Cached table map for %s (ID: %d)", m.Name(), m.TableID)
		}
	case KindWriteRows, KindUpdateRows, KindDeleteRows:
		rows, err := decodeRows(c, h.Type.Kind(), rowsVersion(h.Type), d.tableIDSize(), d.registry)
		// rows keep their partial body so callers can report the table id
		ev.Body, ev.Err = rows, err
	case KindNoDecoder:
		d.logger.Debugf("No body decoder for %s, passing header only", h.Type)
	default:
		// unknown type codes are passed through header only
	}
	return ev
}

func setBody[T Body](ev *Event, b T, err error) bool {
	if err != nil {
		ev.Err = err
		return false
	}
	ev.Body = b
	return true
}

func (d *Dispatcher) checksumEnabled() bool {
	return d.format != nil && d.format.ChecksumAlgorithm == ChecksumCRC32
}

func (d *Dispatcher) tableIDSize() int {
	if d.format == nil {
		return 6
	}
	return d.format.TableIDSize()
}

func rowsVersion(t EventType) int {
	switch t {
	case WriteRowsEventV2, UpdateRowsEventV2, DeleteRowsEventV2:
		return 2
	default:
		return 1
	}
}
