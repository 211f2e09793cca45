package binlog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Body is implemented by every decoded event body
type Body interface {
	body()
}

// Event is one framed binlog event. Body is nil for header-only events; Err
// holds a recoverable body decode failure.
type Event struct {
	Header Header
	Body   Body
	Err    error
}

// Kind classifies the event by its header type code.
func (e *Event) Kind() Kind {
	return e.Header.Type.Kind()
}

// Summary renders a one line description for packet logging. Routine events
// (everything except table maps and row changes) report routine as true.
func (e *Event) Summary() (text string, routine bool) {
	routine = !(e.Kind() == KindTableMap || e.Kind().IsRows())
	var b strings.Builder
	fmt.Fprintf(&b, "%s pos=%d ts=%d", e.Header.Type, e.Header.NextLogPos, e.Header.Timestamp)
	switch body := e.Body.(type) {
	case *QueryEvent:
		fmt.Fprintf(&b, " schema=%q query=%q", body.Schema, body.Query)
	case *RotateEvent:
		fmt.Fprintf(&b, " next=%s:%d", body.NextLogName, body.Position)
	case *FormatDescriptionEvent:
		fmt.Fprintf(&b, " server=%s checksum=%d", body.ServerVersion, body.ChecksumAlgorithm)
	case *XIDEvent:
		fmt.Fprintf(&b, " xid=%d", body.XID)
	case *TableMap:
		fmt.Fprintf(&b, " table_id=%d %s columns=%d", body.TableID, body.Name(), body.ColumnCount())
	case *RowsEvent:
		fmt.Fprintf(&b, " table_id=%d rows=%d", body.TableID, len(body.Rows))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " error=%q", e.Err.Error())
	}
	return b.String(), routine
}

// QueryEvent is a statement-based event. Schema and Query are captured verbatim.
type QueryEvent struct {
	ThreadID         uint32
	ExecutionTime    uint32
	SchemaLength     uint8
	ErrorCode        uint16
	StatusVarsLength uint16
	Schema           string
	Query            string
}

func (*QueryEvent) body() {}

func decodeQuery(c *cursor) (*QueryEvent, error) {
	e := &QueryEvent{
		ThreadID:         c.int4(),
		ExecutionTime:    c.int4(),
		SchemaLength:     c.int1(),
		ErrorCode:        c.int2(),
		StatusVarsLength: c.int2(),
	}
	if c.err == nil && c.remaining() > 0 {
		c.skip(int(e.StatusVarsLength))
		e.Schema = string(c.bytes(int(e.SchemaLength)))
		c.skip(1)
		e.Query = string(c.rest())
	}
	if c.err != nil {
		return nil, fmt.Errorf("query event: %w", c.err)
	}
	return e, nil
}

// RotateEvent announces the next binlog file
type RotateEvent struct {
	Position    uint64
	NextLogName string
}

func (*RotateEvent) body() {}

func decodeRotate(c *cursor) (*RotateEvent, error) {
	e := &RotateEvent{
		Position:    c.int8(),
		NextLogName: string(c.rest()),
	}
	if c.err != nil {
		return nil, fmt.Errorf("rotate event: %w", c.err)
	}
	return e, nil
}

// XIDEvent commits a transaction
type XIDEvent struct {
	XID uint64
}

func (*XIDEvent) body() {}

func decodeXID(c *cursor) (*XIDEvent, error) {
	e := &XIDEvent{XID: c.int8()}
	if c.err != nil {
		return nil, fmt.Errorf("xid event: %w", c.err)
	}
	return e, nil
}

// checksum algorithms announced by FORMAT_DESCRIPTION
const (
	ChecksumOff       byte = 0
	ChecksumCRC32     byte = 1
	ChecksumUndefined byte = 0xff

	checksumSize = 4
)

// FormatDescriptionEvent describes the layout of the events that follow it
type FormatDescriptionEvent struct {
	BinlogVersion     uint16
	ServerVersion     string
	CreateTimestamp   uint32
	HeaderLength      uint8
	PostHeaderLengths []byte
	ChecksumAlgorithm byte
}

func (*FormatDescriptionEvent) body() {}

// PostHeaderLength returns the post-header length for t, or -1 when the event
// does not list one.
func (e *FormatDescriptionEvent) PostHeaderLength(t EventType) int {
	i := int(t) - 1
	if i < 0 || i >= len(e.PostHeaderLengths) {
		return -1
	}
	return int(e.PostHeaderLengths[i])
}

// TableIDSize returns the width of the table id in TABLE_MAP and rows events.
func (e *FormatDescriptionEvent) TableIDSize() int {
	if e.PostHeaderLength(TableMapEventType) == 6 {
		return 4
	}
	return 6
}

func decodeFormatDescription(c *cursor) (*FormatDescriptionEvent, error) {
	e := &FormatDescriptionEvent{
		BinlogVersion: c.int2(),
	}
	version := c.bytes(50)
	e.CreateTimestamp = c.int4()
	e.HeaderLength = c.int1()
	rest := c.rest()
	if c.err != nil {
		return nil, fmt.Errorf("format description event: %w", c.err)
	}
	if e.HeaderLength != HeaderSize {
		return nil, fmt.Errorf("format description event: unsupported header length %d", e.HeaderLength)
	}
	if i := bytes.IndexByte(version, 0); i >= 0 {
		version = version[:i]
	}
	e.ServerVersion = string(version)

	// servers that know about checksums append the algorithm and the event's own checksum
	e.ChecksumAlgorithm = ChecksumUndefined
	if checksumCapable(e.ServerVersion) && len(rest) >= 1+checksumSize {
		e.ChecksumAlgorithm = rest[len(rest)-1-checksumSize]
		rest = rest[:len(rest)-1-checksumSize]
	}
	e.PostHeaderLengths = append([]byte(nil), rest...)
	return e, nil
}

// checksumCapable reports whether the server version writes the checksum
// algorithm into FORMAT_DESCRIPTION (MySQL 5.6.1, MariaDB 5.3.0).
func checksumCapable(server string) bool {
	threshold := [3]int{5, 6, 1}
	if strings.Contains(strings.ToLower(server), "mariadb") {
		threshold = [3]int{5, 3, 0}
	}
	v := splitServerVersion(server)
	for i := range v {
		if v[i] != threshold[i] {
			return v[i] > threshold[i]
		}
	}
	return true
}

func splitServerVersion(server string) [3]int {
	var v [3]int
	parts := strings.SplitN(server, ".", 3)
	for i, p := range parts {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		v[i], _ = strconv.Atoi(p[:end])
	}
	return v
}
