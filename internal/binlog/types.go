package binlog

import "fmt"

// EventType is the type code carried in every binlog event header
type EventType uint8

const (
	QueryEventType             EventType = 0x02
	StopEventType              EventType = 0x03
	RotateEventType            EventType = 0x04
	UserVarEventType           EventType = 0x0e
	FormatDescriptionEventType EventType = 0x0f
	XIDEventType               EventType = 0x10
	TableMapEventType          EventType = 0x13
	WriteRowsEventV1           EventType = 0x17
	UpdateRowsEventV1          EventType = 0x18
	DeleteRowsEventV1          EventType = 0x19
	HeartbeatEventType         EventType = 0x1b
	WriteRowsEventV2           EventType = 0x1e
	UpdateRowsEventV2          EventType = 0x1f
	DeleteRowsEventV2          EventType = 0x20

	// MariaDB specific
	AnnotateRowsEventType     EventType = 0xa0
	BinlogCheckpointEventType EventType = 0xa1
	GTIDEventType             EventType = 0xa2
	GTIDListEventType         EventType = 0xa3
)

var eventNames = map[EventType]string{
	QueryEventType:             "QUERY_EVENT",
	StopEventType:              "STOP_EVENT",
	RotateEventType:            "ROTATE_EVENT",
	UserVarEventType:           "USER_VAR_EVENT",
	FormatDescriptionEventType: "FORMAT_DESCRIPTION_EVENT",
	XIDEventType:               "XID_EVENT",
	TableMapEventType:          "TABLE_MAP_EVENT",
	WriteRowsEventV1:           "WRITE_ROWS_EVENT_V1",
	UpdateRowsEventV1:          "UPDATE_ROWS_EVENT_V1",
	DeleteRowsEventV1:          "DELETE_ROWS_EVENT_V1",
	HeartbeatEventType:         "HEARTBEAT_EVENT",
	WriteRowsEventV2:           "WRITE_ROWS_EVENT_V2",
	UpdateRowsEventV2:          "UPDATE_ROWS_EVENT_V2",
	DeleteRowsEventV2:          "DELETE_ROWS_EVENT_V2",
	AnnotateRowsEventType:      "ANNOTATE_ROWS_EVENT",
	BinlogCheckpointEventType:  "BINLOG_CHECKPOINT_EVENT",
	GTIDEventType:              "GTID_EVENT",
	GTIDListEventType:          "GTID_LIST_EVENT",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_EVENT(0x%02x)", uint8(t))
}

// Kind is the closed set of event kinds the decoder distinguishes
type Kind int

const (
	KindUnknown Kind = iota
	KindQuery
	KindRotate
	KindFormatDescription
	KindTableMap
	KindWriteRows
	KindUpdateRows
	KindDeleteRows
	KindXID
	// KindNoDecoder covers type codes that are recognised but carry no body decoder
	KindNoDecoder
)

var kindNames = [...]string{
	KindUnknown:           "UNKNOWN",
	KindQuery:             "QUERY",
	KindRotate:            "ROTATE",
	KindFormatDescription: "FORMAT_DESCRIPTION",
	KindTableMap:          "TABLE_MAP",
	KindWriteRows:         "WRITE_ROWS",
	KindUpdateRows:        "UPDATE_ROWS",
	KindDeleteRows:        "DELETE_ROWS",
	KindXID:               "XID",
	KindNoDecoder:         "NO_DECODER",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// IsRows reports whether the kind is one of the row change kinds.
func (k Kind) IsRows() bool {
	return k == KindWriteRows || k == KindUpdateRows || k == KindDeleteRows
}

// Kind classifies the type code.
func (t EventType) Kind() Kind {
	switch t {
	case QueryEventType:
		return KindQuery
	case RotateEventType:
		return KindRotate
	case FormatDescriptionEventType:
		return KindFormatDescription
	case TableMapEventType:
		return KindTableMap
	case WriteRowsEventV1, WriteRowsEventV2:
		return KindWriteRows
	case UpdateRowsEventV1, UpdateRowsEventV2:
		return KindUpdateRows
	case DeleteRowsEventV1, DeleteRowsEventV2:
		return KindDeleteRows
	case XIDEventType:
		return KindXID
	case StopEventType, UserVarEventType, HeartbeatEventType,
		AnnotateRowsEventType, BinlogCheckpointEventType, GTIDEventType, GTIDListEventType:
		return KindNoDecoder
	default:
		return KindUnknown
	}
}

// column type codes as written into TABLE_MAP events
const (
	TypeDecimal    byte = 0x00
	TypeTiny       byte = 0x01
	TypeShort      byte = 0x02
	TypeLong       byte = 0x03
	TypeFloat      byte = 0x04
	TypeDouble     byte = 0x05
	TypeNull       byte = 0x06
	TypeTimestamp  byte = 0x07
	TypeLongLong   byte = 0x08
	TypeInt24      byte = 0x09
	TypeDate       byte = 0x0a
	TypeTime       byte = 0x0b
	TypeDatetime   byte = 0x0c
	TypeYear       byte = 0x0d
	TypeNewDate    byte = 0x0e
	TypeVarchar    byte = 0x0f
	TypeBit        byte = 0x10
	TypeTimestamp2 byte = 0x11
	TypeDatetime2  byte = 0x12
	TypeTime2      byte = 0x13
	TypeJSON       byte = 0xf5
	TypeNewDecimal byte = 0xf6
	TypeEnum       byte = 0xf7
	TypeSet        byte = 0xf8
	TypeTinyBlob   byte = 0xf9
	TypeMediumBlob byte = 0xfa
	TypeLongBlob   byte = 0xfb
	TypeBlob       byte = 0xfc
	TypeVarString  byte = 0xfd
	TypeString     byte = 0xfe
	TypeGeometry   byte = 0xff
)

var typeNames = map[byte]string{
	TypeDecimal: "DECIMAL", TypeTiny: "TINY", TypeShort: "SHORT", TypeLong: "LONG",
	TypeFloat: "FLOAT", TypeDouble: "DOUBLE", TypeNull: "NULL", TypeTimestamp: "TIMESTAMP",
	TypeLongLong: "LONGLONG", TypeInt24: "INT24", TypeDate: "DATE", TypeTime: "TIME",
	TypeDatetime: "DATETIME", TypeYear: "YEAR", TypeNewDate: "NEWDATE", TypeVarchar: "VARCHAR",
	TypeBit: "BIT", TypeTimestamp2: "TIMESTAMP2", TypeDatetime2: "DATETIME2", TypeTime2: "TIME2",
	TypeJSON: "JSON", TypeNewDecimal: "NEWDECIMAL", TypeEnum: "ENUM", TypeSet: "SET",
	TypeTinyBlob: "TINY_BLOB", TypeMediumBlob: "MEDIUM_BLOB", TypeLongBlob: "LONG_BLOB",
	TypeBlob: "BLOB", TypeVarString: "VAR_STRING", TypeString: "STRING", TypeGeometry: "GEOMETRY",
}

// TypeName returns the server's name for a column type code.
func TypeName(t byte) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(0x%02x)", t)
}

// metadataWidth returns how many bytes of the TABLE_MAP metadata block belong to a
// column of type t.
func metadataWidth(t byte) int {
	switch t {
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob, TypeJSON, TypeGeometry,
		TypeFloat, TypeDouble, TypeTimestamp2, TypeDatetime2, TypeTime2:
		return 1
	case TypeBit, TypeEnum, TypeSet, TypeDecimal, TypeNewDecimal,
		TypeVarchar, TypeVarString, TypeString:
		return 2
	default:
		return 0
	}
}
