package binlog

import (
	"errors"
	"fmt"

	"mariadb-cdc/internal/codec"
)

// RowsEvent is a decoded WRITE_ROWS, UPDATE_ROWS or DELETE_ROWS body
type RowsEvent struct {
	TableID     uint64
	Flags       uint16
	ColumnCount int
	Table       *TableMap
	Rows        []Row
}

func (*RowsEvent) body() {}

// Row is one row image. For updates OldColumns holds the before image and
// Columns the after image; otherwise OldColumns is nil.
type Row struct {
	Columns    []Value
	OldColumns []Value
}

func decodeRows(c *cursor, kind Kind, version int, tableIDSize int, registry *Registry) (*RowsEvent, error) {
	e := &RowsEvent{
		TableID: c.intN(tableIDSize),
		Flags:   c.int2(),
	}
	if version == 2 {
		extra := int(c.int2())
		if extra < 2 {
			return e, fmt.Errorf("rows event: invalid extra data length %d", extra)
		}
		c.skip(extra - 2)
	}
	e.ColumnCount = int(c.lenEnc())
	present := c.bitmap(e.ColumnCount)
	var presentAfter bitmap
	if kind == KindUpdateRows {
		presentAfter = c.bitmap(e.ColumnCount)
	}
	if c.err != nil {
		return e, fmt.Errorf("rows event: %w", c.err)
	}

	table, ok := registry.Get(e.TableID)
	if !ok {
		return e, &UnknownTableError{TableID: e.TableID}
	}
	e.Table = table
	if e.ColumnCount > table.ColumnCount() {
		return e, fmt.Errorf("rows event for %s declares %d columns, table map has %d", table.Name(), e.ColumnCount, table.ColumnCount())
	}

	for c.remaining() > 0 {
		start := c.off
		var row Row
		image, err := decodeImage(c, table, e.ColumnCount, present)
		if err != nil {
			return e, fmt.Errorf("%s row %d: %w", table.Name(), len(e.Rows), err)
		}
		if kind == KindUpdateRows {
			row.OldColumns = image
			if row.Columns, err = decodeImage(c, table, e.ColumnCount, presentAfter); err != nil {
				return e, fmt.Errorf("%s row %d after image: %w", table.Name(), len(e.Rows), err)
			}
		} else {
			row.Columns = image
		}
		if c.off == start {
			return e, fmt.Errorf("%s row %d consumed no bytes, %d left", table.Name(), len(e.Rows), c.remaining())
		}
		e.Rows = append(e.Rows, row)
	}
	return e, nil
}

// decodeImage decodes one row image. The null bitmap covers only the columns
// flagged in present; absent columns decode as null.
func decodeImage(c *cursor, table *TableMap, columnCount int, present bitmap) ([]Value, error) {
	nulls := c.bitmap(present.count(columnCount))
	if c.err != nil {
		return nil, c.err
	}

	values := make([]Value, columnCount)
	nullIndex := 0
	for i := 0; i < columnCount; i++ {
		if !present.isSet(i) {
			values[i] = Value{Kind: NullValue, Type: table.ColumnTypes[i]}
			continue
		}
		isNull := nulls.isSet(nullIndex)
		nullIndex++
		if isNull {
			values[i] = Value{Kind: NullValue, Type: table.ColumnTypes[i]}
			continue
		}

		v, err := decodeValue(c, table.ColumnTypes[i], table.ColumnLengths[i])
		if err != nil {
			var unsupported *UnsupportedTypeError
			if errors.As(err, &unsupported) {
				unsupported.Column = i
			}
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func decodeValue(c *cursor, typ byte, length int) (Value, error) {
	v := Value{Type: typ}
	switch typ {
	case TypeNull:
		v.Kind = NullValue
	case TypeTiny:
		v.Kind, v.Uint = IntegerValue, c.intN(1)
	case TypeShort:
		v.Kind, v.Uint = IntegerValue, c.intN(2)
	case TypeInt24:
		v.Kind, v.Uint = IntegerValue, c.intN(3)
	case TypeLong:
		v.Kind, v.Uint = IntegerValue, c.intN(4)
	case TypeLongLong:
		v.Kind, v.Uint = IntegerValue, c.intN(8)
	case TypeYear:
		v.Kind, v.Uint = IntegerValue, c.intN(1)
		if v.Uint != 0 {
			v.Uint += 1900
		}
	case TypeFloat:
		v.Kind, v.Float = Float32Value, float64(c.float4())
	case TypeDouble:
		v.Kind, v.Float = Float64Value, c.float8()
	case TypeVarchar, TypeVarString:
		v.Kind, v.Text = TextValue, readPrefixedString(c, length)
	case TypeString:
		return decodeString(c, length)
	case TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob:
		v.Kind, v.Bytes = BlobValue, readBlob(c, length)
	case TypeJSON, TypeGeometry:
		readBlob(c, length)
		v.Kind = UnsupportedValue
	case TypeNewDecimal:
		if c.err != nil {
			return v, c.err
		}
		precision, scale := length&0xff, length>>8
		text, n, err := codec.DecodeDecimal(precision, scale, c.buf[c.off:])
		if err != nil {
			return v, err
		}
		c.skip(n)
		v.Kind, v.Text = DecimalValue, text
	case TypeDatetime2:
		return decodeInstant(c, v, func(b []byte) (codec.Instant, int, error) { return codec.DecodeDatetime2(b, length) })
	case TypeTimestamp2:
		return decodeInstant(c, v, func(b []byte) (codec.Instant, int, error) { return codec.DecodeTimestamp2(b, length) })
	case TypeTimestamp:
		return decodeInstant(c, v, codec.DecodeTimestamp)
	case TypeDatetime:
		return decodeInstant(c, v, codec.DecodeDatetime)
	case TypeDate, TypeNewDate:
		return decodeInstant(c, v, codec.DecodeDate)
	case TypeTime2:
		if c.err != nil {
			return v, c.err
		}
		text, n, err := codec.DecodeTime2(c.buf[c.off:], length)
		if err != nil {
			return v, err
		}
		c.skip(n)
		v.Kind, v.Text = TextValue, text
	case TypeTime:
		hms := c.intN(3)
		v.Kind, v.Text = TextValue, fmt.Sprintf("%02d:%02d:%02d", hms/10000, (hms%10000)/100, hms%100)
	case TypeBit:
		bits := (length>>8)*8 + length&0xff
		v.Kind, v.Uint = IntegerValue, readBigEndian(c.bytes((bits+7)/8))
	case TypeEnum:
		v.Kind, v.Uint = EnumValue, c.intN(packLength(length))
	case TypeSet:
		v.Kind, v.Uint = SetValue, c.intN(packLength(length))
	default:
		return v, &UnsupportedTypeError{Type: typ}
	}
	return v, c.err
}

// decodeString handles STRING columns, which also carry ENUM and SET values.
// The metadata holds the real type in its low byte and the declared length in
// its high byte, with the top length bits folded into the type byte.
func decodeString(c *cursor, length int) (Value, error) {
	realType := byte(length)
	declared := length >> 8
	if realType != 0 && realType&0x30 != 0x30 {
		declared |= int((realType&0x30)^0x30) << 4
		realType |= 0x30
	}

	v := Value{Type: realType}
	switch realType {
	case TypeEnum:
		v.Kind, v.Uint = EnumValue, c.intN(declared)
	case TypeSet:
		v.Kind, v.Uint = SetValue, c.intN(declared)
	default:
		v.Type = TypeString
		v.Kind, v.Text = TextValue, readPrefixedString(c, declared)
	}
	return v, c.err
}

func decodeInstant(c *cursor, v Value, decode func([]byte) (codec.Instant, int, error)) (Value, error) {
	if c.err != nil {
		return v, c.err
	}
	instant, n, err := decode(c.buf[c.off:])
	if err != nil {
		return v, err
	}
	c.skip(n)
	if instant.Zero {
		v.Kind = NullValue
		return v, nil
	}
	v.Kind, v.Millis = TemporalValue, instant.Millis
	return v, nil
}

func readPrefixedString(c *cursor, declared int) string {
	var n int
	if declared > 255 {
		n = int(c.int2())
	} else {
		n = int(c.int1())
	}
	return string(c.bytes(n))
}

func readBlob(c *cursor, prefix int) []byte {
	if prefix < 1 || prefix > 4 {
		if c.err == nil {
			c.err = fmt.Errorf("invalid blob length prefix width %d", prefix)
		}
		return nil
	}
	n := int(c.intN(prefix))
	return append([]byte(nil), c.bytes(n)...)
}

func packLength(length int) int {
	if n := length >> 8; n > 0 {
		return n
	}
	return 1
}

func readBigEndian(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
