package binlog

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestColumnLengths(t *testing.T) {
	lengths, err := columnLengths(ordersTypes, ordersMeta)
	require.NoError(t, err)
	require.Equal(t, []int{NoColumnLength, 50, 10 | 2<<8, 0, 2}, lengths)

	_, err = columnLengths(ordersTypes, ordersMeta[:3])
	require.Error(t, err)
}

func TestTableMapRegistry(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, quietLogger())

	ev, err := d.Decode(ordersTableMap(5))
	require.NoError(t, err)
	require.NoError(t, ev.Err)

	m, ok := registry.Get(5)
	require.True(t, ok)
	require.Same(t, ev.Body, m)
	require.Equal(t, "shop", m.Database)
	require.Equal(t, "orders", m.Table)
	require.Equal(t, ordersTypes, m.ColumnTypes)
	require.Equal(t, []bool{false, true, true, true, true}, m.Nullable)

	// same id, new generation
	body := tableMapBody(5, "shop", "orders", []byte{TypeLong, TypeTiny}, nil, []byte{0})
	_, err = d.Decode(buildPacket(TableMapEventType, 0, 0, body))
	require.NoError(t, err)
	m, _ = registry.Get(5)
	require.Equal(t, 2, m.ColumnCount())
	require.Equal(t, 1, registry.Len())

	d.Reset()
	require.Equal(t, 0, registry.Len())
	require.Nil(t, d.Format())
}

func TestDecodeWriteRows(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())
	_, err := d.Decode(ordersTableMap(5))
	require.NoError(t, err)

	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 100, 300, rowsBody(5, 5, false, ordersRow(7, "bob"), ordersRow(8, "eve"))))
	require.NoError(t, err)
	require.NoError(t, ev.Err)

	rows := ev.Body.(*RowsEvent)
	require.Equal(t, 5, rows.ColumnCount)
	require.Len(t, rows.Rows, 2)

	row := rows.Rows[0]
	require.Nil(t, row.OldColumns)
	require.Len(t, row.Columns, 5)
	require.Equal(t, uint64(7), row.Columns[0].Interface())
	require.Equal(t, "bob", row.Columns[1].Interface())
	require.Equal(t, DecimalValue, row.Columns[2].Kind)
	require.Equal(t, "-1234.5", row.Columns[2].Text)
	require.Equal(t, -1234.5, row.Columns[2].Interface())
	require.Equal(t, int64(1657793730000), row.Columns[3].Interface())
	require.Equal(t, []byte("hi"), row.Columns[4].Interface())

	require.Equal(t, "eve", rows.Rows[1].Columns[1].Text)
}

func TestDecodeAllNullRow(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())
	_, err := d.Decode(ordersTableMap(5))
	require.NoError(t, err)

	// two rows: all null, then a full row that must start right after the bitmap
	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, rowsBody(5, 5, false, []byte{0x1f}, ordersRow(9, "zed"))))
	require.NoError(t, err)
	require.NoError(t, ev.Err)

	rows := ev.Body.(*RowsEvent).Rows
	require.Len(t, rows, 2)
	for _, v := range rows[0].Columns {
		require.True(t, v.IsNull())
		require.Nil(t, v.Interface())
	}
	require.Equal(t, uint64(9), rows[1].Columns[0].Uint)
	require.Equal(t, "zed", rows[1].Columns[1].Text)
}

func TestDecodeUpdateRowsV2(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())
	_, err := d.Decode(ordersTableMap(5))
	require.NoError(t, err)

	body := rowsBody(5, 5, true, ordersRow(7, "bob"), ordersRow(7, "alice"))
	// v2 carries a 2 byte extra-data length after the flags
	body = append(body[:8], append([]byte{2, 0}, body[8:]...)...)

	ev, err := d.Decode(buildPacket(UpdateRowsEventV2, 0, 0, body))
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	require.Equal(t, KindUpdateRows, ev.Kind())

	rows := ev.Body.(*RowsEvent).Rows
	require.Len(t, rows, 1)
	require.Equal(t, "bob", rows[0].OldColumns[1].Text)
	require.Equal(t, "alice", rows[0].Columns[1].Text)
}

func TestDecodeRowsUnknownTable(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())

	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, rowsBody(77, 5, false, ordersRow(7, "bob"))))
	require.NoError(t, err)

	var unknown *UnknownTableError
	require.True(t, errors.As(ev.Err, &unknown))
	require.Equal(t, uint64(77), unknown.TableID)

	rows := ev.Body.(*RowsEvent)
	require.Equal(t, uint64(77), rows.TableID)
	require.Nil(t, rows.Table)
}

func TestDecodeRowsUnsupportedType(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())
	body := tableMapBody(3, "shop", "legacy", []byte{TypeLong, TypeDecimal}, []byte{5, 0}, []byte{0})
	_, err := d.Decode(buildPacket(TableMapEventType, 0, 0, body))
	require.NoError(t, err)

	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, rowsBody(3, 2, false, []byte{0, 1, 0, 0, 0, 9, 9})))
	require.NoError(t, err)

	var unsupported *UnsupportedTypeError
	require.True(t, errors.As(ev.Err, &unsupported))
	require.Equal(t, 1, unsupported.Column)
	require.Equal(t, TypeDecimal, unsupported.Type)
}

func TestDecodeStringSubtypes(t *testing.T) {
	d := NewDispatcher(NewRegistry(), quietLogger())
	types := []byte{TypeString, TypeString, TypeString, TypeJSON, TypeYear}
	meta := []byte{
		TypeString, 10,
		TypeEnum, 1,
		TypeSet, 2,
		4,
	}
	_, err := d.Decode(buildPacket(TableMapEventType, 0, 0, tableMapBody(4, "shop", "tags", types, meta, []byte{0})))
	require.NoError(t, err)

	row := []byte{0x00, 3, 'a', 'b', 'c', 2, 0x05, 0x00, 2, 0, 0, 0, '{', '}', 122}
	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, rowsBody(4, 5, false, row)))
	require.NoError(t, err)
	require.NoError(t, ev.Err)

	cols := ev.Body.(*RowsEvent).Rows[0].Columns
	require.Equal(t, "abc", cols[0].Text)
	require.Equal(t, EnumValue, cols[1].Kind)
	require.Equal(t, uint64(2), cols[1].Uint)
	require.Equal(t, SetValue, cols[2].Kind)
	require.Equal(t, uint64(5), cols[2].Uint)
	require.Equal(t, UnsupportedValue, cols[3].Kind)
	require.Equal(t, Unsupported{Type: "JSON"}, cols[3].Interface())
	require.Equal(t, uint64(2022), cols[4].Uint)
}

func TestDecodeRowsZeroWidthImage(t *testing.T) {
	for name, header := range map[string][]byte{
		"no used columns": {5, 0x00},
		"no columns":      {0},
	} {
		d := NewDispatcher(NewRegistry(), quietLogger())
		_, err := d.Decode(ordersTableMap(5))
		require.NoError(t, err)

		body := append(appendUint48(nil, 5), 0, 0)
		body = append(body, header...)
		body = append(body, 0xAA)

		done := make(chan *Event, 1)
		go func() {
			ev, _ := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, body))
			done <- ev
		}()
		select {
		case ev := <-done:
			require.ErrorContains(t, ev.Err, "consumed no bytes", name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: decode did not return", name)
		}
	}
}

func TestDecodeRowValueWidths(t *testing.T) {
	long := strings.Repeat("x", 280)
	columns := []struct {
		name  string
		typ   byte
		meta  []byte
		wire  []byte
		check func(t *testing.T, v Value)
	}{
		{
			name: "varchar(300)", typ: TypeVarchar, meta: []byte{0x2c, 0x01},
			wire: append([]byte{0x18, 0x01}, long...),
			check: func(t *testing.T, v Value) {
				require.Equal(t, TextValue, v.Kind)
				require.Equal(t, long, v.Text)
			},
		},
		{
			name: "float", typ: TypeFloat, meta: []byte{4},
			wire: binary.LittleEndian.AppendUint32(nil, math.Float32bits(1.5)),
			check: func(t *testing.T, v Value) {
				require.Equal(t, Float32Value, v.Kind)
				require.Equal(t, float32(1.5), v.Interface())
			},
		},
		{
			name: "double", typ: TypeDouble, meta: []byte{8},
			wire: binary.LittleEndian.AppendUint64(nil, math.Float64bits(-2.25)),
			check: func(t *testing.T, v Value) {
				require.Equal(t, Float64Value, v.Kind)
				require.Equal(t, -2.25, v.Interface())
			},
		},
		{
			name: "timestamp2(3)", typ: TypeTimestamp2, meta: []byte{3},
			wire: binary.BigEndian.AppendUint16(binary.BigEndian.AppendUint32(nil, 1700000000), 5000),
			check: func(t *testing.T, v Value) {
				require.Equal(t, TemporalValue, v.Kind)
				require.Equal(t, int64(1700000000500), v.Millis)
			},
		},
		{
			name: "int24", typ: TypeInt24,
			wire: []byte{0x01, 0x02, 0x03},
			check: func(t *testing.T, v Value) {
				require.Equal(t, uint64(197121), v.Uint)
			},
		},
		{
			name: "longlong", typ: TypeLongLong,
			wire: binary.LittleEndian.AppendUint64(nil, 1<<40),
			check: func(t *testing.T, v Value) {
				require.Equal(t, uint64(1<<40), v.Uint)
			},
		},
		{
			name: "bit(10)", typ: TypeBit, meta: []byte{2, 1},
			wire: []byte{0x01, 0x02},
			check: func(t *testing.T, v Value) {
				require.Equal(t, IntegerValue, v.Kind)
				require.Equal(t, uint64(258), v.Uint)
			},
		},
		{
			name: "tinyblob", typ: TypeTinyBlob, meta: []byte{1},
			wire: []byte{1, 'a'},
			check: func(t *testing.T, v Value) {
				require.Equal(t, []byte("a"), v.Bytes)
			},
		},
		{
			name: "mediumblob", typ: TypeMediumBlob, meta: []byte{3},
			wire: []byte{2, 0, 0, 'b', 'c'},
			check: func(t *testing.T, v Value) {
				require.Equal(t, []byte("bc"), v.Bytes)
			},
		},
		{
			name: "longblob", typ: TypeLongBlob, meta: []byte{4},
			wire: []byte{1, 0, 0, 0, 'd'},
			check: func(t *testing.T, v Value) {
				require.Equal(t, []byte("d"), v.Bytes)
			},
		},
		{
			name: "short", typ: TypeShort,
			wire: []byte{0xff, 0xff},
			check: func(t *testing.T, v Value) {
				require.Equal(t, uint64(65535), v.Uint)
			},
		},
	}

	var types, meta []byte
	row := make([]byte, bitmapSize(len(columns)))
	for _, col := range columns {
		types = append(types, col.typ)
		meta = append(meta, col.meta...)
		row = append(row, col.wire...)
	}

	d := NewDispatcher(NewRegistry(), quietLogger())
	nullable := make([]byte, bitmapSize(len(columns)))
	_, err := d.Decode(buildPacket(TableMapEventType, 0, 0, tableMapBody(9, "shop", "widths", types, meta, nullable)))
	require.NoError(t, err)

	ev, err := d.Decode(buildPacket(WriteRowsEventV1, 0, 0, rowsBody(9, len(columns), false, row)))
	require.NoError(t, err)
	require.NoError(t, ev.Err)

	rows := ev.Body.(*RowsEvent).Rows
	require.Len(t, rows, 1)
	for i, col := range columns {
		t.Run(col.name, func(t *testing.T) {
			col.check(t, rows[0].Columns[i])
		})
	}
}
