package binlog

import (
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func buildPacket(typ EventType, ts, next uint32, body []byte) []byte {
	p := []byte{okMarker}
	p = binary.LittleEndian.AppendUint32(p, ts)
	p = append(p, byte(typ))
	p = binary.LittleEndian.AppendUint32(p, 1)
	p = binary.LittleEndian.AppendUint32(p, uint32(HeaderSize+len(body)))
	p = binary.LittleEndian.AppendUint32(p, next)
	p = binary.LittleEndian.AppendUint16(p, 0)
	return append(p, body...)
}

func appendUint48(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40))
}

func tableMapBody(id uint64, db, table string, types, meta, nullable []byte) []byte {
	b := appendUint48(nil, id)
	b = append(b, 0, 0)
	b = append(b, byte(len(db)))
	b = append(b, db...)
	b = append(b, 0)
	b = append(b, byte(len(table)))
	b = append(b, table...)
	b = append(b, 0)
	b = append(b, byte(len(types)))
	b = append(b, types...)
	b = append(b, byte(len(meta)))
	b = append(b, meta...)
	return append(b, nullable...)
}

func rowsBody(id uint64, columns int, update bool, rows ...[]byte) []byte {
	b := appendUint48(nil, id)
	b = append(b, 0, 0)
	b = append(b, byte(columns))
	all := make([]byte, bitmapSize(columns))
	for i := 0; i < columns; i++ {
		all[i/8] |= 1 << (uint(i) % 8)
	}
	b = append(b, all...)
	if update {
		b = append(b, all...)
	}
	for _, r := range rows {
		b = append(b, r...)
	}
	return b
}

// the shop.orders layout shared by the decoder tests:
// id INT, name VARCHAR(50), price DECIMAL(10,2), created DATETIME, note BLOB
var (
	ordersTypes = []byte{TypeLong, TypeVarchar, TypeNewDecimal, TypeDatetime2, TypeBlob}
	ordersMeta  = []byte{50, 0, 10, 2, 0, 2}
)

func ordersTableMap(id uint64) []byte {
	return buildPacket(TableMapEventType, 100, 200, tableMapBody(id, "shop", "orders", ordersTypes, ordersMeta, []byte{0x1e}))
}

func ordersRow(id byte, name string) []byte {
	r := []byte{0x00, id, 0, 0, 0, byte(len(name))}
	r = append(r, name...)
	r = append(r, 0x7F, 0xFF, 0xFB, 0x2D, 0xCD)
	r = append(r, 0x99, 0xAD, 0x5C, 0xA3, 0xDE)
	return append(r, 2, 0, 'h', 'i')
}
