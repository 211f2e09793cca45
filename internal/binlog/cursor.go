package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// cursor reads little-endian fields from an event body. The first failure sticks:
// later reads return zero values and err reports the original problem.
type cursor struct {
	buf []byte
	off int
	err error
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) ensure(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.remaining() < n {
		c.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, c.off, c.remaining(), io.ErrUnexpectedEOF)
		return false
	}
	return true
}

func (c *cursor) bytes(n int) []byte {
	if !c.ensure(n) {
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) skip(n int) {
	if c.ensure(n) {
		c.off += n
	}
}

func (c *cursor) rest() []byte {
	if c.err != nil {
		return nil
	}
	b := c.buf[c.off:]
	c.off = len(c.buf)
	return b
}

func (c *cursor) int1() uint8 {
	if !c.ensure(1) {
		return 0
	}
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) int2() uint16 {
	if !c.ensure(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) int4() uint32 {
	if !c.ensure(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) int8() uint64 {
	if !c.ensure(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

// intN reads an n byte little-endian unsigned integer, 1 <= n <= 8.
func (c *cursor) intN(n int) uint64 {
	b := c.bytes(n)
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (c *cursor) float4() float32 {
	return math.Float32frombits(c.int4())
}

func (c *cursor) float8() float64 {
	return math.Float64frombits(c.int8())
}

// lenEnc reads a length-encoded integer.
func (c *cursor) lenEnc() uint64 {
	if !c.ensure(1) {
		return 0
	}
	need := 1
	switch c.buf[c.off] {
	case 0xfc:
		need = 3
	case 0xfd:
		need = 4
	case 0xfe:
		need = 9
	}
	if !c.ensure(need) {
		return 0
	}
	v, isNull, n := mysql.LengthEncodedInt(c.buf[c.off:])
	c.off += n
	if isNull {
		return 0
	}
	return v
}

// countedStringNull reads a 1-byte length, that many bytes and a trailing NUL.
func (c *cursor) countedStringNull() string {
	n := int(c.int1())
	s := string(c.bytes(n))
	c.skip(1)
	return s
}

// bitmap reads an LSB-first bitmap covering n entries.
func (c *cursor) bitmap(n int) bitmap {
	return bitmap(c.bytes(bitmapSize(n)))
}

type bitmap []byte

func bitmapSize(n int) int {
	return (n + 7) / 8
}

func (b bitmap) isSet(i int) bool {
	if i/8 >= len(b) {
		return false
	}
	return b[i/8]>>(uint(i)%8)&1 == 1
}

func (b bitmap) count(n int) int {
	set := 0
	for i := 0; i < n; i++ {
		if b.isSet(i) {
			set++
		}
	}
	return set
}
