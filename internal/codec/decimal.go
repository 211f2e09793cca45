package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const digitsPerGroup = 9

// dig2bytes maps a count of leftover decimal digits to the bytes the server uses to store them
var dig2bytes = [digitsPerGroup + 1]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

// ErrShortBuffer is returned when a codec needs more bytes than it was given
var ErrShortBuffer = errors.New("codec: buffer too short")

type decimalLayout struct {
	intg0, intg0x int
	frac0, frac0x int
}

func layoutFor(precision, scale int) (decimalLayout, error) {
	if precision <= 0 || scale < 0 || scale > precision {
		return decimalLayout{}, fmt.Errorf("codec: invalid decimal precision %d scale %d", precision, scale)
	}
	intg := precision - scale
	return decimalLayout{
		intg0:  intg / digitsPerGroup,
		intg0x: intg % digitsPerGroup,
		frac0:  scale / digitsPerGroup,
		frac0x: scale % digitsPerGroup,
	}, nil
}

func (l decimalLayout) size() int {
	return l.intg0*4 + dig2bytes[l.intg0x] + l.frac0*4 + dig2bytes[l.frac0x]
}

// DecimalSize returns the number of bytes a NEWDECIMAL(precision, scale) value occupies.
func DecimalSize(precision, scale int) (int, error) {
	l, err := layoutFor(precision, scale)
	if err != nil {
		return 0, err
	}
	return l.size(), nil
}

// DecodeDecimal decodes a NEWDECIMAL value from the start of data and returns its
// canonical text form together with the number of bytes consumed.
func DecodeDecimal(precision, scale int, data []byte) (string, int, error) {
	l, err := layoutFor(precision, scale)
	if err != nil {
		return "", 0, err
	}
	size := l.size()
	if len(data) < size {
		return "", 0, fmt.Errorf("decimal(%d,%d) needs %d bytes, have %d: %w", precision, scale, size, len(data), ErrShortBuffer)
	}

	// the caller's buffer must not be modified
	buf := make([]byte, size)
	copy(buf, data[:size])

	negative := buf[0]&0x80 == 0
	buf[0] ^= 0x80
	if negative {
		for i := range buf {
			buf[i] ^= 0xFF
		}
	}

	var intPart, fracPart strings.Builder
	pos := 0

	if n := dig2bytes[l.intg0x]; n > 0 {
		intPart.WriteString(strconv.FormatUint(readBigEndian(buf[pos:pos+n]), 10))
		pos += n
	}
	for i := 0; i < l.intg0; i++ {
		fmt.Fprintf(&intPart, "%09d", binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
	}
	for i := 0; i < l.frac0; i++ {
		fmt.Fprintf(&fracPart, "%09d", binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
	}
	if n := dig2bytes[l.frac0x]; n > 0 {
		fmt.Fprintf(&fracPart, "%0*d", l.frac0x, readBigEndian(buf[pos:pos+n]))
		pos += n
	}

	whole := strings.TrimLeft(intPart.String(), "0")
	if whole == "" {
		whole = "0"
	}
	frac := strings.TrimRight(fracPart.String(), "0")

	text := whole
	if frac != "" {
		text += "." + frac
	}
	if negative && text != "0" {
		text = "-" + text
	}
	return text, pos, nil
}

// EncodeDecimal produces the NEWDECIMAL(precision, scale) encoding of text.
// Digits beyond scale are rounded half away from zero.
func EncodeDecimal(precision, scale int, text string) ([]byte, error) {
	l, err := layoutFor(precision, scale)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("codec: parse decimal %q: %w", text, err)
	}

	negative := d.Sign() < 0
	fixed := d.Abs().StringFixed(int32(scale))
	whole, frac, _ := strings.Cut(fixed, ".")
	intDigits := precision - scale
	whole = strings.TrimLeft(whole, "0")
	if len(whole) > intDigits {
		return nil, fmt.Errorf("codec: %s overflows decimal(%d,%d)", text, precision, scale)
	}
	whole = strings.Repeat("0", intDigits-len(whole)) + whole

	buf := make([]byte, 0, l.size())
	pos := 0
	if l.intg0x > 0 {
		buf = appendBigEndian(buf, whole[pos:pos+l.intg0x], dig2bytes[l.intg0x])
		pos += l.intg0x
	}
	for i := 0; i < l.intg0; i++ {
		buf = appendBigEndian(buf, whole[pos:pos+digitsPerGroup], 4)
		pos += digitsPerGroup
	}
	pos = 0
	for i := 0; i < l.frac0; i++ {
		buf = appendBigEndian(buf, frac[pos:pos+digitsPerGroup], 4)
		pos += digitsPerGroup
	}
	if l.frac0x > 0 {
		buf = appendBigEndian(buf, frac[pos:pos+l.frac0x], dig2bytes[l.frac0x])
	}

	buf[0] ^= 0x80
	if negative {
		for i := range buf {
			buf[i] ^= 0xFF
		}
	}
	return buf, nil
}

// DecimalNumber reports whether text survives a round trip through float64 unchanged.
func DecimalNumber(text string) (float64, bool) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, strconv.FormatFloat(f, 'f', -1, 64) == text
}

func readBigEndian(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func appendBigEndian(buf []byte, digits string, width int) []byte {
	v, _ := strconv.ParseUint(digits, 10, 64)
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}
