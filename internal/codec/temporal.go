package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	datetime2Offset = 0x8000000000
	time2IntOffset  = 0x800000
	time2Offset     = 0x800000000000
)

// Instant is a decoded date or time-of-day value at millisecond resolution.
// Zero marks the server's all-zero sentinel ("0000-00-00 00:00:00") which has no
// representation as an instant.
type Instant struct {
	Millis int64
	Zero   bool
}

// Time returns the instant in UTC.
func (i Instant) Time() time.Time {
	return time.UnixMilli(i.Millis).UTC()
}

// FractionalWidth returns the number of bytes holding the fractional seconds of a
// temporal column declared with the given precision (0-6).
func FractionalWidth(precision int) int {
	return (precision + 1) / 2
}

// FractionToMillis rescales a stored fractional-seconds field to milliseconds.
// The server stores two digits per byte, so precision 1 is held as hundredths,
// 3 as ten-thousandths and 5 as millionths. Sub-millisecond digits are truncated.
func FractionToMillis(frac int64, precision int) int64 {
	digits := 2 * FractionalWidth(precision)
	switch {
	case digits == 0:
		return 0
	case digits < 3:
		return frac * pow10(3-digits)
	default:
		return frac / pow10(digits-3)
	}
}

func pow10(n int) int64 {
	v := int64(1)
	for ; n > 0; n-- {
		v *= 10
	}
	return v
}

func readFraction(data []byte, precision int) (int64, error) {
	width := FractionalWidth(precision)
	if len(data) < width {
		return 0, fmt.Errorf("fraction needs %d bytes: %w", width, ErrShortBuffer)
	}
	if width == 0 {
		return 0, nil
	}
	v := int64(readBigEndian(data[:width]))
	// sign extend
	shift := uint(64 - 8*width)
	return v << shift >> shift, nil
}

func checkPrecision(precision int) error {
	if precision < 0 || precision > 6 {
		return fmt.Errorf("codec: invalid fractional precision %d", precision)
	}
	return nil
}

// DecodeDatetime2 decodes a DATETIME2 value and returns it with the bytes consumed.
func DecodeDatetime2(data []byte, precision int) (Instant, int, error) {
	if err := checkPrecision(precision); err != nil {
		return Instant{}, 0, err
	}
	n := 5 + FractionalWidth(precision)
	if len(data) < n {
		return Instant{}, 0, fmt.Errorf("datetime2(%d) needs %d bytes: %w", precision, n, ErrShortBuffer)
	}

	packed := int64(readBigEndian(data[:5])) - datetime2Offset
	frac, err := readFraction(data[5:], precision)
	if err != nil {
		return Instant{}, 0, err
	}

	ymd := packed >> 17
	ym := ymd >> 5
	day := int(ymd & 0x1f)
	month := int(ym % 13)
	year := int(ym / 13)

	hms := packed & 0x1ffff
	second := int(hms & 0x3f)
	minute := int((hms >> 6) & 0x3f)
	hour := int(hms >> 12)

	if month == 0 || day == 0 {
		return Instant{Zero: true}, n, nil
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	return Instant{Millis: t.UnixMilli() + FractionToMillis(frac, precision)}, n, nil
}

// DecodeTimestamp2 decodes a TIMESTAMP2 value and returns it with the bytes consumed.
func DecodeTimestamp2(data []byte, precision int) (Instant, int, error) {
	if err := checkPrecision(precision); err != nil {
		return Instant{}, 0, err
	}
	n := 4 + FractionalWidth(precision)
	if len(data) < n {
		return Instant{}, 0, fmt.Errorf("timestamp2(%d) needs %d bytes: %w", precision, n, ErrShortBuffer)
	}

	seconds := int64(binary.BigEndian.Uint32(data))
	frac, err := readFraction(data[4:], precision)
	if err != nil {
		return Instant{}, 0, err
	}
	if seconds == 0 && frac == 0 {
		return Instant{Zero: true}, n, nil
	}
	return Instant{Millis: seconds*1000 + FractionToMillis(frac, precision)}, n, nil
}

// DecodeTimestamp decodes the pre-5.6 TIMESTAMP layout: 4 little-endian seconds.
func DecodeTimestamp(data []byte) (Instant, int, error) {
	if len(data) < 4 {
		return Instant{}, 0, fmt.Errorf("timestamp needs 4 bytes: %w", ErrShortBuffer)
	}
	seconds := int64(binary.LittleEndian.Uint32(data))
	if seconds == 0 {
		return Instant{Zero: true}, 4, nil
	}
	return Instant{Millis: seconds * 1000}, 4, nil
}

// DecodeDate decodes a 3-byte DATE (day:5 month:4 year:15, little-endian).
func DecodeDate(data []byte) (Instant, int, error) {
	if len(data) < 3 {
		return Instant{}, 0, fmt.Errorf("date needs 3 bytes: %w", ErrShortBuffer)
	}
	v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	day := int(v & 0x1f)
	month := int((v >> 5) & 0x0f)
	year := int(v >> 9)
	if month == 0 || day == 0 {
		return Instant{Zero: true}, 3, nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return Instant{Millis: t.UnixMilli()}, 3, nil
}

// DecodeDatetime decodes the pre-5.6 DATETIME layout: an 8-byte little-endian
// integer whose decimal digits read YYYYMMDDhhmmss.
func DecodeDatetime(data []byte) (Instant, int, error) {
	if len(data) < 8 {
		return Instant{}, 0, fmt.Errorf("datetime needs 8 bytes: %w", ErrShortBuffer)
	}
	v := binary.LittleEndian.Uint64(data)
	d := v / 1000000
	t := v % 1000000
	month := int((d % 10000) / 100)
	day := int(d % 100)
	if month == 0 || day == 0 {
		return Instant{Zero: true}, 8, nil
	}
	tm := time.Date(int(d/10000), time.Month(month), day,
		int(t/10000), int((t%10000)/100), int(t%100), 0, time.UTC)
	return Instant{Millis: tm.UnixMilli()}, 8, nil
}

// DecodeTime2 decodes a TIME2 value into its "[-]hh:mm:ss[.fraction]" text form.
func DecodeTime2(data []byte, precision int) (string, int, error) {
	if err := checkPrecision(precision); err != nil {
		return "", 0, err
	}
	n := 3 + FractionalWidth(precision)
	if len(data) < n {
		return "", 0, fmt.Errorf("time2(%d) needs %d bytes: %w", precision, n, ErrShortBuffer)
	}

	var packed int64
	switch FractionalWidth(precision) {
	case 0:
		packed = (int64(readBigEndian(data[:3])) - time2IntOffset) << 24
	case 1, 2:
		intPart := int64(readBigEndian(data[:3])) - time2IntOffset
		frac := int64(readBigEndian(data[3:n]))
		// negative values keep the fraction in reverse order
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 1 << (8 * uint(n-3))
		}
		scale := int64(10000)
		if n-3 == 2 {
			scale = 100
		}
		packed = intPart<<24 + frac*scale
	default:
		packed = int64(readBigEndian(data[:6])) - time2Offset
	}

	sign := ""
	if packed < 0 {
		packed = -packed
		sign = "-"
	}
	hms := packed >> 24
	micros := packed % (1 << 24)
	text := fmt.Sprintf("%s%02d:%02d:%02d", sign, (hms>>12)%(1<<10), (hms>>6)%(1<<6), hms%(1<<6))
	if precision > 0 {
		text += fmt.Sprintf(".%06d", micros)[:precision+1]
	}
	return text, n, nil
}
