package binlog

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"mariadb-cdc/internal/codec"
)

// ValueKind tags the variant held by a Value
type ValueKind int

const (
	NullValue ValueKind = iota
	IntegerValue
	Float32Value
	Float64Value
	DecimalValue
	TemporalValue
	TextValue
	BlobValue
	EnumValue
	SetValue
	UnsupportedValue
)

var valueKindNames = [...]string{
	NullValue:        "null",
	IntegerValue:     "integer",
	Float32Value:     "float32",
	Float64Value:     "float64",
	DecimalValue:     "decimal",
	TemporalValue:    "temporal",
	TextValue:        "text",
	BlobValue:        "blob",
	EnumValue:        "enum",
	SetValue:         "set",
	UnsupportedValue: "unsupported",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "invalid"
}

// Value is one decoded column value. Type is the column type code the value
// was decoded as (for STRING columns, the real sub-type).
type Value struct {
	Kind ValueKind
	Type byte

	Uint   uint64  // integer, enum code, set bitmask
	Float  float64 // float32 and float64
	Text   string  // text, decimal digits, TIME2
	Millis int64   // temporal, epoch milliseconds UTC
	Bytes  []byte  // blob
}

// Unsupported marks a column whose type is not decoded.
type Unsupported struct {
	Type string `json:"unsupported"`
}

// IsNull reports whether the column carried no value.
func (v Value) IsNull() bool {
	return v.Kind == NullValue
}

// Interface returns the value as a plain Go value suitable for JSON encoding.
// Decimals become float64 when that is lossless and decimal.Decimal otherwise.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case NullValue:
		return nil
	case IntegerValue, EnumValue, SetValue:
		return v.Uint
	case Float32Value:
		return float32(v.Float)
	case Float64Value:
		return v.Float
	case DecimalValue:
		if f, ok := codec.DecimalNumber(v.Text); ok {
			return f
		}
		if d, err := decimal.NewFromString(v.Text); err == nil {
			return d
		}
		return v.Text
	case TemporalValue:
		return v.Millis
	case TextValue:
		return v.Text
	case BlobValue:
		return v.Bytes
	default:
		return Unsupported{Type: TypeName(v.Type)}
	}
}

func (v Value) String() string {
	switch v.Kind {
	case NullValue:
		return "NULL"
	case IntegerValue, EnumValue, SetValue:
		return strconv.FormatUint(v.Uint, 10)
	case Float32Value:
		return strconv.FormatFloat(v.Float, 'g', -1, 32)
	case Float64Value:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case DecimalValue, TextValue:
		return v.Text
	case TemporalValue:
		return strconv.FormatInt(v.Millis, 10)
	case BlobValue:
		return string(v.Bytes)
	default:
		return fmt.Sprintf("<unsupported %s>", TypeName(v.Type))
	}
}

// UnsupportedTypeError is returned when a column's byte width cannot be
// determined, which leaves the rest of the row undecodable.
type UnsupportedTypeError struct {
	Column int
	Type   byte
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("column %d: cannot decode type %s", e.Column, TypeName(e.Type))
}
