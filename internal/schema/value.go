package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	// KindWideInt holds integers that may not fit a float64 mantissa.
	KindWideInt
	KindString
	KindBool
	KindTime
	// KindOther holds structured engine values (lists, maps, structs,
	// intervals) that have no semantic mapping.
	KindOther
)

// Value is a single cell. Its kind is fixed when it is constructed so that
// type classification never has to inspect the payload again.
type Value struct {
	kind Kind
	num  float64
	wide *big.Int
	str  string
	b    bool
	t    time.Time
	raw  any
}

func Null() Value { return Value{kind: KindNull} }

func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

func WideInt(v *big.Int) Value {
	if v == nil {
		return Null()
	}
	return Value{kind: KindWideInt, wide: new(big.Int).Set(v)}
}

func String(v string) Value { return Value{kind: KindString, str: v} }

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

func Other(v any) Value { return Value{kind: KindOther, raw: v} }

type float64er interface {
	Float64() float64
}

// FromDriver converts a value scanned from the DuckDB driver into a Value.
func FromDriver(v any) Value {
	switch typed := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(typed)
	case int8:
		return Number(float64(typed))
	case int16:
		return Number(float64(typed))
	case int32:
		return Number(float64(typed))
	case uint8:
		return Number(float64(typed))
	case uint16:
		return Number(float64(typed))
	case uint32:
		return Number(float64(typed))
	case int:
		return WideInt(big.NewInt(int64(typed)))
	case int64:
		return WideInt(big.NewInt(typed))
	case uint64:
		return WideInt(new(big.Int).SetUint64(typed))
	case *big.Int:
		return WideInt(typed)
	case float32:
		return Number(float64(typed))
	case float64:
		return Number(typed)
	case string:
		return String(typed)
	case []byte:
		return fromBytes(typed)
	case time.Time:
		return Time(typed)
	case duckdb.Decimal:
		return Number(decimalToFloat(typed))
	case float64er:
		return Number(typed.Float64())
	default:
		return Other(typed)
	}
}

// FromColumn converts a driver value using the engine's type name for the
// column. UUID and BLOB both scan as []byte, so the Go type alone cannot
// tell them apart.
func FromColumn(v any, databaseType string) Value {
	raw, ok := v.([]byte)
	if !ok {
		return FromDriver(v)
	}
	switch databaseType {
	case "UUID":
		if id, err := uuid.FromBytes(raw); err == nil {
			return String(id.String())
		}
	case "BLOB":
		return String(base64.StdEncoding.EncodeToString(raw))
	}
	return fromBytes(raw)
}

// fromBytes keeps valid UTF-8 as text and base64-encodes anything else.
func fromBytes(raw []byte) Value {
	if utf8.Valid(raw) {
		return String(string(raw))
	}
	return String(base64.StdEncoding.EncodeToString(raw))
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// SemanticType reports the semantic type of the value. ok is false for nulls
// and for values with no semantic mapping.
func (v Value) SemanticType() (SemanticType, bool) {
	switch v.kind {
	case KindNumber, KindWideInt:
		return TypeNumber, true
	case KindString:
		return TypeString, true
	case KindBool:
		return TypeBoolean, true
	case KindTime:
		return TypeDate, true
	default:
		return TypeString, false
	}
}

func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindWideInt:
		f, _ := new(big.Float).SetInt(v.wide).Float64()
		return f, true
	default:
		return 0, false
	}
}

// Interface returns the Go representation handed to encoders.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindWideInt:
		return new(big.Int).Set(v.wide)
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindOther:
		return v.raw
	default:
		return nil
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == other.num || (math.IsNaN(v.num) && math.IsNaN(other.num))
	case KindWideInt:
		return v.wide.Cmp(other.wide) == 0
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	case KindTime:
		return v.t.Equal(other.t)
	default:
		return fmt.Sprint(v.raw) == fmt.Sprint(other.raw)
	}
}

// MarshalJSON writes NaN and the infinities as the strings "NaN",
// "Infinity" and "-Infinity", which JSON numbers cannot represent.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		switch {
		case math.IsNaN(v.num):
			return []byte(`"NaN"`), nil
		case math.IsInf(v.num, 1):
			return []byte(`"Infinity"`), nil
		case math.IsInf(v.num, -1):
			return []byte(`"-Infinity"`), nil
		}
	}
	return json.Marshal(v.Interface())
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprint(v.Interface())
}

func decimalToFloat(d duckdb.Decimal) float64 {
	if d.Value == nil {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil)
	f, _ := new(big.Rat).SetFrac(d.Value, scale).Float64()
	return f
}
