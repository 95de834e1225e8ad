package schema

import (
	"bytes"
	"encoding/json"
)

type Field struct {
	Name  string
	Value Value
}

// Row keeps fields in the engine's column order.
type Row []Field

func NewRow(columns []string, values []Value) Row {
	row := make(Row, len(columns))
	for i, name := range columns {
		value := Null()
		if i < len(values) {
			value = values[i]
		}
		row[i] = Field{Name: name, Value: value}
	}
	return row
}

func (r Row) Get(name string) (Value, bool) {
	for _, field := range r {
		if field.Name == name {
			return field.Value, true
		}
	}
	return Value{}, false
}

func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i].Name != other[i].Name || !r[i].Value.Equal(other[i].Value) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize narrows wide integers to float64 so every number fits the host's
// native numeric range. Other fields are copied unchanged.
func Normalize(row Row) Row {
	normalized := make(Row, len(row))
	for i, field := range row {
		if field.Value.kind == KindWideInt {
			f, _ := field.Value.Float64()
			field.Value = Number(f)
		}
		normalized[i] = field
	}
	return normalized
}
