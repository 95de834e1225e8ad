package schema

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestInferFromSample(t *testing.T) {
	sample := NewRow(
		[]string{"n", "w", "s", "b", "d", "missing"},
		[]Value{
			Number(1.5),
			WideInt(big.NewInt(7)),
			String("x"),
			Bool(true),
			Time(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
			Null(),
		},
	)
	columns, err := InferFromSample(sample)
	if err != nil {
		t.Fatalf("InferFromSample() error = %v", err)
	}
	want := []SemanticType{TypeNumber, TypeNumber, TypeString, TypeBoolean, TypeDate, TypeString}
	if len(columns) != len(want) {
		t.Fatalf("len(columns) = %d", len(columns))
	}
	for i, column := range columns {
		if column.Type != want[i] {
			t.Fatalf("columns[%d].Type = %s, want %s", i, column.Type, want[i])
		}
		if column.Fidelity != FidelityInferred {
			t.Fatalf("columns[%d].Fidelity = %s", i, column.Fidelity)
		}
		if column.Name != sample[i].Name {
			t.Fatalf("columns[%d].Name = %q", i, column.Name)
		}
	}
}

func TestInferFromSampleRejectsStructuredValues(t *testing.T) {
	sample := NewRow([]string{"ok", "tags"}, []Value{String("a"), FromDriver([]any{"x", "y"})})
	_, err := InferFromSample(sample)
	if !errors.Is(err, ErrUnsupportedValueType) {
		t.Fatalf("InferFromSample() error = %v, want ErrUnsupportedValueType", err)
	}
	var unsupported *UnsupportedValueError
	if !errors.As(err, &unsupported) || unsupported.Column != "tags" {
		t.Fatalf("unsupported = %+v", unsupported)
	}
}

func TestFromDriverKinds(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{nil, KindNull},
		{true, KindBool},
		{int32(4), KindNumber},
		{int64(4), KindWideInt},
		{uint64(4), KindWideInt},
		{big.NewInt(4), KindWideInt},
		{3.25, KindNumber},
		{"a", KindString},
		{[]byte("a"), KindString},
		{time.Now(), KindTime},
		{map[string]any{"a": 1}, KindOther},
	}
	for _, tc := range cases {
		if got := FromDriver(tc.in).Kind(); got != tc.kind {
			t.Fatalf("FromDriver(%#v).Kind() = %d, want %d", tc.in, got, tc.kind)
		}
	}
}
