package schema

import "fmt"

// SemanticType is the portable column type handed to the host.
type SemanticType uint8

const (
	// TypeString is also the fallback for engine types with no closer match.
	TypeString SemanticType = iota
	TypeNumber
	TypeBoolean
	// TypeDate covers dates and timestamps. Time-of-day values are strings.
	TypeDate
)

func (t SemanticType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	default:
		return "string"
	}
}

func (t SemanticType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SemanticType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "number":
		*t = TypeNumber
	case "string":
		*t = TypeString
	case "boolean":
		*t = TypeBoolean
	case "date":
		*t = TypeDate
	default:
		return fmt.Errorf("unknown semantic type %q", text)
	}
	return nil
}

// TypeFidelity records whether a column type came from the engine schema or
// from sampling values.
type TypeFidelity uint8

const (
	// FidelityPrecise types come from the engine's DESCRIBE output.
	FidelityPrecise TypeFidelity = iota
	// FidelityInferred types come from the first row of the first batch.
	FidelityInferred
)

func (f TypeFidelity) String() string {
	if f == FidelityInferred {
		return "inferred"
	}
	return "precise"
}

func (f TypeFidelity) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *TypeFidelity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "precise":
		*f = FidelityPrecise
	case "inferred":
		*f = FidelityInferred
	default:
		return fmt.Errorf("unknown type fidelity %q", text)
	}
	return nil
}

// ColumnDefinition is one output column, in the dataset's column order.
type ColumnDefinition struct {
	Name     string       `json:"name"`
	Type     SemanticType `json:"semantic_type"`
	Fidelity TypeFidelity `json:"type_fidelity"`
}
