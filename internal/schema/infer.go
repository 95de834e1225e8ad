package schema

import (
	"errors"
	"fmt"
)

var ErrUnsupportedValueType = errors.New("unsupported value type")

type UnsupportedValueError struct {
	Column string
	GoType string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("column %q: unsupported value type %s", e.Column, e.GoType)
}

func (e *UnsupportedValueError) Is(target error) bool {
	return target == ErrUnsupportedValueType
}

// InferFromSample derives column types from the runtime values of a single
// row. Null fields fall back to TypeString.
func InferFromSample(sample Row) ([]ColumnDefinition, error) {
	columns := make([]ColumnDefinition, 0, len(sample))
	for _, field := range sample {
		semantic, ok := field.Value.SemanticType()
		if !ok && field.Value.Kind() == KindOther {
			return nil, &UnsupportedValueError{Column: field.Name, GoType: fmt.Sprintf("%T", field.Value.raw)}
		}
		columns = append(columns, ColumnDefinition{
			Name:     field.Name,
			Type:     semantic,
			Fidelity: FidelityInferred,
		})
	}
	return columns, nil
}
