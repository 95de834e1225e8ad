package schema

import "strings"

// ClassifyPhysicalType maps a DuckDB column type name, as reported by
// DESCRIBE, onto a SemanticType. Matching is case-sensitive on the engine's
// canonical spelling; unknown names classify as TypeString.
func ClassifyPhysicalType(columnType string) SemanticType {
	if strings.Contains(columnType, "DECIMAL") {
		return TypeNumber
	}
	switch columnType {
	case "BOOLEAN":
		return TypeBoolean
	case "DATE",
		"TIMESTAMP",
		"TIMESTAMP WITH TIME ZONE",
		"TIMESTAMP_S",
		"TIMESTAMP_MS",
		"TIMESTAMP_NS":
		return TypeDate
	case "DOUBLE",
		"FLOAT",
		"TINYINT",
		"UTINYINT",
		"SMALLINT",
		"USMALLINT",
		"INTEGER",
		"UINTEGER",
		"BIGINT",
		"UBIGINT",
		"HUGEINT",
		"UHUGEINT":
		return TypeNumber
	case "TIME", "TIME WITH TIME ZONE":
		// no portable time-of-day type
		return TypeString
	default:
		return TypeString
	}
}

// DescribedColumn is one row of a DESCRIBE result.
type DescribedColumn struct {
	Name string
	Type string
}

func ColumnsFromDescribe(described []DescribedColumn) []ColumnDefinition {
	columns := make([]ColumnDefinition, 0, len(described))
	for _, column := range described {
		columns = append(columns, ColumnDefinition{
			Name:     column.Name,
			Type:     ClassifyPhysicalType(column.Type),
			Fidelity: FidelityPrecise,
		})
	}
	return columns
}
