package engine

import (
	"strings"
)

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// ReferenceQuery is the read-only query that scans a dataset location. The
// engine picks the reader from the location's extension.
func ReferenceQuery(location string) string {
	return "SELECT * FROM " + QuoteString(location)
}
