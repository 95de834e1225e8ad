// Package probe learns a dataset's schema and approximate size with two
// read-only queries, without consuming the main row stream.
package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/schema"
)

// Outcome is the result of one best-effort probe. Err is set when the
// engine rejected the probe; Value is then the zero value.
type Outcome[T any] struct {
	Value T
	Err   error
}

func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

type Metadata struct {
	Columns  Outcome[[]schema.ColumnDefinition]
	RowCount Outcome[int64]
}

// ColumnTypes returns nil when the schema probe failed.
func (m Metadata) ColumnTypes() []schema.ColumnDefinition {
	if !m.Columns.OK() {
		return nil
	}
	return m.Columns.Value
}

// ExpectedRowCount returns nil when the count probe failed. The count is
// advisory: the stream is a separate query and may observe different data.
func (m Metadata) ExpectedRowCount() *int64 {
	if !m.RowCount.OK() {
		return nil
	}
	count := m.RowCount.Value
	return &count
}

func CountQuery(referenceQuery string) string {
	return fmt.Sprintf("WITH root AS (%s) SELECT COUNT(*) FROM root", referenceQuery)
}

func DescribeQuery(referenceQuery string) string {
	return fmt.Sprintf("DESCRIBE (%s)", referenceQuery)
}

// Probe runs the row-count and schema queries. It never fails; errors are
// reported per field.
func Probe(ctx context.Context, q engine.Querier, referenceQuery string) Metadata {
	var meta Metadata

	count, err := countRows(ctx, q, referenceQuery)
	meta.RowCount = Outcome[int64]{Value: count, Err: err}

	columns, err := describe(ctx, q, referenceQuery)
	meta.Columns = Outcome[[]schema.ColumnDefinition]{Value: columns, Err: err}

	return meta
}

func countRows(ctx context.Context, q engine.Querier, referenceQuery string) (int64, error) {
	rows, err := q.QueryContext(ctx, CountQuery(referenceQuery))
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("count rows: %w", err)
		}
		return 0, fmt.Errorf("count rows: %w", sql.ErrNoRows)
	}
	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan row count: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

func describe(ctx context.Context, q engine.Querier, referenceQuery string) ([]schema.ColumnDefinition, error) {
	rows, err := q.QueryContext(ctx, DescribeQuery(referenceQuery))
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer func() { _ = rows.Close() }()

	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}
	nameIdx, typeIdx := -1, -1
	for i, column := range header {
		switch column {
		case "column_name":
			nameIdx = i
		case "column_type":
			typeIdx = i
		}
	}
	if nameIdx < 0 || typeIdx < 0 {
		return nil, errors.New("describe: result lacks column_name/column_type")
	}

	described := make([]schema.DescribedColumn, 0)
	for rows.Next() {
		values := make([]sql.NullString, len(header))
		targets := make([]any, len(header))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan describe row: %w", err)
		}
		described = append(described, schema.DescribedColumn{
			Name: values[nameIdx].String,
			Type: values[typeIdx].String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	return schema.ColumnsFromDescribe(described), nil
}
