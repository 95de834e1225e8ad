// Package stream turns the engine's forward-only cursor into a pull-based
// sequence of bounded row batches.
package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/observability"
	"github.com/duckmesh/duckmesh-source/internal/schema"
)

const DefaultBatchSize = 100000

type Batch []schema.Row

type Options struct {
	BatchSize int
	// ColumnTypes from a successful schema probe. When nil the types are
	// inferred from the first batch.
	ColumnTypes []schema.ColumnDefinition
	Logger      *slog.Logger
}

type StreamError struct {
	Query string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %q: %v", e.Query, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Stream is not safe for concurrent use. Callers must drain it or call
// Close before issuing another statement on the same connection.
type Stream struct {
	query     string
	rows      *sql.Rows
	columns   []string
	dbTypes   []string
	batchSize int
	logger    *slog.Logger

	columnTypes   []schema.ColumnDefinition
	typesResolved bool

	lookahead    Batch
	hasLookahead bool

	batches int
	rowsOut int64
	done    bool
	closed  bool
	err     error
}

func Open(ctx context.Context, q engine.Querier, query string, opts Options) (*Stream, error) {
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		observability.IncStreamFailure()
		return nil, &StreamError{Query: query, Err: fmt.Errorf("open cursor: %w", err)}
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		observability.IncStreamFailure()
		return nil, &StreamError{Query: query, Err: fmt.Errorf("cursor columns: %w", err)}
	}

	s := &Stream{
		query:     query,
		rows:      rows,
		columns:   columns,
		dbTypes:   databaseTypeNames(rows, len(columns)),
		batchSize: batchSize,
		logger:    logger,
	}
	if opts.ColumnTypes != nil {
		if len(opts.ColumnTypes) == len(columns) {
			s.columnTypes = opts.ColumnTypes
			s.typesResolved = true
		} else {
			logger.WarnContext(ctx, "probed schema does not match cursor width, inferring instead",
				slog.Int("probed_columns", len(opts.ColumnTypes)),
				slog.Int("cursor_columns", len(columns)),
			)
		}
	}
	return s, nil
}

func (s *Stream) Columns() []string {
	return s.columns
}

// ColumnTypes returns the column definitions for the stream. If they were not
// supplied at Open, the first batch is read ahead and sampled; that batch is
// still returned by the next call to Next. The result is nil for an empty
// dataset with no probed schema.
func (s *Stream) ColumnTypes() ([]schema.ColumnDefinition, error) {
	if s.typesResolved || s.done || s.closed {
		return s.columnTypes, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	batch, err := s.pull()
	if err != nil {
		return nil, s.fail(err)
	}
	if len(batch) == 0 {
		s.finish()
		return s.columnTypes, nil
	}
	s.lookahead = batch
	s.hasLookahead = true
	return s.columnTypes, nil
}

// Next returns the next batch, or io.EOF once the cursor is exhausted.
func (s *Stream) Next() (Batch, error) {
	if s.hasLookahead {
		batch := s.lookahead
		s.lookahead = nil
		s.hasLookahead = false
		s.deliver(batch)
		return batch, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.done || s.closed {
		return nil, io.EOF
	}
	batch, err := s.pull()
	if err != nil {
		return nil, s.fail(err)
	}
	if len(batch) == 0 {
		s.finish()
		return nil, io.EOF
	}
	s.deliver(batch)
	return batch, nil
}

// Batches ranges over the remaining batches. The cursor is closed when the
// loop ends, including on break.
func (s *Stream) Batches() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		defer func() { _ = s.Close() }()
		for {
			batch, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// Err reports the failure that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) Done() bool {
	return s.done || s.err != nil || s.closed
}

func (s *Stream) RowsDelivered() int64 {
	return s.rowsOut
}

func (s *Stream) BatchesDelivered() int {
	return s.batches
}

// Close releases the cursor. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.lookahead = nil
	s.hasLookahead = false
	if !s.done && s.err == nil {
		s.logger.Debug("stream abandoned",
			slog.Int("batches", s.batches),
			slog.Int64("rows", s.rowsOut),
		)
	}
	if err := s.rows.Close(); err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	return nil
}

func (s *Stream) pull() (Batch, error) {
	batch, err := s.readBatch()
	if err != nil {
		return nil, err
	}
	if !s.typesResolved {
		s.typesResolved = true
		if len(batch) > 0 {
			inferred, err := schema.InferFromSample(batch[0])
			if err != nil {
				return nil, err
			}
			s.columnTypes = inferred
			observability.IncInferredSchema()
		}
	}
	return batch, nil
}

func (s *Stream) readBatch() (Batch, error) {
	batch := make(Batch, 0, min(s.batchSize, 1024))
	for len(batch) < s.batchSize && s.rows.Next() {
		raw := make([]any, len(s.columns))
		targets := make([]any, len(s.columns))
		for i := range raw {
			targets[i] = &raw[i]
		}
		if err := s.rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values := make([]schema.Value, len(raw))
		for i, value := range raw {
			values[i] = schema.FromColumn(value, s.dbTypes[i])
		}
		batch = append(batch, schema.Normalize(schema.NewRow(s.columns, values)))
	}
	if err := s.rows.Err(); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	return batch, nil
}

// databaseTypeNames returns the engine type name per column, or empty
// names when the driver does not report them.
func databaseTypeNames(rows *sql.Rows, width int) []string {
	names := make([]string, width)
	types, err := rows.ColumnTypes()
	if err != nil || len(types) != width {
		return names
	}
	for i, columnType := range types {
		names[i] = columnType.DatabaseTypeName()
	}
	return names
}

func (s *Stream) deliver(batch Batch) {
	s.batches++
	s.rowsOut += int64(len(batch))
	observability.ObserveBatch(len(batch))
}

func (s *Stream) finish() {
	s.done = true
	_ = s.rows.Close()
	s.logger.Debug("stream drained",
		slog.Int("batches", s.batches),
		slog.Int64("rows", s.rowsOut),
	)
}

func (s *Stream) fail(err error) error {
	s.err = &StreamError{Query: s.query, Err: err}
	_ = s.rows.Close()
	observability.IncStreamFailure()
	s.logger.Error("stream failed", slog.Any("error", err))
	return s.err
}
