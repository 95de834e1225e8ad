// Package ndjson writes enumeration and query results as newline-delimited
// JSON events, one object per line.
package ndjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/duckmesh/duckmesh-source/internal/connector"
	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/schema"
	"github.com/duckmesh/duckmesh-source/internal/stream"
)

const (
	EventDataset = "dataset"
	EventMeta    = "meta"
	EventBatch   = "batch"
	EventEnd     = "end"
	EventSkipped = "skipped"
	EventError   = "error"
)

type Event struct {
	Type             string                    `json:"type"`
	Dataset          string                    `json:"dataset,omitempty"`
	Content          string                    `json:"content,omitempty"`
	ColumnTypes      []schema.ColumnDefinition `json:"column_types,omitempty"`
	ExpectedRowCount *int64                    `json:"expected_row_count,omitempty"`
	Rows             []schema.Row              `json:"rows,omitempty"`
	RowCount         *int64                    `json:"row_count,omitempty"`
	Message          string                    `json:"message,omitempty"`
}

// WriteError means the output itself failed, e.g. a client went away.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "write event: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer encodes events and flushes after each line when a flush func is
// set. Error messages are redacted with the run's credentials.
type Writer struct {
	out    io.Writer
	creds  engine.Credentials
	flush  func() error
	events int
}

func NewWriter(w io.Writer, creds engine.Credentials, flush func() error) *Writer {
	return &Writer{out: w, creds: creds, flush: flush}
}

// Write encodes the whole event before writing it, so an event that cannot
// be encoded leaves no partial line and is not reported as a WriteError.
func (w *Writer) Write(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	line = append(line, '\n')
	if _, err := w.out.Write(line); err != nil {
		return &WriteError{Err: err}
	}
	w.events++
	if w.flush != nil {
		if err := w.flush(); err != nil {
			return &WriteError{Err: err}
		}
	}
	return nil
}

func (w *Writer) Events() int {
	return w.events
}

func (w *Writer) Fail(err error) error {
	return w.Write(Event{Type: EventError, Message: w.creds.Redact(err.Error())})
}

func (w *Writer) Skip(dataset string, err error) error {
	return w.Write(Event{Type: EventSkipped, Dataset: dataset, Message: w.creds.Redact(err.Error())})
}

// EmitEnumeration writes every dataset of the run in order. A dataset that
// fails to stream or encode produces a skipped event under the skip policy;
// otherwise an error event is written and the failure is returned. Output
// failures end the run without further events.
func EmitEnumeration(ctx context.Context, w *Writer, run *connector.Enumeration, policy connector.FailurePolicy) error {
	defer func() { _ = run.Close() }()
	for result, err := range run.All(ctx) {
		if err != nil {
			_ = w.Fail(err)
			return err
		}
		emitErr := EmitDataset(ctx, w, result)
		if emitErr == nil {
			continue
		}
		var writeErr *WriteError
		if errors.As(emitErr, &writeErr) {
			return emitErr
		}
		if policy == connector.FailurePolicySkip {
			if skipErr := w.Skip(result.Title, emitErr); skipErr != nil {
				return skipErr
			}
			continue
		}
		failErr := fmt.Errorf("dataset %q: %w", result.Title, emitErr)
		_ = w.Fail(failErr)
		return failErr
	}
	return nil
}

func EmitDataset(ctx context.Context, w *Writer, result *connector.DatasetResult) error {
	s, err := result.Rows(ctx)
	if err != nil {
		return err
	}
	columns, err := result.ResolvedColumnTypes()
	if err != nil {
		return err
	}
	if err := w.Write(Event{
		Type:             EventDataset,
		Dataset:          result.Title,
		Content:          result.Content,
		ColumnTypes:      columns,
		ExpectedRowCount: result.ExpectedRowCount,
	}); err != nil {
		return err
	}
	if err := EmitBatches(w, result.Title, s); err != nil {
		return err
	}
	delivered := s.RowsDelivered()
	return w.Write(Event{Type: EventEnd, Dataset: result.Title, RowCount: &delivered})
}

// EmitQuery writes a meta event, the batches and an end event, then closes
// the result.
func EmitQuery(w *Writer, result *connector.QueryResult) error {
	defer func() { _ = result.Close() }()
	columns, err := result.Stream.ColumnTypes()
	if err != nil {
		_ = w.Fail(err)
		return err
	}
	if err := w.Write(Event{Type: EventMeta, Content: result.Query, ColumnTypes: columns, ExpectedRowCount: result.ExpectedRowCount}); err != nil {
		return err
	}
	if err := EmitBatches(w, "", result.Stream); err != nil {
		_ = w.Fail(err)
		return err
	}
	delivered := result.Stream.RowsDelivered()
	return w.Write(Event{Type: EventEnd, RowCount: &delivered})
}

func EmitBatches(w *Writer, dataset string, s *stream.Stream) error {
	for batch, err := range s.Batches() {
		if err != nil {
			return err
		}
		if err := w.Write(Event{Type: EventBatch, Dataset: dataset, Rows: batch}); err != nil {
			return err
		}
	}
	return nil
}
