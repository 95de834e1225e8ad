package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/duckmesh/duckmesh-source/internal/descriptor"
	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/observability"
	"github.com/duckmesh/duckmesh-source/internal/probe"
	"github.com/duckmesh/duckmesh-source/internal/schema"
	"github.com/duckmesh/duckmesh-source/internal/stream"
)

var (
	ErrNotDescriptor  = errors.New("file is not a dataset descriptor")
	ErrDatasetExpired = errors.New("dataset rows requested after enumeration moved on")
)

// Run starts a lazy enumeration of the datasets listed in the descriptor.
// The engine session is opened on the first call to Next and released once,
// when the enumeration ends, fails or is closed.
func (c *Connector) Run(ctx context.Context, descriptorPath string, creds engine.Credentials) (*Enumeration, error) {
	if strings.TrimSpace(descriptorPath) == "" {
		return nil, &ConfigurationError{Err: descriptor.ErrMissingDescriptor}
	}
	if !descriptor.IsDescriptor(descriptorPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotDescriptor, descriptorPath)
	}
	if c.Loader == nil {
		return nil, &ConfigurationError{Err: errors.New("no descriptor loader configured")}
	}

	refs, err := c.Loader.Load(ctx, descriptorPath)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	runID := uuid.NewString()
	logger := observability.WithRun(c.logger(), runID)
	logger.InfoContext(ctx, "enumeration started",
		slog.String("descriptor", descriptorPath),
		slog.Int("datasets", len(refs)),
	)

	return &Enumeration{
		id:        runID,
		refs:      refs,
		manager:   c.newManager(creds, logger),
		batchSize: c.batchSize(),
		policy:    c.Policy,
		logger:    logger,
	}, nil
}

// Enumeration yields one DatasetResult per descriptor entry, in order. It is
// not safe for concurrent use.
type Enumeration struct {
	id        string
	refs      []descriptor.DatasetRef
	next      int
	manager   *engine.Manager
	batchSize int
	policy    FailurePolicy
	logger    *slog.Logger

	current *DatasetResult
	err     error
	ended   bool
}

func (e *Enumeration) ID() string {
	return e.id
}

func (e *Enumeration) Len() int {
	return len(e.refs)
}

// Next settles the previous dataset and returns the next one, or io.EOF
// after the last. Asking for the next dataset ends the previous dataset's
// stream.
func (e *Enumeration) Next(ctx context.Context) (*DatasetResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.ended {
		return nil, io.EOF
	}

	if prev := e.current; prev != nil {
		e.current = nil
		streamErr := prev.expire()
		if streamErr != nil {
			if e.policy == FailurePolicyAbort {
				return nil, e.abort(fmt.Errorf("dataset %q: %w", prev.Title, streamErr))
			}
			e.logger.WarnContext(ctx, "dataset stream failed, skipping",
				slog.String("dataset", prev.Title),
				slog.String("error", e.manager.Credentials().Redact(streamErr.Error())),
			)
		}
	}

	if e.next >= len(e.refs) {
		e.ended = true
		if err := e.manager.Release(); err != nil {
			e.logger.WarnContext(ctx, "release engine session", slog.String("error", err.Error()))
		}
		e.logger.InfoContext(ctx, "enumeration finished", slog.Int("datasets", len(e.refs)))
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abort(err)
	}

	ref := e.refs[e.next]
	e.next++

	session, err := e.manager.Acquire(ctx)
	if err != nil {
		return nil, e.abort(&ConfigurationError{Err: err})
	}

	referenceQuery := engine.ReferenceQuery(ref.Location)
	meta := probe.Probe(ctx, session, referenceQuery)
	e.logProbe(ctx, ref, meta)

	result := &DatasetResult{
		Title:            ref.Name,
		Location:         ref.Location,
		Content:          referenceQuery,
		ColumnTypes:      meta.ColumnTypes(),
		ExpectedRowCount: meta.ExpectedRowCount(),
		querier:          session,
		batchSize:        e.batchSize,
		logger:           e.logger.With(slog.String("dataset", ref.Name)),
	}
	e.current = result
	observability.IncDatasets()
	return result, nil
}

// All ranges over the remaining datasets and closes the enumeration when the
// loop ends, including on break.
func (e *Enumeration) All(ctx context.Context) iter.Seq2[*DatasetResult, error] {
	return func(yield func(*DatasetResult, error) bool) {
		defer func() { _ = e.Close() }()
		for {
			result, err := e.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(result, nil) {
				return
			}
		}
	}
}

// Close ends the current dataset stream and releases the engine session.
// It is safe to call more than once.
func (e *Enumeration) Close() error {
	if e.current != nil {
		_ = e.current.expire()
		e.current = nil
	}
	e.ended = true
	return e.manager.Release()
}

func (e *Enumeration) abort(err error) error {
	if e.current != nil {
		_ = e.current.expire()
		e.current = nil
	}
	err = e.manager.Credentials().RedactError(err)
	e.err = err
	if releaseErr := e.manager.Release(); releaseErr != nil {
		e.logger.Warn("release engine session", slog.String("error", releaseErr.Error()))
	}
	e.logger.Error("enumeration aborted", slog.String("error", err.Error()))
	return err
}

func (e *Enumeration) logProbe(ctx context.Context, ref descriptor.DatasetRef, meta probe.Metadata) {
	creds := e.manager.Credentials()
	if !meta.RowCount.OK() {
		observability.IncProbeFailure("count")
		e.logger.WarnContext(ctx, "row count probe failed",
			slog.String("dataset", ref.Name),
			slog.String("error", creds.Redact(meta.RowCount.Err.Error())),
		)
	}
	if !meta.Columns.OK() {
		observability.IncProbeFailure("schema")
		e.logger.WarnContext(ctx, "schema probe failed, types will be inferred",
			slog.String("dataset", ref.Name),
			slog.String("error", creds.Redact(meta.Columns.Err.Error())),
		)
	}
}

// DatasetResult describes one dataset. Its rows are not read until Rows is
// called.
type DatasetResult struct {
	Title    string
	Location string
	// Content is the reference query the rows are read with.
	Content          string
	ColumnTypes      []schema.ColumnDefinition
	ExpectedRowCount *int64

	querier   engine.Querier
	batchSize int
	logger    *slog.Logger

	stream  *stream.Stream
	openErr error
	expired bool
}

// Rows opens the batch stream for the dataset. Calling it again closes the
// previous stream and restarts from the first row. It fails with
// ErrDatasetExpired once the enumeration has moved past this dataset.
func (d *DatasetResult) Rows(ctx context.Context) (*stream.Stream, error) {
	if d.expired {
		return nil, ErrDatasetExpired
	}
	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	d.openErr = nil

	s, err := stream.Open(ctx, d.querier, d.Content, stream.Options{
		BatchSize:   d.batchSize,
		ColumnTypes: d.ColumnTypes,
		Logger:      d.logger,
	})
	if err != nil {
		d.openErr = err
		return nil, err
	}
	d.stream = s
	return s, nil
}

// ResolvedColumnTypes returns the column types of the open stream, which
// drops the probed types when they no longer match the cursor width. With
// no stream open it returns the probed types.
func (d *DatasetResult) ResolvedColumnTypes() ([]schema.ColumnDefinition, error) {
	if d.stream == nil {
		return d.ColumnTypes, nil
	}
	return d.stream.ColumnTypes()
}

func (d *DatasetResult) expire() error {
	d.expired = true
	if d.openErr != nil {
		return d.openErr
	}
	if d.stream == nil {
		return nil
	}
	err := d.stream.Err()
	_ = d.stream.Close()
	return err
}
