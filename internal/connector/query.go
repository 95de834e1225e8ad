package connector

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/observability"
	"github.com/duckmesh/duckmesh-source/internal/probe"
	"github.com/duckmesh/duckmesh-source/internal/schema"
	"github.com/duckmesh/duckmesh-source/internal/stream"
)

var ErrEmptyQuery = errors.New("query text is empty")

// QueryResult is an ad-hoc query streaming on its own engine session.
// Close releases the session.
type QueryResult struct {
	Query            string
	ColumnTypes      []schema.ColumnDefinition
	ExpectedRowCount *int64
	Stream           *stream.Stream

	manager *engine.Manager
}

// Batches ranges over the result and releases the session when the loop
// ends.
func (r *QueryResult) Batches() iter.Seq2[stream.Batch, error] {
	return func(yield func(stream.Batch, error) bool) {
		defer func() { _ = r.Close() }()
		for batch, err := range r.Stream.Batches() {
			if !yield(batch, err) {
				return
			}
		}
	}
}

func (r *QueryResult) Close() error {
	_ = r.Stream.Close()
	return r.manager.Release()
}

// Query runs raw query text once against a fresh session using the
// connector's default credentials. Trailing semicolons are dropped so the
// text can be wrapped by the probes.
func (c *Connector) Query(ctx context.Context, text string, batchSize int) (*QueryResult, error) {
	query := engine.StripTrailingSemicolons(text)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if batchSize < 1 {
		batchSize = c.batchSize()
	}

	logger := c.logger()
	manager := c.newManager(c.Engine.Credentials, logger)
	session, err := manager.Acquire(ctx)
	if err != nil {
		_ = manager.Release()
		return nil, &ConfigurationError{Err: err}
	}

	meta := probe.Probe(ctx, session, query)
	if !meta.RowCount.OK() {
		observability.IncProbeFailure("count")
	}
	if !meta.Columns.OK() {
		observability.IncProbeFailure("schema")
		logger.DebugContext(ctx, "schema probe failed for query, types will be inferred",
			slog.String("error", manager.Credentials().Redact(meta.Columns.Err.Error())),
		)
	}

	s, err := stream.Open(ctx, session, query, stream.Options{
		BatchSize:   batchSize,
		ColumnTypes: meta.ColumnTypes(),
		Logger:      logger,
	})
	if err != nil {
		_ = manager.Release()
		return nil, manager.Credentials().RedactError(err)
	}
	return &QueryResult{
		Query:            query,
		ColumnTypes:      meta.ColumnTypes(),
		ExpectedRowCount: meta.ExpectedRowCount(),
		Stream:           s,
		manager:          manager,
	}, nil
}

const defaultTestFailure = "connection test failed"

type TestResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// TestConnection opens a session with the candidate credentials and runs a
// trivial query, or reads one row from location when it is set. It never
// returns an error; failures are reported in the result with secrets
// removed. The session is always released.
func (c *Connector) TestConnection(ctx context.Context, creds engine.Credentials, location string) TestResult {
	logger := c.logger()
	manager := c.newManager(creds, logger)
	defer func() {
		if err := manager.Release(); err != nil {
			logger.WarnContext(ctx, "release engine session", slog.String("error", err.Error()))
		}
	}()

	if err := c.testConnection(ctx, manager, location); err != nil {
		reason := strings.TrimSpace(creds.Redact(err.Error()))
		if reason == "" {
			reason = defaultTestFailure
		}
		logger.InfoContext(ctx, "connection test failed", slog.String("reason", reason))
		return TestResult{Reason: reason}
	}
	return TestResult{OK: true}
}

func (c *Connector) testConnection(ctx context.Context, manager *engine.Manager, location string) error {
	session, err := manager.Acquire(ctx)
	if err != nil {
		return err
	}
	query := "SELECT 1"
	if strings.TrimSpace(location) != "" {
		query = engine.ReferenceQuery(location) + " LIMIT 1"
	}
	s, err := stream.Open(ctx, session, query, stream.Options{BatchSize: 1})
	if err != nil {
		return err
	}
	for _, err := range s.Batches() {
		if err != nil {
			return err
		}
	}
	return nil
}
