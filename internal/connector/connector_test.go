package connector

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/duckmesh-source/internal/config"
	"github.com/duckmesh/duckmesh-source/internal/descriptor"
	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/probe"
	"github.com/duckmesh/duckmesh-source/internal/schema"
)

const (
	locationA = "s3://bucket/a.parquet"
	locationB = "s3://bucket/b.parquet"
)

type staticLoader struct {
	refs []descriptor.DatasetRef
	err  error
}

func (l staticLoader) Load(context.Context, string) ([]descriptor.DatasetRef, error) {
	return l.refs, l.err
}

func twoDatasets() staticLoader {
	return staticLoader{refs: []descriptor.DatasetRef{
		{Name: "A", Location: locationA},
		{Name: "B", Location: locationB},
	}}
}

func TestRunStreamsEveryDatasetInOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 10)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(idRows(10)).RowsWillBeClosed()
	expectProbe(mock, locationB, 0)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationB))).
		WillReturnRows(idRows(0)).RowsWillBeClosed()
	mock.ExpectClose()

	c := newTestConnector(db, twoDatasets())
	c.BatchSize = 4
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var titles []string
	sizes := map[string][]int{}
	for result, err := range run.All(context.Background()) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		titles = append(titles, result.Title)
		if result.Content != engine.ReferenceQuery(result.Location) {
			t.Fatalf("Content = %q", result.Content)
		}
		if len(result.ColumnTypes) != 1 || result.ColumnTypes[0].Fidelity != schema.FidelityPrecise {
			t.Fatalf("ColumnTypes = %+v", result.ColumnTypes)
		}
		s, err := result.Rows(context.Background())
		if err != nil {
			t.Fatalf("Rows() error = %v", err)
		}
		for batch, err := range s.Batches() {
			if err != nil {
				t.Fatalf("Batches() error = %v", err)
			}
			sizes[result.Title] = append(sizes[result.Title], len(batch))
		}
	}

	if strings.Join(titles, ",") != "A,B" {
		t.Fatalf("titles = %v", titles)
	}
	if got := sizes["A"]; len(got) != 3 || got[0] != 4 || got[1] != 4 || got[2] != 2 {
		t.Fatalf("A batches = %v, want [4 4 2]", got)
	}
	if got := sizes["B"]; len(got) != 0 {
		t.Fatalf("B batches = %v, want none", got)
	}
	assertSQLMock(t, mock)
}

func TestRunReportsExpectedRowCount(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 10)
	mock.ExpectClose()

	c := newTestConnector(db, staticLoader{refs: []descriptor.DatasetRef{{Name: "A", Location: locationA}}})
	run, err := c.Run(context.Background(), "datasets.yml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	result, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if result.ExpectedRowCount == nil || *result.ExpectedRowCount != 10 {
		t.Fatalf("ExpectedRowCount = %v", result.ExpectedRowCount)
	}
	if _, err := run.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
	if _, err := run.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after end error = %v, want io.EOF", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRunFallsBackToInferenceWhenProbesFail(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(probe.CountQuery(engine.ReferenceQuery(locationA)))).
		WillReturnError(errors.New("HTTP 403"))
	mock.ExpectQuery(regexp.QuoteMeta(probe.DescribeQuery(engine.ReferenceQuery(locationA)))).
		WillReturnError(errors.New("HTTP 403"))
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(sqlmock.NewRows([]string{"name", "active"}).AddRow("x", true))
	mock.ExpectClose()

	c := newTestConnector(db, staticLoader{refs: []descriptor.DatasetRef{{Name: "A", Location: locationA}}})
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer run.Close()

	result, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if result.ColumnTypes != nil || result.ExpectedRowCount != nil {
		t.Fatalf("probed metadata = %+v / %v, want nil", result.ColumnTypes, result.ExpectedRowCount)
	}
	if _, err := result.Rows(context.Background()); err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	columns, err := result.ResolvedColumnTypes()
	if err != nil {
		t.Fatalf("ResolvedColumnTypes() error = %v", err)
	}
	want := []schema.ColumnDefinition{
		{Name: "name", Type: schema.TypeString, Fidelity: schema.FidelityInferred},
		{Name: "active", Type: schema.TypeBoolean, Fidelity: schema.FidelityInferred},
	}
	if len(columns) != len(want) || columns[0] != want[0] || columns[1] != want[1] {
		t.Fatalf("ResolvedColumnTypes() = %+v, want %+v", columns, want)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestResolvedColumnTypesFollowCursorWhenSchemaChanged(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 1)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(sqlmock.NewRows([]string{"id", "region"}).AddRow(int64(1), "eu"))
	mock.ExpectClose()

	c := newTestConnector(db, staticLoader{refs: []descriptor.DatasetRef{{Name: "A", Location: locationA}}})
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer run.Close()

	result, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(result.ColumnTypes) != 1 {
		t.Fatalf("described ColumnTypes = %+v", result.ColumnTypes)
	}
	rows, err := result.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	columns, err := result.ResolvedColumnTypes()
	if err != nil {
		t.Fatalf("ResolvedColumnTypes() error = %v", err)
	}
	want := []schema.ColumnDefinition{
		{Name: "id", Type: schema.TypeNumber, Fidelity: schema.FidelityInferred},
		{Name: "region", Type: schema.TypeString, Fidelity: schema.FidelityInferred},
	}
	if len(columns) != len(want) || columns[0] != want[0] || columns[1] != want[1] {
		t.Fatalf("ResolvedColumnTypes() = %+v, want %+v", columns, want)
	}
	for batch, err := range rows.Batches() {
		if err != nil {
			t.Fatalf("Batches() error = %v", err)
		}
		if len(batch[0]) != len(columns) {
			t.Fatalf("row width = %d, want %d", len(batch[0]), len(columns))
		}
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRunAbortsOnStreamFailureByDefault(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 3)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(idRows(3).RowError(1, errors.New("connection reset")))
	mock.ExpectClose()

	c := newTestConnector(db, twoDatasets())
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	result, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	s, err := result.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	for _, err := range s.Batches() {
		if err == nil {
			t.Fatal("expected stream error")
		}
	}

	_, err = run.Next(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Next() error = %v, want stream failure", err)
	}
	if _, again := run.Next(context.Background()); again == nil {
		t.Fatal("Next() after abort should keep failing")
	}
	assertSQLMock(t, mock)
}

func TestRunSkipsFailedStreamWhenConfigured(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 3)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnError(errors.New("no such file"))
	expectProbe(mock, locationB, 0)
	mock.ExpectClose()

	c := newTestConnector(db, twoDatasets())
	c.Policy = FailurePolicySkip
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := first.Rows(context.Background()); err == nil {
		t.Fatal("Rows() expected error")
	}
	second, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if second.Title != "B" {
		t.Fatalf("Title = %q, want B", second.Title)
	}
	if _, err := run.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
	assertSQLMock(t, mock)
}

func TestDatasetRowsExpireWhenEnumerationMovesOn(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 1)
	expectProbe(mock, locationB, 1)
	mock.ExpectClose()

	c := newTestConnector(db, twoDatasets())
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer run.Close()

	first, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := run.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := first.Rows(context.Background()); !errors.Is(err, ErrDatasetExpired) {
		t.Fatalf("Rows() error = %v, want ErrDatasetExpired", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestDatasetRowsRestartsStream(t *testing.T) {
	db, mock := newSQLMock(t)
	expectProbe(mock, locationA, 2)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(idRows(2)).RowsWillBeClosed()
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA))).
		WillReturnRows(idRows(2))
	mock.ExpectClose()

	c := newTestConnector(db, staticLoader{refs: []descriptor.DatasetRef{{Name: "A", Location: locationA}}})
	run, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	result, err := run.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := result.Rows(context.Background()); err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	s, err := result.Rows(context.Background())
	if err != nil {
		t.Fatalf("second Rows() error = %v", err)
	}
	batch, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRunConfigurationErrors(t *testing.T) {
	c := newTestConnector(nil, staticLoader{err: descriptor.ErrEmptyDatasetList})

	if _, err := c.Run(context.Background(), "", engine.Credentials{}); !errors.Is(err, ErrConfiguration) || !errors.Is(err, descriptor.ErrMissingDescriptor) {
		t.Fatalf("Run(\"\") error = %v", err)
	}
	if _, err := c.Run(context.Background(), "orders.csv", engine.Credentials{}); !errors.Is(err, ErrNotDescriptor) {
		t.Fatalf("Run(csv) error = %v, want ErrNotDescriptor", err)
	}
	if _, err := c.Run(context.Background(), "datasets.yaml", engine.Credentials{}); !errors.Is(err, ErrConfiguration) || !errors.Is(err, descriptor.ErrEmptyDatasetList) {
		t.Fatalf("Run() error = %v, want empty dataset configuration error", err)
	}
}

func TestRunSessionFailureIsRedacted(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec("CREATE SECRET").WillReturnError(errors.New("rejected secret 'sekrit-value'"))
	mock.ExpectClose()

	c := newTestConnector(db, twoDatasets())
	creds := engine.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "sekrit-value", Region: "eu-west-1"}
	run, err := c.Run(context.Background(), "datasets.yaml", creds)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_, err = run.Next(context.Background())
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, engine.ErrSessionSetup) {
		t.Fatalf("Next() error = %v, want session setup configuration error", err)
	}
	if strings.Contains(err.Error(), "sekrit-value") {
		t.Fatalf("error leaks secret: %v", err)
	}
	assertSQLMock(t, mock)
}

func TestQueryStripsSemicolonsAndReleasesOnClose(t *testing.T) {
	const text = "SELECT 42 AS answer"
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(probe.CountQuery(text))).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(probe.DescribeQuery(text))).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type"}).AddRow("answer", "INTEGER"))
	mock.ExpectQuery("^" + regexp.QuoteMeta(text) + "$").
		WillReturnRows(sqlmock.NewRows([]string{"answer"}).AddRow(int32(42)))
	mock.ExpectClose()

	c := newTestConnector(db, nil)
	result, err := c.Query(context.Background(), text+" ;; ", 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Query != text {
		t.Fatalf("Query = %q", result.Query)
	}
	var rows int
	for batch, err := range result.Batches() {
		if err != nil {
			t.Fatalf("Batches() error = %v", err)
		}
		rows += len(batch)
		if got, ok := batch[0].Get("answer"); !ok || got.Kind() != schema.KindNumber {
			t.Fatalf("answer = %v, %t", got, ok)
		}
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1", rows)
	}
	assertSQLMock(t, mock)
}

func TestQueryRejectsEmptyText(t *testing.T) {
	c := newTestConnector(nil, nil)
	if _, err := c.Query(context.Background(), " ; ", 10); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Query() error = %v, want ErrEmptyQuery", err)
	}
}

func TestConnectionSucceeds(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("^SELECT 1$").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int32(1)))
	mock.ExpectClose()

	result := newTestConnector(db, nil).TestConnection(context.Background(), engine.Credentials{}, "")
	if !result.OK || result.Reason != "" {
		t.Fatalf("TestConnection() = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestConnectionReadsOneRowFromLocation(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(engine.ReferenceQuery(locationA) + " LIMIT 1")).
		WillReturnRows(idRows(1))
	mock.ExpectClose()

	result := newTestConnector(db, nil).TestConnection(context.Background(), engine.Credentials{}, locationA)
	if !result.OK {
		t.Fatalf("TestConnection() = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestConnectionFailureReasonIsRedacted(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec("CREATE SECRET").WillReturnError(errors.New("bad secret 'sekrit-value'"))
	mock.ExpectClose()

	creds := engine.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "sekrit-value", Region: "us-east-1"}
	result := newTestConnector(db, nil).TestConnection(context.Background(), creds, "")
	if result.OK {
		t.Fatal("TestConnection() OK = true")
	}
	if result.Reason == "" || strings.Contains(result.Reason, "sekrit-value") {
		t.Fatalf("Reason = %q", result.Reason)
	}
	assertSQLMock(t, mock)
}

func TestNewMapsConfig(t *testing.T) {
	cfg, err := config.Load("duckmesh-source", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Storage.AccessKeyID = "AKIA"
	cfg.Storage.SecretAccessKey = "s"
	cfg.Storage.Region = "eu-central-1"
	cfg.Storage.Endpoint = "minio:9000"
	cfg.Source.BatchSize = 7
	cfg.Source.StreamFailurePolicy = config.StreamFailureSkip

	c := New(cfg, nil, nil)
	if c.Policy != FailurePolicySkip || c.BatchSize != 7 {
		t.Fatalf("connector = %+v", c)
	}
	if c.Engine.Credentials.Region != "eu-central-1" || c.Engine.Endpoint != "minio:9000" {
		t.Fatalf("Engine = %+v", c.Engine)
	}
}

func TestOptionsMarkSecretHidden(t *testing.T) {
	for _, option := range Options() {
		if option.Key == "secretAccessKey" && (!option.Secret || option.Shown) {
			t.Fatalf("secretAccessKey option = %+v", option)
		}
	}
}

func newTestConnector(db *sql.DB, loader Loader) *Connector {
	return &Connector{
		Opener: func(context.Context, string) (*sql.DB, error) {
			if db == nil {
				return nil, errors.New("no database")
			}
			return db, nil
		},
		Loader: loader,
	}
}

func expectProbe(mock sqlmock.Sqlmock, location string, count int64) {
	reference := engine.ReferenceQuery(location)
	mock.ExpectQuery(regexp.QuoteMeta(probe.CountQuery(reference))).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(count))
	mock.ExpectQuery(regexp.QuoteMeta(probe.DescribeQuery(reference))).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type"}).AddRow("id", "BIGINT"))
}

func idRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < n; i++ {
		rows.AddRow(int64(i))
	}
	return rows
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
