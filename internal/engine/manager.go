package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/duckmesh-source/internal/observability"
)

const (
	DefaultSecretName = "duckmesh_source_s3"
	DefaultUserAgent  = "duckmesh-source"
)

var (
	ErrSessionSetup = errors.New("engine session setup failed")
	ErrReleased     = errors.New("engine session already released")
)

var secretNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

type Config struct {
	Credentials Credentials
	// Endpoint overrides the S3 host, e.g. a MinIO address.
	Endpoint   string
	URLStyle   string
	UseSSL     bool
	UserAgent  string
	SecretName string
}

// Querier is the subset of *sql.Conn used to issue statements.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Opener func(ctx context.Context, dsn string) (*sql.DB, error)

func OpenDuckDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// Session is one in-memory engine instance with a single open connection.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *Session) close() error {
	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Manager owns the lifecycle of one Session. Acquire creates it lazily and
// Release tears it down exactly once.
type Manager struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	mu       sync.Mutex
	session  *Session
	released bool
}

type Option func(*Manager)

func WithOpener(open Opener) Option {
	return func(m *Manager) {
		if open != nil {
			m.open = open
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(cfg Config, opts ...Option) *Manager {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if strings.TrimSpace(cfg.SecretName) == "" {
		cfg.SecretName = DefaultSecretName
	}
	m := &Manager{
		cfg:    cfg,
		open:   OpenDuckDB,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Credentials() Credentials {
	return m.cfg.Credentials
}

func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.session != nil {
		return m.session, nil
	}

	session, err := m.setup(ctx)
	if err != nil {
		return nil, err
	}
	m.session = session
	observability.IncSessionsOpened()
	m.logger.InfoContext(ctx, "engine session opened",
		slog.Any("credentials", m.cfg.Credentials),
		slog.Bool("secret_registered", m.needsSecret()),
	)
	return session, nil
}

func (m *Manager) setup(ctx context.Context) (*Session, error) {
	if !secretNamePattern.MatchString(m.cfg.SecretName) {
		return nil, fmt.Errorf("%w: invalid secret name %q", ErrSessionSetup, m.cfg.SecretName)
	}

	db, err := m.open(ctx, m.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionSetup, m.cfg.Credentials.RedactError(err))
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open connection: %w", ErrSessionSetup, m.cfg.Credentials.RedactError(err))
	}
	session := &Session{db: db, conn: conn}

	if m.needsSecret() {
		if _, err := conn.ExecContext(ctx, SecretStatement(m.cfg)); err != nil {
			_ = session.close()
			return nil, fmt.Errorf("%w: register storage secret: %w", ErrSessionSetup, m.cfg.Credentials.RedactError(err))
		}
	}
	return session, nil
}

// Release closes the connection and the session. Calling it again, or
// without a prior Acquire, is a no-op.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true
	if m.session == nil {
		return nil
	}
	err := m.session.close()
	m.session = nil
	m.logger.Info("engine session released")
	return m.cfg.Credentials.RedactError(err)
}

func (m *Manager) needsSecret() bool {
	return !m.cfg.Credentials.IsZero() || strings.TrimSpace(m.cfg.Endpoint) != ""
}

func (m *Manager) dsn() string {
	values := url.Values{}
	values.Set("access_mode", "READ_WRITE")
	values.Set("custom_user_agent", m.cfg.UserAgent)
	return "?" + values.Encode()
}

// SecretStatement builds the CREATE SECRET statement that scopes the
// credentials to the s3:// protocol.
func SecretStatement(cfg Config) string {
	name := cfg.SecretName
	if name == "" {
		name = DefaultSecretName
	}
	options := []string{
		"TYPE S3",
		"KEY_ID " + QuoteString(cfg.Credentials.AccessKeyID),
		"SECRET " + QuoteString(cfg.Credentials.SecretAccessKey),
		"REGION " + QuoteString(cfg.Credentials.Region),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		urlStyle := strings.TrimSpace(cfg.URLStyle)
		if urlStyle == "" {
			urlStyle = "path"
		}
		options = append(options,
			"ENDPOINT "+QuoteString(endpoint),
			"URL_STYLE "+QuoteString(urlStyle),
			fmt.Sprintf("USE_SSL %t", cfg.UseSSL),
		)
	}
	return fmt.Sprintf("CREATE SECRET %s (%s)", name, strings.Join(options, ", "))
}
