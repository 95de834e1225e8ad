// Package connector drives the engine session, metadata probes and batch
// streams for the host: descriptor enumeration, ad-hoc queries and
// connection tests.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duckmesh/duckmesh-source/internal/config"
	"github.com/duckmesh/duckmesh-source/internal/descriptor"
	"github.com/duckmesh/duckmesh-source/internal/engine"
	s3store "github.com/duckmesh/duckmesh-source/internal/storage/s3"
	"github.com/duckmesh/duckmesh-source/internal/stream"
)

var ErrConfiguration = errors.New("configuration error")

// ConfigurationError aborts a run before any dataset is touched.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// FailurePolicy decides what happens to an enumeration when one dataset's
// stream fails.
type FailurePolicy int

const (
	// FailurePolicyAbort ends the whole enumeration with the stream error.
	FailurePolicyAbort FailurePolicy = iota
	// FailurePolicySkip logs the failure and moves on to the next dataset.
	FailurePolicySkip
)

type Loader interface {
	Load(ctx context.Context, path string) ([]descriptor.DatasetRef, error)
}

type Connector struct {
	// Engine carries endpoint and session settings. Its Credentials are the
	// defaults for Query; Run and TestConnection take credentials explicitly.
	Engine    engine.Config
	Opener    engine.Opener
	Loader    Loader
	BatchSize int
	Policy    FailurePolicy
	Logger    *slog.Logger
}

func New(cfg config.Config, loader Loader, logger *slog.Logger) *Connector {
	policy := FailurePolicyAbort
	if cfg.Source.StreamFailurePolicy == config.StreamFailureSkip {
		policy = FailurePolicySkip
	}
	return &Connector{
		Engine:    EngineConfig(cfg),
		Loader:    loader,
		BatchSize: cfg.Source.BatchSize,
		Policy:    policy,
		Logger:    logger,
	}
}

// NewDescriptorLoader reads local descriptors from disk and s3:// descriptors
// through the object store, using the configured storage credentials.
func NewDescriptorLoader(cfg config.Config) (*descriptor.Loader, error) {
	store, err := s3store.New(s3store.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init descriptor store: %w", err)
	}
	return &descriptor.Loader{Store: store}, nil
}

func EngineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		Credentials: CredentialsFromConfig(cfg),
		Endpoint:    cfg.Storage.Endpoint,
		URLStyle:    cfg.Storage.URLStyle,
		UseSSL:      cfg.Storage.UseSSL,
		UserAgent:   cfg.Engine.UserAgent,
		SecretName:  cfg.Engine.SecretName,
	}
}

func CredentialsFromConfig(cfg config.Config) engine.Credentials {
	return engine.Credentials{
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Region:          cfg.Storage.Region,
	}
}

func (c *Connector) newManager(creds engine.Credentials, logger *slog.Logger) *engine.Manager {
	cfg := c.Engine
	cfg.Credentials = creds
	return engine.NewManager(cfg, engine.WithOpener(c.Opener), engine.WithLogger(logger))
}

func (c *Connector) batchSize() int {
	if c.BatchSize < 1 {
		return stream.DefaultBatchSize
	}
	return c.BatchSize
}

func (c *Connector) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// OptionSpec describes one host-facing configuration option.
type OptionSpec struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Secret      bool   `json:"secret"`
	Shown       bool   `json:"shown"`
	Default     string `json:"default"`
}

func Options() []OptionSpec {
	return []OptionSpec{
		{
			Key:         "accessKeyId",
			Title:       "Access Key ID",
			Description: "Access Key ID for the S3 bucket.",
			Type:        "string",
			Shown:       true,
		},
		{
			Key:         "secretAccessKey",
			Title:       "Secret Access Key",
			Description: "Secret Access Key for the S3 bucket.",
			Type:        "string",
			Secret:      true,
		},
		{
			Key:         "region",
			Title:       "Region",
			Description: "Region for the S3 bucket.",
			Type:        "string",
			Shown:       true,
		},
	}
}
