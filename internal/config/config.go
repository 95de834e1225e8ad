package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const DefaultBatchSize = 100000

type StreamFailurePolicy string

const (
	StreamFailureAbort StreamFailurePolicy = "abort"
	StreamFailureSkip  StreamFailurePolicy = "skip"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Storage       StorageConfig
	Engine        EngineConfig
	Source        SourceConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig holds the remote object storage credentials. All values
// default to empty, which limits the connector to public datasets.
type StorageConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	UseSSL          bool
	URLStyle        string
}

type EngineConfig struct {
	UserAgent  string
	SecretName string
}

type SourceConfig struct {
	BatchSize           int
	StreamFailurePolicy StreamFailurePolicy
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadFromEnvFiles layers dotenv files under the process environment.
// Earlier files win over later ones and missing files are skipped.
func LoadFromEnvFiles(serviceName string, paths ...string) (Config, error) {
	fileValues, err := readEnvFiles(paths...)
	if err != nil {
		return Config{}, err
	}
	return Load(serviceName, LayeredLookup(os.LookupEnv, fileValues))
}

// LayeredLookup consults primary first and falls back to values.
func LayeredLookup(primary LookupFunc, values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if primary != nil {
			if value, ok := primary(key); ok {
				return value, true
			}
		}
		value, ok := values[key]
		return value, ok
	}
}

func readEnvFiles(paths ...string) (map[string]string, error) {
	merged := map[string]string{}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read env file %q: %w", path, err)
		}
		for key, value := range values {
			if _, seen := merged[key]; !seen {
				merged[key] = value
			}
		}
	}
	return merged, nil
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKSOURCE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKSOURCE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var policy string
	steps := []func() error{
		func() error { return applyString(lookup, "DUCKSOURCE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DUCKSOURCE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DUCKSOURCE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DUCKSOURCE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DUCKSOURCE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "DUCKSOURCE_ACCESS_KEY_ID", &cfg.Storage.AccessKeyID) },
		func() error { return applyString(lookup, "DUCKSOURCE_SECRET_ACCESS_KEY", &cfg.Storage.SecretAccessKey) },
		func() error { return applyString(lookup, "DUCKSOURCE_REGION", &cfg.Storage.Region) },
		func() error { return applyString(lookup, "DUCKSOURCE_S3_ENDPOINT", &cfg.Storage.Endpoint) },
		func() error { return applyBool(lookup, "DUCKSOURCE_S3_USE_SSL", &cfg.Storage.UseSSL) },
		func() error { return applyString(lookup, "DUCKSOURCE_S3_URL_STYLE", &cfg.Storage.URLStyle) },
		func() error { return applyString(lookup, "DUCKSOURCE_USER_AGENT", &cfg.Engine.UserAgent) },
		func() error { return applyString(lookup, "DUCKSOURCE_SECRET_NAME", &cfg.Engine.SecretName) },
		func() error { return applyInt(lookup, "DUCKSOURCE_BATCH_SIZE", &cfg.Source.BatchSize) },
		func() error { return applyString(lookup, "DUCKSOURCE_STREAM_FAILURE_POLICY", &policy) },
		func() error { return applyBool(lookup, "DUCKSOURCE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DUCKSOURCE_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "DUCKSOURCE_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "DUCKSOURCE_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}
	if policy != "" {
		cfg.Source.StreamFailurePolicy = StreamFailurePolicy(strings.ToLower(policy))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Source.BatchSize < 1 {
		return fmt.Errorf("invalid DUCKSOURCE_BATCH_SIZE: %d (must be >= 1)", c.Source.BatchSize)
	}
	switch c.Source.StreamFailurePolicy {
	case StreamFailureAbort, StreamFailureSkip:
	default:
		return fmt.Errorf("invalid DUCKSOURCE_STREAM_FAILURE_POLICY: %q", c.Source.StreamFailurePolicy)
	}
	switch c.Storage.URLStyle {
	case "", "path", "vhost":
	default:
		return fmt.Errorf("invalid DUCKSOURCE_S3_URL_STYLE: %q", c.Storage.URLStyle)
	}
	// access key without secret is a malformed credential pair
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		return fmt.Errorf("DUCKSOURCE_ACCESS_KEY_ID and DUCKSOURCE_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckmesh-source"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			UseSSL: true,
		},
		Engine: EngineConfig{
			UserAgent:  "duckmesh-source",
			SecretName: "duckmesh_source_s3",
		},
		Source: SourceConfig{
			BatchSize:           DefaultBatchSize,
			StreamFailurePolicy: StreamFailureAbort,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Source.BatchSize = 1000
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
