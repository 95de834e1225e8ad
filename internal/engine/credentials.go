package engine

import (
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// Credentials are the static storage credentials injected into a session.
// Empty values mean only public datasets are reachable.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

func (c Credentials) IsZero() bool {
	return strings.TrimSpace(c.AccessKeyID) == "" &&
		strings.TrimSpace(c.SecretAccessKey) == "" &&
		strings.TrimSpace(c.Region) == ""
}

// Redact removes the secret access key from text that may echo a statement.
func (c Credentials) Redact(text string) string {
	if c.SecretAccessKey == "" {
		return text
	}
	text = strings.ReplaceAll(text, c.SecretAccessKey, redacted)
	escaped := strings.ReplaceAll(c.SecretAccessKey, "'", "''")
	if escaped != c.SecretAccessKey {
		text = strings.ReplaceAll(text, escaped, redacted)
	}
	return text
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_key_id", c.AccessKeyID),
		slog.String("region", c.Region),
		slog.Bool("has_secret", c.SecretAccessKey != ""),
	)
}

// RedactedError keeps the error chain intact while scrubbing the message.
type RedactedError struct {
	msg string
	err error
}

func (e *RedactedError) Error() string { return e.msg }

func (e *RedactedError) Unwrap() error { return e.err }

func (c Credentials) RedactError(err error) error {
	if err == nil || c.SecretAccessKey == "" {
		return err
	}
	msg := err.Error()
	clean := c.Redact(msg)
	if clean == msg {
		return err
	}
	return &RedactedError{msg: clean, err: err}
}
