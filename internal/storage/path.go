package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Location addresses one object in remote storage.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

func IsRemote(uri string) bool {
	return strings.HasPrefix(strings.TrimSpace(uri), "s3://")
}

// ParseLocation parses an s3://bucket/key URI.
func ParseLocation(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if !IsRemote(uri) {
		return Location{}, fmt.Errorf("unsupported storage uri %q: expected s3://bucket/key", uri)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse storage uri: %w", err)
	}
	if !bucketPattern.MatchString(parsed.Host) {
		return Location{}, fmt.Errorf("invalid bucket: %q", parsed.Host)
	}
	key, err := normalizeKey(parsed.Path)
	if err != nil {
		return Location{}, err
	}
	return Location{Bucket: parsed.Host, Key: key}, nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}
