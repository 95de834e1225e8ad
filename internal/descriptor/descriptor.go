// Package descriptor reads the YAML file listing the datasets to extract.
//
//	files:
//	  - name: orders
//	    path: s3://analytics/orders/2024.parquet
//	  - name: customers
//	    path: s3://analytics/customers.csv
package descriptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/duckmesh/duckmesh-source/internal/storage"
)

var (
	ErrMissingDescriptor = errors.New("descriptor is missing")
	ErrEmptyDatasetList  = errors.New("descriptor lists no datasets")
	ErrInvalidDescriptor = errors.New("descriptor is invalid")
)

// DatasetRef names one dataset and where it lives.
type DatasetRef struct {
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"path" json:"path"`
}

type document struct {
	Files []DatasetRef `yaml:"files"`
}

// IsDescriptor reports whether a source file is a dataset descriptor.
func IsDescriptor(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func Parse(data []byte) ([]DatasetRef, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDatasetList
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if len(doc.Files) == 0 {
		return nil, ErrEmptyDatasetList
	}

	seen := make(map[string]struct{}, len(doc.Files))
	refs := make([]DatasetRef, 0, len(doc.Files))
	for i, file := range doc.Files {
		ref := DatasetRef{Name: strings.TrimSpace(file.Name), Location: strings.TrimSpace(file.Location)}
		if ref.Name == "" {
			return nil, fmt.Errorf("%w: files[%d] has no name", ErrInvalidDescriptor, i)
		}
		if ref.Location == "" {
			return nil, fmt.Errorf("%w: files[%d] (%s) has no path", ErrInvalidDescriptor, i, ref.Name)
		}
		if _, dup := seen[ref.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate dataset name %q", ErrInvalidDescriptor, ref.Name)
		}
		seen[ref.Name] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Loader reads descriptors from the local filesystem or, for s3:// URIs,
// from object storage.
// MaxDescriptorBytes bounds how much of a descriptor is read.
const MaxDescriptorBytes = 1 << 20

type Loader struct {
	Store storage.ObjectReader
}

func (l *Loader) Load(ctx context.Context, path string) ([]DatasetRef, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrMissingDescriptor
	}
	data, err := l.read(ctx, path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (l *Loader) read(ctx context.Context, path string) ([]byte, error) {
	if !storage.IsRemote(path) {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingDescriptor, path)
		}
		if err != nil {
			return nil, fmt.Errorf("stat descriptor: %w", err)
		}
		if err := checkSize(path, info.Size()); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read descriptor: %w", err)
		}
		return data, nil
	}

	if l == nil || l.Store == nil {
		return nil, fmt.Errorf("read descriptor %s: object storage is not configured", path)
	}
	location, err := storage.ParseLocation(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	info, err := l.Store.Stat(ctx, location)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissingDescriptor, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat descriptor: %w", err)
	}
	if err := checkSize(path, info.Size); err != nil {
		return nil, err
	}
	reader, err := l.Store.Get(ctx, location)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissingDescriptor, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(io.LimitReader(reader, MaxDescriptorBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	if err := checkSize(path, int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

func checkSize(path string, size int64) error {
	if size > MaxDescriptorBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidDescriptor, path, size, MaxDescriptorBytes)
	}
	return nil
}
