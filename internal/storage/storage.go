package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectReader reads objects addressed by bucket and key.
type ObjectReader interface {
	Get(ctx context.Context, location Location) (io.ReadCloser, error)
	Stat(ctx context.Context, location Location) (ObjectInfo, error)
}
