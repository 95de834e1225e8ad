package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/duckmesh/duckmesh-source/internal/storage"
)

func TestGetReadsFromLocationBucket(t *testing.T) {
	fake := &fakeClient{objects: map[string]string{"reports/sources.yaml": "files: []"}}
	store, err := NewWithClient(fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	reader, err := store.Get(context.Background(), storage.Location{Bucket: "bucket-a", Key: "reports/sources.yaml"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, _ := io.ReadAll(reader)
	if string(body) != "files: []" {
		t.Fatalf("body = %q", body)
	}
	if fake.lastBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, err := NewWithClient(&fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Get(context.Background(), storage.Location{Bucket: "bucket-a", Key: "missing.yaml"})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestStatReturnsInfo(t *testing.T) {
	store, err := NewWithClient(&fakeClient{objects: map[string]string{"a.yaml": "x"}})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	info, err := store.Stat(context.Background(), storage.Location{Bucket: "bucket-a", Key: "a.yaml"})
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != 1 {
		t.Fatalf("Size = %d", info.Size)
	}
}

func TestMapMinioErr(t *testing.T) {
	err := mapMinioErr(minio.ErrorResponse{Code: "NoSuchKey"})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("mapMinioErr() = %v", err)
	}
	other := errors.New("boom")
	if mapMinioErr(other) != other {
		t.Fatal("mapMinioErr() should pass through unknown errors")
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint() = %q/%v/%v", endpoint, secure, err)
	}
}

func TestNewDefaultsToAWSEndpoint(t *testing.T) {
	if _, err := New(Config{Region: "us-east-1", UseSSL: true}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

type fakeClient struct {
	objects    map[string]string
	lastBucket string
}

func (f *fakeClient) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.lastBucket = bucket
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	body, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body)), LastModified: time.Now().UTC()}, nil
}
