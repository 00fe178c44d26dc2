// Package storage abstracts the object store that knowledge archives are
// written to and parquet sources are read from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds read limit")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions.Metadata is stored as user metadata next to the object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Locator is implemented by stores that can render a key as a full URI.
type Locator interface {
	Location(key string) string
}

// ReadObject fetches a whole object into memory. Objects larger than limit
// bytes fail with ErrObjectTooLarge; limit <= 0 disables the check.
func ReadObject(ctx context.Context, store ObjectStore, key string, limit int64) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	source := io.Reader(reader)
	if limit > 0 {
		source = io.LimitReader(reader, limit+1)
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("read object %q: %w (%d bytes)", key, ErrObjectTooLarge, limit)
	}
	return data, nil
}
