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

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	// Stat reports the stored size of key, used to confirm an upload landed
	// whole before a statement reads it.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// URI returns the s3:// address the warehouse uses to reach key.
	URI(key string) (string, error)
}

// Lister enumerates objects in any bucket the credentials can read.
type Lister interface {
	List(ctx context.Context, bucket, prefix string, maxKeys int) ([]ObjectInfo, error)
}
