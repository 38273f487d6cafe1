package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the object does not exist in the container.
var ErrNotFound = errors.New("storage: object not found")

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
}

// Source is the read side of a blob container.
type Source interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// GetRange returns length bytes starting at offset. A negative length reads to the end.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Close() error
}

type readCloser struct {
	io.Reader
	io.Closer
}
