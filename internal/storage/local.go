package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local serves objects from <BasePath>/<container>/<key>.
type Local struct {
	BasePath string
}

func NewLocal(path, container string) *Local {
	return &Local{BasePath: filepath.Join(path, container)}
}

func (l *Local) path(key string) string {
	return filepath.Join(l.BasePath, filepath.FromSlash(key))
}

func (l *Local) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return ObjectInfo{}, ctx.Err()
	default:
	}
	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()}, nil
}

func (l *Local) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	file, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
	}
	if length < 0 {
		return file, nil
	}
	return readCloser{Reader: io.LimitReader(file, length), Closer: file}, nil
}

func (l *Local) Close() error { return nil }
