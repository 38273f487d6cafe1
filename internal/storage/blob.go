package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ContainerPlaceholder is replaced with the container name in blob URLs.
const ContainerPlaceholder = "{container}"

// Blob reads objects through a gocloud bucket (azblob://, s3://, gs://, file://, mem://).
type Blob struct {
	Bucket *blob.Bucket
}

// OpenBlob opens the bucket addressed by urlTemplate for container.
func OpenBlob(ctx context.Context, urlTemplate, container string) (*Blob, error) {
	url := strings.ReplaceAll(urlTemplate, ContainerPlaceholder, container)
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &Blob{Bucket: bucket}, nil
}

func NewBlob(bucket *blob.Bucket) *Blob {
	return &Blob{Bucket: bucket}
}

func (b *Blob) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := b.Bucket.Attributes(ctx, key)
	if err != nil {
		return ObjectInfo{}, wrapBlob(key, err)
	}
	return ObjectInfo{Key: key, Size: attrs.Size, Modified: attrs.ModTime, ETag: attrs.ETag}, nil
}

func (b *Blob) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.Bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, wrapBlob(key, err)
	}
	return r, nil
}

func (b *Blob) Close() error {
	return b.Bucket.Close()
}

func wrapBlob(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}
