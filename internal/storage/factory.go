package storage

import (
	"context"
	"fmt"

	"github.com/rowjay/logfetch/internal/config"
)

// New opens the configured backend for container.
func New(ctx context.Context, cfg config.StorageConfig, container string, maxConns int) (Source, error) {
	switch cfg.Backend {
	case "local":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("storage.local.path is required")
		}
		return NewLocal(cfg.Local.Path, container), nil
	case "s3":
		if cfg.S3.Endpoint == "" {
			return nil, fmt.Errorf("s3 endpoint is required")
		}
		return NewS3(cfg.S3.Endpoint, cfg.S3.Region, container, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.SessionToken, cfg.S3.UseSSL, cfg.S3.ForcePathStyle, cfg.S3.TLSInsecureSkip, maxConns)
	case "blob", "":
		if cfg.Blob.URL == "" {
			return nil, fmt.Errorf("storage.blob.url is required")
		}
		return OpenBlob(ctx, cfg.Blob.URL, container)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
